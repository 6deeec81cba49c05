// Package bluez implements the Bluetooth capability on Linux by talking to
// BlueZ over the system D-Bus.
package bluez

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName        = "org.bluez"
	adapterIface   = "org.bluez.Adapter1"
	deviceIface    = "org.bluez.Device1"
	propsIface     = "org.freedesktop.DBus.Properties"
	objMgrIface    = "org.freedesktop.DBus.ObjectManager"
	propsSignal    = propsIface + ".PropertiesChanged"
	ifaceAdded     = objMgrIface + ".InterfacesAdded"
	defaultAdapter = "hci0"
)

// objectInterfaces is the payload of GetManagedObjects and InterfacesAdded:
// interface name to properties.
type objectInterfaces map[string]map[string]dbus.Variant

func adapterObjectPath(name string) dbus.ObjectPath {
	if name == "" {
		name = defaultAdapter
	}
	return dbus.ObjectPath("/org/bluez/" + name)
}

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(addr, ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + escaped)
}

// macFromPath extracts a MAC address from a BlueZ device object path under
// adapter. Paths below the device (services, characteristics) yield "".
func macFromPath(adapter dbus.ObjectPath, path dbus.ObjectPath) string {
	s := string(path)
	prefix := string(adapter) + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	rest := s[len(prefix):]
	if strings.Contains(rest, "/") {
		return ""
	}
	return strings.ReplaceAll(rest, "_", ":")
}

// bus wraps a system D-Bus connection for BlueZ property and method calls.
type bus struct {
	conn *dbus.Conn
}

func dialSystemBus() (*bus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &bus{conn: conn}, nil
}

func (b *bus) close() error {
	return b.conn.Close()
}

// hasBlueZ reports whether org.bluez is owned on the bus.
func (b *bus) hasBlueZ() (bool, error) {
	var names []string
	if err := b.conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return false, fmt.Errorf("list bus names: %w", err)
	}
	for _, n := range names {
		if n == busName {
			return true, nil
		}
	}
	return false, nil
}

func (b *bus) getProp(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	obj := b.conn.Object(busName, path)
	var v dbus.Variant
	err := obj.Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *bus) setProp(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	obj := b.conn.Object(busName, path)
	return obj.Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

func (b *bus) getBool(path dbus.ObjectPath, iface, prop string) (bool, error) {
	v, err := b.getProp(path, iface, prop)
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s is not bool", prop)
	}
	return val, nil
}

func (b *bus) call(path dbus.ObjectPath, method string, args ...interface{}) error {
	return b.conn.Object(busName, path).Call(method, 0, args...).Err
}

func (b *bus) managedObjects() (map[dbus.ObjectPath]objectInterfaces, error) {
	var objs map[dbus.ObjectPath]objectInterfaces
	err := b.conn.Object(busName, "/").Call(objMgrIface+".GetManagedObjects", 0).Store(&objs)
	if err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return objs, nil
}

// subscribe adds match rules for device property changes and new objects
// and returns the signal channel.
func (b *bus) subscribe() (chan *dbus.Signal, error) {
	rules := []string{
		"type='signal',interface='" + propsIface + "',member='PropertiesChanged',path_namespace='/org/bluez'",
		"type='signal',sender='" + busName + "',interface='" + objMgrIface + "',member='InterfacesAdded'",
	}
	for _, rule := range rules {
		if err := b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
			return nil, fmt.Errorf("add match: %w", err)
		}
	}
	ch := make(chan *dbus.Signal, 16)
	b.conn.Signal(ch)
	return ch, nil
}
