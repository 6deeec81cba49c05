package bluez

import (
	"github.com/godbus/dbus/v5"

	"github.com/mil-ad/blemanager/internal/picker"
)

func (a *Adapter) watchSignals(sigCh chan *dbus.Signal) {
	for sig := range sigCh {
		a.handleSignal(sig)
	}
	a.logger.Debug("bluez signal channel closed")
}

func (a *Adapter) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case propsSignal:
		// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
		var iface string
		var changed map[string]dbus.Variant
		var invalidated []string
		if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil {
			a.logger.Debug("malformed PropertiesChanged", "path", sig.Path, "error", err)
			return
		}
		if iface != deviceIface {
			return
		}
		a.deviceChanged(sig.Path, changed)

	case ifaceAdded:
		var path dbus.ObjectPath
		var ifaces objectInterfaces
		if err := dbus.Store(sig.Body, &path, &ifaces); err != nil {
			a.logger.Debug("malformed InterfacesAdded", "error", err)
			return
		}
		a.deviceSeen(path, ifaces[deviceIface])
	}
}

func (a *Adapter) deviceChanged(path dbus.ObjectPath, changed map[string]dbus.Variant) {
	mac := macFromPath(a.path, path)
	if mac == "" {
		return
	}
	if v, ok := changed["Connected"]; ok {
		if connected, ok := v.Value().(bool); ok && !connected {
			a.logger.Info("device disconnected", "device", mac)
			a.fireDisconnected(mac)
		}
	}
	if _, ok := changed["RSSI"]; ok {
		a.deviceSeen(path, changed)
	}
}

// deviceSeen merges props into the known candidate and offers it to a
// running discovery when the device is advertising.
func (a *Adapter) deviceSeen(path dbus.ObjectPath, props map[string]dbus.Variant) {
	if props == nil {
		return
	}
	c, live, ok := candidateFromProps(a.path, path, props)
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.known[c.ID]; ok && !c.Named {
		c.Name, c.Named = prev.Name, prev.Named
	}
	a.known[c.ID] = c
	if !live || a.sink == nil || !picker.Accept(a.filter, c) {
		return
	}
	select {
	case a.sink <- c:
	default:
		a.logger.Debug("discovery backlog full, dropping sighting", "device", c.ID)
	}
}

// fireDisconnected runs subscribers for mac outside the lock.
func (a *Adapter) fireDisconnected(mac string) {
	a.mu.Lock()
	cbs := make([]func(), 0, len(a.subs[mac]))
	for _, cb := range a.subs[mac] {
		cbs = append(cbs, cb)
	}
	a.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// candidateFromProps builds a candidate from Device1 properties. live is
// true when BlueZ reports an RSSI, i.e. the device is advertising now.
func candidateFromProps(adapter, path dbus.ObjectPath, props map[string]dbus.Variant) (c picker.Candidate, live, ok bool) {
	c.ID = macFromPath(adapter, path)
	if c.ID == "" {
		return c, false, false
	}
	if v, found := props["Address"]; found {
		if addr, isStr := v.Value().(string); isStr && addr != "" {
			c.ID = addr
		}
	}
	if v, found := props["Name"]; found {
		if name, isStr := v.Value().(string); isStr && name != "" {
			c.Name, c.Named = name, true
		}
	}
	if v, found := props["RSSI"]; found {
		if rssi, isInt := v.Value().(int16); isInt {
			c.RSSI = rssi
			live = true
		}
	}
	return c, live, true
}
