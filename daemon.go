package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/gateway"
	"github.com/mil-ad/blemanager/internal/logger"
	"github.com/mil-ad/blemanager/internal/picker"
	"github.com/mil-ad/blemanager/internal/tracer"
)

func socketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, "blemanager.sock")
}

type daemon struct {
	manager *ble.Manager
	logger  *slog.Logger
}

func (d *daemon) handleRequest(ctx context.Context, req IPCRequest) IPCResponse {
	var err error
	switch req.Command {
	case cmdStatus, cmdDevices:
	case cmdScan:
		err = d.manager.ScanForDevices(ctx)
	case cmdConnect:
		if req.Device == "" {
			return IPCResponse{Error: "device is required"}
		}
		err = d.manager.Connect(ctx, lookupDevice(d.manager.Snapshot(), req.Device))
	case cmdDisconnect:
		err = d.manager.Disconnect(ctx)
	case cmdClearError:
		d.manager.ClearError()
	default:
		return IPCResponse{Error: fmt.Sprintf("unknown command: %q", req.Command)}
	}

	resp := stateResponse(d.manager.Snapshot())
	if err != nil {
		resp.Error = userMessage(err)
	}
	return resp
}

func stateResponse(snap ble.Snapshot) IPCResponse {
	resp := IPCResponse{State: string(snap.Status), Snapshot: &snap}
	if snap.Active != nil {
		resp.Device = snap.Active.ID
	}
	return resp
}

func userMessage(err error) string {
	var e *ble.Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	return err.Error()
}

// lookupDevice maps a reference to a discovered device ID. IDs match
// exactly or case-insensitively, names only when unambiguous. Anything
// else is returned unchanged and rejected by the manager.
func lookupDevice(snap ble.Snapshot, ref string) string {
	var byName []string
	for _, dev := range snap.Devices {
		if dev.ID == ref || strings.EqualFold(dev.ID, ref) {
			return dev.ID
		}
		if dev.Named && strings.EqualFold(dev.Name, ref) {
			byName = append(byName, dev.ID)
		}
	}
	if len(byName) == 1 {
		return byName[0]
	}
	return ref
}

func (d *daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req IPCRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		resp := IPCResponse{Error: "invalid request: " + err.Error()}
		json.NewEncoder(conn).Encode(resp)
		return
	}

	d.logger.Debug("ipc request", "command", req.Command, "device", req.Device)
	resp := d.handleRequest(ctx, req)
	json.NewEncoder(conn).Encode(resp)
}

// watchState logs status transitions until ctx is done.
func (d *daemon) watchState(ctx context.Context) {
	snaps, unsubscribe := d.manager.Subscribe()
	defer unsubscribe()

	last := d.manager.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snaps:
			if snap.Status == last.Status && activeID(snap) == activeID(last) {
				last = snap
				continue
			}
			switch {
			case last.Active != nil && snap.Active == nil && snap.Status == ble.StatusDisconnected:
				d.logger.Info("active device disconnected", "device", last.Active.ID)
			case snap.Active != nil && activeID(snap) != activeID(last):
				d.logger.Info("active device connected", "device", snap.Active.ID, "name", snap.Active.Name)
			case snap.Status == ble.StatusError:
				d.logger.Warn("connection error", "error", snap.LastError)
			}
			last = snap
		}
	}
}

func activeID(s ble.Snapshot) string {
	if s.Active == nil {
		return ""
	}
	return s.Active.ID
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	svc, err := newService(ctx, cfg, picker.NewAuto(cfg.Scan.Window), log)
	if err != nil {
		return err
	}
	defer svc.close()

	d := &daemon{manager: svc.manager, logger: log}
	go d.watchState(ctx)

	if cfg.Gateway.Enabled {
		gw := gateway.NewServer(cfg.Gateway, svc.manager, gateway.Options{
			Logger:   log,
			Events:   svc.events,
			Watchdog: svc.reporter(),
			Info:     svc.info,
		})
		go func() {
			if err := gw.Start(ctx); err != nil {
				log.Error("gateway stopped", "error", err)
			}
		}()
	}

	sock := socketPath()
	os.Remove(sock) // remove stale socket
	ln, err := net.Listen("unix", sock)
	if err != nil {
		return fmt.Errorf("listen %s: %w", sock, err)
	}
	os.Chmod(sock, 0700)
	defer os.Remove(sock)
	defer ln.Close()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		ln.Close()
	}()

	log.Info("listening on socket", "path", sock, "backend", cfg.Backend, "supported", svc.manager.Supported())
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed by shutdown goroutine.
			return nil
		}
		go d.handleConn(ctx, conn)
	}
}
