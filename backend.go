package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/eventlog"
	"github.com/mil-ad/blemanager/internal/gateway"
	"github.com/mil-ad/blemanager/internal/picker"
	"github.com/mil-ad/blemanager/internal/platform/bluez"
	"github.com/mil-ad/blemanager/internal/platform/sim"
	"github.com/mil-ad/blemanager/internal/platform/tinyble"
	"github.com/mil-ad/blemanager/internal/watchdog"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// newCapability opens the configured backend. A BlueZ backend that cannot
// reach the system bus yields a nil capability so the manager reports
// itself unsupported instead of failing to start.
func newCapability(cfg Config, chooser picker.Chooser, logger *slog.Logger) (ble.Capability, func() error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case backendSim:
		return sim.New(cfg.Sim, chooser, logger), noop
	case backendTinyGo:
		return tinyble.New(chooser, logger), noop
	default:
		a, err := bluez.New(bluez.Config{Adapter: cfg.Adapter}, chooser, logger)
		if err != nil {
			logger.Warn("bluez backend unavailable", "adapter", cfg.Adapter, "error", err)
			return nil, noop
		}
		return a, a.Close
	}
}

// service is the manager plus the collaborators shared by the daemon and
// the in-process dashboard.
type service struct {
	cfg      Config
	logger   *slog.Logger
	events   *eventlog.Log
	manager  *ble.Manager
	watchdog *watchdog.Watchdog
	info     gateway.Info
	closers  []func() error
}

func newService(ctx context.Context, cfg Config, chooser picker.Chooser, logger *slog.Logger) (*service, error) {
	events := eventlog.New(0)
	capability, closeCap := newCapability(cfg, chooser, logger)

	m := ble.NewManager(capability, ble.Options{
		Logger:     logger,
		Events:     events,
		NamePrefix: cfg.Scan.NamePrefix,
		OpTimeout:  cfg.OpTimeout,
	})

	s := &service{
		cfg:     cfg,
		logger:  logger,
		events:  events,
		manager: m,
		info: gateway.Info{
			Name:      "blemanager",
			Version:   version,
			Backend:   cfg.Backend,
			Adapter:   cfg.Adapter,
			StartedAt: time.Now(),
			Supported: m.Supported(),
		},
		closers: []func() error{closeCap},
	}

	if cfg.Watchdog.Enabled {
		w, err := watchdog.New(cfg.Watchdog, m, capability, watchdog.Options{
			Logger:     logger,
			Events:     events,
			StuckAfter: cfg.OpTimeout,
		})
		if err != nil {
			s.close()
			return nil, err
		}
		w.Start(ctx)
		s.watchdog = w
	}
	return s, nil
}

// reporter returns the watchdog as a gateway.Reporter, or nil when it is
// disabled.
func (s *service) reporter() gateway.Reporter {
	if s.watchdog == nil {
		return nil
	}
	return s.watchdog
}

func (s *service) close() error {
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}
