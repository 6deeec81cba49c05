package main

import (
	"context"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mil-ad/blemanager/internal/logger"
	"github.com/mil-ad/blemanager/internal/tui"
)

// runTUI runs its own manager in-process with the interactive picker. It
// does not talk to a running daemon.
func runTUI() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog, err := tuiLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	p := tui.NewPicker()
	svc, err := newService(ctx, cfg, p, log)
	if err != nil {
		return err
	}
	defer svc.close()

	return tui.Run(ctx, tui.Deps{
		Session:  svc.manager,
		Events:   svc.events,
		Watchdog: svc.reporter(),
		Info:     svc.info,
		Picker:   p,
	})
}

// tuiLogger keeps terminal outputs off the alternate screen. The Log tab
// shows the event history instead.
func tuiLogger(cfg logger.Config) (*slog.Logger, func() error, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stderr", "stdout":
		return logger.Discard(), func() error { return nil }, nil
	}
	return logger.New(cfg)
}
