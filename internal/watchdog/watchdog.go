// Package watchdog periodically checks that the connection state still
// matches the radio and reports what it finds.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/eventlog"
)

// DefaultSchedule runs the checks twice a minute.
const DefaultSchedule = "@every 30s"

// defaultStuckAfter bounds "connecting" when no op timeout is configured.
const defaultStuckAfter = time.Minute

// Check names.
const (
	CheckCapability = "capability"
	CheckConnecting = "connect_progress"
	CheckLink       = "active_link"
)

// Config controls the schedule.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression, descriptor or duration
}

// Source is the session the watchdog inspects.
type Source interface {
	Snapshot() ble.Snapshot
}

// LinkProber is implemented by platforms that can confirm a live link.
type LinkProber interface {
	Linked(id string) bool
}

// Check is the outcome of one probe.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// Report is one run of every check.
type Report struct {
	Time   time.Time `json:"time"`
	Checks []Check   `json:"checks"`
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Options carries optional collaborators.
type Options struct {
	Logger *slog.Logger
	Events *eventlog.Log
	// StuckAfter is how long "connecting" may last before it is flagged.
	StuckAfter time.Duration
}

// Watchdog runs the checks on a cron schedule and keeps the latest report.
type Watchdog struct {
	cron       *cron.Cron
	schedule   cron.Schedule
	source     Source
	capability ble.Capability
	logger     *slog.Logger
	events     *eventlog.Log
	stuckAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	last    Report
	hasLast bool
	failing map[string]bool
	started bool
}

// New parses cfg.Schedule and returns a stopped watchdog.
func New(cfg Config, src Source, c ble.Capability, opts Options) (*Watchdog, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	sched, err := parseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stuck := opts.StuckAfter
	if stuck <= 0 {
		stuck = defaultStuckAfter
	}
	return &Watchdog{
		cron:       cron.New(),
		schedule:   sched,
		source:     src,
		capability: c,
		logger:     logger,
		events:     opts.Events,
		stuckAfter: stuck,
		now:        time.Now,
		failing:    make(map[string]bool),
	}, nil
}

// Start schedules the checks. Calling it twice is a no-op.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.cron.Schedule(w.schedule, cron.FuncJob(func() { w.Run(ctx) }))
	w.cron.Start()
	w.started = true
	w.logger.Info("watchdog started")
}

// Stop waits for a running check to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	<-w.cron.Stop().Done()
}

// Last returns the most recent report.
func (w *Watchdog) Last() (Report, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.hasLast
}

// Run executes every check now and stores the report.
func (w *Watchdog) Run(ctx context.Context) Report {
	if ctx.Err() != nil {
		r, _ := w.Last()
		return r
	}
	snap := w.source.Snapshot()
	r := Report{
		Time: w.now(),
		Checks: []Check{
			w.checkCapability(),
			w.checkConnecting(snap),
			w.checkLink(snap),
		},
	}

	w.mu.Lock()
	w.last = r
	w.hasLast = true
	var changed []Check
	for _, c := range r.Checks {
		if w.failing[c.Name] != !c.OK {
			changed = append(changed, c)
		}
		w.failing[c.Name] = !c.OK
	}
	w.mu.Unlock()

	for _, c := range changed {
		level := slog.LevelInfo
		msg := fmt.Sprintf("%s recovered: %s", c.Name, c.Detail)
		if !c.OK {
			level = slog.LevelWarn
			msg = fmt.Sprintf("%s failing: %s", c.Name, c.Detail)
		}
		w.logger.Log(ctx, level, msg, "check", c.Name)
		if w.events != nil {
			w.events.Append(eventlog.Event{Level: level, Kind: eventlog.KindWatchdog, Message: msg})
		}
	}
	return r
}

func (w *Watchdog) checkCapability() Check {
	c := Check{Name: CheckCapability}
	if w.capability != nil && w.capability.Available() {
		c.OK = true
		c.Detail = "bluetooth stack reachable"
		return c
	}
	c.Detail = "bluetooth stack not available"
	return c
}

func (w *Watchdog) checkConnecting(s ble.Snapshot) Check {
	c := Check{Name: CheckConnecting, OK: true, Detail: "no connect in progress"}
	if s.Status != ble.StatusConnecting {
		return c
	}
	target := "device"
	if s.Target != nil {
		target = s.Target.Name
	}
	elapsed := w.now().Sub(s.Since).Truncate(time.Second)
	if elapsed > w.stuckAfter {
		c.OK = false
		c.Detail = fmt.Sprintf("connecting to %s for %s", target, elapsed)
		return c
	}
	c.Detail = fmt.Sprintf("connecting to %s", target)
	return c
}

func (w *Watchdog) checkLink(s ble.Snapshot) Check {
	c := Check{Name: CheckLink, OK: true, Detail: "no active device"}
	if s.Active == nil {
		return c
	}
	prober, ok := w.capability.(LinkProber)
	if !ok {
		c.Detail = fmt.Sprintf("%s active, platform cannot confirm link", s.Active.Name)
		return c
	}
	if !prober.Linked(s.Active.ID) {
		c.OK = false
		c.Detail = fmt.Sprintf("%s marked active but radio reports no link", s.Active.Name)
		return c
	}
	c.Detail = fmt.Sprintf("%s linked", s.Active.Name)
	return c
}

// parseSchedule accepts a cron expression, a descriptor such as
// "@every 30s", or a bare duration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}
	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("watchdog schedule %q: not a cron expression or duration", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("watchdog schedule %q: duration must be positive", schedule)
	}
	return cron.Every(dur), nil
}
