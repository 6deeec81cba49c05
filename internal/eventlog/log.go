// Package eventlog keeps a bounded, in-memory history of connection events
// for the dashboard's Log and Watchdog views.
package eventlog

import (
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultSize is the number of events kept when New is given zero.
const DefaultSize = 500

// Event kinds recorded by the manager and the watchdog.
const (
	KindScan       = "scan"
	KindDiscovered = "discovered"
	KindConnect    = "connect"
	KindDisconnect = "disconnect"
	KindLinkLost   = "link_lost"
	KindError      = "error"
	KindWatchdog   = "watchdog"
)

// Event is one history entry.
type Event struct {
	ID      string     `json:"id"`
	Time    time.Time  `json:"time"`
	Level   slog.Level `json:"level"`
	Kind    string     `json:"kind"`
	Device  string     `json:"device,omitempty"`
	Message string     `json:"message"`
}

// Log is a goroutine-safe ring of events.
type Log struct {
	mu      sync.Mutex
	entries []Event
	next    int
	full    bool
	entropy io.Reader
	now     func() time.Time
}

// New creates a log holding at most size events.
func New(size int) *Log {
	if size <= 0 {
		size = DefaultSize
	}
	now := time.Now()
	return &Log{
		entries: make([]Event, size),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0),
		now:     time.Now,
	}
}

// Append stamps e with an ID and time (if unset) and stores it, evicting the
// oldest entry when full.
func (l *Log) Append(e Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = l.now()
	}
	e.ID = ulid.MustNew(ulid.Timestamp(e.Time), l.entropy).String()

	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	return e
}

// Entries returns events oldest first.
func (l *Log) Entries() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		out := make([]Event, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]Event, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// After returns events recorded after the event with the given ID, oldest
// first. An unknown or empty ID returns everything.
func (l *Log) After(id string) []Event {
	all := l.Entries()
	if id == "" {
		return all
	}
	for i, e := range all {
		if e.ID == id {
			return all[i+1:]
		}
	}
	return all
}

// Len returns the number of stored events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}
