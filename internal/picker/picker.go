// Package picker turns a stream of advertising peripherals into the single
// choice a platform returns from RequestDevice.
package picker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mil-ad/blemanager/internal/ble"
)

// DefaultWindow is how long Auto listens when no window is configured.
const DefaultWindow = 10 * time.Second

// Candidate is one advertising peripheral seen during discovery.
type Candidate struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Named bool   `json:"named"`
	RSSI  int16  `json:"rssi"`
}

// Label is the text shown for c in a picker.
func (c Candidate) Label() string {
	if c.Named && c.Name != "" {
		return c.Name
	}
	return ble.UnknownDeviceName
}

// Chooser picks one candidate from a discovery stream. Implementations
// return an error wrapping ble.ErrUserCancelled when nothing was chosen.
type Chooser interface {
	Choose(ctx context.Context, candidates <-chan Candidate) (Candidate, error)
}

// ChooserFunc adapts a function to Chooser.
type ChooserFunc func(ctx context.Context, candidates <-chan Candidate) (Candidate, error)

func (f ChooserFunc) Choose(ctx context.Context, candidates <-chan Candidate) (Candidate, error) {
	return f(ctx, candidates)
}

// Accept reports whether c passes f.
func Accept(f ble.Filter, c Candidate) bool {
	if f.NamePrefix == "" {
		return true
	}
	return c.Named && strings.HasPrefix(c.Name, f.NamePrefix)
}

// Set collects candidates by ID in first-seen order. Later sightings
// refresh RSSI and fill in a name that was missing.
type Set struct {
	order []string
	byID  map[string]Candidate
}

// Add merges c into s and reports whether its ID was new.
func (s *Set) Add(c Candidate) bool {
	if s.byID == nil {
		s.byID = make(map[string]Candidate)
	}
	prev, ok := s.byID[c.ID]
	if !ok {
		s.order = append(s.order, c.ID)
		s.byID[c.ID] = c
		return true
	}
	if !c.Named {
		c.Name, c.Named = prev.Name, prev.Named
	}
	s.byID[c.ID] = c
	return false
}

// Items returns the candidates in first-seen order.
func (s *Set) Items() []Candidate {
	out := make([]Candidate, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Len returns the number of distinct candidates.
func (s *Set) Len() int { return len(s.order) }

// Auto listens for a fixed window and then picks without user input. It
// prefers peripherals it has not returned before, so repeated scans walk
// through everything nearby, then the strongest signal.
type Auto struct {
	Window time.Duration

	mu       sync.Mutex
	returned map[string]bool
}

// NewAuto returns an Auto chooser listening for window.
func NewAuto(window time.Duration) *Auto {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Auto{Window: window, returned: make(map[string]bool)}
}

func (a *Auto) Choose(ctx context.Context, candidates <-chan Candidate) (Candidate, error) {
	timer := time.NewTimer(a.Window)
	defer timer.Stop()

	var seen Set
collect:
	for {
		select {
		case c, ok := <-candidates:
			if !ok {
				break collect
			}
			seen.Add(c)
		case <-timer.C:
			break collect
		case <-ctx.Done():
			return Candidate{}, ctx.Err()
		}
	}

	if seen.Len() == 0 {
		return Candidate{}, fmt.Errorf("nothing advertised within %s: %w", a.Window, ble.ErrUserCancelled)
	}

	items := seen.Items()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.returned == nil {
		a.returned = make(map[string]bool)
	}
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := a.returned[items[i].ID], a.returned[items[j].ID]
		if ri != rj {
			return !ri
		}
		return items[i].RSSI > items[j].RSSI
	})
	chosen := items[0]
	a.returned[chosen.ID] = true
	return chosen, nil
}
