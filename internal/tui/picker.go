package tui

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/picker"
)

// Picker is the interactive chooser: discovery results appear in a list
// inside the dashboard and the user picks one. It implements
// picker.Chooser.
type Picker struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// NewPicker returns a picker that is not yet attached to a program.
func NewPicker() *Picker { return &Picker{} }

// Attach routes the picker through p.
func (p *Picker) Attach(send func(tea.Msg)) {
	p.mu.Lock()
	p.send = send
	p.mu.Unlock()
}

type pickResult struct {
	candidate picker.Candidate
	err       error
}

type pickRequest struct {
	reply chan pickResult
}

type pickerOpenMsg struct{ req *pickRequest }

type pickerCandidateMsg struct {
	req *pickRequest
	c   picker.Candidate
}

type pickerCloseMsg struct{ req *pickRequest }

// Choose opens the list and blocks until the user decides or ctx ends.
func (p *Picker) Choose(ctx context.Context, candidates <-chan picker.Candidate) (picker.Candidate, error) {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	if send == nil {
		return picker.Candidate{}, fmt.Errorf("picker not attached: %w", ble.ErrUserCancelled)
	}

	req := &pickRequest{reply: make(chan pickResult, 1)}
	send(pickerOpenMsg{req: req})
	for {
		select {
		case c, ok := <-candidates:
			if !ok {
				candidates = nil
				continue
			}
			send(pickerCandidateMsg{req: req, c: c})
		case r := <-req.reply:
			return r.candidate, r.err
		case <-ctx.Done():
			send(pickerCloseMsg{req: req})
			return picker.Candidate{}, ctx.Err()
		}
	}
}

type candidateItem struct{ c picker.Candidate }

func (i candidateItem) Title() string       { return i.c.Label() }
func (i candidateItem) Description() string { return fmt.Sprintf("%s  %d dBm", i.c.ID, i.c.RSSI) }
func (i candidateItem) FilterValue() string { return i.c.Label() }

// pickerView is the open picker inside the dashboard model.
type pickerView struct {
	req  *pickRequest
	seen picker.Set
	list list.Model
}

func newPickerView(req *pickRequest, width, height int) *pickerView {
	l := list.New(nil, list.NewDefaultDelegate(), width, height)
	l.Title = "Choose a device"
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetStatusBarItemName("device", "devices")
	return &pickerView{req: req, list: l}
}

func (v *pickerView) add(c picker.Candidate) tea.Cmd {
	v.seen.Add(c)
	items := v.seen.Items()
	out := make([]list.Item, len(items))
	for i, c := range items {
		out[i] = candidateItem{c}
	}
	return v.list.SetItems(out)
}

// answer delivers the user's decision; the reply channel is buffered so
// this never blocks the UI.
func (v *pickerView) answer(r pickResult) {
	select {
	case v.req.reply <- r:
	default:
	}
}

func (v *pickerView) update(msg tea.KeyMsg) (done bool, cmd tea.Cmd) {
	switch msg.String() {
	case "enter":
		item, ok := v.list.SelectedItem().(candidateItem)
		if !ok {
			return false, nil
		}
		v.answer(pickResult{candidate: item.c})
		return true, nil
	case "esc", "q":
		v.answer(pickResult{err: fmt.Errorf("picker dismissed: %w", ble.ErrUserCancelled)})
		return true, nil
	}
	v.list, cmd = v.list.Update(msg)
	return false, cmd
}

func (v *pickerView) View() string {
	hint := styleDim.Render("enter: pick  esc: cancel")
	return v.list.View() + "\n" + hint
}
