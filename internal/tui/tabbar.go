package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type tabID int

const (
	tabManager tabID = iota
	tabInfo
	tabLog
	tabWatchdog
	tabDocs
)

var tabLabels = []string{"Manager", "Info", "Log", "Watchdog", "Documentation"}

// tabBar is a horizontal tab strip. It collapses to the active tab when the
// terminal is too narrow.
type tabBar struct {
	active tabID
	width  int
}

const minTabWidth = 60

func (t *tabBar) next() { t.active = (t.active + 1) % tabID(len(tabLabels)) }

func (t *tabBar) prev() {
	t.active = (t.active - 1 + tabID(len(tabLabels))) % tabID(len(tabLabels))
}

func (t *tabBar) set(i tabID) {
	if i >= 0 && int(i) < len(tabLabels) {
		t.active = i
	}
}

func (t tabBar) View() string {
	if t.width > 0 && t.width < minTabWidth {
		counter := styleDim.Render(fmt.Sprintf("[%d/%d]", t.active+1, len(tabLabels)))
		return lipgloss.JoinHorizontal(lipgloss.Center, styleTabActive.Render(tabLabels[t.active]), " ", counter)
	}

	parts := make([]string, 0, len(tabLabels))
	for i, label := range tabLabels {
		label = fmt.Sprintf("%d %s", i+1, label)
		if tabID(i) == t.active {
			parts = append(parts, styleTabActive.Render(label))
		} else {
			parts = append(parts, styleTab.Render(label))
		}
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Center, parts...)
	if remaining := t.width - lipgloss.Width(bar); t.width > 0 && remaining > 0 {
		bar += styleTab.UnsetPadding().Render(strings.Repeat(" ", remaining))
	}
	return bar
}
