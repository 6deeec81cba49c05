package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/mil-ad/blemanager/internal/ble"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	colorTabBg   = lipgloss.AdaptiveColor{Light: "#e0e0e0", Dark: "#333333"}
	colorTabFg   = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9e9e9e"}
	colorTabAct  = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#42a5f5"}
	colorTabActF = lipgloss.AdaptiveColor{Light: "#ffffff", Dark: "#1e1e1e"}
)

var (
	styleBold    = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)

	styleTab       = lipgloss.NewStyle().Background(colorTabBg).Foreground(colorTabFg).Padding(0, 1)
	styleTabActive = lipgloss.NewStyle().Background(colorTabAct).Foreground(colorTabActF).Bold(true).Padding(0, 1)

	styleCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	styleCardSelected = styleCard.BorderForeground(colorTabAct)

	styleBanner = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorError).
			Foreground(colorError).
			Padding(0, 1)

	styleNotice = styleBanner.BorderForeground(colorWarning).Foreground(colorWarning)
)

// badge renders the status pill shown on a device card.
func badge(s ble.ConnectionStatus) string {
	st := lipgloss.NewStyle().Padding(0, 1).Bold(true)
	switch s {
	case ble.StatusConnected:
		st = st.Foreground(colorSuccess)
	case ble.StatusConnecting:
		st = st.Foreground(colorInfo)
	case ble.StatusError:
		st = st.Foreground(colorError)
	default:
		st = st.Foreground(colorMuted)
	}
	return st.Render(s.Label())
}
