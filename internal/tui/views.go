package tui

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/mil-ad/blemanager/internal/ble"
	"github.com/mil-ad/blemanager/internal/eventlog"
)

//go:embed docs.md
var docsMarkdown string

const compatWarning = "Bluetooth is not available here. Scanning and connecting are disabled. " +
	"Check that an adapter is present and the bluetooth service is running."

func (m *Model) managerView() string {
	var b strings.Builder
	b.WriteString(styleBold.Render("Bluetooth Device Manager"))
	b.WriteString("\n")

	if !m.snap.Supported {
		b.WriteString(styleNotice.Render(compatWarning))
		b.WriteString("\n")
	}
	if m.snap.LastError != "" {
		b.WriteString(styleBanner.Render(m.snap.LastError + "  " + styleDim.Render("(x to dismiss)")))
		b.WriteString("\n")
	}

	status := "Status: " + badge(m.snap.Status)
	switch {
	case m.snap.Scanning:
		status += "  " + m.spinner.View() + " Scanning..."
	case m.snap.Status == ble.StatusConnecting && m.snap.Target != nil:
		status += "  " + m.spinner.View() + " " + m.snap.Target.Name
	}
	b.WriteString(status)
	b.WriteString("\n\n")

	if len(m.snap.Devices) == 0 {
		b.WriteString(styleMuted.Render("No devices yet. Press s to scan."))
		return b.String()
	}

	cards := make([]string, 0, len(m.snap.Devices))
	for i, d := range m.snap.Devices {
		title := styleBold.Render(d.Name)
		if m.snap.IsActive(d.ID) {
			title += " " + styleDim.Render("(active)")
		}
		body := title + "\n" + styleMuted.Render(d.ID) + "\n" + badge(m.snap.DeviceStatus(d.ID))
		style := styleCard
		if i == m.cursor {
			style = styleCardSelected
		}
		cards = append(cards, style.Render(body))
	}
	b.WriteString(lipgloss.JoinVertical(lipgloss.Left, cards...))
	return b.String()
}

func (m *Model) infoView() string {
	info := m.deps.Info
	active := "none"
	if m.snap.Active != nil {
		active = m.snap.Active.Name + " (" + m.snap.Active.ID + ")"
	}
	rows := [][2]string{
		{"Service", info.Name},
		{"Version", info.Version},
		{"Backend", info.Backend},
		{"Adapter", info.Adapter},
		{"Bluetooth", supportedLabel(m.snap.Supported)},
		{"Devices", fmt.Sprintf("%d discovered", len(m.snap.Devices))},
		{"Active", active},
	}
	if !info.StartedAt.IsZero() {
		rows = append(rows, [2]string{"Uptime", time.Since(info.StartedAt).Truncate(time.Second).String()})
	}

	var b strings.Builder
	b.WriteString(styleBold.Render("Info"))
	b.WriteString("\n\n")
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", styleMuted.Render(fmt.Sprintf("%-10s", r[0])), r[1])
	}
	return b.String()
}

func supportedLabel(ok bool) string {
	if ok {
		return "available"
	}
	return styleWarning.Render("not available")
}

func (m *Model) watchdogView() string {
	var b strings.Builder
	b.WriteString(styleBold.Render("Watchdog"))
	b.WriteString("\n\n")
	if m.deps.Watchdog == nil {
		b.WriteString(styleMuted.Render("Watchdog is disabled."))
		return b.String()
	}
	if !m.hasRep {
		b.WriteString(styleMuted.Render("No checks have run yet."))
		return b.String()
	}
	fmt.Fprintf(&b, "Last run %s\n\n", m.report.Time.Format("15:04:05"))
	for _, c := range m.report.Checks {
		mark := lipgloss.NewStyle().Foreground(colorSuccess).Render("✓")
		if !c.OK {
			mark = styleError.Render("✗")
		}
		fmt.Fprintf(&b, "%s %-18s %s\n", mark, c.Name, styleMuted.Render(c.Detail))
	}
	return b.String()
}

func renderEvents(events []eventlog.Event) string {
	if len(events) == 0 {
		return styleMuted.Render("No events yet.")
	}
	var b strings.Builder
	for _, e := range events {
		level := fmt.Sprintf("%-5s", e.Level.String())
		switch {
		case e.Level >= slog.LevelError:
			level = styleError.Render(level)
		case e.Level >= slog.LevelWarn:
			level = styleWarning.Render(level)
		default:
			level = styleMuted.Render(level)
		}
		fmt.Fprintf(&b, "%s %s %-10s %-17s %s\n", e.Time.Format("15:04:05"), level, e.Kind, e.Device, e.Message)
	}
	return b.String()
}

func renderDocs(width int) string {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err != nil {
		return docsMarkdown
	}
	out, err := r.Render(docsMarkdown)
	if err != nil {
		return docsMarkdown
	}
	return out
}
