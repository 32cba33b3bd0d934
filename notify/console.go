// Package notify delivers controller alerts to the user: a console box for
// the daemon's terminal and a WebSocket feed for companion screens.
package notify

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/user/auraphone-presence/ble"
	"github.com/user/auraphone-presence/logger"
)

var (
	colorSuccess = lipgloss.Color("#22C55E")
	colorError   = lipgloss.Color("#EF4444")
	colorDimmed  = lipgloss.Color("#6B7280")
)

// Console prints each alert as a boxed dialog with a single OK line
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	renderer *lipgloss.Renderer
}

// NewConsole writes to out, or stdout when out is nil. Colors are only
// emitted when out is a terminal.
func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, renderer: lipgloss.NewRenderer(out)}
}

// Box renders a as the dialog Alert prints
func (c *Console) Box(a ble.Alert) string {
	icon, color := "✅", colorSuccess
	if a.Severity == ble.SeverityError {
		icon, color = "❌", colorError
	}

	title := c.renderer.NewStyle().Bold(true).Foreground(color).Render(icon + " " + a.Title)
	ok := c.renderer.NewStyle().Foreground(colorDimmed).Render("[ OK ]")
	body := lipgloss.JoinVertical(lipgloss.Left, title, a.Message, ok)

	return c.renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(color).
		Padding(0, 1).
		Render(body)
}

func (c *Console) Alert(a ble.Alert) {
	icon := "✅"
	if a.Severity == ble.SeverityError {
		icon = "❌"
	}
	logger.Info("notify", "%s %s: %s", icon, a.Title, a.Message)

	box := c.Box(a) + "\n"

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.out, box); err != nil {
		logger.Warn("notify", "Failed to write alert: %v", err)
	}
}

// Fanout delivers every alert to each notifier in order
type Fanout []ble.Notifier

func (f Fanout) Alert(a ble.Alert) {
	for _, n := range f {
		if n != nil {
			n.Alert(a)
		}
	}
}
