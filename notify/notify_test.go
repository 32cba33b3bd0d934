package notify

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/user/auraphone-presence/ble"
)

var matchAlert = ble.Alert{
	Title:    "Attendance Marked",
	Message:  "Your attendance has been recorded successfully!",
	Severity: ble.SeveritySuccess,
	Kind:     ble.IdentifierFound,
	Detail:   "E621E1F8-C36C-495A-93FC-0C247A3E6E5F",
	At:       time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
}

type recorder struct {
	alerts []ble.Alert
}

func (r *recorder) Alert(a ble.Alert) {
	r.alerts = append(r.alerts, a)
}

// dialBroadcaster serves b over httptest and returns a connected client
func dialBroadcaster(t *testing.T, b *Broadcaster) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, b *Broadcaster, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, b.ClientCount())
}

func TestConsole_PrintsBox(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(&buf).Alert(matchAlert)

	out := buf.String()
	for _, want := range []string{"✅ Attendance Marked", matchAlert.Message, "[ OK ]", "╭"} {
		if !strings.Contains(out, want) {
			t.Errorf("Console output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	NewConsole(&buf).Alert(ble.Alert{Title: "Bluetooth Error", Message: "x", Severity: ble.SeverityError})
	if !strings.Contains(buf.String(), "❌ Bluetooth Error") {
		t.Errorf("Error alerts should use the error icon:\n%s", buf.String())
	}
}

func TestConsole_BoxLinesLineUp(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(&buf).Alert(ble.Alert{Title: "Attendance Marked", Message: "ok", Severity: ble.SeveritySuccess})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected border, 3 body lines and border, got %d:\n%s", len(lines), buf.String())
	}
	want := lipgloss.Width(lines[0])
	for i, l := range lines {
		if w := lipgloss.Width(l); w != want {
			t.Errorf("Line %d is %d cells wide, border is %d: %q", i, w, want, l)
		}
	}

	t.Logf("✅ Alert box edges line up with an emoji title")
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Fanout{a, nil, b}.Alert(matchAlert)

	if len(a.alerts) != 1 || len(b.alerts) != 1 {
		t.Errorf("Expected each notifier to get one alert, got %d and %d", len(a.alerts), len(b.alerts))
	}
}

func TestBroadcaster_ClientReceivesAlert(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	conn := dialBroadcaster(t, b)
	waitForClients(t, b, 1)

	b.Alert(matchAlert)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg AlertMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Title != matchAlert.Title || msg.Severity != "success" || msg.Kind != "foundUuid" {
		t.Errorf("Unexpected message %+v", msg)
	}
	if msg.Detail != matchAlert.Detail || !msg.At.Equal(matchAlert.At) {
		t.Errorf("Unexpected detail/time %+v", msg)
	}

	t.Logf("✅ WebSocket client received alert JSON")
}

func TestBroadcaster_DisconnectRemovesClient(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	conn := dialBroadcaster(t, b)
	waitForClients(t, b, 1)

	conn.Close()
	waitForClients(t, b, 0)

	// Broadcasting with nobody listening is a no-op
	b.Alert(matchAlert)
}

func TestBroadcaster_CloseDropsClients(t *testing.T) {
	b := NewBroadcaster()

	conn := dialBroadcaster(t, b)
	waitForClients(t, b, 1)

	b.Close()
	if b.ClientCount() != 0 {
		t.Errorf("Close left %d clients", b.ClientCount())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the connection to be closed")
	}
}
