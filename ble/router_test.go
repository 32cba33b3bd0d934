package ble

import (
	"strings"
	"testing"
)

func setupRouted(t *testing.T) (*Registry, *fakeEmitter, *recordingNotifier) {
	t.Helper()
	registry, emitter, _, notifier := newTestRegistry()
	if err := registry.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return registry, emitter, notifier
}

func TestRouter_IdentifierFoundAlertsSuccess(t *testing.T) {
	_, emitter, notifier := setupRouted(t)

	emitter.emit(t, IdentifierFound, map[string]interface{}{"uuid": "E621E1F8-C36C-495A-93FC-0C247A3E6E5F"})

	alerts := notifier.all()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Severity != SeveritySuccess {
		t.Errorf("Expected success framing, got %s", a.Severity)
	}
	if a.Title != "Attendance Marked" {
		t.Errorf("Unexpected title %q", a.Title)
	}
	if a.Detail != "E621E1F8-C36C-495A-93FC-0C247A3E6E5F" {
		t.Errorf("Unexpected detail %q", a.Detail)
	}

	t.Logf("✅ identifier-found → one success alert")
}

func TestRouter_TransportErrorAlertsError(t *testing.T) {
	_, emitter, notifier := setupRouted(t)
	logs := captureLogs(t)

	emitter.emit(t, TransportError, map[string]interface{}{"message": "GATT 133"})

	alerts := notifier.all()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Severity != SeverityError {
		t.Errorf("Expected error framing, got %s", alerts[0].Severity)
	}
	if alerts[0].Title != "Bluetooth Error" {
		t.Errorf("Unexpected title %q", alerts[0].Title)
	}
	if !strings.Contains(logs.String(), "GATT 133") {
		t.Errorf("Error detail not logged:\n%s", logs.String())
	}

	t.Logf("✅ transport-error → one error alert plus log")
}

func TestRouter_DiagnosticsDoNotAlert(t *testing.T) {
	_, emitter, notifier := setupRouted(t)

	emitter.emit(t, DeviceFound, map[string]interface{}{"address": "AA:BB:CC:DD:EE:FF", "rssi": -61})
	emitter.emit(t, DiagnosticLog, map[string]interface{}{"message": "scanner restarted"})

	if n := len(notifier.all()); n != 0 {
		t.Errorf("Expected no alerts for diagnostics, got %d", n)
	}
}

func TestRouter_UnknownKindDropped(t *testing.T) {
	notifier := &recordingNotifier{}
	router := NewRouter(notifier, DefaultAlertText)
	logs := captureLogs(t)

	called := false
	router.SetEventCallback(func(Event) { called = true })

	router.Handler(EventKind(42))(Event{Kind: EventKind(42)})

	if n := len(notifier.all()); n != 0 {
		t.Errorf("Expected no alerts, got %d", n)
	}
	if called {
		t.Error("Unknown kinds must not reach the event callback")
	}
	if !strings.Contains(logs.String(), "unknown kind 42") {
		t.Errorf("Expected a warning for the unknown kind:\n%s", logs.String())
	}
	if strings.Contains(logs.String(), "BLE Log") {
		t.Errorf("Unknown kind was routed as a diagnostic:\n%s", logs.String())
	}
}

func TestRouter_NoDuplicateDeliveryAfterResetup(t *testing.T) {
	registry, emitter, notifier := setupRouted(t)

	for i := 0; i < 4; i++ {
		if err := registry.Setup(); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
	}

	emitter.emit(t, IdentifierFound, map[string]interface{}{"uuid": "abc"})

	if n := len(notifier.all()); n != 1 {
		t.Errorf("Expected exactly 1 alert after repeated setup, got %d", n)
	}
}

func TestRouter_EventCallback(t *testing.T) {
	registry, emitter, _ := setupRouted(t)

	var seen []EventKind
	registry.router.SetEventCallback(func(e Event) {
		seen = append(seen, e.Kind)
	})

	emitter.emit(t, DeviceFound, map[string]interface{}{"address": "x"})
	emitter.emit(t, IdentifierFound, map[string]interface{}{"uuid": "y"})

	if len(seen) != 2 || seen[0] != DeviceFound || seen[1] != IdentifierFound {
		t.Errorf("Unexpected callback sequence: %v", seen)
	}
}

func TestRouter_CustomText(t *testing.T) {
	notifier := &recordingNotifier{}
	text := DefaultAlertText
	text.MatchTitle = "Checked In"
	router := NewRouter(notifier, text)

	e, err := NewEvent(IdentifierFound, map[string]interface{}{"uuid": "z"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	router.Handler(IdentifierFound)(e)

	alerts := notifier.all()
	if len(alerts) != 1 || alerts[0].Title != "Checked In" {
		t.Errorf("Custom title not used: %+v", alerts)
	}
}

func TestRouter_NilNotifier(t *testing.T) {
	router := NewRouter(nil, DefaultAlertText)
	e, err := NewEvent(TransportError, map[string]interface{}{"message": "boom"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}

	// Must not panic
	router.Handler(TransportError)(e)
}
