package ble

import (
	"sync"
	"time"

	"github.com/user/auraphone-presence/logger"
)

// Severity frames an alert for the user
type Severity int

const (
	SeveritySuccess Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "success"
}

// Alert is a modal-style user notification with a single "OK" action
type Alert struct {
	Title    string
	Message  string
	Severity Severity
	Kind     EventKind // originating event; TransportError for advertise failures
	Detail   string
	At       time.Time
}

// Notifier is the user notification channel. Implementations must return
// quickly; they run on the event dispatch goroutine.
type Notifier interface {
	Alert(a Alert)
}

// AlertText is the user-facing copy for the three alerting outcomes
type AlertText struct {
	MatchTitle            string
	MatchMessage          string
	TransportErrorTitle   string
	TransportErrorMessage string
	AdvertiseErrorTitle   string
	AdvertiseErrorMessage string
}

// DefaultAlertText is the attendance-app copy
var DefaultAlertText = AlertText{
	MatchTitle:            "Attendance Marked",
	MatchMessage:          "Your attendance has been recorded successfully!",
	TransportErrorTitle:   "Bluetooth Error",
	TransportErrorMessage: "There was an error with the Bluetooth connection. Please try again.",
	AdvertiseErrorTitle:   "Error",
	AdvertiseErrorMessage: "Failed to start Bluetooth advertising. Please try again.",
}

// Router translates raw events into alerts and diagnostics
type Router struct {
	notifier Notifier
	text     AlertText

	mu      sync.RWMutex
	onEvent func(Event)
}

// NewRouter creates a router alerting through notifier
func NewRouter(notifier Notifier, text AlertText) *Router {
	return &Router{
		notifier: notifier,
		text:     text,
	}
}

// SetEventCallback forwards every routed event to fn after translation
func (r *Router) SetEventCallback(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = fn
}

// Handler returns the fixed handler for kind
func (r *Router) Handler(kind EventKind) Handler {
	switch kind {
	case IdentifierFound:
		return r.wrap(r.onIdentifierFound)
	case DeviceFound:
		return r.wrap(r.onDeviceFound)
	case TransportError:
		return r.wrap(r.onTransportError)
	case DiagnosticLog:
		return r.wrap(r.onDiagnosticLog)
	default:
		return func(e Event) {
			logger.Warn("router", "Dropping event of unknown kind %d", int(e.Kind))
		}
	}
}

func (r *Router) wrap(h Handler) Handler {
	return func(e Event) {
		h(e)

		r.mu.RLock()
		fn := r.onEvent
		r.mu.RUnlock()
		if fn != nil {
			fn(e)
		}
	}
}

func (r *Router) onIdentifierFound(e Event) {
	logger.Info("router", "🎯 Found UUID: %s", e.Field("uuid"))
	logger.DebugJSON("router", "Found UUID payload", e.Payload)

	r.alert(Alert{
		Title:    r.text.MatchTitle,
		Message:  r.text.MatchMessage,
		Severity: SeveritySuccess,
		Kind:     IdentifierFound,
		Detail:   e.Field("uuid"),
	})
}

func (r *Router) onDeviceFound(e Event) {
	logger.DebugJSON("router", "Found Device", e.Payload)
}

func (r *Router) onTransportError(e Event) {
	detail := e.Field("message")
	logger.Error("router", "❌ BLE Error: %s", detail)

	r.alert(Alert{
		Title:    r.text.TransportErrorTitle,
		Message:  r.text.TransportErrorMessage,
		Severity: SeverityError,
		Kind:     TransportError,
		Detail:   detail,
	})
}

func (r *Router) onDiagnosticLog(e Event) {
	logger.Debug("router", "BLE Log: %s", e.Field("message"))
}

func (r *Router) alert(a Alert) {
	if r.notifier == nil {
		logger.Warn("router", "No notifier, dropping alert %q", a.Title)
		return
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}
	r.notifier.Alert(a)
}
