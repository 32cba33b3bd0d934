package ble

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// EventKind is the closed set of asynchronous events a transport emits
type EventKind int

const (
	IdentifierFound EventKind = iota // a scanned-for identifier was seen
	DeviceFound                      // any advertiser was seen
	TransportError                   // out-of-band radio failure
	DiagnosticLog                    // transport chatter
)

// EventKinds lists every kind in registration order
var EventKinds = []EventKind{IdentifierFound, DeviceFound, TransportError, DiagnosticLog}

// Bridge names used by the native event source
var eventNames = map[EventKind]string{
	IdentifierFound: "foundUuid",
	DeviceFound:     "foundDevice",
	TransportError:  "error",
	DiagnosticLog:   "log",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Valid reports whether k is one of EventKinds
func (k EventKind) Valid() bool {
	_, ok := eventNames[k]
	return ok
}

// ParseEventKind maps a bridge event name back to its kind
func ParseEventKind(name string) (EventKind, error) {
	for kind, n := range eventNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown event name %q", name)
}

// Event is one raw transport event. The payload shape is transport-defined
// and only ever logged or forwarded.
type Event struct {
	Kind     EventKind
	Payload  *structpb.Struct
	Received time.Time
}

// NewEvent builds an event from a JSON-like field map
func NewEvent(kind EventKind, fields map[string]interface{}) (Event, error) {
	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return Event{}, fmt.Errorf("build %s payload: %w", kind, err)
	}
	return Event{Kind: kind, Payload: payload, Received: time.Now()}, nil
}

// Field returns a payload field rendered as a string, or "" if absent
func (e Event) Field(name string) string {
	if e.Payload == nil {
		return ""
	}
	v, ok := e.Payload.GetFields()[name]
	if !ok {
		return ""
	}
	if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		return s.StringValue
	}
	return fmt.Sprint(v.AsInterface())
}

// Handler receives events of one kind
type Handler func(Event)
