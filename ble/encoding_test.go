package ble

import (
	"errors"
	"reflect"
	"testing"
)

func TestEncodeIdentifiers(t *testing.T) {
	got, err := EncodeIdentifiers([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EncodeIdentifiers failed: %v", err)
	}
	if got != "a,b,c" {
		t.Errorf("Got %q, want %q", got, "a,b,c")
	}

	got, err = EncodeIdentifiers([]string{"a"})
	if err != nil || got != "a" {
		t.Errorf("Single identifier: got %q, %v", got, err)
	}
}

func TestEncodeIdentifiers_Rejects(t *testing.T) {
	cases := []struct {
		ids  []string
		want error
	}{
		{nil, ErrNoIdentifiers},
		{[]string{"a", ""}, ErrEmptyIdentifier},
		{[]string{"a,b"}, ErrSeparatorInIdentifier},
	}
	for _, c := range cases {
		if _, err := EncodeIdentifiers(c.ids); !errors.Is(err, c.want) {
			t.Errorf("EncodeIdentifiers(%q): got %v, want %v", c.ids, err, c.want)
		}
	}
}

func TestDecodeIdentifiers(t *testing.T) {
	ids := []string{"E621E1F8-C36C-495A-93FC-0C247A3E6E5F", "0000180F-0000-1000-8000-00805F9B34FB"}
	encoded, err := EncodeIdentifiers(ids)
	if err != nil {
		t.Fatalf("EncodeIdentifiers failed: %v", err)
	}
	if got := DecodeIdentifiers(encoded); !reflect.DeepEqual(got, ids) {
		t.Errorf("Decode gave %v, want %v", got, ids)
	}
	if got := DecodeIdentifiers(""); got != nil {
		t.Errorf("Empty string should decode to nil, got %v", got)
	}
}

func TestEventKindNames(t *testing.T) {
	for _, kind := range EventKinds {
		parsed, err := ParseEventKind(kind.String())
		if err != nil {
			t.Errorf("%s: %v", kind, err)
			continue
		}
		if parsed != kind {
			t.Errorf("ParseEventKind(%q) = %v", kind.String(), parsed)
		}
		if !kind.Valid() {
			t.Errorf("%s should be valid", kind)
		}
	}

	if _, err := ParseEventKind("foundPeripheral"); err == nil {
		t.Error("Unknown bridge name should fail to parse")
	}
	if EventKind(99).Valid() {
		t.Error("EventKind(99) should be invalid")
	}
}

func TestEventField(t *testing.T) {
	e := mustEvent(t, DeviceFound, map[string]interface{}{"address": "AA:BB", "rssi": -45})

	if e.Field("address") != "AA:BB" {
		t.Errorf("address = %q", e.Field("address"))
	}
	if e.Field("rssi") != "-45" {
		t.Errorf("rssi = %q", e.Field("rssi"))
	}
	if e.Field("missing") != "" {
		t.Errorf("missing field should be empty")
	}
	if (Event{}).Field("address") != "" {
		t.Errorf("nil payload should give empty field")
	}
}
