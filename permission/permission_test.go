package permission

import (
	"context"
	"errors"
	"testing"
	"time"
)

// blockingRequester never answers and ignores ctx, like a dialog nobody dismisses
type blockingRequester struct {
	release chan struct{}
}

func (b *blockingRequester) Request(ctx context.Context, p Permission, rationale Rationale) (Result, error) {
	<-b.release
	return Granted, nil
}

func TestGate_AllGranted(t *testing.T) {
	requester := NewStaticRequester()
	gate := NewGate(PlatformAndroid, requester)

	if !gate.Request(context.Background()) {
		t.Fatal("Expected all-granted request to pass")
	}

	requested := requester.Requested()
	if len(requested) != len(CapabilitySets[PlatformAndroid]) {
		t.Errorf("Expected %d requests, got %d", len(CapabilitySets[PlatformAndroid]), len(requested))
	}

	t.Logf("✅ Every capability granted → gate passes")
}

func TestGate_PartialDenial(t *testing.T) {
	requester := NewStaticRequester(AccessFineLocation)
	gate := NewGate(PlatformAndroid, requester)

	if gate.Request(context.Background()) {
		t.Fatal("Expected request to fail when one permission is denied")
	}

	t.Logf("✅ One denial among %d → gate fails", len(CapabilitySets[PlatformAndroid]))
}

func TestGate_NeverAskAgainIsNotGranted(t *testing.T) {
	requester := NewStaticRequester()
	requester.Results[BluetoothAdvertise] = NeverAskAgain
	gate := NewGate(PlatformAndroid, requester)

	if gate.Request(context.Background()) {
		t.Fatal("never_ask_again must not count as granted")
	}
}

func TestGate_UnsupportedPlatform(t *testing.T) {
	for _, platform := range []Platform{PlatformIOS, PlatformLinux, PlatformDarwin, PlatformWindows} {
		requester := NewStaticRequester()
		requester.Default = Denied
		gate := NewGate(platform, requester)

		if !gate.Request(context.Background()) {
			t.Errorf("%s: expected trivial success", platform)
		}
		if n := len(requester.Requested()); n != 0 {
			t.Errorf("%s: expected no native requests, got %d", platform, n)
		}
	}

	t.Logf("✅ Platforms without a capability set pass without asking")
}

func TestGate_RequestErrorFoldsIntoFalse(t *testing.T) {
	requester := NewStaticRequester()
	requester.Errors = map[Permission]error{
		BluetoothConnect: errors.New("activity not attached"),
	}
	gate := NewGate(PlatformAndroid, requester)

	if gate.Request(context.Background()) {
		t.Fatal("Expected request error to yield false")
	}
}

func TestGate_NilRequester(t *testing.T) {
	gate := NewGate(PlatformAndroid, nil)

	if gate.Request(context.Background()) {
		t.Fatal("Expected false without a requester on an enforcing platform")
	}
}

func TestGate_TimeoutBoundsHungRequester(t *testing.T) {
	requester := &blockingRequester{release: make(chan struct{})}
	defer close(requester.release)

	gate := NewGate(PlatformAndroid, requester)
	gate.SetTimeout(50 * time.Millisecond)

	start := time.Now()
	if gate.Request(context.Background()) {
		t.Fatal("Expected timed-out request to fail")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Request took %v, timeout not honoured", elapsed)
	}

	t.Logf("✅ Hung permission dialog is bounded by the gate timeout")
}

func TestGate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gate := NewGate(PlatformAndroid, NewStaticRequester())
	if gate.Request(ctx) {
		t.Fatal("Expected cancelled context to fail the request")
	}
}

func TestGate_IsRepeatable(t *testing.T) {
	gate := NewGate(PlatformAndroid, NewStaticRequester())

	for i := 0; i < 3; i++ {
		if !gate.Request(context.Background()) {
			t.Fatalf("Call %d failed", i+1)
		}
	}
}
