// Package permission requests the runtime capabilities a platform requires
// before its Bluetooth radio may scan or advertise.
package permission

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/auraphone-presence/logger"
)

// Platform identifies the OS the radio runs on
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformLinux   Platform = "linux"
	PlatformDarwin  Platform = "darwin"
	PlatformWindows Platform = "windows"
)

// Permission is a platform permission identifier
type Permission string

// Android runtime permissions needed for BLE scan + advertise (API 31+)
const (
	BluetoothScan      Permission = "android.permission.BLUETOOTH_SCAN"
	BluetoothConnect   Permission = "android.permission.BLUETOOTH_CONNECT"
	AccessFineLocation Permission = "android.permission.ACCESS_FINE_LOCATION"
	BluetoothAdvertise Permission = "android.permission.BLUETOOTH_ADVERTISE"
)

// Result is the verdict returned for a single permission request
type Result string

const (
	Granted       Result = "granted"
	Denied        Result = "denied"
	NeverAskAgain Result = "never_ask_again"
)

// CapabilitySets lists, per platform, the permissions that must all be granted.
// Platforms missing from the map have no enforcement.
var CapabilitySets = map[Platform][]Permission{
	PlatformAndroid: {
		BluetoothScan,
		BluetoothConnect,
		AccessFineLocation,
		BluetoothAdvertise,
	},
}

// Rationale is the text shown in the native permission dialog
type Rationale struct {
	Title          string
	Message        string
	ButtonPositive string
}

// DefaultRationale matches the dialog copy shipped in the app
var DefaultRationale = Rationale{
	Title:          "Bluetooth Permissions",
	Message:        "This app requires Bluetooth permissions to function properly",
	ButtonPositive: "OK",
}

// Requester is the platform permission subsystem
type Requester interface {
	Request(ctx context.Context, p Permission, rationale Rationale) (Result, error)
}

var errNoRequester = errors.New("no permission requester configured")

// CurrentPlatform maps the Go runtime OS onto a Platform
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "android":
		return PlatformAndroid
	case "ios":
		return PlatformIOS
	case "darwin":
		return PlatformDarwin
	case "windows":
		return PlatformWindows
	default:
		return PlatformLinux
	}
}

// Gate turns a platform's capability set into a single pass/fail verdict
type Gate struct {
	platform  Platform
	requester Requester
	rationale Rationale
	timeout   time.Duration
}

// NewGate creates a gate for platform backed by requester
func NewGate(platform Platform, requester Requester) *Gate {
	return &Gate{
		platform:  platform,
		requester: requester,
		rationale: DefaultRationale,
	}
}

// SetTimeout bounds a whole Request call; zero means no bound beyond ctx
func (g *Gate) SetTimeout(d time.Duration) {
	g.timeout = d
}

// SetRationale replaces the dialog copy
func (g *Gate) SetRationale(r Rationale) {
	g.rationale = r
}

// Platform returns the platform this gate enforces
func (g *Gate) Platform() Platform {
	return g.platform
}

// Capabilities returns the permissions required on this gate's platform
func (g *Gate) Capabilities() []Permission {
	return CapabilitySets[g.platform]
}

// Request asks for every capability concurrently and reports true only if all
// were granted. Request failures are logged and reported as false.
func (g *Gate) Request(ctx context.Context) bool {
	caps := g.Capabilities()
	if len(caps) == 0 {
		logger.Warn("permission", "Permissions only implemented for %s (running on %s)", PlatformAndroid, g.platform)
		return true
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	results, err := g.requestAll(ctx, caps)
	if err != nil {
		logger.Error("permission", "Error requesting permissions: %v", err)
		return false
	}

	for i, result := range results {
		if result != Granted {
			logger.Warn("permission", "🔒 %s not granted (%s)", caps[i], result)
			return false
		}
	}

	logger.Info("permission", "🔓 All %d permissions granted", len(caps))
	return true
}

func (g *Gate) requestAll(ctx context.Context, caps []Permission) ([]Result, error) {
	if g.requester == nil {
		return nil, errNoRequester
	}

	results := make([]Result, len(caps))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, p := range caps {
		i, p := i, p
		group.Go(func() error {
			result, err := g.requester.Request(groupCtx, p, g.rationale)
			if err != nil {
				return fmt.Errorf("request %s: %w", p, err)
			}
			results[i] = result
			return nil
		})
	}

	// Requesters that ignore ctx must not hang the caller past its deadline.
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
