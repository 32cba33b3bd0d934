// Package ble coordinates proximity discovery on top of a radio transport:
// listener lifecycle, event routing and scan/advertise start-stop.
package ble

import (
	"context"
	"sync"
	"time"

	"github.com/user/auraphone-presence/logger"
	"github.com/user/auraphone-presence/permission"
)

// Transport is the radio. Implementations must tolerate redundant calls
// (stopping while stopped, starting while started).
type Transport interface {
	ScanStart(encodedIDs string) error
	ScanStop() error
	AdvertiseStart(ctx context.Context, id string) error
	AdvertiseStop(ctx context.Context) error
}

// SessionState is what the controller last asked the transport to do.
// It is observational only; transitions are never refused.
type SessionState struct {
	Scanning    bool
	Advertising bool
}

// Controller is the public face of the module. Create one per transport.
type Controller struct {
	transport   Transport
	registry    *Registry
	router      *Router
	notifier    Notifier
	gate        *permission.Gate
	text        AlertText
	callTimeout time.Duration

	mu    sync.Mutex
	state SessionState
}

// NewController wires the registry and router around transport.
// events opens the shared emitter the first time scanning starts.
func NewController(transport Transport, events EmitterFunc, notifier Notifier, gate *permission.Gate) *Controller {
	return NewControllerWithText(transport, events, notifier, gate, DefaultAlertText)
}

// NewControllerWithText is NewController with custom alert copy
func NewControllerWithText(transport Transport, events EmitterFunc, notifier Notifier, gate *permission.Gate, text AlertText) *Controller {
	router := NewRouter(notifier, text)
	return &Controller{
		transport: transport,
		registry:  NewRegistry(events, router),
		router:    router,
		notifier:  notifier,
		gate:      gate,
		text:      text,
	}
}

// SetCallTimeout bounds advertise calls whose context carries no deadline
func (c *Controller) SetCallTimeout(d time.Duration) {
	c.callTimeout = d
}

// Router exposes the event router, e.g. to attach an event callback
func (c *Controller) Router() *Router {
	return c.router
}

// Registry exposes the listener registry
func (c *Controller) Registry() *Registry {
	return c.registry
}

// State returns the last requested scan/advertise state
func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestPermissions asks for the radio capabilities of the current platform
func (c *Controller) RequestPermissions(ctx context.Context) bool {
	if c.gate == nil {
		logger.Warn("presence", "No permission gate configured, assuming granted")
		return true
	}
	return c.gate.Request(ctx)
}

// StartScanning re-arms the listeners and starts scanning for ids.
// Starting while already scanning is allowed and simply re-synchronizes.
// A synchronous transport failure is returned; later failures arrive as
// TransportError events.
func (c *Controller) StartScanning(ids ...string) error {
	encoded, err := EncodeIdentifiers(ids)
	if err != nil {
		logger.Error("presence", "Refusing to scan: %v", err)
		return err
	}

	if err := c.registry.Setup(); err != nil {
		logger.Error("presence", "Failed to set up listeners: %v", err)
		return err
	}

	logger.Info("presence", "🔍 Starting scan for UUIDs: %s", encoded)
	if err := c.transport.ScanStart(encoded); err != nil {
		logger.Error("presence", "Scan start failed: %v", err)
		return err
	}

	c.mu.Lock()
	c.state.Scanning = true
	c.mu.Unlock()
	return nil
}

// StopScanning stops the transport scan. Listeners stay registered until the
// next StartScanning or Cleanup.
func (c *Controller) StopScanning() error {
	logger.Info("presence", "Stopping scan")
	if err := c.transport.ScanStop(); err != nil {
		logger.Error("presence", "Scan stop failed: %v", err)
		return err
	}

	c.mu.Lock()
	c.state.Scanning = false
	c.mu.Unlock()
	return nil
}

// StartAdvertising broadcasts id. A failure is shown to the user and logged,
// never returned.
func (c *Controller) StartAdvertising(ctx context.Context, id string) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	logger.Info("presence", "📡 Starting advertisement with UUID: %s", id)
	if err := c.transport.AdvertiseStart(ctx, id); err != nil {
		logger.Error("presence", "Error starting advertisement: %v", err)
		if c.notifier != nil {
			c.notifier.Alert(Alert{
				Title:    c.text.AdvertiseErrorTitle,
				Message:  c.text.AdvertiseErrorMessage,
				Severity: SeverityError,
				Kind:     TransportError,
				Detail:   err.Error(),
				At:       time.Now(),
			})
		}
		return
	}

	c.mu.Lock()
	c.state.Advertising = true
	c.mu.Unlock()
}

// StopAdvertising stops broadcasting. Failures are logged only; the user
// cannot act on them.
func (c *Controller) StopAdvertising(ctx context.Context) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	logger.Info("presence", "Stopping advertisement")
	if err := c.transport.AdvertiseStop(ctx); err != nil {
		logger.Error("presence", "Error stopping advertisement: %v", err)
		return
	}

	c.mu.Lock()
	c.state.Advertising = false
	c.mu.Unlock()
}

// Cleanup releases every event listener, whatever the scan/advertise state.
// It waits for handlers already running, so it must not be called from a
// Notifier.
func (c *Controller) Cleanup() {
	c.registry.Cleanup()
}

func (c *Controller) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}
