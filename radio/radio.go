// Package radio implements the ble transport on a real Bluetooth adapter
// (BlueZ on Linux, CoreBluetooth on macOS, WinRT on Windows).
package radio

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/user/auraphone-presence/ble"
	"github.com/user/auraphone-presence/logger"
)

const prefix = "radio"

// advertisement is the part of a scan result used for matching
type advertisement interface {
	LocalName() string
	HasServiceUUID(bluetooth.UUID) bool
}

type target struct {
	id   string
	uuid bluetooth.UUID
}

// Radio drives one local adapter. Identifiers must be UUIDs; they are
// advertised and matched as 128-bit service UUIDs.
type Radio struct {
	adapter   *bluetooth.Adapter
	localName string
	hubBuffer int

	enableOnce sync.Once
	enableErr  error

	hubMu sync.Mutex
	hub   *ble.Hub

	mu          sync.Mutex
	targets     []target
	reported    map[string]bool
	scanDone    chan struct{}
	adv         *bluetooth.Advertisement
	advertising bool
}

// New uses the platform's default adapter. hubBuffer is the per-kind event
// queue depth; zero picks the hub default.
func New(localName string, hubBuffer int) *Radio {
	return &Radio{
		adapter:   bluetooth.DefaultAdapter,
		localName: localName,
		hubBuffer: hubBuffer,
	}
}

func (r *Radio) enable() error {
	r.enableOnce.Do(func() {
		if err := r.adapter.Enable(); err != nil {
			r.enableErr = fmt.Errorf("enable bluetooth adapter: %w", err)
			return
		}
		logger.Info(prefix, "Bluetooth adapter enabled")
	})
	return r.enableErr
}

func (r *Radio) events() *ble.Hub {
	r.hubMu.Lock()
	defer r.hubMu.Unlock()
	if r.hub == nil {
		r.hub = ble.NewHub(r.hubBuffer)
	}
	return r.hub
}

// Events enables the adapter and opens the event emitter
func (r *Radio) Events() (ble.Emitter, error) {
	if err := r.enable(); err != nil {
		return nil, err
	}
	return r.events(), nil
}

// ScanStart scans for service UUIDs. Restarting replaces the target set.
func (r *Radio) ScanStart(encodedIDs string) error {
	targets, err := parseTargets(ble.DecodeIdentifiers(encodedIDs))
	if err != nil {
		return err
	}
	if err := r.enable(); err != nil {
		return err
	}
	if err := r.ScanStop(); err != nil {
		return err
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.targets = targets
	r.reported = make(map[string]bool)
	r.scanDone = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			r.handleResult(result.Address.String(), result.RSSI, result)
		})
		if err := normalizeScanError(err); err != nil {
			logger.Error(prefix, "Scan ended with error: %v", err)
			r.emit(ble.TransportError, map[string]interface{}{"message": err.Error()})
		}
	}()

	logger.Info(prefix, "🔍 Scanning for %d service UUIDs", len(targets))
	r.emit(ble.DiagnosticLog, map[string]interface{}{
		"message": fmt.Sprintf("Scan started for %d identifiers", len(targets)),
	})
	return nil
}

// ScanStop stops a running scan and waits for it to wind down
func (r *Radio) ScanStop() error {
	r.mu.Lock()
	done := r.scanDone
	r.scanDone = nil
	r.mu.Unlock()

	if done == nil {
		return nil
	}

	err := normalizeScanError(r.adapter.StopScan())
	<-done
	r.emit(ble.DiagnosticLog, map[string]interface{}{"message": "Scan stopped"})
	return err
}

// AdvertiseStart advertises id as a service UUID under the local name
func (r *Radio) AdvertiseStart(ctx context.Context, id string) error {
	serviceUUID, err := parseUUID(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.enable(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.adv == nil {
		r.adv = r.adapter.DefaultAdvertisement()
	}
	if r.advertising {
		if err := r.adv.Stop(); err != nil {
			logger.Warn(prefix, "Failed to stop previous advertisement: %v", err)
		}
		r.advertising = false
	}

	err = r.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    r.localName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	})
	if err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := r.adv.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}
	r.advertising = true

	logger.Info(prefix, "📡 Started Advertising %s", serviceUUID.String())
	return nil
}

// AdvertiseStop stops advertising; a no-op when not advertising
func (r *Radio) AdvertiseStop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.advertising || r.adv == nil {
		return nil
	}
	if err := r.adv.Stop(); err != nil {
		return fmt.Errorf("stop advertisement: %w", err)
	}
	r.advertising = false
	logger.Info(prefix, "📡 Stopped Advertising")
	return nil
}

// Close stops everything and shuts the event hub
func (r *Radio) Close() {
	if err := r.ScanStop(); err != nil {
		logger.Warn(prefix, "Scan stop on close: %v", err)
	}
	if err := r.AdvertiseStop(context.Background()); err != nil {
		logger.Warn(prefix, "Advertise stop on close: %v", err)
	}

	r.hubMu.Lock()
	defer r.hubMu.Unlock()
	if r.hub != nil {
		r.hub.Close()
	}
}

func (r *Radio) handleResult(address string, rssi int16, adv advertisement) {
	r.mu.Lock()
	if r.reported == nil {
		r.mu.Unlock()
		return
	}
	newDevice := !r.reported[address]
	r.reported[address] = true

	var matches []string
	for _, t := range r.targets {
		key := address + "|" + t.id
		if !r.reported[key] && adv.HasServiceUUID(t.uuid) {
			r.reported[key] = true
			matches = append(matches, t.id)
		}
	}
	r.mu.Unlock()

	if newDevice {
		r.emit(ble.DeviceFound, map[string]interface{}{
			"address": address,
			"name":    adv.LocalName(),
			"rssi":    int(rssi),
		})
	}
	for _, id := range matches {
		logger.Debug(prefix, "🎯 Matched %s from %s", id, address)
		r.emit(ble.IdentifierFound, map[string]interface{}{
			"uuid":    id,
			"address": address,
			"name":    adv.LocalName(),
			"rssi":    int(rssi),
		})
	}
}

func (r *Radio) emit(kind ble.EventKind, fields map[string]interface{}) {
	e, err := ble.NewEvent(kind, fields)
	if err != nil {
		logger.Warn(prefix, "Failed to build %s event: %v", kind, err)
		return
	}
	r.events().Emit(e)
}

func parseUUID(id string) (bluetooth.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("identifier %q is not a UUID: %w", id, err)
	}
	return bluetooth.ParseUUID(u.String())
}

func parseTargets(ids []string) ([]target, error) {
	targets := make([]target, 0, len(ids))
	for _, id := range ids {
		u, err := parseUUID(id)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target{id: id, uuid: u})
	}
	return targets, nil
}

// BlueZ reports stopping an idle scan as an error
func normalizeScanError(err error) error {
	if err == nil || strings.Contains(err.Error(), "no scan in progress") {
		return nil
	}
	return err
}
