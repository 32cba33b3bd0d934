// Package wire is an in-process simulated BLE radio. It implements the
// ble.Transport primitives and the event emitter for one simulated phone.
package wire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/auraphone-presence/ble"
	"github.com/user/auraphone-presence/logger"
	"github.com/user/auraphone-presence/wire/advertising"
)

var (
	ErrClosed          = errors.New("wire closed")
	ErrEmptyIdentifier = errors.New("cannot advertise an empty identifier")
)

// Wire is one simulated device on an Air
type Wire struct {
	hardwareUUID string
	deviceName   string
	air          *Air
	config       *SimulationConfig

	hubMu sync.Mutex
	hub   *ble.Hub

	mu           sync.Mutex
	advertising  bool
	packet       []byte
	scanResponse []byte
	stopScan     chan struct{}
	scanDone     chan struct{}
	reported     map[string]bool
	closed       bool

	scanErr      error
	advertiseErr error
}

// NewWire joins a new device with a random hardware UUID to air
func NewWire(air *Air, deviceName string, config *SimulationConfig) *Wire {
	return NewWireWithUUID(air, uuid.New().String(), deviceName, config)
}

// NewWireWithUUID joins a device with a fixed hardware UUID to air
func NewWireWithUUID(air *Air, hardwareUUID, deviceName string, config *SimulationConfig) *Wire {
	if config == nil {
		config = DefaultSimulationConfig()
	}
	w := &Wire{
		hardwareUUID: hardwareUUID,
		deviceName:   deviceName,
		air:          air,
		config:       config,
	}
	air.join(w)
	return w
}

// HardwareUUID returns the simulated radio address
func (w *Wire) HardwareUUID() string {
	return w.hardwareUUID
}

// DeviceName returns the advertised local name
func (w *Wire) DeviceName() string {
	return w.deviceName
}

func (w *Wire) prefix() string {
	return fmt.Sprintf("%s wire", shortHash(w.hardwareUUID))
}

// Events opens the event emitter. Every call returns the same hub.
func (w *Wire) Events() (ble.Emitter, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	w.hubMu.Lock()
	defer w.hubMu.Unlock()
	if w.hub == nil {
		w.hub = ble.NewHub(w.config.HubBuffer)
	}
	return w.hub, nil
}

// SetScanError makes subsequent ScanStart calls fail synchronously
func (w *Wire) SetScanError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scanErr = err
}

// SetAdvertiseError makes subsequent AdvertiseStart calls fail
func (w *Wire) SetAdvertiseError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.advertiseErr = err
}

// ReportError emits an out-of-band transport error, as when the adapter is
// switched off mid-scan.
func (w *Wire) ReportError(message string) {
	w.emit(ble.TransportError, map[string]interface{}{
		"message": message,
		"address": w.hardwareUUID,
	})
}

// ScanStart starts sweeping the medium for the encoded identifiers.
// Calling it while already scanning restarts the sweep with the new set.
func (w *Wire) ScanStart(encodedIDs string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.scanErr != nil {
		err := w.scanErr
		w.mu.Unlock()
		return err
	}
	w.stopScanLocked()

	targets := make(map[string]string)
	for _, id := range ble.DecodeIdentifiers(encodedIDs) {
		targets[normalizeID(id)] = id
	}
	w.reported = make(map[string]bool)
	stop := make(chan struct{})
	done := make(chan struct{})
	w.stopScan = stop
	w.scanDone = done
	w.mu.Unlock()

	logger.Info(w.prefix(), "🔍 Scanning for %d identifiers", len(targets))
	w.emit(ble.DiagnosticLog, map[string]interface{}{
		"message": fmt.Sprintf("Scan started for %d identifiers", len(targets)),
	})

	go w.scanLoop(targets, stop, done)
	return nil
}

// ScanStop stops the sweep; stopping an idle scanner is a no-op
func (w *Wire) ScanStop() error {
	w.mu.Lock()
	wasScanning := w.stopScan != nil
	done := w.stopScanLocked()
	w.mu.Unlock()

	if done != nil {
		<-done
	}
	if wasScanning {
		logger.Info(w.prefix(), "Scan stopped")
		w.emit(ble.DiagnosticLog, map[string]interface{}{"message": "Scan stopped"})
	}
	return nil
}

// stopScanLocked signals the running sweep and returns its done channel
func (w *Wire) stopScanLocked() chan struct{} {
	if w.stopScan == nil {
		return nil
	}
	close(w.stopScan)
	done := w.scanDone
	w.stopScan = nil
	w.scanDone = nil
	return done
}

// AdvertiseStart makes id, a UUID, visible to scanners on the medium as a
// 128-bit service UUID. Advertising again replaces the identifier.
func (w *Wire) AdvertiseStart(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyIdentifier
	}
	service, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("identifier %q is not a UUID: %w", id, err)
	}
	packet, scanResponse, err := advertising.Build(addressFor(w.hardwareUUID), w.deviceName, service)
	if err != nil {
		return fmt.Errorf("build advertisement: %w", err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.advertiseErr != nil {
		err := w.advertiseErr
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	if w.config.AdvertiseDelay > 0 {
		select {
		case <-time.After(w.config.AdvertiseDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	w.packet = packet
	w.scanResponse = scanResponse
	w.advertising = true
	w.mu.Unlock()

	logger.Info(w.prefix(), "📡 Started Advertising %s", id)
	return nil
}

// AdvertiseStop withdraws the advertisement; stopping twice is a no-op
func (w *Wire) AdvertiseStop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	was := w.advertising
	w.advertising = false
	w.packet = nil
	w.scanResponse = nil
	w.mu.Unlock()

	if was {
		logger.Info(w.prefix(), "📡 Stopped Advertising")
	}
	return nil
}

// IsAdvertising reports whether the device is currently visible
func (w *Wire) IsAdvertising() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.advertising
}

// IsScanning reports whether a sweep is running
func (w *Wire) IsScanning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopScan != nil
}

// Close stops scanning, leaves the medium and shuts the event hub
func (w *Wire) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.advertising = false
	done := w.stopScanLocked()
	w.mu.Unlock()

	if done != nil {
		<-done
	}
	w.air.leave(w)

	w.hubMu.Lock()
	if w.hub != nil {
		w.hub.Close()
	}
	w.hubMu.Unlock()
}

func (w *Wire) currentAdvertisement() (Advertisement, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.advertising {
		return Advertisement{}, false
	}
	return Advertisement{
		HardwareUUID: w.hardwareUUID,
		Packet:       w.packet,
		ScanResponse: w.scanResponse,
		RSSI:         w.config.RSSI,
	}, true
}

func (w *Wire) scanLoop(targets map[string]string, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	for {
		w.sweep(targets, stop)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// sweep reports each advertiser once per scan session, and each matching
// service UUID once per advertiser.
func (w *Wire) sweep(targets map[string]string, stop chan struct{}) {
	for _, adv := range w.air.advertisements(w.hardwareUUID) {
		report, err := advertising.Parse(adv.Packet, adv.ScanResponse)
		if err != nil {
			logger.Warn(w.prefix(), "Dropping unreadable advertisement from %s: %v", shortHash(adv.HardwareUUID), err)
			continue
		}

		var matches []string
		w.mu.Lock()
		if w.stopScan != stop {
			w.mu.Unlock()
			return
		}
		deviceKey := "device|" + adv.HardwareUUID
		newDevice := !w.reported[deviceKey]
		w.reported[deviceKey] = true
		for _, service := range report.ServiceUUIDs {
			id, ok := targets[normalizeID(service.String())]
			matchKey := "match|" + adv.HardwareUUID + "|" + normalizeID(id)
			if ok && !w.reported[matchKey] {
				w.reported[matchKey] = true
				matches = append(matches, id)
			}
		}
		w.mu.Unlock()

		if newDevice {
			logger.Trace(w.prefix(), "Discovered %s (RSSI: %d)", report.LocalName, adv.RSSI)
			w.emit(ble.DeviceFound, map[string]interface{}{
				"address": adv.HardwareUUID,
				"name":    report.LocalName,
				"rssi":    adv.RSSI,
			})
		}
		for _, id := range matches {
			logger.Debug(w.prefix(), "🎯 Matched %s from %s", id, shortHash(adv.HardwareUUID))
			w.emit(ble.IdentifierFound, map[string]interface{}{
				"uuid":    id,
				"address": adv.HardwareUUID,
				"name":    report.LocalName,
				"rssi":    adv.RSSI,
			})
		}
	}
}

func (w *Wire) emit(kind ble.EventKind, fields map[string]interface{}) {
	w.hubMu.Lock()
	hub := w.hub
	w.hubMu.Unlock()
	if hub == nil {
		logger.Trace(w.prefix(), "No listeners opened, dropping %s", kind)
		return
	}

	e, err := ble.NewEvent(kind, fields)
	if err != nil {
		logger.Warn(w.prefix(), "Failed to build %s event: %v", kind, err)
		return
	}
	hub.Emit(e)
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// addressFor derives a stable 6-byte radio address from the hardware UUID
func addressFor(hardwareUUID string) [advertising.AddressLen]byte {
	var addr [advertising.AddressLen]byte
	if u, err := uuid.Parse(hardwareUUID); err == nil {
		copy(addr[:], u[:advertising.AddressLen])
	} else {
		copy(addr[:], hardwareUUID)
	}
	return addr
}

func shortHash(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
