package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/user/auraphone-presence/ble"
	"github.com/user/auraphone-presence/notify"
	"github.com/user/auraphone-presence/permission"
	"github.com/user/auraphone-presence/wire"
)

// markedNotifier prints alerts and signals the first success
type markedNotifier struct {
	console *notify.Console
	marked  chan struct{}
}

func (n *markedNotifier) Alert(a ble.Alert) {
	n.console.Alert(a)
	if a.Severity == ble.SeveritySuccess {
		select {
		case n.marked <- struct{}{}:
		default:
		}
	}
}

func newPhone(air *wire.Air, name string, notifier ble.Notifier) (*ble.Controller, *wire.Wire) {
	w := wire.NewWire(air, name, wire.PerfectSimulationConfig())
	gate := permission.NewGate(permission.PlatformAndroid, permission.NewStaticRequester())
	return ble.NewController(w, w.Events, notifier, gate), w
}

func main() {
	fmt.Println("=== BLE Attendance Demo ===")
	fmt.Println()

	ctx := context.Background()
	air := wire.NewAir()
	console := notify.NewConsole(os.Stdout)

	lecturer, lecturerWire := newPhone(air, "Lecturer Pixel 8", console)
	defer lecturerWire.Close()

	studentAlerts := &markedNotifier{console: console, marked: make(chan struct{}, 1)}
	student, studentWire := newPhone(air, "Student iPhone 15", studentAlerts)
	defer studentWire.Close()

	if !lecturer.RequestPermissions(ctx) || !student.RequestPermissions(ctx) {
		fmt.Println("❌ Permissions denied")
		os.Exit(1)
	}

	session := uuid.New().String()
	fmt.Printf("Lecturer opens session %s\n", session)
	lecturer.StartAdvertising(ctx, session)

	fmt.Println("Student starts scanning...")
	if err := student.StartScanning(session); err != nil {
		fmt.Printf("❌ Scan failed: %v\n", err)
		os.Exit(1)
	}

	select {
	case <-studentAlerts.marked:
	case <-time.After(5 * time.Second):
		fmt.Println("❌ Student never found the session")
		os.Exit(1)
	}

	if err := student.StopScanning(); err != nil {
		fmt.Printf("Stop scanning: %v\n", err)
	}
	lecturer.StopAdvertising(ctx)
	student.Cleanup()
	lecturer.Cleanup()

	fmt.Println()
	fmt.Println("✅ Attendance demo complete")
}
