package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/auraphone-presence/attendance"
	"github.com/user/auraphone-presence/ble"
	"github.com/user/auraphone-presence/config"
	"github.com/user/auraphone-presence/logger"
	"github.com/user/auraphone-presence/notify"
	"github.com/user/auraphone-presence/permission"
	"github.com/user/auraphone-presence/radio"
	"github.com/user/auraphone-presence/wire"
)

// transport is what both the simulated wire and the real radio provide
type transport interface {
	ble.Transport
	Events() (ble.Emitter, error)
	Close()
}

var rootCmd = &cobra.Command{
	Use:   "presenced",
	Short: "BLE proximity presence daemon",
	Long: `presenced advertises a session identifier, scans for others, and tells
the user when a session is found.`,
	SilenceUsage: true,
}

// ─── run ────────────────────────────────────────────────────────────────────

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan and/or advertise until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		scan, _ := cmd.Flags().GetBool("scan")
		advertise, _ := cmd.Flags().GetBool("advertise")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return run(cfg, scan, advertise)
	},
}

// ─── records ────────────────────────────────────────────────────────────────

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List recorded attendance",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		session, _ := cmd.Flags().GetString("session")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, err := attendance.Open(cfg.AttendanceDir())
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Records(session)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No attendance recorded.")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %s  %-24s %s (%d dBm)\n", r.At.Format(time.RFC3339), r.Identifier, r.Name, r.Address, r.RSSI)
		}
		return nil
	},
}

func run(cfg *config.Config, scan, advertise bool) error {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.LogFile() != "" {
		closer := logger.EnableFile(cfg.LogOptions())
		defer closer.Close()
	}

	// With no role flags, run whatever the config names
	if !scan && !advertise {
		scan = len(cfg.Scan.Identifiers) > 0
		advertise = cfg.Advertise.Identifier != ""
	}
	if !scan && !advertise {
		return errors.New("nothing to do: pass --scan and/or --advertise, or configure scan.identifiers / advertise.identifier")
	}
	if scan && len(cfg.Scan.Identifiers) == 0 {
		return errors.New("--scan needs scan.identifiers")
	}

	advertiseID := cfg.Advertise.Identifier
	if advertise && advertiseID == "" {
		advertiseID = uuid.New().String()
		logger.Info("presenced", "Generated session identifier %s", advertiseID)
	}

	t := newTransport(cfg)
	defer t.Close()

	notifiers := notify.Fanout{notify.NewConsole(os.Stdout)}
	var srv *http.Server
	if cfg.Alerts.Listen != "" {
		broadcaster := notify.NewBroadcaster()
		defer broadcaster.Close()
		notifiers = append(notifiers, broadcaster)

		mux := http.NewServeMux()
		mux.Handle("/alerts", broadcaster)
		srv = &http.Server{Addr: cfg.Alerts.Listen, Handler: mux}
		go func() {
			logger.Info("presenced", "Alert feed on ws://%s/alerts", cfg.Alerts.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("presenced", "Alert feed stopped: %v", err)
			}
		}()
	}

	gate := permission.NewGate(permission.Platform(cfg.Platform), permission.NewStaticRequester(cfg.DeniedPermissions()...))
	gate.SetTimeout(cfg.Timeouts.Permission)

	controller := ble.NewControllerWithText(t, t.Events, notifiers, gate, cfg.AlertText())
	controller.SetCallTimeout(cfg.Timeouts.Advertise)

	if cfg.Attendance.Enabled {
		store, err := attendance.Open(cfg.AttendanceDir())
		if err != nil {
			return err
		}
		defer store.Close()
		controller.Router().SetEventCallback(store.Recorder())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !controller.RequestPermissions(ctx) {
		return errors.New("bluetooth permissions denied")
	}

	if advertise {
		controller.StartAdvertising(ctx, advertiseID)
	}
	if scan {
		if err := controller.StartScanning(cfg.Scan.Identifiers...); err != nil {
			logger.Error("presenced", "❌ Could not start scanning: %v", err)
		}
	}

	logger.Info("presenced", "Running (scan=%v advertise=%v), Ctrl+C to stop", scan, advertise)
	<-ctx.Done()

	logger.Info("presenced", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state := controller.State()
	if state.Scanning {
		if err := controller.StopScanning(); err != nil {
			logger.Warn("presenced", "Stop scanning: %v", err)
		}
	}
	if state.Advertising {
		controller.StopAdvertising(shutdownCtx)
	}
	controller.Cleanup()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("presenced", "Alert feed shutdown: %v", err)
		}
	}
	return nil
}

func newTransport(cfg *config.Config) transport {
	if cfg.Transport == config.TransportRadio {
		logger.Info("presenced", "Using Bluetooth adapter")
		return radio.New(cfg.DeviceName, cfg.EventBuffer)
	}

	sim := &wire.SimulationConfig{
		ScanInterval:   cfg.Simulation.ScanInterval,
		AdvertiseDelay: cfg.Simulation.AdvertiseDelay,
		RSSI:           cfg.Simulation.RSSI,
		HubBuffer:      cfg.EventBuffer,
	}
	air := wire.NewAir()

	// A lone simulated phone hears nothing, so put a peer on the air
	// advertising the first identifier we scan for.
	if len(cfg.Scan.Identifiers) > 0 {
		peer := wire.NewWire(air, "Simulated Peer", sim)
		if err := peer.AdvertiseStart(context.Background(), cfg.Scan.Identifiers[0]); err != nil {
			logger.Warn("presenced", "Simulated peer failed to advertise: %v", err)
		}
	}

	logger.Info("presenced", "Using simulated radio")
	return wire.NewWire(air, cfg.DeviceName, sim)
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, recordsCmd} {
		cmd.Flags().String("config", "", "Path to YAML config file")
	}
	runCmd.Flags().Bool("scan", false, "Scan for the configured identifiers")
	runCmd.Flags().Bool("advertise", false, "Advertise the configured identifier")
	recordsCmd.Flags().String("session", "", "Only show records for this identifier")

	rootCmd.AddCommand(runCmd, recordsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
