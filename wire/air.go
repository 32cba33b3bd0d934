package wire

import (
	"sort"
	"sync"
	"time"
)

// Advertisement is what an active scanner hears from one advertising
// device: the ADV_IND packet and its SCAN_RSP.
type Advertisement struct {
	HardwareUUID string
	Packet       []byte
	ScanResponse []byte
	RSSI         int
}

// Air is the shared simulated radio medium. Every Wire joined to the same
// Air can hear the advertisements of the others.
type Air struct {
	mu      sync.RWMutex
	devices map[string]*Wire
}

// NewAir creates an empty medium
func NewAir() *Air {
	return &Air{devices: make(map[string]*Wire)}
}

func (a *Air) join(w *Wire) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.devices[w.hardwareUUID] = w
}

func (a *Air) leave(w *Wire) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.devices, w.hardwareUUID)
}

// DeviceCount returns the number of devices on the medium
func (a *Air) DeviceCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.devices)
}

// advertisements returns what listener hears right now, in stable order
func (a *Air) advertisements(listener string) []Advertisement {
	a.mu.RLock()
	devices := make([]*Wire, 0, len(a.devices))
	for id, w := range a.devices {
		if id != listener {
			devices = append(devices, w)
		}
	}
	a.mu.RUnlock()

	var out []Advertisement
	for _, w := range devices {
		if adv, ok := w.currentAdvertisement(); ok {
			out = append(out, adv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HardwareUUID < out[j].HardwareUUID })
	return out
}

// SimulationConfig controls simulated radio timing
type SimulationConfig struct {
	ScanInterval   time.Duration // how often a scanner sweeps the medium
	AdvertiseDelay time.Duration // time for the advertiser to come up
	RSSI           int           // reported signal strength (dBm)
	HubBuffer      int           // per-kind event queue depth
}

// DefaultSimulationConfig approximates a phone in low-power scan mode
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		ScanInterval:   time.Second,
		AdvertiseDelay: 50 * time.Millisecond,
		RSSI:           -45,
		HubBuffer:      64,
	}
}

// PerfectSimulationConfig has near-zero delays for tests and demos
func PerfectSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		ScanInterval:   10 * time.Millisecond,
		AdvertiseDelay: 0,
		RSSI:           -45,
		HubBuffer:      64,
	}
}
