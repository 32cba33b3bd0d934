package ble

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/user/auraphone-presence/logger"
	"github.com/user/auraphone-presence/permission"
)

// fakeEmitter delivers synchronously and counts every Remove call
type fakeEmitter struct {
	mu   sync.Mutex
	subs []*fakeSubscription
}

type fakeSubscription struct {
	emitter *fakeEmitter
	kind    EventKind
	handler Handler
	removes int
}

func (s *fakeSubscription) Remove() {
	s.emitter.mu.Lock()
	defer s.emitter.mu.Unlock()
	s.removes++
}

func (f *fakeEmitter) AddListener(kind EventKind, handler Handler) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSubscription{emitter: f, kind: kind, handler: handler}
	f.subs = append(f.subs, sub)
	return sub
}

// emit calls every live handler for e.Kind
func (f *fakeEmitter) emit(t *testing.T, kind EventKind, fields map[string]interface{}) {
	t.Helper()
	e, err := NewEvent(kind, fields)
	if err != nil {
		t.Fatalf("Failed to build event: %v", err)
	}

	f.mu.Lock()
	var handlers []Handler
	for _, s := range f.subs {
		if s.kind == kind && s.removes == 0 {
			handlers = append(handlers, s.handler)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

func (f *fakeEmitter) live(kind EventKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.kind == kind && s.removes == 0 {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) removals(kind EventKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.kind == kind {
			n += s.removes
		}
	}
	return n
}

func (f *fakeEmitter) maxRemovesPerHandle() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, s := range f.subs {
		if s.removes > max {
			max = s.removes
		}
	}
	return max
}

// countingSource wraps an emitter and counts how often it was opened
type countingSource struct {
	emitter Emitter
	err     error
	opens   int
}

func (c *countingSource) open() (Emitter, error) {
	c.opens++
	if c.err != nil {
		return nil, c.err
	}
	return c.emitter, nil
}

// recordingNotifier keeps every alert it was given
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
}

func (n *recordingNotifier) Alert(a Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *recordingNotifier) all() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Alert, len(n.alerts))
	copy(out, n.alerts)
	return out
}

// fakeTransport records primitive calls; the err fields make them fail
type fakeTransport struct {
	mu             sync.Mutex
	scanStarts     []string
	scanStops      int
	advertised     []string
	advertiseStops int

	scanStartErr      error
	scanStopErr       error
	advertiseStartErr error
	advertiseStopErr  error
	waitForCtx        bool
}

func (f *fakeTransport) ScanStart(encodedIDs string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanStarts = append(f.scanStarts, encodedIDs)
	return f.scanStartErr
}

func (f *fakeTransport) ScanStop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanStops++
	return f.scanStopErr
}

func (f *fakeTransport) AdvertiseStart(ctx context.Context, id string) error {
	if f.waitForCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertised = append(f.advertised, id)
	return f.advertiseStartErr
}

func (f *fakeTransport) AdvertiseStop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advertiseStops++
	return f.advertiseStopErr
}

var errRadioOff = errors.New("bluetooth adapter is off")

type testRig struct {
	controller *Controller
	transport  *fakeTransport
	emitter    *fakeEmitter
	source     *countingSource
	notifier   *recordingNotifier
}

func newTestRig() *testRig {
	emitter := &fakeEmitter{}
	source := &countingSource{emitter: emitter}
	transport := &fakeTransport{}
	notifier := &recordingNotifier{}
	gate := permission.NewGate(permission.PlatformAndroid, permission.NewStaticRequester())

	return &testRig{
		controller: NewController(transport, source.open, notifier, gate),
		transport:  transport,
		emitter:    emitter,
		source:     source,
		notifier:   notifier,
	}
}

// captureLogs redirects the global logger for one test
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := logger.GetLevel()
	logger.SetOutput(buf)
	logger.SetLevel(logger.DEBUG)
	t.Cleanup(func() {
		logger.SetOutput(os.Stdout)
		logger.SetLevel(prev)
	})
	return buf
}
