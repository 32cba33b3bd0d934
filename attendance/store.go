// Package attendance keeps a persistent record of every session identifier
// this device has matched, backed by bbolt.
package attendance

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/user/auraphone-presence/ble"
	"github.com/user/auraphone-presence/logger"
)

var bucketRecords = []byte("records")

// FileName is the database file created inside the store directory
const FileName = "attendance.db"

// Record is one marked attendance
type Record struct {
	Identifier string    `json:"identifier"`
	Address    string    `json:"address"`
	Name       string    `json:"name,omitempty"`
	RSSI       int       `json:"rssi"`
	At         time.Time `json:"at"`
}

func (r Record) key() []byte {
	return []byte(strings.ToUpper(r.Identifier) + "|" + r.Address)
}

// RecordFromEvent builds a record from an identifier-found event
func RecordFromEvent(e ble.Event) (Record, error) {
	if e.Kind != ble.IdentifierFound {
		return Record{}, fmt.Errorf("not an identifier event: %s", e.Kind)
	}
	r := Record{
		Identifier: e.Field("uuid"),
		Address:    e.Field("address"),
		Name:       e.Field("name"),
		At:         e.Received,
	}
	if r.Identifier == "" {
		return Record{}, errors.New("event has no uuid")
	}
	if rssi, err := strconv.ParseFloat(e.Field("rssi"), 64); err == nil {
		r.RSSI = int(rssi)
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return r, nil
}

// recorderBuffer is how many matches may wait for the disk before new ones
// are dropped
const recorderBuffer = 64

// Store is a bbolt database of records keyed by identifier and address
type Store struct {
	db *bolt.DB

	mu        sync.Mutex
	queue     chan Record
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the database in dir
func Open(dir string) (*Store, error) {
	db, err := bolt.Open(filepath.Join(dir, FileName), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open attendance db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close waits for queued records to be written, then closes the database.
// It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.queue != nil {
			close(s.queue)
		}
		s.mu.Unlock()

		s.wg.Wait()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

// Mark stores r unless the same identifier was already marked from the
// same address. It returns true for a new record.
func (s *Store) Mark(r Record) (bool, error) {
	added := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketRecords)
		if bkt.Get(r.key()) != nil {
			return nil
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		added = true
		return bkt.Put(r.key(), data)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// Records returns the records for identifier, oldest first. An empty
// identifier returns everything.
func (s *Store) Records(identifier string) ([]Record, error) {
	prefix := []byte(strings.ToUpper(identifier) + "|")
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			if identifier != "" && !strings.HasPrefix(string(k), string(prefix)) {
				return nil
			}
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				logger.Warn("attendance", "Skipping corrupt record %q: %v", k, err)
				return nil
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Recorder returns an event callback that marks every identifier-found event.
// The callback only queues the record; a single writer goroutine commits it,
// so the event dispatch goroutine never waits on the disk.
func (s *Store) Recorder() func(ble.Event) {
	s.mu.Lock()
	if s.queue == nil && !s.closed {
		s.queue = make(chan Record, recorderBuffer)
		s.wg.Add(1)
		go s.writeLoop(s.queue)
	}
	s.mu.Unlock()

	return func(e ble.Event) {
		if e.Kind != ble.IdentifierFound {
			return
		}
		r, err := RecordFromEvent(e)
		if err != nil {
			logger.Warn("attendance", "Ignoring event: %v", err)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			logger.Warn("attendance", "Store closed, dropping record for %s", r.Identifier)
			return
		}
		select {
		case s.queue <- r:
		default:
			logger.Warn("attendance", "⚠️  Record queue full, dropping %s from %s", r.Identifier, r.Address)
		}
	}
}

func (s *Store) writeLoop(queue <-chan Record) {
	defer s.wg.Done()
	for r := range queue {
		added, err := s.Mark(r)
		if err != nil {
			logger.Error("attendance", "Failed to store record: %v", err)
			continue
		}
		if added {
			logger.Info("attendance", "📝 Recorded %s from %s", r.Identifier, r.Address)
		}
	}
}
