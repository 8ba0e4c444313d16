// Package persistence implements the split-store over an embedded
// object database (SPEC_FULL.md §4.3): one record for JSON state, one
// record for the binary bitmap log, write-coalescing debounce, and a
// migration pipeline. The embedded store is go.etcd.io/bbolt, chosen
// as the Go-native "indexed object database" spec.md §6 describes,
// grounded on the bolt-backed local storage pattern in the retrieval
// pack (see DESIGN.md).
package persistence

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/tecnocratoshi/askesis/model"
)

const (
	bucketName   = "app_state"
	jsonKey      = "askesis_core_json"
	binaryKey    = "askesis_logs_binary"
	// SaveDebounce is the write-coalescing window of spec §6.
	SaveDebounce = 800 * time.Millisecond
)

// Store owns the bbolt handle and the debounce/serialization state for
// saves. A save is "debounced": Save(false) schedules a write
// SaveDebounce after the last call; Save(true) flushes immediately.
// Writes are serialized — a new save awaits the active one (spec
// §4.3/§5 "chained active-save promise").
type Store struct {
	db     *bolt.DB
	logger zerolog.Logger

	mu          sync.Mutex
	timer       *time.Timer
	pendingSave func() error
	saveMu      sync.Mutex // serializes actual flush-to-disk calls
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: init bucket: %w", err)
	}
	return &Store{db: db, logger: logger.With().Str("component", "persistence").Logger()}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	return s.db.Close()
}

// stateJSON is model.AppState minus the bitmap log, satisfying
// invariant 7: "the JSON record never contains monthlyLogs."
type stateJSON = model.AppState

// Save schedules (or, if immediate, performs) a write of state and
// log. It bumps nothing itself — callers are expected to have already
// called store.Store.BumpLastModified before invoking Save.
func (s *Store) Save(state *model.AppState, log map[string]*big.Int, immediate bool) error {
	flush := func() error { return s.flush(state, log) }

	if immediate {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()
		return s.serializedFlush(flush)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingSave = flush
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(SaveDebounce, func() {
		s.mu.Lock()
		pending := s.pendingSave
		s.pendingSave = nil
		s.mu.Unlock()
		if pending == nil {
			return
		}
		if err := s.serializedFlush(pending); err != nil {
			s.logger.Error().Err(err).Msg("debounced save failed")
		}
	})
	return nil
}

// serializedFlush ensures at most one in-flight bbolt transaction per
// save key at a time (spec §5).
func (s *Store) serializedFlush(flush func() error) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return flush()
}

func (s *Store) flush(state *model.AppState, log map[string]*big.Int) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("persistence: marshal state: %w", err)
	}
	binBytes, err := marshalLog(log)
	if err != nil {
		return fmt.Errorf("persistence: marshal log: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if err := b.Put([]byte(jsonKey), jsonBytes); err != nil {
			return err
		}
		return b.Put([]byte(binaryKey), binBytes)
	})
}

// Load reads both records, applies migrateState if the version
// differs, and installs the binary log map (or an empty one if
// absent). It never returns an error for a missing database — a fresh
// install has nothing to load.
func (s *Store) Load() (*model.AppState, map[string]*big.Int, error) {
	var jsonBytes, binBytes []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(jsonKey)); v != nil {
			jsonBytes = append([]byte(nil), v...)
		}
		if v := b.Get([]byte(binaryKey)); v != nil {
			binBytes = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("persistence: load: %w", err)
	}

	state := model.New()
	if jsonBytes != nil {
		if err := json.Unmarshal(jsonBytes, state); err != nil {
			return nil, nil, fmt.Errorf("persistence: unmarshal state: %w", err)
		}
		state = migrateState(state)
	}

	log := make(map[string]*big.Int)
	if binBytes != nil {
		pairs, err := unmarshalLog(binBytes)
		if err != nil {
			s.logger.Warn().Err(err).Msg("binary log record corrupted, starting empty")
		} else {
			log = pairs
		}
	}

	return state, log, nil
}

// migrateState upgrades a loaded AppState whose Version differs from
// model.CurrentVersion. There is only one schema version so far; this
// is the seam future migrations hang off of.
func migrateState(s *model.AppState) *model.AppState {
	if s.Version == model.CurrentVersion {
		return s
	}
	s.Version = model.CurrentVersion
	return s
}

func marshalLog(log map[string]*big.Int) ([]byte, error) {
	pairs := make([][2]string, 0, len(log))
	for k, v := range log {
		pairs = append(pairs, [2]string{k, v.Text(16)})
	}
	return json.Marshal(pairs)
}

func unmarshalLog(data []byte) (map[string]*big.Int, error) {
	var pairs [][2]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, err
	}
	out := make(map[string]*big.Int, len(pairs))
	for _, p := range pairs {
		v, ok := new(big.Int).SetString(p[1], 16)
		if !ok {
			continue
		}
		out[p[0]] = v
	}
	return out, nil
}
