package task

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"fileforge/internal/convert"
)

const (
	defaultTerminalRetention  = 10 * time.Minute
	defaultAbandonedRetention = 30 * time.Minute
	defaultSweepInterval      = time.Minute
)

// Retention bounds memory held by finished and abandoned records.
type Retention struct {
	// Terminal is how long done/error records stay visible to pollers.
	Terminal time.Duration
	// Abandoned is how long a pending record may go without an update
	// before it is failed and evicted.
	Abandoned time.Duration
	// Sweep is the eviction pass interval.
	Sweep time.Duration
}

func (r Retention) withDefaults() Retention {
	if r.Terminal <= 0 {
		r.Terminal = defaultTerminalRetention
	}
	if r.Abandoned <= 0 {
		r.Abandoned = defaultAbandonedRetention
	}
	if r.Sweep <= 0 {
		r.Sweep = defaultSweepInterval
	}
	return r
}

// Store is the single source of truth for task status. It is an in-memory
// map guarded for concurrent submissions and lookups; each record is written
// only by the worker goroutine that owns it, reads get snapshot copies.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*Record
	retention Retention
	now       func() time.Time
}

func NewStore(retention Retention) *Store {
	return &Store{
		records:   make(map[string]*Record),
		retention: retention.withDefaults(),
		now:       time.Now,
	}
}

// Create inserts a new pending record and returns its ID.
func (s *Store) Create(category convert.Category, fileName string) string {
	now := s.now()
	rec := &Record{
		ID:        uuid.NewString(),
		Category:  category,
		Status:    StatusPending,
		FileName:  fileName,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.mu.Unlock()
	return rec.ID
}

// Get returns a snapshot copy of the record. The caller cannot mutate stored
// state through it, which keeps GET side-effect-free.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.RUnlock()
		return Record{}, false
	}
	snapshot := *rec
	s.mu.RUnlock()
	return snapshot, true
}

// Len reports the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SetProgress advances a pending record's progress. Regressions and writes
// to terminal records are ignored, keeping progress monotonic then frozen.
func (s *Store) SetProgress(id string, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Terminal() || pct <= rec.Progress {
		return
	}
	rec.Progress = pct
	rec.UpdatedAt = s.now()
}

// Complete transitions a pending record to done with the converted payload.
func (s *Store) Complete(id string, res convert.Result, fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrTaskNotFound
	}
	if rec.Terminal() {
		return ErrTaskTerminal
	}
	rec.Status = StatusDone
	rec.Progress = 100
	rec.MIME = res.MIME
	rec.DataBase64 = base64.StdEncoding.EncodeToString(res.Data)
	if fileName != "" {
		rec.FileName = fileName
	}
	rec.UpdatedAt = s.now()
	return nil
}

// Fail transitions a pending record to error with a descriptive message.
func (s *Store) Fail(id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrTaskNotFound
	}
	if rec.Terminal() {
		return ErrTaskTerminal
	}
	rec.Status = StatusError
	rec.Message = message
	rec.UpdatedAt = s.now()
	return nil
}

// StartSweeper runs periodic eviction until the context is cancelled.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.retention.Sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *Store) sweep() {
	now := s.now()

	s.mu.Lock()
	evicted := 0
	for id, rec := range s.records {
		age := now.Sub(rec.UpdatedAt)
		switch {
		case rec.Terminal() && age > s.retention.Terminal:
			delete(s.records, id)
			evicted++
		case !rec.Terminal() && age > s.retention.Abandoned:
			// The owning worker is gone or stuck; fail the record so a
			// late poller sees an error, then let the next pass drop it.
			rec.Status = StatusError
			rec.Message = "task abandoned: no progress within retention window"
			rec.UpdatedAt = now
		}
	}
	remaining := len(s.records)
	s.mu.Unlock()

	if evicted > 0 {
		log.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("task store sweep")
	}
}
