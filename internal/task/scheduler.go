package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"fileforge/internal/convert"
	"fileforge/internal/metrics"
)

const defaultMaxConcurrent = 3

// Scheduler admits conversion requests and runs them through the per-category
// workers. The synchronous path runs inline in the caller's goroutine; the
// queued path creates a Record and dispatches a semaphore-bounded worker.
type Scheduler struct {
	mu        sync.RWMutex
	store     *Store
	workers   map[convert.Category]convert.Worker
	semaphore chan struct{}
	workersWG sync.WaitGroup
	baseCtx   context.Context
}

// Options configures the scheduler.
type Options struct {
	MaxConcurrent int
}

func NewScheduler(store *Store, workers map[convert.Category]convert.Worker, opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	return &Scheduler{
		store:     store,
		workers:   workers,
		semaphore: make(chan struct{}, opts.MaxConcurrent),
		baseCtx:   context.Background(),
	}
}

// Store exposes the backing task store for status lookups.
func (s *Scheduler) Store() *Store { return s.store }

// SetBaseContext sets the context governing queued conversions.
// Intended to be set at process startup and cancelled during shutdown.
func (s *Scheduler) SetBaseContext(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

// UseWorker allows tests to inject a fake worker for a category.
// Intended for test setup only.
func (s *Scheduler) UseWorker(category convert.Category, w convert.Worker) {
	s.mu.Lock()
	s.workers[category] = w
	s.mu.Unlock()
}

func (s *Scheduler) worker(category convert.Category) (convert.Worker, error) {
	s.mu.RLock()
	w, ok := s.workers[category]
	s.mu.RUnlock()
	if !ok {
		return nil, convert.NewErrUnknownCategory(string(category))
	}
	return w, nil
}

// ConvertInline validates and converts within the calling goroutine.
// Used by the fast-path endpoints that return bytes directly.
func (s *Scheduler) ConvertInline(ctx context.Context, req convert.Request) (convert.Result, error) {
	if err := convert.Validate(req.Filename, int64(len(req.Data)), sniffPrefix(req.Data), req.Category); err != nil {
		return convert.Result{}, err
	}
	w, err := s.worker(req.Category)
	if err != nil {
		return convert.Result{}, err
	}

	started := time.Now()
	res, err := s.safeConvert(ctx, w, req)
	metrics.ObserveInline(string(req.Category), time.Since(started))
	return res, err
}

// Enqueue validates the request synchronously, creates a pending record and
// dispatches the conversion out-of-band. Admission failures create no task.
func (s *Scheduler) Enqueue(req convert.Request) (string, error) {
	if err := convert.Validate(req.Filename, int64(len(req.Data)), sniffPrefix(req.Data), req.Category); err != nil {
		return "", err
	}
	if _, err := s.worker(req.Category); err != nil {
		return "", err
	}

	id := s.store.Create(req.Category, filepath.Base(req.Filename))
	metrics.TaskSubmitted(string(req.Category))

	s.workersWG.Add(1)
	go func() {
		defer s.workersWG.Done()
		s.semaphore <- struct{}{}
		defer func() { <-s.semaphore }()
		s.process(id, req)
	}()

	log.Info().Str("task_id", id).Str("category", string(req.Category)).
		Str("to", req.TargetFormat).Msg("task enqueued")
	return id, nil
}

// process runs one queued conversion and writes the record's single terminal
// transition. It owns the record exclusively until it returns.
func (s *Scheduler) process(id string, req convert.Request) {
	started := time.Now()

	s.store.SetProgress(id, 10)
	req.Progress = func(pct int) { s.store.SetProgress(id, pct) }

	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	w, err := s.worker(req.Category)
	if err != nil {
		s.finish(id, req, convert.Result{}, err, started)
		return
	}

	res, err := s.safeConvert(ctx, w, req)
	s.finish(id, req, res, err, started)
}

func (s *Scheduler) finish(id string, req convert.Request, res convert.Result, err error, started time.Time) {
	elapsed := time.Since(started)
	if err != nil {
		if failErr := s.store.Fail(id, failureMessage(err)); failErr != nil {
			log.Warn().Str("task_id", id).Err(failErr).Msg("record terminal write rejected")
		}
		metrics.TaskCompleted(string(req.Category), string(StatusError), elapsed)
		log.Warn().Str("task_id", id).Err(err).Dur("elapsed", elapsed).Msg("conversion failed")
		return
	}

	if doneErr := s.store.Complete(id, res, outputFileName(req)); doneErr != nil {
		log.Warn().Str("task_id", id).Err(doneErr).Msg("record terminal write rejected")
		return
	}
	metrics.TaskCompleted(string(req.Category), string(StatusDone), elapsed)
	log.Info().Str("task_id", id).Str("mime", res.MIME).Dur("elapsed", elapsed).Msg("conversion done")
}

// safeConvert shields the scheduler from worker panics so an unexpected
// failure inside a tool wrapper surfaces as an error, not a dead goroutine.
func (s *Scheduler) safeConvert(ctx context.Context, w convert.Worker, req convert.Request) (res convert.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversion panicked: %v", r)
		}
	}()
	return w.Convert(ctx, req)
}

// WaitAll blocks until all in-flight conversions finish or the context is done.
func (s *Scheduler) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, convert.ErrToolUnavailable):
		return "conversion tool is not installed on the server"
	case errors.Is(err, convert.ErrUnsupportedFormat):
		return err.Error()
	default:
		return "conversion failed: " + err.Error()
	}
}

func outputFileName(req convert.Request) string {
	base := filepath.Base(req.Filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "converted"
	}
	return stem + "." + req.TargetFormat
}

func sniffPrefix(data []byte) []byte {
	const sniffLen = 512
	if len(data) > sniffLen {
		return data[:sniffLen]
	}
	return data
}
