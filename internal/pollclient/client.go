// Package pollclient implements the client half of the task polling
// protocol: an adaptive backoff loop over GET /api/tasks/:id that honors
// server pacing hints, retries only on 429, and always terminates.
package pollclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// TaskProgress mirrors the status endpoint's JSON projection.
type TaskProgress struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	Message      string `json:"message,omitempty"`
	DataBase64   string `json:"dataBase64,omitempty"`
	MIME         string `json:"mime,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	FileURL      string `json:"fileUrl,omitempty"`
	RetryAfterMs int    `json:"retryAfterMs,omitempty"`
}

// Terminal reports whether the server finished the task.
func (p TaskProgress) Terminal() bool {
	return p.Status == "done" || p.Status == "error"
}

// Update is one delivery to the caller: either a server snapshot or a
// client-side synthetic error (timeout, cancellation, transport failure).
type Update struct {
	Task TaskProgress
	Err  error
}

var (
	ErrTimeout   = errors.New("polling timed out")
	ErrCancelled = errors.New("polling cancelled")
)

const (
	defaultInitialDelay = 800 * time.Millisecond
	defaultMaxDelay     = 10 * time.Second
	defaultTimeout      = 30 * time.Second
	backoffFactor       = 1.5
)

// Options tunes a Client. Zero values fall back to protocol defaults.
type Options struct {
	HTTPClient   *http.Client
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Timeout      time.Duration
}

// Client polls one task at a time. Each Start bumps a generation counter and
// every scheduled callback carries the generation it was created under, so a
// stale session (cancelled, superseded or finished) can never deliver
// updates or schedule polls on behalf of a newer one.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	initialDelay time.Duration
	maxDelay     time.Duration
	timeout      time.Duration

	mu         sync.Mutex
	generation uint64
	active     *session

	now      func() time.Time
	schedule func(d time.Duration, fn func()) (cancel func())
}

type session struct {
	gen         uint64
	taskID      string
	onUpdate    func(Update)
	startedAt   time.Time
	delay       time.Duration
	cancelTimer func()
}

func New(baseURL string, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = defaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:      baseURL,
		httpClient:   opts.HTTPClient,
		initialDelay: opts.InitialDelay,
		maxDelay:     opts.MaxDelay,
		timeout:      opts.Timeout,
		now:          time.Now,
		schedule: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
	}
}

// UseClock allows tests to drive the loop with a virtual clock and a manual
// timer. Intended for test setup only, before Start is called.
func (c *Client) UseClock(now func() time.Time, schedule func(time.Duration, func()) func()) {
	c.mu.Lock()
	c.now = now
	c.schedule = schedule
	c.mu.Unlock()
}

// Start begins polling the task, invalidating any previous session. The
// first poll fires after the initial delay.
func (c *Client) Start(taskID string, onUpdate func(Update)) {
	c.mu.Lock()
	if c.active != nil && c.active.cancelTimer != nil {
		c.active.cancelTimer()
	}
	c.generation++
	s := &session{
		gen:       c.generation,
		taskID:    taskID,
		onUpdate:  onUpdate,
		startedAt: c.now(),
		delay:     c.initialDelay,
	}
	c.active = s
	s.cancelTimer = c.schedule(s.delay, func() { c.poll(s) })
	c.mu.Unlock()
}

// Cancel stops the active session and reports a cancelled update. An
// in-flight fetch is not aborted, but its result is discarded: the poll loop
// re-checks the generation after the fetch resolves.
func (c *Client) Cancel() {
	c.mu.Lock()
	s := c.active
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.active = nil
	if s.cancelTimer != nil {
		s.cancelTimer()
	}
	c.mu.Unlock()

	s.onUpdate(Update{Err: ErrCancelled})
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Client) poll(s *session) {
	if !c.current(s.gen) {
		return
	}

	fr, err := c.fetch(s.taskID)

	// Re-check after the awaited response resolves so a cancel issued while
	// the fetch was in flight cannot influence the next scheduling decision.
	if !c.current(s.gen) {
		return
	}

	if err != nil {
		// Bare network failures are terminal by design: retrying them would
		// mask persistent connectivity problems behind an infinite loop.
		c.finish(s, Update{Err: fmt.Errorf("poll status: %w", err)})
		return
	}

	switch {
	case fr.statusCode == http.StatusTooManyRequests:
		next := fr.retryAfter
		if next <= 0 {
			next = time.Duration(float64(s.delay) * backoffFactor)
		}
		if next > c.maxDelay {
			next = c.maxDelay
		}
		s.delay = next
		c.scheduleNext(s)

	case fr.statusCode != http.StatusOK:
		c.finish(s, Update{Err: fmt.Errorf("server returned status %d", fr.statusCode)})

	default:
		s.onUpdate(Update{Task: fr.progress})
		switch {
		case fr.progress.Terminal():
			c.stop(s)
		case c.now().Sub(s.startedAt) > c.timeout:
			c.finish(s, Update{Err: ErrTimeout})
		default:
			if fr.progress.RetryAfterMs > 0 {
				s.delay = clampDelay(time.Duration(fr.progress.RetryAfterMs)*time.Millisecond, c.initialDelay, c.maxDelay)
			}
			c.scheduleNext(s)
		}
	}
}

type fetchResult struct {
	statusCode int
	retryAfter time.Duration
	progress   TaskProgress
}

func (c *Client) fetch(taskID string) (fetchResult, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/api/tasks/" + taskID)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()

	fr := fetchResult{statusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			fr.retryAfter = time.Duration(secs) * time.Second
		}
		return fr, nil
	}
	if resp.StatusCode != http.StatusOK {
		return fr, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&fr.progress); err != nil {
		return fetchResult{}, fmt.Errorf("decode status body: %w", err)
	}
	return fr, nil
}

// scheduleNext arms the next poll timer unless the session went stale while
// the decision was being made.
func (c *Client) scheduleNext(s *session) {
	c.mu.Lock()
	if c.generation != s.gen {
		c.mu.Unlock()
		return
	}
	s.cancelTimer = c.schedule(s.delay, func() { c.poll(s) })
	c.mu.Unlock()
}

// stop retires the session. Idempotent: a stale generation is a no-op.
func (c *Client) stop(s *session) {
	c.mu.Lock()
	if c.generation == s.gen {
		c.generation++
		c.active = nil
	}
	c.mu.Unlock()
}

func (c *Client) finish(s *session, u Update) {
	c.stop(s)
	s.onUpdate(u)
}

func clampDelay(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
