package pollclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// timerHarness replaces the real clock and time.AfterFunc so tests can fire
// polls deterministically and inspect the delays the client chose.
type fakeTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

type timerHarness struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newTimerHarness() *timerHarness {
	return &timerHarness{now: time.Unix(1_700_000_000, 0)}
}

func (h *timerHarness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *timerHarness) Schedule(d time.Duration, fn func()) func() {
	h.mu.Lock()
	ft := &fakeTimer{delay: d, fn: fn}
	h.timers = append(h.timers, ft)
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		ft.cancelled = true
		h.mu.Unlock()
	}
}

// nextPending returns the oldest armed timer that has not fired or been
// cancelled, or nil.
func (h *timerHarness) nextPending() *fakeTimer {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ft := range h.timers {
		if !ft.fired && !ft.cancelled {
			return ft
		}
	}
	return nil
}

// fire advances the virtual clock by the timer's delay and runs its callback.
func (h *timerHarness) fire(t *testing.T) *fakeTimer {
	t.Helper()
	ft := h.nextPending()
	if ft == nil {
		t.Fatal("no pending timer to fire")
	}
	h.mu.Lock()
	ft.fired = true
	h.now = h.now.Add(ft.delay)
	h.mu.Unlock()
	ft.fn()
	return ft
}

type scriptedResponse struct {
	status     int
	retryAfter string
	body       TaskProgress
}

// scriptedServer serves each response once, then repeats the last one.
func scriptedServer(t *testing.T, responses ...scriptedResponse) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	calls := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		idx := calls
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		calls++
		mu.Unlock()

		resp := responses[idx]
		if resp.retryAfter != "" {
			w.Header().Set("Retry-After", resp.retryAfter)
		}
		w.WriteHeader(resp.status)
		if resp.status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(resp.body)
		}
	}))
}

func newTestClient(baseURL string, h *timerHarness, opts Options) *Client {
	c := New(baseURL, opts)
	c.UseClock(h.Now, h.Schedule)
	return c
}

func TestPollDeliversPendingThenDone(t *testing.T) {
	srv := scriptedServer(t,
		scriptedResponse{status: 200, body: TaskProgress{Status: "pending", Progress: 40}},
		scriptedResponse{status: 200, body: TaskProgress{Status: "done", Progress: 100, MIME: "image/png", DataBase64: "cGF5bG9hZA=="}},
	)
	defer srv.Close()

	h := newTimerHarness()
	c := newTestClient(srv.URL, h, Options{})

	var updates []Update
	c.Start("task-1", func(u Update) { updates = append(updates, u) })

	first := h.fire(t)
	if first.delay != defaultInitialDelay {
		t.Fatalf("first poll should wait the initial delay, got %v", first.delay)
	}
	h.fire(t)

	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].Err != nil || updates[0].Task.Status != "pending" || updates[0].Task.Progress != 40 {
		t.Fatalf("unexpected first update: %+v", updates[0])
	}
	if updates[1].Err != nil || updates[1].Task.Status != "done" || updates[1].Task.MIME != "image/png" {
		t.Fatalf("unexpected final update: %+v", updates[1])
	}
	if h.nextPending() != nil {
		t.Fatal("no poll may be scheduled after a terminal status")
	}
}

func TestPollHonorsRetryAfterOn429(t *testing.T) {
	srv := scriptedServer(t,
		scriptedResponse{status: 429, retryAfter: "2"},
		scriptedResponse{status: 200, body: TaskProgress{Status: "done", Progress: 100}},
	)
	defer srv.Close()

	h := newTimerHarness()
	c := newTestClient(srv.URL, h, Options{})

	var updates []Update
	c.Start("task-1", func(u Update) { updates = append(updates, u) })

	h.fire(t)
	if len(updates) != 0 {
		t.Fatalf("429 must not reach the caller, got %+v", updates)
	}
	next := h.nextPending()
	if next == nil || next.delay != 2*time.Second {
		t.Fatalf("expected retry in exactly 2s, got %+v", next)
	}

	h.fire(t)
	if len(updates) != 1 || updates[0].Task.Status != "done" {
		t.Fatalf("expected done after retry, got %+v", updates)
	}
}

func TestPollBacksOffOn429WithoutHeader(t *testing.T) {
	srv := scriptedServer(t,
		scriptedResponse{status: 429},
		scriptedResponse{status: 429},
		scriptedResponse{status: 200, body: TaskProgress{Status: "done", Progress: 100}},
	)
	defer srv.Close()

	h := newTimerHarness()
	c := newTestClient(srv.URL, h, Options{InitialDelay: time.Second, MaxDelay: 2 * time.Second})

	c.Start("task-1", func(Update) {})

	h.fire(t)
	if next := h.nextPending(); next == nil || next.delay != 1500*time.Millisecond {
		t.Fatalf("expected 1.5x backoff, got %+v", next)
	}
	h.fire(t)
	if next := h.nextPending(); next == nil || next.delay != 2*time.Second {
		t.Fatalf("backoff must cap at MaxDelay, got %+v", next)
	}
}

func TestPollClampsServerPacingHint(t *testing.T) {
	srv := scriptedServer(t,
		scriptedResponse{status: 200, body: TaskProgress{Status: "pending", Progress: 10, RetryAfterMs: 100}},
		scriptedResponse{status: 200, body: TaskProgress{Status: "pending", Progress: 20, RetryAfterMs: 60_000}},
		scriptedResponse{status: 200, body: TaskProgress{Status: "done", Progress: 100}},
	)
	defer srv.Close()

	h := newTimerHarness()
	c := newTestClient(srv.URL, h, Options{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Timeout: time.Hour})

	c.Start("task-1", func(Update) {})

	h.fire(t)
	if next := h.nextPending(); next == nil || next.delay != time.Second {
		t.Fatalf("tiny hint must clamp up to the initial delay, got %+v", next)
	}
	h.fire(t)
	if next := h.nextPending(); next == nil || next.delay != 5*time.Second {
		t.Fatalf("huge hint must clamp down to MaxDelay, got %+v", next)
	}
}

func TestPollTimesOut(t *testing.T) {
	srv := scriptedServer(t,
		scriptedResponse{status: 200, body: TaskProgress{Status: "pending", Progress: 10}},
	)
	defer srv.Close()

	h := newTimerHarness()
	c := newTestClient(srv.URL, h, Options{InitialDelay: 800 * time.Millisecond, Timeout: time.Second})

	var updates []Update
	c.Start("task-1", func(u Update) { updates = append(updates, u) })

	h.fire(t) // t = 800ms, still within budget
	h.fire(t) // t = 1.6s, past the budget

	if len(updates) != 3 {
		t.Fatalf("expected 2 pending updates and a timeout, got %d: %+v", len(updates), updates)
	}
	if !errors.Is(updates[2].Err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", updates[2].Err)
	}
	if h.nextPending() != nil {
		t.Fatal("no poll may be scheduled after timeout")
	}
}

func TestPollNetworkErrorIsTerminal(t *testing.T) {
	srv := scriptedServer(t, scriptedResponse{status: 200, body: TaskProgress{Status: "pending"}})
	srv.Close() // refuse connections from the start

	h := newTimerHarness()
	c := newTestClient(srv.URL, h, Options{})

	var updates []Update
	c.Start("task-1", func(u Update) { updates = append(updates, u) })

	h.fire(t)
	if len(updates) != 1 || updates[0].Err == nil {
		t.Fatalf("expected a single terminal network error, got %+v", updates)
	}
	if errors.Is(updates[0].Err, ErrTimeout) || errors.Is(updates[0].Err, ErrCancelled) {
		t.Fatalf("network failure must not masquerade as %v", updates[0].Err)
	}
	if h.nextPending() != nil {
		t.Fatal("network failures must not be retried")
	}
}

func TestPollServerErrorIsTerminal(t *testing.T) {
	srv := scriptedServer(t, scriptedResponse{status: 500})
	defer srv.Close()

	h := newTimerHarness()
	c := newTestClient(srv.URL, h, Options{})

	var updates []Update
	c.Start("task-1", func(u Update) { updates = append(updates, u) })

	h.fire(t)
	if len(updates) != 1 || updates[0].Err == nil {
		t.Fatalf("expected terminal error update, got %+v", updates)
	}
	if h.nextPending() != nil {
		t.Fatal("5xx must not be retried, only 429 is")
	}
}

func TestCancelStopsSessionAndStaleTimerIsInert(t *testing.T) {
	srv := scriptedServer(t,
		scriptedResponse{status: 200, body: TaskProgress{Status: "pending", Progress: 10}},
	)
	defer srv.Close()

	h := newTimerHarness()
	c := newTestClient(srv.URL, h, Options{Timeout: time.Hour})

	var updates []Update
	c.Start("task-1", func(u Update) { updates = append(updates, u) })

	h.fire(t)
	stale := h.nextPending()
	if stale == nil {
		t.Fatal("expected a rescheduled poll while pending")
	}

	c.Cancel()
	if !stale.cancelled {
		t.Fatal("cancel must stop the armed timer")
	}
	if len(updates) != 2 || !errors.Is(updates[1].Err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled delivery, got %+v", updates)
	}

	// Even if the stale callback races past the timer stop, the generation
	// check must make it a no-op.
	before := len(h.timers)
	stale.fn()
	if len(updates) != 2 {
		t.Fatalf("stale poll delivered an update: %+v", updates)
	}
	if len(h.timers) != before {
		t.Fatal("stale poll armed a new timer")
	}
}

func TestStartSupersedesPreviousSession(t *testing.T) {
	srv := scriptedServer(t,
		scriptedResponse{status: 200, body: TaskProgress{Status: "done", Progress: 100}},
	)
	defer srv.Close()

	h := newTimerHarness()
	c := newTestClient(srv.URL, h, Options{})

	var oldUpdates, newUpdates []Update
	c.Start("task-old", func(u Update) { oldUpdates = append(oldUpdates, u) })
	oldTimer := h.nextPending()
	c.Start("task-new", func(u Update) { newUpdates = append(newUpdates, u) })

	if oldTimer == nil || !oldTimer.cancelled {
		t.Fatal("starting a new session must cancel the previous timer")
	}
	oldTimer.fn() // simulate the race where the old callback still runs
	if len(oldUpdates) != 0 {
		t.Fatalf("superseded session delivered updates: %+v", oldUpdates)
	}

	h.fire(t)
	if len(newUpdates) != 1 || newUpdates[0].Task.Status != "done" {
		t.Fatalf("expected the new session to complete, got %+v", newUpdates)
	}
}
