package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crm-call-service/internal/service/callcontrol"
	"crm-call-service/internal/service/clock"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	status string
	err    error
}

func (f *scriptedFetcher) GetStatus(ctx context.Context, callID string) (callcontrol.CallStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return callcontrol.CallStatus{Raw: "in-progress"}, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return callcontrol.CallStatus{Raw: r.status}, r.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingHandler struct {
	active    int
	terminals []string
}

func (h *recordingHandler) OnActive() { h.active++ }
func (h *recordingHandler) OnTerminal(s string) { h.terminals = append(h.terminals, s) }

type harness struct {
	mu      sync.Mutex
	clock   *clock.Fake
	fetcher *scriptedFetcher
	handler *recordingHandler
	poller  *Poller
}

func newHarness(results ...fetchResult) *harness {
	h := &harness{
		clock:   clock.NewFake(time.Unix(0, 0)),
		fetcher: &scriptedFetcher{results: results},
		handler: &recordingHandler{},
	}
	h.poller = New(Config{
		Fetcher:  h.fetcher,
		Clock:    h.clock,
		Interval: 5 * time.Second,
		Post:     h.post,
		Handler:  h.handler,
		Logger:   zerolog.Nop(),
	})
	return h
}

func (h *harness) post(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

func (h *harness) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		ok := cond()
		h.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPoller_FirstPollImmediate(t *testing.T) {
	h := newHarness(fetchResult{status: "ringing"})

	h.post(func() { h.poller.Start(context.Background(), "abc123") })
	h.waitFor(t, func() bool { return h.clock.Pending() == 1 })

	if h.fetcher.Calls() != 1 {
		t.Errorf("expected 1 poll before any time passes, got %d", h.fetcher.Calls())
	}
	if h.handler.active != 0 || len(h.handler.terminals) != 0 {
		t.Error("expected no events for a pending status")
	}
}

func TestPoller_ActiveEmittedOnce(t *testing.T) {
	h := newHarness(fetchResult{status: "in-progress"}, fetchResult{status: "in-progress"})

	h.post(func() { h.poller.Start(context.Background(), "abc123") })
	h.waitFor(t, func() bool { return h.clock.Pending() == 1 })
	h.clock.Advance(5 * time.Second)
	h.waitFor(t, func() bool { return h.fetcher.Calls() == 2 && h.clock.Pending() == 1 })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handler.active != 1 {
		t.Errorf("expected OnActive once, got %d", h.handler.active)
	}
}

func TestPoller_TerminalStopsPolling(t *testing.T) {
	h := newHarness(fetchResult{status: "in-progress"}, fetchResult{status: "no-answer"})

	h.post(func() { h.poller.Start(context.Background(), "abc123") })
	h.waitFor(t, func() bool { return h.clock.Pending() == 1 })
	h.clock.Advance(5 * time.Second)
	h.waitFor(t, func() bool { return len(h.handler.terminals) == 1 })

	if h.handler.terminals[0] != "no-answer" {
		t.Errorf("expected no-answer, got %s", h.handler.terminals[0])
	}
	if h.clock.Pending() != 0 {
		t.Errorf("expected no further polls scheduled, got %d", h.clock.Pending())
	}

	h.clock.Advance(time.Minute)
	if h.fetcher.Calls() != 2 {
		t.Errorf("expected polling to stop after terminal status, got %d calls", h.fetcher.Calls())
	}
}

func TestPoller_ErrorsDoNotStopPolling(t *testing.T) {
	boom := errors.New("connection reset")
	h := newHarness(fetchResult{err: boom}, fetchResult{err: boom}, fetchResult{status: "completed"})

	h.post(func() { h.poller.Start(context.Background(), "abc123") })
	for i := 0; i < 2; i++ {
		h.waitFor(t, func() bool { return h.clock.Pending() == 1 })
		h.clock.Advance(5 * time.Second)
	}
	h.waitFor(t, func() bool { return len(h.handler.terminals) == 1 })

	if h.fetcher.Calls() != 3 {
		t.Errorf("expected 3 polls, got %d", h.fetcher.Calls())
	}
}

func TestPoller_StopDiscardsInFlightResult(t *testing.T) {
	release := make(chan struct{})
	clk := clock.NewFake(time.Unix(0, 0))
	handler := &recordingHandler{}
	var mu sync.Mutex
	post := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}
	resolved := make(chan struct{})
	blocking := fetcherFunc(func(ctx context.Context, id string) (callcontrol.CallStatus, error) {
		<-release
		return callcontrol.CallStatus{Raw: "failed"}, nil
	})
	p := New(Config{
		Fetcher:  blocking,
		Clock:    clk,
		Interval: time.Second,
		Post: func(fn func()) {
			post(fn)
			close(resolved)
		},
		Handler: handler,
		Logger:  zerolog.Nop(),
	})

	post(func() { p.Start(context.Background(), "abc123") })
	post(p.Stop)
	close(release)

	select {
	case <-resolved:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight poll never resolved")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handler.terminals) != 0 {
		t.Error("expected result after Stop to be discarded")
	}
	if clk.Pending() != 0 {
		t.Error("expected nothing scheduled after Stop")
	}
}

func TestPoller_StartIsIdempotent(t *testing.T) {
	h := newHarness(fetchResult{status: "queued"})

	h.post(func() {
		h.poller.Start(context.Background(), "abc123")
		h.poller.Start(context.Background(), "abc123")
	})
	h.waitFor(t, func() bool { return h.clock.Pending() == 1 })

	if h.fetcher.Calls() != 1 {
		t.Errorf("expected a single poll, got %d", h.fetcher.Calls())
	}
	if !h.poller.Started() {
		t.Error("expected Started to be true")
	}
}

type fetcherFunc func(ctx context.Context, id string) (callcontrol.CallStatus, error)

func (f fetcherFunc) GetStatus(ctx context.Context, id string) (callcontrol.CallStatus, error) {
	return f(ctx, id)
}
