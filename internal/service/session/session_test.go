package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"crm-call-service/internal/models"
	"crm-call-service/internal/service/callcontrol"
	"crm-call-service/internal/service/clock"
	"crm-call-service/internal/service/livefeed"
	"crm-call-service/internal/service/transcript"
)

type fakeControl struct {
	mu          sync.Mutex
	createID    string
	createErr   error
	gate        chan struct{}
	status      string
	statusCalls int
	ended       []string
	aiModes     []bool
	ops         []string
	modeGate    chan struct{}
}

func (c *fakeControl) CreateCall(ctx context.Context, req callcontrol.CreateCallRequest) (string, error) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createID, c.createErr
}

func (c *fakeControl) GetStatus(ctx context.Context, callID string) (callcontrol.CallStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCalls++
	return callcontrol.CallStatus{Raw: c.status}, nil
}

func (c *fakeControl) EndCall(ctx context.Context, callID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, callID)
	c.ops = append(c.ops, "end")
	return nil
}

func (c *fakeControl) SetAIMode(ctx context.Context, callID string, enabled bool) error {
	if c.modeGate != nil {
		<-c.modeGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aiModes = append(c.aiModes, enabled)
	c.ops = append(c.ops, fmt.Sprintf("ai=%v", enabled))
	return nil
}

func (c *fakeControl) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ops...)
}

func (c *fakeControl) endedCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ended...)
}

func (c *fakeControl) modes() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.aiModes...)
}

func (c *fakeControl) setStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

type fakeSubscription struct {
	messages chan livefeed.Message
}

func (s *fakeSubscription) Messages() <-chan livefeed.Message { return s.messages }

func (s *fakeSubscription) Err() error { return nil }

func (s *fakeSubscription) Close() error { return nil }

type fakeSubscriber struct {
	mu   sync.Mutex
	sub  *fakeSubscription
	open int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{sub: &fakeSubscription{messages: make(chan livefeed.Message, 8)}}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, externalCallID string) (livefeed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open++
	return f.sub, nil
}

func (f *fakeSubscriber) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

type recordingSink struct {
	mu          sync.Mutex
	transitions []string
	entries     int
}

func (r *recordingSink) PublishState(ctx context.Context, key string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := event.(models.CallStateChanged)
	r.transitions = append(r.transitions, ev.From+"->"+ev.To)
	return nil
}

func (r *recordingSink) PublishTranscript(ctx context.Context, key string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries++
	return nil
}

func (r *recordingSink) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transitions...)
}

type harness struct {
	mu      sync.Mutex
	clock   *clock.Fake
	control *fakeControl
	sink    *recordingSink
	sess    *Session
	ended   int
}

type harnessOptions struct {
	subscriber livefeed.Subscriber
	fallback   bool
}

func newHarness(control *fakeControl, opts harnessOptions) *harness {
	h := &harness{
		clock:   clock.NewFake(time.Unix(1700000000, 0)),
		control: control,
		sink:    &recordingSink{},
	}
	deps := Deps{
		Control: control,
		Clock:   h.clock,
		Sink:    h.sink,
		Timing: Timing{
			ConnectDelay:      time.Second,
			ActiveDelay:       3 * time.Second,
			PollInterval:      5 * time.Second,
			SyntheticMin:      2 * time.Second,
			SyntheticMax:      4 * time.Second,
			SyntheticFallback: opts.fallback,
		},
		Rand:    rand.New(rand.NewPCG(1, 2)),
		IDs:     transcript.NewGenerator(),
		Post:    h.post,
		OnEnded: func(*Session) { h.ended++ },
	}
	if opts.subscriber != nil {
		deps.Subscriber = opts.subscriber
	}
	h.sess = New("sess-1", models.Contact{ID: "c1", DisplayName: "Ada", PhoneNumber: "+15550001"}, deps)
	return h
}

func (h *harness) post(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

func (h *harness) do(fn func()) { h.post(fn) }

func (h *harness) state() State {
	var st State
	h.do(func() { st = h.sess.State() })
	return st
}

func (h *harness) snapshot() models.CallSnapshot {
	var snap models.CallSnapshot
	h.do(func() { snap = h.sess.Snapshot(true) })
	return snap
}

func (h *harness) waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		h.do(func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// started dials and waits for the provider id.
func (h *harness) started(t *testing.T) {
	t.Helper()
	h.do(h.sess.Start)
	h.waitFor(t, "external call id", func() bool { return h.sess.ExternalCallID() != "" })
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in      string
		want    Intent
		wantErr bool
	}{
		{"mute", IntentMute, false},
		{"hold", IntentHold, false},
		{"speaker", IntentSpeaker, false},
		{"end", IntentEnd, false},
		{"toggle-ai", IntentToggleAI, false},
		{"dance", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseIntent(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownIntent) {
				t.Errorf("%q: expected ErrUnknownIntent, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: expected %q, got %q (err %v)", tt.in, tt.want, got, err)
		}
	}
}

func TestSession_OptimisticHappyPath(t *testing.T) {
	h := newHarness(&fakeControl{createID: "ext-1", status: "ringing"}, harnessOptions{})

	h.started(t)
	if st := h.state(); st != StateDialing {
		t.Fatalf("expected dialing, got %s", st)
	}

	h.clock.Advance(time.Second)
	if st := h.state(); st != StateConnecting {
		t.Fatalf("expected connecting after connect delay, got %s", st)
	}
	var polling bool
	h.do(func() { polling = h.sess.PollerStarted() })
	if !polling {
		t.Error("expected poller to start on connecting")
	}

	h.clock.Advance(3 * time.Second)
	snap := h.snapshot()
	if snap.State != "active" {
		t.Fatalf("expected active after active delay, got %s", snap.State)
	}
	if !snap.OfflineMode || snap.FeedMode != "synthetic" {
		t.Errorf("expected offline synthetic feed, got offline=%v mode=%s", snap.OfflineMode, snap.FeedMode)
	}
	if snap.StatusLabel != "Offline Mode" {
		t.Errorf("expected Offline Mode label, got %q", snap.StatusLabel)
	}
	if len(snap.Transcript) != 1 {
		t.Fatalf("expected greeting only, got %d entries", len(snap.Transcript))
	}
	if g := snap.Transcript[0]; g.Text != transcript.Greeting.Text || g.Speaker != models.SpeakerAI {
		t.Errorf("expected AI greeting, got %+v", g)
	}

	want := []string{"idle->dialing", "dialing->connecting", "connecting->active"}
	got := h.sink.seen()
	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSession_PollActivatesBeforeTimer(t *testing.T) {
	h := newHarness(&fakeControl{createID: "ext-1", status: "in-progress"}, harnessOptions{})
	h.started(t)

	h.clock.Advance(time.Second)
	h.waitFor(t, "active from poll", func() bool { return h.sess.State() == StateActive })

	// the optimistic timer was cancelled
	h.clock.Advance(3 * time.Second)
	seen := h.sink.seen()
	if last := seen[len(seen)-1]; last != "connecting->active" {
		t.Errorf("expected a single activation, got %v", seen)
	}
}

func TestSession_CreationFailure(t *testing.T) {
	tests := []struct {
		name    string
		control *fakeControl
	}{
		{"provider error", &fakeControl{createErr: errors.New("402 payment required")}},
		{"empty id", &fakeControl{createID: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.control, harnessOptions{})
			h.do(h.sess.Start)
			h.waitFor(t, "ended", func() bool { return h.sess.State() == StateEnded })

			snap := h.snapshot()
			if snap.EndReason != ReasonCreationFailed {
				t.Errorf("expected reason %s, got %s", ReasonCreationFailed, snap.EndReason)
			}
			if snap.StatusLabel != "Call Failed" {
				t.Errorf("expected Call Failed label, got %q", snap.StatusLabel)
			}
			if h.ended != 1 {
				t.Errorf("expected one end notification, got %d", h.ended)
			}

			h.clock.Advance(10 * time.Second)
			if n := len(tt.control.endedCalls()); n != 0 {
				t.Errorf("expected no end request without an id, got %d", n)
			}
			for _, tr := range h.sink.seen() {
				if tr == "dialing->connecting" {
					t.Error("expected no connecting transition after failed creation")
				}
			}
		})
	}
}

func TestSession_TerminalStatusEndsCall(t *testing.T) {
	control := &fakeControl{createID: "ext-9", status: "no-answer"}
	h := newHarness(control, harnessOptions{})
	h.started(t)

	h.clock.Advance(time.Second)
	h.waitFor(t, "ended", func() bool { return h.sess.State() == StateEnded })

	snap := h.snapshot()
	if snap.EndReason != "no-answer" {
		t.Errorf("expected reason no-answer, got %s", snap.EndReason)
	}
	if snap.StatusLabel != "Call Failed" {
		t.Errorf("expected Call Failed label, got %q", snap.StatusLabel)
	}
	h.waitFor(t, "end request", func() bool { return len(control.endedCalls()) == 1 })
	if got := control.endedCalls()[0]; got != "ext-9" {
		t.Errorf("expected end request for ext-9, got %s", got)
	}

	// no timers survive the end of the session
	h.clock.Advance(10 * time.Second)
	if st := h.state(); st != StateEnded {
		t.Errorf("expected ended, got %s", st)
	}
	if n := h.clock.Pending(); n != 0 {
		t.Errorf("expected no pending timers, got %d", n)
	}
}

func TestSession_EndDuringDialing(t *testing.T) {
	control := &fakeControl{createID: "ext-late", gate: make(chan struct{})}
	h := newHarness(control, harnessOptions{})
	h.do(h.sess.Start)

	var err error
	h.do(func() { err = h.sess.Apply(IntentEnd) })
	if err != nil {
		t.Fatalf("expected end to succeed, got %v", err)
	}
	snap := h.snapshot()
	if snap.State != "ended" || snap.EndReason != ReasonUserEnded {
		t.Fatalf("expected ended by user, got %s/%s", snap.State, snap.EndReason)
	}
	if snap.StatusLabel != "Call Ended" {
		t.Errorf("expected Call Ended label, got %q", snap.StatusLabel)
	}
	if n := len(control.endedCalls()); n != 0 {
		t.Fatalf("expected no end request before an id exists, got %d", n)
	}

	// creation completes after the session ended
	close(control.gate)
	h.waitFor(t, "orphan hang-up", func() bool { return len(control.endedCalls()) == 1 })
	if st := h.state(); st != StateEnded {
		t.Errorf("expected session to stay ended, got %s", st)
	}
	h.clock.Advance(time.Minute)
	for _, tr := range h.sink.seen() {
		if tr == "dialing->connecting" || tr == "connecting->active" {
			t.Errorf("unexpected transition after end: %s", tr)
		}
	}
}

func TestSession_IntentsAfterEnd(t *testing.T) {
	h := newHarness(&fakeControl{createID: "ext-1", status: "ringing"}, harnessOptions{})
	h.started(t)
	h.do(func() { _ = h.sess.Apply(IntentEnd) })

	for _, intent := range []Intent{IntentMute, IntentHold, IntentSpeaker, IntentToggleAI, IntentEnd} {
		var err error
		h.do(func() { err = h.sess.Apply(intent) })
		if !errors.Is(err, ErrSessionEnded) {
			t.Errorf("%s: expected ErrSessionEnded, got %v", intent, err)
		}
	}
	if h.ended != 1 {
		t.Errorf("expected a single end notification, got %d", h.ended)
	}
}

func TestSession_UnknownIntent(t *testing.T) {
	h := newHarness(&fakeControl{createID: "ext-1"}, harnessOptions{})
	var err error
	h.do(func() { err = h.sess.Apply(Intent("dance")) })
	if !errors.Is(err, ErrUnknownIntent) {
		t.Errorf("expected ErrUnknownIntent, got %v", err)
	}
}

func TestSession_Toggles(t *testing.T) {
	h := newHarness(&fakeControl{createID: "ext-1", status: "ringing"}, harnessOptions{})
	h.started(t)

	h.do(func() {
		_ = h.sess.Apply(IntentMute)
		_ = h.sess.Apply(IntentSpeaker)
		_ = h.sess.Apply(IntentHold)
	})
	snap := h.snapshot()
	if !snap.Muted || !snap.SpeakerOn || !snap.OnHold {
		t.Errorf("expected muted, speaker and hold on, got %+v", snap)
	}

	h.do(func() { _ = h.sess.Apply(IntentMute) })
	if h.snapshot().Muted {
		t.Error("expected mute to toggle off")
	}
}

func TestSession_ToggleAI(t *testing.T) {
	control := &fakeControl{createID: "ext-1", status: "ringing"}
	h := newHarness(control, harnessOptions{})
	h.started(t)

	h.do(func() { _ = h.sess.Apply(IntentToggleAI) })
	snap := h.snapshot()
	if snap.AIMode {
		t.Error("expected AI mode off")
	}
	if len(snap.Transcript) != 1 {
		t.Fatalf("expected one system entry, got %d", len(snap.Transcript))
	}
	if e := snap.Transcript[0]; e.Text != manualTakeoverText || e.Speaker != models.SpeakerUser || e.Source != models.SourceSystem {
		t.Errorf("expected manual takeover entry, got %+v", e)
	}

	h.do(func() { _ = h.sess.Apply(IntentToggleAI) })
	snap = h.snapshot()
	if e := snap.Transcript[1]; e.Text != aiHandlingText || e.Speaker != models.SpeakerAI {
		t.Errorf("expected AI handling entry, got %+v", e)
	}

	h.waitFor(t, "ai mode requests", func() bool { return len(control.modes()) == 2 })
	modes := control.modes()
	if modes[0] || !modes[1] {
		t.Errorf("expected [false true], got %v", modes)
	}
	if last := modes[len(modes)-1]; last != h.snapshot().AIMode {
		t.Errorf("expected provider mode %v to match session, got %v", h.snapshot().AIMode, last)
	}
}

func TestSession_ControlRequestsKeepOrder(t *testing.T) {
	control := &fakeControl{createID: "ext-1", status: "ringing", modeGate: make(chan struct{})}
	h := newHarness(control, harnessOptions{})
	h.started(t)
	h.clock.Advance(time.Second)

	for i := 0; i < 3; i++ {
		h.do(func() { _ = h.sess.Apply(IntentToggleAI) })
	}
	h.do(func() { _ = h.sess.Apply(IntentEnd) })
	close(control.modeGate)

	h.waitFor(t, "control requests", func() bool { return len(control.calls()) == 4 })
	want := []string{"ai=false", "ai=true", "ai=false", "end"}
	got := control.calls()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if h.snapshot().AIMode {
		t.Error("expected session AI mode off after three toggles")
	}
}

func TestSession_ToggleAIBeforeCreation(t *testing.T) {
	control := &fakeControl{createID: "ext-1", gate: make(chan struct{})}
	h := newHarness(control, harnessOptions{})
	h.do(h.sess.Start)

	h.do(func() { _ = h.sess.Apply(IntentToggleAI) })
	if n := len(h.snapshot().Transcript); n != 1 {
		t.Errorf("expected system entry while dialing, got %d", n)
	}
	close(control.gate)
	h.waitFor(t, "external call id", func() bool { return h.sess.ExternalCallID() != "" })
	if n := len(control.modes()); n != 0 {
		t.Errorf("expected no ai mode request without an id, got %d", n)
	}
}

func TestSession_DurationPausesOnHold(t *testing.T) {
	h := newHarness(&fakeControl{createID: "ext-1", status: "ringing"}, harnessOptions{})
	h.started(t)
	h.clock.Advance(time.Second)
	h.clock.Advance(3 * time.Second)
	if st := h.state(); st != StateActive {
		t.Fatalf("expected active, got %s", st)
	}

	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second)
	}
	if d := h.snapshot().DurationSeconds; d != 3 {
		t.Fatalf("expected 3s, got %d", d)
	}

	h.do(func() { _ = h.sess.Apply(IntentHold) })
	if label := h.snapshot().StatusLabel; label != "On Hold" {
		t.Errorf("expected On Hold label, got %q", label)
	}
	h.clock.Advance(time.Second)
	h.clock.Advance(time.Second)
	if d := h.snapshot().DurationSeconds; d != 3 {
		t.Errorf("expected duration frozen at 3s on hold, got %d", d)
	}

	h.do(func() { _ = h.sess.Apply(IntentHold) })
	h.clock.Advance(time.Second)
	if d := h.snapshot().DurationSeconds; d != 4 {
		t.Errorf("expected 4s after resuming, got %d", d)
	}
}

func TestSession_SyntheticNeedsAIMode(t *testing.T) {
	h := newHarness(&fakeControl{createID: "ext-1", status: "ringing"}, harnessOptions{})
	h.started(t)
	h.clock.Advance(time.Second)
	h.clock.Advance(3 * time.Second)

	h.do(func() { _ = h.sess.Apply(IntentToggleAI) })
	before := len(h.snapshot().Transcript)
	for i := 0; i < 20; i++ {
		h.clock.Advance(time.Second)
	}
	if after := len(h.snapshot().Transcript); after != before {
		t.Errorf("expected no synthetic lines with AI off, got %d new", after-before)
	}

	h.do(func() { _ = h.sess.Apply(IntentToggleAI) })
	before = len(h.snapshot().Transcript)
	for i := 0; i < 20; i++ {
		h.clock.Advance(time.Second)
	}
	if after := len(h.snapshot().Transcript); after <= before {
		t.Error("expected synthetic lines with AI on")
	}
}

func TestSession_LiveFeed(t *testing.T) {
	sub := newFakeSubscriber()
	h := newHarness(&fakeControl{createID: "ext-1", status: "ringing"}, harnessOptions{subscriber: sub})
	h.started(t)
	h.clock.Advance(time.Second)
	h.waitFor(t, "subscription", func() bool { return sub.opened() == 1 })

	sub.sub.messages <- livefeed.Message{Kind: livefeed.KindStatus, Status: "in-progress"}
	h.waitFor(t, "active from live status", func() bool { return h.sess.State() == StateActive })

	sub.sub.messages <- livefeed.Message{Kind: livefeed.KindTranscript, Speaker: models.SpeakerCaller, Text: "hello there"}
	h.waitFor(t, "live entry", func() bool { return len(h.sess.Transcript()) == 1 })

	snap := h.snapshot()
	if snap.OfflineMode || snap.FeedMode != "live" {
		t.Errorf("expected live feed, got offline=%v mode=%s", snap.OfflineMode, snap.FeedMode)
	}
	if snap.StatusLabel != "Connected" {
		t.Errorf("expected Connected label, got %q", snap.StatusLabel)
	}
	if e := snap.Transcript[0]; e.Source != models.SourceLive || e.Text != "hello there" {
		t.Errorf("expected live entry, got %+v", e)
	}

	sub.sub.messages <- livefeed.Message{Kind: livefeed.KindStatus, Status: "completed"}
	h.waitFor(t, "ended from live status", func() bool { return h.sess.State() == StateEnded })
	if r := h.snapshot().EndReason; r != "completed" {
		t.Errorf("expected reason completed, got %s", r)
	}
}

func TestSession_FeedLoss(t *testing.T) {
	t.Run("fallback enabled", func(t *testing.T) {
		sub := newFakeSubscriber()
		h := newHarness(&fakeControl{createID: "ext-1", status: "ringing"}, harnessOptions{subscriber: sub, fallback: true})
		h.started(t)
		h.clock.Advance(time.Second)
		h.waitFor(t, "subscription", func() bool { return sub.opened() == 1 })

		close(sub.sub.messages)
		h.waitFor(t, "offline mode", func() bool { return h.sess.Snapshot(false).OfflineMode })
		if st := h.state(); st != StateConnecting {
			t.Errorf("expected call to stay connecting, got %s", st)
		}

		h.clock.Advance(3 * time.Second)
		snap := h.snapshot()
		if snap.State != "active" || snap.FeedMode != "synthetic" {
			t.Fatalf("expected active synthetic, got %s/%s", snap.State, snap.FeedMode)
		}
		if len(snap.Transcript) == 0 || snap.Transcript[0].Text != transcript.Greeting.Text {
			t.Errorf("expected greeting after fallback, got %+v", snap.Transcript)
		}
	})

	t.Run("fallback disabled", func(t *testing.T) {
		sub := newFakeSubscriber()
		control := &fakeControl{createID: "ext-1", status: "ringing"}
		h := newHarness(control, harnessOptions{subscriber: sub})
		h.started(t)
		h.clock.Advance(time.Second)
		h.waitFor(t, "subscription", func() bool { return sub.opened() == 1 })

		close(sub.sub.messages)
		h.waitFor(t, "ended", func() bool { return h.sess.State() == StateEnded })
		if r := h.snapshot().EndReason; r != ReasonFeedLost {
			t.Errorf("expected reason %s, got %s", ReasonFeedLost, r)
		}
		h.waitFor(t, "end request", func() bool { return len(control.endedCalls()) == 1 })
	})
}

func TestSession_CloseEndsWithShutdown(t *testing.T) {
	control := &fakeControl{createID: "ext-1", status: "ringing"}
	h := newHarness(control, harnessOptions{})
	h.started(t)

	h.do(h.sess.Close)
	if r := h.snapshot().EndReason; r != ReasonShutdown {
		t.Errorf("expected reason %s, got %s", ReasonShutdown, r)
	}
	h.do(h.sess.Close)
	if h.ended != 1 {
		t.Errorf("expected close to be idempotent, got %d end notifications", h.ended)
	}
	h.waitFor(t, "end request", func() bool { return len(control.endedCalls()) == 1 })
}
