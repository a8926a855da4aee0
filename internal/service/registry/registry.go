// Package registry owns the set of live call sessions. Every session
// mutation, timer callback and network result is applied on one serialized
// event loop, so sessions need no locking of their own.
package registry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crm-call-service/internal/models"
	"crm-call-service/internal/observability/logging"
	"crm-call-service/internal/observability/metrics"
	"crm-call-service/internal/service/callcontrol"
	"crm-call-service/internal/service/clock"
	"crm-call-service/internal/service/livefeed"
	"crm-call-service/internal/service/session"
	"crm-call-service/internal/service/transcript"
)

var (
	// ErrSessionNotFound is returned for ids that were never created or were removed.
	ErrSessionNotFound = errors.New("call session not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("call registry closed")
)

// Config holds registry timing.
type Config struct {
	// CleanupDelay is how long an ended session stays listed.
	CleanupDelay time.Duration
	Timing       session.Timing
}

// Deps are the collaborators handed to every session.
type Deps struct {
	Control    callcontrol.Client
	Subscriber livefeed.Subscriber
	Clock      clock.Clock
	Sink       session.EventSink
	Rand       *rand.Rand
	Metrics    *metrics.Metrics

	// NewID issues session ids. Defaults to random UUIDs.
	NewID func() string
}

// Registry tracks call sessions in insertion order.
type Registry struct {
	cfg     Config
	deps    Deps
	loop    *loop
	ids     *transcript.Generator
	metrics *metrics.Metrics
	logger  zerolog.Logger

	// owned by the loop
	sessions map[string]*session.Session
	order    []string
	removals map[string]clock.Timer
	closed   bool
}

// New starts a registry and its event loop.
func New(cfg Config, deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		loop:     newLoop(),
		ids:      transcript.NewGenerator(),
		metrics:  m,
		logger:   logging.WithComponent("registry"),
		sessions: make(map[string]*session.Session),
		removals: make(map[string]clock.Timer),
	}
}

// post schedules fn on the loop; work posted after Close is dropped.
func (r *Registry) post(fn func()) {
	r.loop.post(fn)
}

// do runs fn on the loop and waits for it to finish.
func (r *Registry) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !r.loop.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await runs fn on the loop and waits for it to finish.
func (r *Registry) await(fn func()) error {
	done := make(chan struct{})
	if !r.loop.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	<-done
	return nil
}

// Sync waits until everything posted before the call has been applied.
func (r *Registry) Sync(ctx context.Context) error {
	return r.do(ctx, func() {})
}

// StartNewCall creates a session for contact, starts dialing and returns the
// new session id without waiting for the provider. A ctx cancelled before
// the loop reaches the request creates nothing and returns ctx.Err().
func (r *Registry) StartNewCall(ctx context.Context, contact models.Contact) (string, error) {
	id := r.deps.NewID()
	var err error
	// Wait for the loop regardless of ctx so the caller always learns
	// whether a call was placed. Loop work never blocks.
	doErr := r.await(func() {
		if r.closed {
			err = ErrClosed
			return
		}
		if err = ctx.Err(); err != nil {
			return
		}
		s := session.New(id, contact, session.Deps{
			Control:    r.deps.Control,
			Subscriber: r.deps.Subscriber,
			Clock:      r.deps.Clock,
			Sink:       r.deps.Sink,
			Timing:     r.cfg.Timing,
			Rand:       r.deps.Rand,
			IDs:        r.ids,
			Metrics:    r.metrics,
			Post:       r.post,
			OnEnded:    r.scheduleRemoval,
		})
		r.sessions[id] = s
		r.order = append(r.order, id)
		r.metrics.RecordSessionStarted()
		r.logger.Info().Str("sessionId", id).Str("contactId", contact.ID).Msg("Call session created")
		s.Start()
	})
	if doErr != nil {
		return "", doErr
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// ApplyUserIntent routes intent to session id.
func (r *Registry) ApplyUserIntent(ctx context.Context, id string, intent session.Intent) error {
	var err error
	if doErr := r.do(ctx, func() {
		s, ok := r.sessions[id]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		err = s.Apply(intent)
	}); doErr != nil {
		return doErr
	}
	return err
}

// List returns snapshots of all tracked sessions in creation order, without
// transcripts.
func (r *Registry) List(ctx context.Context) ([]models.CallSnapshot, error) {
	var out []models.CallSnapshot
	err := r.do(ctx, func() {
		out = make([]models.CallSnapshot, 0, len(r.order))
		for _, id := range r.order {
			out = append(out, r.sessions[id].Snapshot(false))
		}
	})
	return out, err
}

// Get returns a snapshot of one session including its transcript.
func (r *Registry) Get(ctx context.Context, id string) (models.CallSnapshot, error) {
	var snap models.CallSnapshot
	var err error
	if doErr := r.do(ctx, func() {
		s, ok := r.sessions[id]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		snap = s.Snapshot(true)
	}); doErr != nil {
		return models.CallSnapshot{}, doErr
	}
	return snap, err
}

// Transcript returns the entries of one session in arrival order.
func (r *Registry) Transcript(ctx context.Context, id string) ([]models.TranscriptEntry, error) {
	var entries []models.TranscriptEntry
	var err error
	if doErr := r.do(ctx, func() {
		s, ok := r.sessions[id]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		entries = s.Transcript()
	}); doErr != nil {
		return nil, doErr
	}
	return entries, err
}

// Len returns the number of tracked sessions.
func (r *Registry) Len(ctx context.Context) (int, error) {
	var n int
	err := r.do(ctx, func() { n = len(r.order) })
	return n, err
}

func (r *Registry) scheduleRemoval(s *session.Session) {
	id := s.ID()
	if r.closed {
		return
	}
	if _, pending := r.removals[id]; pending {
		return
	}
	r.removals[id] = r.deps.Clock.AfterFunc(r.cfg.CleanupDelay, func() {
		r.post(func() { r.remove(id) })
	})
}

// remove drops a session. Removing an unknown id is a no-op.
func (r *Registry) remove(id string) {
	if t, ok := r.removals[id]; ok {
		t.Stop()
		delete(r.removals, id)
	}
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.metrics.RecordSessionRemoved()
	r.logger.Debug().Str("sessionId", id).Msg("Call session removed")
}

// Close ends every running session, drops all sessions and stops the loop.
func (r *Registry) Close(ctx context.Context) error {
	err := r.do(ctx, func() {
		if r.closed {
			return
		}
		r.closed = true
		ids := append([]string(nil), r.order...)
		for _, id := range ids {
			r.sessions[id].Close()
			r.remove(id)
		}
		r.logger.Info().Int("sessions", len(ids)).Msg("Call registry closed")
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	r.loop.close()
	return nil
}
