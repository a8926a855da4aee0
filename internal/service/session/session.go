package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"crm-call-service/internal/events"
	"crm-call-service/internal/models"
	"crm-call-service/internal/observability/logging"
	"crm-call-service/internal/observability/metrics"
	"crm-call-service/internal/service/callcontrol"
	"crm-call-service/internal/service/clock"
	"crm-call-service/internal/service/livefeed"
	"crm-call-service/internal/service/poller"
	"crm-call-service/internal/service/transcript"
)

// Intent is a user action routed to a session.
type Intent string

const (
	IntentMute     Intent = "mute"
	IntentHold     Intent = "hold"
	IntentSpeaker  Intent = "speaker"
	IntentEnd      Intent = "end"
	IntentToggleAI Intent = "toggle-ai"
)

// ParseIntent validates an intent name.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(s); i {
	case IntentMute, IntentHold, IntentSpeaker, IntentEnd, IntentToggleAI:
		return i, nil
	}
	return "", ErrUnknownIntent
}

// End reasons other than raw terminal provider statuses.
const (
	ReasonUserEnded      = "user_ended"
	ReasonCreationFailed = "creation_failed"
	ReasonFeedLost       = "feed_lost"
	ReasonShutdown       = "shutdown"
)

const (
	durationTick   = time.Second
	controlTimeout = 10 * time.Second

	manualTakeoverText = "Taking over manually"
	aiHandlingText     = "AI assistant now handling the call"
)

// EventSink receives lifecycle and transcript events keyed by session id.
type EventSink interface {
	PublishState(ctx context.Context, key string, event any) error
	PublishTranscript(ctx context.Context, key string, event any) error
}

// Timing holds the session timers.
type Timing struct {
	ConnectDelay      time.Duration
	ActiveDelay       time.Duration
	PollInterval      time.Duration
	SyntheticMin      time.Duration
	SyntheticMax      time.Duration
	SyntheticFallback bool
}

// Deps are the collaborators shared by every session of a registry.
type Deps struct {
	Control    callcontrol.Client
	Subscriber livefeed.Subscriber
	Clock      clock.Clock
	Sink       EventSink
	Timing     Timing
	Rand       *rand.Rand
	IDs        *transcript.Generator
	Metrics    *metrics.Metrics

	// Post runs fn on the owning event loop. Every method of Session must be
	// called from that loop.
	Post func(fn func())

	// OnEnded is called on the loop when the session reaches ENDED.
	OnEnded func(s *Session)
}

// Session is one outbound call attempt. It is not safe for concurrent use;
// the owner serializes all calls through Deps.Post.
type Session struct {
	id        string
	contact   models.Contact
	createdAt time.Time
	deps      Deps
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	lc        *Lifecycle

	externalID    string
	duration      int
	muted         bool
	onHold        bool
	speakerOn     bool
	aiMode        bool
	offline       bool
	activeReached bool
	feedStarted   bool
	endReason     string

	ctx    context.Context
	cancel context.CancelFunc

	poller   *poller.Poller
	feed     *transcript.Feed
	controls controlQueue

	connectTimer clock.Timer
	activeTimer  clock.Timer
	tickTimer    clock.Timer
}

// New creates a session at DIALING. Call Start to place the call.
func New(id string, contact models.Contact, deps Deps) *Session {
	m := deps.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		contact:   contact,
		createdAt: deps.Clock.Now(),
		deps:      deps,
		metrics:   m,
		logger:    sessionLogger(id, ""),
		lc:        NewLifecycle(),
		aiMode:    true,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.feed = transcript.New(transcript.Config{
		SessionID:   id,
		IDs:         deps.IDs,
		Subscriber:  deps.Subscriber,
		Clock:       deps.Clock,
		Post:        deps.Post,
		Handler:     feedHandler{s},
		MinInterval: deps.Timing.SyntheticMin,
		MaxInterval: deps.Timing.SyntheticMax,
		Rand:        deps.Rand,
		Logger:      s.logger,
		Metrics:     m,
	})
	return s
}

func sessionLogger(sessionID, externalCallID string) zerolog.Logger {
	return logging.WithCall(sessionID, externalCallID).With().Str("component", "session").Logger()
}

// ID returns the local session id.
func (s *Session) ID() string { return s.id }

// State returns the lifecycle state.
func (s *Session) State() State { return s.lc.State() }

// ExternalCallID returns the provider call id, empty until creation succeeds.
func (s *Session) ExternalCallID() string { return s.externalID }

// FeedMode returns the transcript production mode.
func (s *Session) FeedMode() transcript.Mode { return s.feed.Mode() }

// PollerStarted reports whether status polling was ever started.
func (s *Session) PollerStarted() bool { return s.poller != nil && s.poller.Started() }

// Start publishes the initial state and issues the call creation request.
func (s *Session) Start() {
	s.metrics.RecordTransition(StateIdle.String(), StateDialing.String())
	s.publishState(StateIdle, StateDialing, "")
	s.logger.Info().Str("phoneNumber", s.contact.PhoneNumber).Msg("Dialing")

	ctx := s.ctx
	req := callcontrol.CreateCallRequest{
		PhoneNumber: s.contact.PhoneNumber,
		DisplayName: s.contact.DisplayName,
	}
	go func() {
		id, err := s.deps.Control.CreateCall(ctx, req)
		s.deps.Post(func() { s.onCreated(id, err) })
	}()
}

func (s *Session) onCreated(id string, err error) {
	if s.lc.IsEnded() {
		if err == nil && id != "" {
			// the call was placed after the user hung up locally
			s.logger.Info().Str("externalCallId", id).Msg("Ending call created after session ended")
			s.notify("end", func(ctx context.Context) error {
				return s.deps.Control.EndCall(ctx, id)
			})
		}
		return
	}
	if err == nil && id == "" {
		err = ErrMissingExternalID
	}
	if err != nil {
		s.logger.Error().Err(err).Str("kind", "creation").Msg("Call creation failed")
		s.end(ReasonCreationFailed)
		return
	}

	s.externalID = id
	s.logger = sessionLogger(s.id, id)
	s.logger.Info().Msg("Call created")
	s.connectTimer = s.deps.Clock.AfterFunc(s.deps.Timing.ConnectDelay, func() {
		s.deps.Post(s.enterConnecting)
	})
}

func (s *Session) enterConnecting() {
	if s.lc.State() != StateDialing {
		return
	}
	if err := s.transition(StateConnecting, "created"); err != nil {
		s.logger.Warn().Err(err).Msg("Connecting rejected")
		return
	}
	s.startObservers()
	s.activeTimer = s.deps.Clock.AfterFunc(s.deps.Timing.ActiveDelay, func() {
		s.deps.Post(func() { s.enterActive("optimistic") })
	})
}

// enterActive applies the first of the optimistic timer, a polled status or
// a live status that reports the call live. Later signals are no-ops.
func (s *Session) enterActive(source string) {
	if s.lc.State() != StateConnecting {
		return
	}
	if err := s.transition(StateActive, source); err != nil {
		s.logger.Warn().Err(err).Msg("Active rejected")
		return
	}
	stopTimer(&s.activeTimer)
	s.activeReached = true
	s.startObservers()
	s.scheduleTick()
	if s.feed.Mode() == transcript.ModeSynthetic {
		s.feed.SeedGreeting()
	}
}

// startObservers starts polling and the transcript feed once per session.
func (s *Session) startObservers() {
	if s.externalID == "" || s.lc.IsEnded() {
		return
	}
	if s.poller == nil {
		s.poller = poller.New(poller.Config{
			Fetcher:  s.deps.Control,
			Clock:    s.deps.Clock,
			Interval: s.deps.Timing.PollInterval,
			Post:     s.deps.Post,
			Handler:  pollHandler{s},
			Logger:   s.logger,
			Metrics:  s.metrics,
		})
	}
	s.poller.Start(s.ctx, s.externalID)

	if !s.feedStarted {
		s.feedStarted = true
		if err := s.feed.StartLive(s.ctx, s.externalID); err != nil {
			s.goOffline(err)
		}
	}
}

// goOffline substitutes the synthetic feed for a live feed that could not be
// opened or was lost.
func (s *Session) goOffline(err error) {
	if s.lc.IsEnded() {
		return
	}
	noTransport := errors.Is(err, transcript.ErrNoSubscriber)
	if !noTransport && !s.deps.Timing.SyntheticFallback {
		s.logger.Error().Err(err).Str("kind", "observation").Msg("Live feed lost and fallback disabled")
		s.end(ReasonFeedLost)
		return
	}

	s.offline = true
	if noTransport {
		s.logger.Info().Msg("No live feed transport, using synthetic transcript")
	} else {
		s.metrics.RecordFeedFallback()
		s.logger.Warn().Err(err).Str("kind", "observation").Msg("Live feed lost, switching to offline mode")
	}
	s.feed.StartSynthetic()
	if s.lc.State() == StateActive {
		s.feed.SeedGreeting()
	}
}

func (s *Session) scheduleTick() {
	s.tickTimer = s.deps.Clock.AfterFunc(durationTick, func() {
		s.deps.Post(s.tick)
	})
}

func (s *Session) tick() {
	if s.lc.State() != StateActive {
		return
	}
	if !s.onHold {
		s.duration++
	}
	s.scheduleTick()
}

// Apply routes a user intent. Intents on an ended session return ErrSessionEnded.
func (s *Session) Apply(intent Intent) error {
	if s.lc.IsEnded() {
		return ErrSessionEnded
	}
	switch intent {
	case IntentMute:
		s.muted = !s.muted
	case IntentHold:
		s.onHold = !s.onHold
	case IntentSpeaker:
		s.speakerOn = !s.speakerOn
	case IntentToggleAI:
		s.toggleAI()
	case IntentEnd:
		s.end(ReasonUserEnded)
	default:
		return ErrUnknownIntent
	}
	s.logger.Debug().Str("intent", string(intent)).Msg("Intent applied")
	return nil
}

func (s *Session) toggleAI() {
	s.aiMode = !s.aiMode
	if s.aiMode {
		s.feed.Append(models.SpeakerAI, aiHandlingText, models.SourceSystem)
	} else {
		s.feed.Append(models.SpeakerUser, manualTakeoverText, models.SourceSystem)
	}

	if s.externalID == "" {
		return
	}
	id, enabled := s.externalID, s.aiMode
	s.notify("ai_mode", func(ctx context.Context) error {
		return s.deps.Control.SetAIMode(ctx, id, enabled)
	})
}

// end moves the session to ENDED and tears down every timer and observer.
func (s *Session) end(reason string) {
	if s.lc.IsEnded() {
		return
	}
	if err := s.transition(StateEnded, reason); err != nil {
		return
	}
	s.endReason = reason

	stopTimer(&s.connectTimer)
	stopTimer(&s.activeTimer)
	stopTimer(&s.tickTimer)
	if s.poller != nil {
		s.poller.Stop()
	}
	s.feed.Stop()
	s.cancel()

	if s.externalID != "" {
		id := s.externalID
		s.notify("end", func(ctx context.Context) error {
			return s.deps.Control.EndCall(ctx, id)
		})
	}

	s.metrics.RecordSessionEnded(reason, s.duration, s.activeReached)
	if s.deps.OnEnded != nil {
		s.deps.OnEnded(s)
	}
}

// Close ends a session that is still running.
func (s *Session) Close() {
	s.end(ReasonShutdown)
}

// notify queues a best-effort control request. Requests reach the provider in
// the order they were issued. Failures are logged only.
func (s *Session) notify(op string, fn func(ctx context.Context) error) {
	logger, m := s.logger, s.metrics
	s.controls.push(func() {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.RecordControlFailure(op)
			logger.Warn().Err(err).Str("kind", "control").Str("op", op).Msg("Control notification failed")
		}
	})
}

func (s *Session) transition(to State, reason string) error {
	from := s.lc.State()
	if err := s.lc.Transition(to, s.externalID != ""); err != nil {
		return err
	}
	s.metrics.RecordTransition(from.String(), to.String())
	s.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("reason", reason).
		Msg("Call state changed")
	s.publishState(from, to, reason)
	return nil
}

func (s *Session) publishState(from, to State, reason string) {
	if s.deps.Sink == nil {
		return
	}
	ev := models.CallStateChanged{
		EventType:      events.EventStateChanged,
		SessionID:      s.id,
		ExternalCallID: s.externalID,
		From:           from.String(),
		To:             to.String(),
		Reason:         reason,
		Timestamp:      s.deps.Clock.Now().UnixMilli(),
	}
	if err := s.deps.Sink.PublishState(context.Background(), s.id, ev); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish state change")
	}
}

func (s *Session) publishEntry(entry models.TranscriptEntry) {
	if s.deps.Sink == nil {
		return
	}
	ev := models.TranscriptAppended{
		EventType:      events.EventTranscriptAppended,
		SessionID:      s.id,
		ExternalCallID: s.externalID,
		Timestamp:      s.deps.Clock.Now().UnixMilli(),
		Entry:          entry,
	}
	if err := s.deps.Sink.PublishTranscript(context.Background(), s.id, ev); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish transcript entry")
	}
}

// statusLabel is the badge shown for the session.
func (s *Session) statusLabel() string {
	switch s.lc.State() {
	case StateDialing:
		return "Dialing..."
	case StateConnecting:
		return "Connecting..."
	case StateActive:
		if s.onHold {
			return "On Hold"
		}
		if s.offline {
			return "Offline Mode"
		}
		return "Connected"
	case StateEnded:
		if s.endReason == ReasonCreationFailed || callcontrol.IsFailure(s.endReason) {
			return "Call Failed"
		}
		return "Call Ended"
	default:
		return "Idle"
	}
}

// Snapshot returns a read-only copy of the session.
func (s *Session) Snapshot(withTranscript bool) models.CallSnapshot {
	snap := models.CallSnapshot{
		ID:              s.id,
		ExternalCallID:  s.externalID,
		Contact:         s.contact,
		State:           s.lc.State().String(),
		StatusLabel:     s.statusLabel(),
		CreatedAt:       s.createdAt,
		DurationSeconds: s.duration,
		Muted:           s.muted,
		OnHold:          s.onHold,
		SpeakerOn:       s.speakerOn,
		AIMode:          s.aiMode,
		OfflineMode:     s.offline,
		FeedMode:        s.feed.Mode().String(),
		EndReason:       s.endReason,
	}
	if withTranscript {
		snap.Transcript = s.feed.Entries()
	}
	return snap
}

// Transcript returns the entries in arrival order.
func (s *Session) Transcript() []models.TranscriptEntry {
	return s.feed.Entries()
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

type pollHandler struct{ s *Session }

func (h pollHandler) OnActive() { h.s.enterActive("status") }

func (h pollHandler) OnTerminal(status string) { h.s.end(status) }

type feedHandler struct{ s *Session }

func (h feedHandler) OnEntry(entry models.TranscriptEntry) { h.s.publishEntry(entry) }

func (h feedHandler) OnLiveStatus(status string) {
	switch callcontrol.Normalize(status) {
	case callcontrol.PhaseActive:
		h.s.enterActive("live")
	case callcontrol.PhaseTerminal:
		h.s.end(status)
	}
}

func (h feedHandler) OnLiveLost(err error) { h.s.goOffline(err) }

func (h feedHandler) SyntheticAllowed() bool {
	s := h.s
	return s.lc.State() == StateActive && !s.onHold && s.aiMode
}
