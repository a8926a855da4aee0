// Package transcript accumulates a call transcript from a live feed or, when
// the live feed is unavailable, from a synthetic generator.
package transcript

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"crm-call-service/internal/models"
	"crm-call-service/internal/observability/metrics"
	"crm-call-service/internal/service/clock"
	"crm-call-service/internal/service/livefeed"
)

// isoLayout renders timestamps the way browsers' toISOString does.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrNoSubscriber is returned by StartLive when no live transport is configured.
	ErrNoSubscriber = errors.New("no live feed transport configured")
	// ErrFeedClosed is reported when the live feed ends without an error.
	ErrFeedClosed = errors.New("live feed closed")
)

// Mode is the feed currently producing entries.
type Mode int

const (
	ModeNone Mode = iota
	ModeLive
	ModeSynthetic
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeSynthetic:
		return "synthetic"
	default:
		return "none"
	}
}

// Handler is notified of feed activity on the poster's goroutine.
type Handler interface {
	// OnEntry is called after every append.
	OnEntry(entry models.TranscriptEntry)

	// OnLiveStatus is called for status updates carried by the live feed.
	OnLiveStatus(status string)

	// OnLiveLost is called once when the live feed fails to open or terminates.
	OnLiveLost(err error)

	// SyntheticAllowed gates each synthetic append.
	SyntheticAllowed() bool
}

// Poster runs fn on the owner's serialized event loop.
type Poster func(fn func())

// Config holds the feed collaborators.
type Config struct {
	SessionID   string
	IDs         *Generator
	Subscriber  livefeed.Subscriber
	Clock       clock.Clock
	Post        Poster
	Handler     Handler
	MinInterval time.Duration
	MaxInterval time.Duration
	Rand        *rand.Rand
	Script      *Script
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// Feed is the append-only transcript of one session plus the machinery that
// fills it. Live and synthetic production are mutually exclusive.
//
// All methods must be called from the poster's goroutine.
type Feed struct {
	cfg     Config
	metrics *metrics.Metrics

	entries []models.TranscriptEntry
	arrival int
	mode    Mode
	stopped bool

	// gen invalidates callbacks from a previous mode.
	gen    uint64
	cancel context.CancelFunc
	timer  clock.Timer
}

// New creates an idle feed.
func New(cfg Config) *Feed {
	if cfg.IDs == nil {
		cfg.IDs = NewGenerator()
	}
	if cfg.Script == nil {
		cfg.Script = NewScript(nil)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Feed{cfg: cfg, metrics: m}
}

// Mode returns the active production mode.
func (f *Feed) Mode() Mode {
	return f.mode
}

// Len returns the number of entries.
func (f *Feed) Len() int {
	return len(f.entries)
}

// Entries returns a copy of the transcript in arrival order.
func (f *Feed) Entries() []models.TranscriptEntry {
	out := make([]models.TranscriptEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Append adds an entry stamped now. It returns false once the feed is stopped.
func (f *Feed) Append(speaker models.Speaker, text string, source models.EntrySource) (models.TranscriptEntry, bool) {
	return f.append(speaker, text, source, f.cfg.Clock.Now())
}

func (f *Feed) append(speaker models.Speaker, text string, source models.EntrySource, ts time.Time) (models.TranscriptEntry, bool) {
	if f.stopped {
		return models.TranscriptEntry{}, false
	}
	f.arrival++
	entry := models.TranscriptEntry{
		ID:           f.cfg.IDs.Next(f.cfg.SessionID),
		Text:         text,
		TimestampISO: ts.UTC().Format(isoLayout),
		Speaker:      speaker,
		ArrivalIndex: f.arrival,
		Source:       source,
	}
	f.entries = append(f.entries, entry)
	f.metrics.RecordTranscriptEntry(string(source))
	f.cfg.Handler.OnEntry(entry)
	return entry, true
}

// StartLive subscribes to the live feed for externalCallID. It is a no-op
// when a mode is already running.
func (f *Feed) StartLive(parent context.Context, externalCallID string) error {
	if f.stopped || f.mode != ModeNone {
		return nil
	}
	if f.cfg.Subscriber == nil {
		return ErrNoSubscriber
	}

	f.gen++
	gen := f.gen
	f.mode = ModeLive
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel

	go func() {
		sub, err := f.cfg.Subscriber.Subscribe(ctx, externalCallID)
		f.cfg.Post(func() { f.onSubscribed(gen, sub, err) })
	}()
	return nil
}

func (f *Feed) onSubscribed(gen uint64, sub livefeed.Subscription, err error) {
	if gen != f.gen {
		if sub != nil {
			go sub.Close()
		}
		return
	}
	if err != nil {
		f.liveLost(gen, err)
		return
	}

	f.cfg.Logger.Info().Str("mode", ModeLive.String()).Msg("Live feed subscribed")
	go func() {
		for msg := range sub.Messages() {
			m := msg
			f.cfg.Post(func() { f.onMessage(gen, m) })
		}
		err := sub.Err()
		if err == nil {
			err = ErrFeedClosed
		}
		f.cfg.Post(func() { f.liveLost(gen, err) })
	}()
}

func (f *Feed) onMessage(gen uint64, msg livefeed.Message) {
	if gen != f.gen {
		return
	}
	f.metrics.RecordLiveMessage(msg.Kind.String())

	switch msg.Kind {
	case livefeed.KindTranscript:
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = f.cfg.Clock.Now()
		}
		f.append(msg.Speaker, msg.Text, models.SourceLive, ts)
	case livefeed.KindStatus:
		f.cfg.Handler.OnLiveStatus(msg.Status)
	}
}

func (f *Feed) liveLost(gen uint64, err error) {
	if gen != f.gen {
		return
	}
	f.gen++
	f.mode = ModeNone
	f.cancelLive()
	f.cfg.Handler.OnLiveLost(err)
}

// StartSynthetic stops any live subscription and begins producing canned
// entries. It is a no-op if already synthetic.
func (f *Feed) StartSynthetic() {
	if f.stopped || f.mode == ModeSynthetic {
		return
	}
	f.gen++
	f.cancelLive()
	f.mode = ModeSynthetic
	f.scheduleTick(f.gen)
}

// SeedGreeting appends the opening AI greeting when the synthetic transcript
// is still empty. It reports whether an entry was added.
func (f *Feed) SeedGreeting() bool {
	if f.stopped || f.mode != ModeSynthetic || len(f.entries) > 0 {
		return false
	}
	_, ok := f.Append(Greeting.Speaker, Greeting.Text, models.SourceSynthetic)
	return ok
}

func (f *Feed) scheduleTick(gen uint64) {
	f.timer = f.cfg.Clock.AfterFunc(f.interval(), func() {
		f.cfg.Post(func() { f.tick(gen) })
	})
}

func (f *Feed) tick(gen uint64) {
	if gen != f.gen || f.mode != ModeSynthetic {
		return
	}
	if f.cfg.Handler.SyntheticAllowed() {
		line := f.cfg.Script.Next()
		f.Append(line.Speaker, line.Text, models.SourceSynthetic)
	}
	f.scheduleTick(gen)
}

// interval picks a random delay in [MinInterval, MaxInterval].
func (f *Feed) interval() time.Duration {
	lo, hi := f.cfg.MinInterval, f.cfg.MaxInterval
	if hi <= lo {
		return lo
	}
	span := int64(hi-lo) + 1
	var n int64
	if f.cfg.Rand != nil {
		n = f.cfg.Rand.Int64N(span)
	} else {
		n = rand.Int64N(span)
	}
	return lo + time.Duration(n)
}

// Stop ends production in either mode. Entries are kept; no more are appended.
func (f *Feed) Stop() {
	if f.stopped {
		return
	}
	f.stopped = true
	f.gen++
	f.mode = ModeNone
	f.cancelLive()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Feed) cancelLive() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}
