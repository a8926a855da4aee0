// Package poller polls the provider for the status of a call until it
// reaches a terminal status or is stopped.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"crm-call-service/internal/observability/metrics"
	"crm-call-service/internal/service/callcontrol"
	"crm-call-service/internal/service/clock"
)

// StatusFetcher reads the provider status of a call.
type StatusFetcher interface {
	GetStatus(ctx context.Context, callID string) (callcontrol.CallStatus, error)
}

// Handler receives poll outcomes. Calls are made on the poster's goroutine.
type Handler interface {
	// OnActive is called once, the first time the call is reported live.
	OnActive()

	// OnTerminal is called once with the raw terminal status; polling then stops.
	OnTerminal(status string)
}

// Poster runs fn on the owner's serialized event loop.
type Poster func(fn func())

// Poller polls one call. A poll is scheduled only after the previous one
// resolved, so requests never overlap. Fetch errors are logged and polling
// continues.
//
// All methods must be called from the poster's goroutine.
type Poller struct {
	fetcher  StatusFetcher
	clock    clock.Clock
	interval time.Duration
	post     Poster
	handler  Handler
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	ctx        context.Context
	callID     string
	started    bool
	stopped    bool
	activeSeen bool
	timer      clock.Timer
}

// Config holds the poller collaborators.
type Config struct {
	Fetcher  StatusFetcher
	Clock    clock.Clock
	Interval time.Duration
	Post     Poster
	Handler  Handler
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// New creates a stopped poller.
func New(cfg Config) *Poller {
	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Poller{
		fetcher:  cfg.Fetcher,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		post:     cfg.Post,
		handler:  cfg.Handler,
		logger:   cfg.Logger,
		metrics:  m,
	}
}

// Start begins polling callID with an immediate first poll. It is a no-op if
// already started or stopped.
func (p *Poller) Start(ctx context.Context, callID string) {
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.ctx = ctx
	p.callID = callID
	p.poll()
}

// Started reports whether Start has been called.
func (p *Poller) Started() bool {
	return p.started
}

// Stop cancels the pending poll. In-flight results are discarded.
func (p *Poller) Stop() {
	if p.stopped {
		return
	}
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Poller) poll() {
	ctx, callID := p.ctx, p.callID
	go func() {
		status, err := p.fetcher.GetStatus(ctx, callID)
		p.post(func() { p.handleResult(status, err) })
	}()
}

func (p *Poller) handleResult(status callcontrol.CallStatus, err error) {
	if p.stopped {
		return
	}

	if err != nil {
		p.metrics.RecordStatusPoll("error")
		p.logger.Warn().Err(err).Str("kind", "observation").Msg("Status poll failed, will retry")
		p.schedule()
		return
	}

	switch status.Phase() {
	case callcontrol.PhaseTerminal:
		p.metrics.RecordStatusPoll("terminal")
		p.logger.Info().Str("status", status.Raw).Msg("Provider reported terminal status")
		p.Stop()
		p.handler.OnTerminal(status.Raw)
		return
	case callcontrol.PhaseActive:
		p.metrics.RecordStatusPoll("active")
		if !p.activeSeen {
			p.activeSeen = true
			p.handler.OnActive()
		}
	case callcontrol.PhaseUnknown:
		p.metrics.RecordStatusPoll("unknown")
		p.logger.Debug().Str("status", status.Raw).Msg("Unrecognized provider status")
	default:
		p.metrics.RecordStatusPoll("pending")
	}

	// the handler may have stopped us
	if !p.stopped {
		p.schedule()
	}
}

func (p *Poller) schedule() {
	p.timer = p.clock.AfterFunc(p.interval, func() {
		p.post(func() {
			if !p.stopped {
				p.poll()
			}
		})
	})
}
