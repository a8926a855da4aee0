// Package mock provides a call-control provider that simulates calls locally,
// for development without provider credentials.
// It simulates realistic provider behavior:
// - calls ring for a short while, then report in-progress
// - ended calls report "ended" from then on
// - failures can be injected per operation
package mock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"crm-call-service/internal/models"
	"crm-call-service/internal/service/callcontrol"
	"crm-call-service/internal/service/clock"
)

// ErrCallNotFound is returned for ids the provider never issued.
var ErrCallNotFound = errors.New("mock: call not found")

// DefaultRingDuration is how long a new call reports "ringing".
const DefaultRingDuration = 2 * time.Second

type call struct {
	id          string
	phoneNumber string
	status      string
	aiMode      bool
	createdAt   time.Time
	endedAt     *time.Time
	forced      bool
}

// Provider implements callcontrol.Client with in-memory calls.
type Provider struct {
	mu        sync.Mutex
	clock     clock.Clock
	ringFor   time.Duration
	counter   int
	calls     map[string]*call
	ended     []string
	createErr error
	endErr    error
	modeErr   error
}

// New creates a mock provider. A nil clock uses wall time.
func New(clk clock.Clock, ringFor time.Duration) *Provider {
	if clk == nil {
		clk = clock.Real()
	}
	if ringFor <= 0 {
		ringFor = DefaultRingDuration
	}
	return &Provider{
		clock:   clk,
		ringFor: ringFor,
		calls:   make(map[string]*call),
	}
}

// FailCreate makes subsequent CreateCall requests fail with err (nil clears).
func (p *Provider) FailCreate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = err
}

// FailEnd makes subsequent EndCall requests fail with err (nil clears).
func (p *Provider) FailEnd(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endErr = err
}

// FailControl makes subsequent SetAIMode requests fail with err (nil clears).
func (p *Provider) FailControl(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modeErr = err
}

// SetStatus forces the raw status of a call, e.g. to simulate the callee hanging up.
func (p *Provider) SetStatus(callID, raw string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	c.status = raw
	c.forced = true
	return nil
}

// Ended returns the ids of calls that received an end request.
func (p *Provider) Ended() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ended...)
}

// AIMode returns the current assistant mode of a call.
func (p *Provider) AIMode(callID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[callID]
	if !ok {
		return false, ErrCallNotFound
	}
	return c.aiMode, nil
}

func (p *Provider) CreateCall(ctx context.Context, req callcontrol.CreateCallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.createErr != nil {
		return "", p.createErr
	}

	p.counter++
	id := fmt.Sprintf("mock_%d", p.counter)
	p.calls[id] = &call{
		id:          id,
		phoneNumber: req.PhoneNumber,
		status:      "queued",
		aiMode:      true,
		createdAt:   p.clock.Now(),
	}
	return id, nil
}

func (p *Provider) GetStatus(ctx context.Context, callID string) (callcontrol.CallStatus, error) {
	if err := ctx.Err(); err != nil {
		return callcontrol.CallStatus{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.calls[callID]
	if !ok {
		return callcontrol.CallStatus{}, ErrCallNotFound
	}
	p.advance(c)

	st := callcontrol.CallStatus{Raw: c.status, EndedAt: c.endedAt}
	if c.status != "queued" && c.status != "ringing" {
		started := c.createdAt.Add(p.ringFor)
		st.StartedAt = &started
	}
	return st, nil
}

// advance moves an unforced call through queued -> ringing -> in-progress.
func (p *Provider) advance(c *call) {
	if c.forced || c.endedAt != nil {
		return
	}
	if p.clock.Now().Sub(c.createdAt) >= p.ringFor {
		c.status = "in-progress"
	} else {
		c.status = "ringing"
	}
}

func (p *Provider) EndCall(ctx context.Context, callID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ended = append(p.ended, callID)
	if p.endErr != nil {
		return p.endErr
	}
	c, ok := p.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	now := p.clock.Now()
	c.status = "ended"
	c.endedAt = &now
	return nil
}

func (p *Provider) SetAIMode(ctx context.Context, callID string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.modeErr != nil {
		return p.modeErr
	}
	c, ok := p.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	c.aiMode = enabled
	return nil
}

// ListCalls returns every simulated call, newest first.
func (p *Provider) ListCalls(ctx context.Context) ([]models.CallRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.CallRecord, 0, len(p.calls))
	for _, c := range p.calls {
		p.advance(c)
		created := c.createdAt
		out = append(out, models.CallRecord{
			ID:          c.id,
			Status:      c.status,
			PhoneNumber: c.phoneNumber,
			CreatedAt:   &created,
			EndedAt:     c.endedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(*out[j].CreatedAt)
	})
	return out, nil
}
