package store

import (
	"context"
	"sync"
	"time"

	"crm-call-service/internal/models"
	"crm-call-service/internal/service/clock"
)

// Cached serves Fetch from memory for ttl after each load.
// Refresh and Save always reach the underlying repository.
type Cached struct {
	next  Repository
	ttl   time.Duration
	clock clock.Clock

	mu       sync.Mutex
	cfg      *models.ProviderConfig
	loadedAt time.Time
}

// NewCached wraps next. A nil clock uses wall time.
func NewCached(next Repository, ttl time.Duration, clk clock.Clock) *Cached {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cached{next: next, ttl: ttl, clock: clk}
}

func (c *Cached) Fetch(ctx context.Context) (*models.ProviderConfig, error) {
	c.mu.Lock()
	if c.cfg != nil && c.clock.Now().Sub(c.loadedAt) < c.ttl {
		cfg := *c.cfg
		c.mu.Unlock()
		return &cfg, nil
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

func (c *Cached) Refresh(ctx context.Context) (*models.ProviderConfig, error) {
	cfg, err := c.next.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	c.store(cfg)
	out := *cfg
	return &out, nil
}

func (c *Cached) Save(ctx context.Context, cfg *models.ProviderConfig) error {
	if err := c.next.Save(ctx, cfg); err != nil {
		return err
	}
	c.store(cfg)
	return nil
}

func (c *Cached) store(cfg *models.ProviderConfig) {
	stored := *cfg
	c.mu.Lock()
	c.cfg = &stored
	c.loadedAt = c.clock.Now()
	c.mu.Unlock()
}
