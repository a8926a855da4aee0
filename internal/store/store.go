// Package store persists the per-owner call provider configuration.
package store

import (
	"context"
	"errors"
	"sync"

	"crm-call-service/internal/models"
)

// ErrConfigNotFound is returned when no configuration exists for the owner.
var ErrConfigNotFound = errors.New("provider config not found")

// Repository reads and writes the provider configuration of one owner.
type Repository interface {
	// Fetch returns the configuration, possibly from a cache.
	Fetch(ctx context.Context) (*models.ProviderConfig, error)
	// Refresh reloads the configuration from its source.
	Refresh(ctx context.Context) (*models.ProviderConfig, error)
	// Save replaces the configuration. The owner is fixed by the repository.
	Save(ctx context.Context, cfg *models.ProviderConfig) error
}

// Static keeps the configuration in memory, seeded from the environment.
type Static struct {
	mu  sync.RWMutex
	cfg *models.ProviderConfig
}

// NewStatic creates a repository holding cfg. A nil cfg starts empty.
func NewStatic(cfg *models.ProviderConfig) *Static {
	s := &Static{}
	if cfg != nil {
		c := *cfg
		s.cfg = &c
	}
	return s
}

func (s *Static) Fetch(ctx context.Context) (*models.ProviderConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, ErrConfigNotFound
	}
	c := *s.cfg
	return &c, nil
}

func (s *Static) Refresh(ctx context.Context) (*models.ProviderConfig, error) {
	return s.Fetch(ctx)
}

func (s *Static) Save(ctx context.Context, cfg *models.ProviderConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := *cfg
	s.mu.Lock()
	if s.cfg != nil && s.cfg.OwnerID != "" {
		c.OwnerID = s.cfg.OwnerID
	}
	s.cfg = &c
	s.mu.Unlock()
	return nil
}
