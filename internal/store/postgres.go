package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"crm-call-service/internal/models"
)

const createTable = `
	CREATE TABLE IF NOT EXISTS provider_configs (
		owner_id            TEXT PRIMARY KEY,
		assistant_id        TEXT NOT NULL DEFAULT '',
		phone_number_id     TEXT NOT NULL DEFAULT '',
		twilio_account_sid  TEXT NOT NULL DEFAULT '',
		twilio_auth_token   TEXT NOT NULL DEFAULT '',
		twilio_phone_number TEXT NOT NULL DEFAULT '',
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// Postgres stores provider configurations in the provider_configs table,
// one row per owner.
type Postgres struct {
	pool    *pgxpool.Pool
	ownerID string
}

// NewPostgres connects to databaseURL and ensures the table exists.
func NewPostgres(ctx context.Context, databaseURL, ownerID string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create provider_configs: %w", err)
	}

	log.Info().Str("component", "store").Str("ownerId", ownerID).Msg("Provider config repository connected")
	return &Postgres{pool: pool, ownerID: ownerID}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Fetch(ctx context.Context) (*models.ProviderConfig, error) {
	var c models.ProviderConfig
	err := p.pool.QueryRow(ctx, `
		SELECT owner_id, assistant_id, phone_number_id,
		       twilio_account_sid, twilio_auth_token, twilio_phone_number, updated_at
		FROM provider_configs
		WHERE owner_id = $1
	`, p.ownerID).Scan(
		&c.OwnerID, &c.AssistantID, &c.PhoneNumberID,
		&c.TwilioAccountSID, &c.TwilioAuthToken, &c.TwilioPhoneNumber, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query provider config: %w", err)
	}
	return &c, nil
}

func (p *Postgres) Refresh(ctx context.Context) (*models.ProviderConfig, error) {
	return p.Fetch(ctx)
}

func (p *Postgres) Save(ctx context.Context, cfg *models.ProviderConfig) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO provider_configs (owner_id, assistant_id, phone_number_id,
			twilio_account_sid, twilio_auth_token, twilio_phone_number, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (owner_id) DO UPDATE SET
			assistant_id = EXCLUDED.assistant_id,
			phone_number_id = EXCLUDED.phone_number_id,
			twilio_account_sid = EXCLUDED.twilio_account_sid,
			twilio_auth_token = EXCLUDED.twilio_auth_token,
			twilio_phone_number = EXCLUDED.twilio_phone_number,
			updated_at = now()
	`, p.ownerID, cfg.AssistantID, cfg.PhoneNumberID,
		cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)
	if err != nil {
		return fmt.Errorf("upsert provider config: %w", err)
	}
	return nil
}
