package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crm-call-service/internal/config"
	"crm-call-service/internal/events"
	"crm-call-service/internal/models"
	"crm-call-service/internal/observability/logging"
	"crm-call-service/internal/schema"
	"crm-call-service/internal/service/callcontrol"
	"crm-call-service/internal/service/callcontrol/mock"
	"crm-call-service/internal/service/callcontrol/vapi"
	"crm-call-service/internal/service/clock"
	"crm-call-service/internal/service/crm"
	"crm-call-service/internal/service/livefeed"
	"crm-call-service/internal/service/livefeed/natsfeed"
	"crm-call-service/internal/service/livefeed/wsfeed"
	"crm-call-service/internal/service/registry"
	"crm-call-service/internal/service/session"
	"crm-call-service/internal/service/summarize"
	"crm-call-service/internal/store"
)

// ErrUnknownProvider is returned for an unsupported CALL_PROVIDER.
var ErrUnknownProvider = errors.New("unknown call provider")

// ErrUnknownTransport is returned for an unsupported LIVE_FEED_TRANSPORT.
var ErrUnknownTransport = errors.New("unknown live feed transport")

// CallProvider is a call-control client that can also list past calls.
type CallProvider interface {
	callcontrol.Client
	ListCalls(ctx context.Context) ([]models.CallRecord, error)
}

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Registry       *registry.Registry
	Provider       CallProvider
	CRM            *crm.Service
	Summarizer     *summarize.Summarizer // nil when no API key is configured
	ProviderConfig store.Repository
	Validator      *schema.Validator
	Publisher      *events.Publisher

	ready   atomic.Bool
	closers []func()
}

// New constructs the Application and every collaborator from cfg.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:       cfg,
		CRM:       crm.New(clock.Real()),
		Validator: schema.New(),
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	repo, err := a.buildRepository(ctx)
	if err != nil {
		return nil, err
	}
	a.ProviderConfig = repo

	provider, err := a.buildProvider(repo)
	if err != nil {
		a.close()
		return nil, err
	}
	a.Provider = provider

	subscriber, err := a.buildSubscriber()
	if err != nil {
		a.close()
		return nil, err
	}

	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicState:      cfg.Kafka.TopicState,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		Principal:       cfg.Kafka.Principal,
	})
	a.closers = append(a.closers, func() { _ = a.Publisher.Close() })

	summarizer, err := summarize.New(&summarize.Config{
		APIKey:  cfg.Summarizer.APIKey,
		BaseURL: cfg.Summarizer.BaseURL,
		Model:   cfg.Summarizer.Model,
	})
	if err != nil {
		appLogger.Info().Err(err).Msg("Context extraction disabled")
	} else {
		a.Summarizer = summarizer
	}

	a.Registry = registry.New(registry.Config{
		CleanupDelay: cfg.Timing.CleanupDelay,
		Timing: session.Timing{
			ConnectDelay:      cfg.Timing.ConnectDelay,
			ActiveDelay:       cfg.Timing.ActiveDelay,
			PollInterval:      cfg.Timing.StatusPollInterval,
			SyntheticMin:      cfg.Timing.SyntheticMinInterval,
			SyntheticMax:      cfg.Timing.SyntheticMaxInterval,
			SyntheticFallback: cfg.LiveFeed.SyntheticFallback,
		},
	}, registry.Deps{
		Control:    provider,
		Subscriber: subscriber,
		Clock:      clock.Real(),
		Sink:       a.Publisher,
	})

	appLogger.Info().
		Str("provider", cfg.Provider.Name).
		Str("liveFeed", cfg.LiveFeed.Transport).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("CRM call service application created")
	return a, nil
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	if a.Cfg.Observability.LogLevel != "" {
		lc.Level = a.Cfg.Observability.LogLevel
	}
	if a.Cfg.Observability.LogFormat != "" {
		lc.Format = a.Cfg.Observability.LogFormat
	}
	logging.Init(lc)

	a.Logger = log.Logger.With().
		Str("service", a.Cfg.Service.Name).
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

func (a *Application) buildRepository(ctx context.Context) (store.Repository, error) {
	rc := a.Cfg.Repository
	if rc.DatabaseURL == "" {
		return store.NewStatic(&models.ProviderConfig{
			OwnerID:           rc.OwnerID,
			AssistantID:       a.Cfg.Provider.AssistantID,
			PhoneNumberID:     a.Cfg.Provider.PhoneNumberID,
			TwilioAccountSID:  rc.TwilioAccountSID,
			TwilioAuthToken:   rc.TwilioAuthToken,
			TwilioPhoneNumber: rc.TwilioPhoneNumber,
		}), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := store.NewPostgres(connectCtx, rc.DatabaseURL, rc.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("provider config repository: %w", err)
	}
	a.closers = append(a.closers, pg.Close)
	return store.NewCached(pg, rc.CacheTTL, clock.Real()), nil
}

func (a *Application) buildProvider(repo store.Repository) (CallProvider, error) {
	pc := a.Cfg.Provider
	switch pc.Name {
	case "mock", "":
		a.Logger.Warn().Msg("Using simulated call provider")
		return mock.New(clock.Real(), 0), nil
	case "vapi":
		client, err := vapi.New(&vapi.Config{
			APIKey:        pc.APIKey,
			BaseURL:       pc.BaseURL,
			AssistantID:   pc.AssistantID,
			PhoneNumberID: pc.PhoneNumberID,
			Timeout:       pc.Timeout,
			Credentials:   repo,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, pc.Name)
	}
}

// buildSubscriber returns a nil interface when no live transport is configured.
func (a *Application) buildSubscriber() (livefeed.Subscriber, error) {
	lc := a.Cfg.LiveFeed
	switch lc.Transport {
	case "none", "":
		return nil, nil
	case "websocket":
		sub, err := wsfeed.New(wsfeed.Config{
			URLTemplate: lc.URLTemplate,
			APIKey:      a.Cfg.Provider.APIKey,
		})
		if err != nil {
			return nil, err
		}
		return sub, nil
	case "nats":
		sub, err := natsfeed.Connect(lc.NatsURL, lc.SubjectTemplate)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sub.Close)
		return sub, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, lc.Transport)
	}
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("CRM call service starting")

	return nil
}

// Ready reports whether the service accepts new calls.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown ends all live calls and releases every connection.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	if a.Registry != nil {
		if err := a.Registry.Close(ctx); err != nil {
			shutdownLogger.Error().Err(err).Msg("Failed to close call registry")
		}
	}
	a.close()

	shutdownLogger.Info().Msg("CRM call service shut down")
}

func (a *Application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
