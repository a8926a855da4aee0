package app

import (
	"context"
	"errors"
	"testing"

	"crm-call-service/internal/config"
	"crm-call-service/internal/models"
)

func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Provider.Name = "mock"
	cfg.LiveFeed.Transport = "none"
	cfg.Kafka.Enabled = false
	cfg.Repository.DatabaseURL = ""
	cfg.Summarizer.APIKey = ""
	cfg.Observability.LogLevel = "error"
	return cfg
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.Registry == nil || a.Provider == nil || a.CRM == nil || a.Publisher == nil {
		t.Fatal("expected collaborators to be wired")
	}
	if a.Summarizer != nil {
		t.Error("expected summarizer to be disabled without an API key")
	}
	if a.Ready() {
		t.Error("expected not ready before Start")
	}
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.Ready() {
		t.Error("expected ready after Start")
	}

	cfg, err := a.ProviderConfig.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch provider config: %v", err)
	}
	if cfg.OwnerID != "default" {
		t.Errorf("expected owner default, got %s", cfg.OwnerID)
	}

	id, err := a.Registry.StartNewCall(context.Background(), models.Contact{PhoneNumber: "+15551234567"})
	if err != nil || id == "" {
		t.Fatalf("expected call to start, got %q, %v", id, err)
	}
}

func TestNew_UnknownCollaborators(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{"provider", func(c *config.Config) { c.Provider.Name = "carrier-pigeon" }, ErrUnknownProvider},
		{"transport", func(c *config.Config) { c.LiveFeed.Transport = "smoke-signals" }, ErrUnknownTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			if _, err := New(context.Background(), cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestShutdown_EndsCalls(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = a.Start()
	if _, err := a.Registry.StartNewCall(context.Background(), models.Contact{PhoneNumber: "+15551234567"}); err != nil {
		t.Fatalf("start call: %v", err)
	}

	a.Shutdown(context.Background())
	if a.Ready() {
		t.Error("expected not ready after shutdown")
	}
	if _, err := a.Registry.StartNewCall(context.Background(), models.Contact{PhoneNumber: "+15551234567"}); err == nil {
		t.Error("expected error starting a call after shutdown")
	}
}
