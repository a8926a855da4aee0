package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestSummarizer(t *testing.T, handler http.HandlerFunc) *Summarizer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s, err := New(&Config{APIKey: "gsk_test", BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("failed to create summarizer: %v", err)
	}
	return s
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(&Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := New(nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured for nil config, got %v", err)
	}
}

func TestSummarize_Success(t *testing.T) {
	var got chatRequest
	s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer gsk_test" {
			t.Errorf("expected bearer auth, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"# Company Overview\nAnvils."}}]}`))
	})

	summary, err := s.Summarize(context.Background(), "  Acme sells anvils.  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "# Company Overview\nAnvils." {
		t.Errorf("unexpected summary %q", summary)
	}

	if got.Model != defaultModel {
		t.Errorf("expected model %s, got %s", defaultModel, got.Model)
	}
	if got.Temperature != 0 {
		t.Errorf("expected temperature 0, got %v", got.Temperature)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "Acme sells anvils." {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestSummarize_EmptyInput(t *testing.T) {
	s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("expected no upstream request for empty input")
	})
	if _, err := s.Summarize(context.Background(), " \n\t "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestSummarize_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantErr    error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"rate limit reached"}}`, http.StatusTooManyRequests, nil},
		{"plain text error", http.StatusBadGateway, `upstream down`, http.StatusBadGateway, nil},
		{"no choices", http.StatusOK, `{"choices":[]}`, 0, ErrNoChoices},
		{"blank choice", http.StatusOK, `{"choices":[{"message":{"content":"  "}}]}`, 0, ErrNoChoices},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSummarizer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := s.Summarize(context.Background(), "text")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			var upstream *Error
			if !errors.As(err, &upstream) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if upstream.StatusCode != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, upstream.StatusCode)
			}
		})
	}
}
