// Package summarize condenses company documents into a structured context
// summary using an OpenAI-compatible chat completion API (Groq by default).
package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crm-call-service/internal/observability/logging"
	"crm-call-service/internal/observability/metrics"
)

const (
	defaultBaseURL = "https://api.groq.com/openai/v1"
	defaultModel   = "llama-3.1-8b-instant"
)

var (
	// ErrEmptyInput is returned for blank text.
	ErrEmptyInput = errors.New("summarize: input text is empty")
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("summarize: api key not configured")
	// ErrNoChoices is returned when the model produced no completion.
	ErrNoChoices = errors.New("summarize: empty completion")
)

// SystemPrompt instructs the model how to structure the summary.
const SystemPrompt = `Summarize the provided company document comprehensively. Retain brand identity, operations, sales strategies, organizational structure and other key elements, presented in a well-organized format.

Structure the summary under these headings:
# Company Overview
Mission, vision and industry positioning.
# Brand Identity
Core values, branding elements, messaging and unique selling points.
# Products/Services
Offerings, their features and target markets.
# Sales and Marketing Strategies
Sales models, marketing channels, customer acquisition and revenue streams.
# Operational Structure
Key departments, workflow and internal processes.
# Financial Insights
Revenue models, investment strategies and financial highlights, if available.
# Key Takeaways
Major insights, strengths and challenges.

Preserve numbers, statistics, names and industry terms exactly. Keep the original tone and intent. Condense repeated points into one statement. Use consistent formatting and bullet points where they help readability.`

// Config configures the summarizer.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Summarizer calls the chat completion endpoint.
type Summarizer struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// Error is a non-2xx response from the completion API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("summarize: upstream error (status %d): %s", e.StatusCode, e.Message)
}

// New creates a summarizer. It fails without an API key.
func New(cfg *Config) (*Summarizer, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Summarizer{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("summarize"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize returns the structured summary of text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}

	body, err := json.Marshal(chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	s.metrics.RecordProviderCall("summarize", time.Since(start).Seconds())
	if err != nil {
		s.logger.Warn().Err(err).Str("model", s.model).Msg("Completion request failed")
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		var er errorResponse
		if json.Unmarshal(respBody, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		s.logger.Warn().Int("statusCode", resp.StatusCode).Str("model", s.model).Msg("Completion API returned an error")
		return "", &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", ErrNoChoices
	}
	return cr.Choices[0].Message.Content, nil
}
