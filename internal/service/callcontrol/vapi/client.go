// Package vapi provides a call-control client for the Vapi REST API.
package vapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crm-call-service/internal/models"
	"crm-call-service/internal/observability/logging"
	"crm-call-service/internal/observability/metrics"
	"crm-call-service/internal/service/callcontrol"
)

const defaultBaseURL = "https://api.vapi.ai"

// ErrNotConfigured is returned when no API key or assistant is available.
var ErrNotConfigured = errors.New("vapi: provider not configured")

// Credentials supplies the per-owner assistant and phone number.
type Credentials interface {
	Fetch(ctx context.Context) (*models.ProviderConfig, error)
}

// Client is a Vapi API client.
type Client struct {
	apiKey        string
	baseURL       string
	assistantID   string
	phoneNumberID string
	creds         Credentials
	httpClient    *http.Client
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// Config configures the Vapi client.
type Config struct {
	APIKey        string
	BaseURL       string
	AssistantID   string
	PhoneNumberID string
	Timeout       time.Duration
	Credentials   Credentials
	HTTPClient    *http.Client
}

var _ callcontrol.Client = (*Client)(nil)

// New creates a new Vapi client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: VAPI_API_KEY is required", ErrNotConfigured)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:        cfg.APIKey,
		baseURL:       baseURL,
		assistantID:   cfg.AssistantID,
		phoneNumberID: cfg.PhoneNumberID,
		creds:         cfg.Credentials,
		httpClient:    httpClient,
		metrics:       metrics.DefaultMetrics,
		logger:        logging.WithComponent("vapi"),
	}, nil
}

// Call represents a Vapi call resource.
type Call struct {
	ID          string     `json:"id"`
	AssistantID string     `json:"assistantId"`
	Status      string     `json:"status"`
	Type        string     `json:"type"`
	CreatedAt   *time.Time `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt"`
	EndedReason string     `json:"endedReason"`
	Customer    *Customer  `json:"customer,omitempty"`
}

// Customer is the dialed party.
type Customer struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type createCallBody struct {
	AssistantID   string   `json:"assistantId"`
	PhoneNumberID string   `json:"phoneNumberId"`
	Customer      Customer `json:"customer"`
}

type controlBody struct {
	Type    string `json:"type"`
	Control string `json:"control"`
}

// routing resolves assistant and phone number ids, preferring the stored
// provider configuration over static values.
func (c *Client) routing(ctx context.Context) (assistantID, phoneNumberID string, err error) {
	assistantID, phoneNumberID = c.assistantID, c.phoneNumberID
	if c.creds != nil {
		pc, err := c.creds.Fetch(ctx)
		if err != nil {
			return "", "", fmt.Errorf("load provider config: %w", err)
		}
		if pc.AssistantID != "" {
			assistantID = pc.AssistantID
		}
		if pc.PhoneNumberID != "" {
			phoneNumberID = pc.PhoneNumberID
		}
	}
	if assistantID == "" {
		return "", "", fmt.Errorf("%w: assistant id missing", ErrNotConfigured)
	}
	return assistantID, phoneNumberID, nil
}

// CreateCall initiates an outbound call through the configured assistant.
func (c *Client) CreateCall(ctx context.Context, req callcontrol.CreateCallRequest) (string, error) {
	assistantID, phoneNumberID, err := c.routing(ctx)
	if err != nil {
		return "", err
	}

	body := createCallBody{
		AssistantID:   assistantID,
		PhoneNumberID: phoneNumberID,
		Customer:      Customer{Number: req.PhoneNumber, Name: req.DisplayName},
	}

	var call Call
	if err := c.post(ctx, "create", "/call", body, &call); err != nil {
		return "", err
	}
	if call.ID == "" {
		return "", fmt.Errorf("vapi: create call returned no id")
	}
	return call.ID, nil
}

// GetCall retrieves a call by id.
func (c *Client) GetCall(ctx context.Context, callID string) (*Call, error) {
	var call Call
	if err := c.get(ctx, "status", "/call/"+url.PathEscape(callID), &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// GetStatus returns the provider status of a call.
func (c *Client) GetStatus(ctx context.Context, callID string) (callcontrol.CallStatus, error) {
	call, err := c.GetCall(ctx, callID)
	if err != nil {
		return callcontrol.CallStatus{}, err
	}
	return callcontrol.CallStatus{
		Raw:       call.Status,
		StartedAt: call.StartedAt,
		EndedAt:   call.EndedAt,
	}, nil
}

// EndCall asks the provider to hang up the call.
func (c *Client) EndCall(ctx context.Context, callID string) error {
	return c.post(ctx, "end", "/call/"+url.PathEscape(callID)+"/end", nil, nil)
}

// SetAIMode mutes (operator takes over) or unmutes the assistant.
func (c *Client) SetAIMode(ctx context.Context, callID string, enabled bool) error {
	control := "mute-assistant"
	if enabled {
		control = "unmute-assistant"
	}
	body := controlBody{Type: "control", Control: control}
	return c.post(ctx, "control", "/call/"+url.PathEscape(callID)+"/control", body, nil)
}

// ListCalls returns the calls placed through the configured assistant.
func (c *Client) ListCalls(ctx context.Context) ([]models.CallRecord, error) {
	assistantID, _, err := c.routing(ctx)
	if err != nil {
		return nil, err
	}

	var calls []Call
	if err := c.get(ctx, "list", "/call?assistantId="+url.QueryEscape(assistantID), &calls); err != nil {
		return nil, err
	}

	records := make([]models.CallRecord, 0, len(calls))
	for _, call := range calls {
		if call.AssistantID != "" && call.AssistantID != assistantID {
			continue
		}
		rec := models.CallRecord{
			ID:          call.ID,
			AssistantID: call.AssistantID,
			Status:      call.Status,
			CreatedAt:   call.CreatedAt,
			StartedAt:   call.StartedAt,
			EndedAt:     call.EndedAt,
			EndedReason: call.EndedReason,
		}
		if call.Customer != nil {
			rec.PhoneNumber = call.Customer.Number
		}
		records = append(records, rec)
	}
	return records, nil
}

// Error represents a Vapi API error.
type Error struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("vapi error %d: %s", e.StatusCode, e.Message)
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, op, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(op, req, result)
}

// post performs a POST request with a JSON body.
func (c *Client) post(ctx context.Context, op, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(op, req, result)
}

// do executes a request with authentication.
func (c *Client) do(op string, req *http.Request, result any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordProviderCall(op, time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("Provider request failed")
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var decoded struct {
			Message any    `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(body, &decoded) == nil && decoded.Message != nil {
			apiErr.Message = fmt.Sprint(decoded.Message)
		} else if decoded.Error != "" {
			apiErr.Message = decoded.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		c.logger.Warn().
			Str("op", op).
			Int("statusCode", apiErr.StatusCode).
			Str("message", apiErr.Message).
			Msg("Provider returned an error")
		return apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}
