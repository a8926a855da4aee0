// Package callcontrol defines the contract with the external call-control
// provider: creating calls, reading their status, ending them and switching
// the assistant on or off.
package callcontrol

import (
	"context"
	"strings"
	"time"
)

// CreateCallRequest is what a provider needs to place an outbound call.
type CreateCallRequest struct {
	PhoneNumber string
	DisplayName string
}

// Phase is the normalized meaning of a raw provider status.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhasePending
	PhaseActive
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseActive:
		return "active"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// CallStatus is a provider status report.
type CallStatus struct {
	Raw       string
	StartedAt *time.Time
	EndedAt   *time.Time
}

// Phase normalizes the raw status.
func (s CallStatus) Phase() Phase {
	return Normalize(s.Raw)
}

// Client is implemented by every call-control provider.
type Client interface {
	// CreateCall places an outbound call and returns the provider's call id.
	CreateCall(ctx context.Context, req CreateCallRequest) (string, error)

	// GetStatus returns the current status of a call.
	GetStatus(ctx context.Context, callID string) (CallStatus, error)

	// EndCall asks the provider to hang up.
	EndCall(ctx context.Context, callID string) error

	// SetAIMode hands the call to the assistant (true) or to the operator (false).
	SetAIMode(ctx context.Context, callID string, enabled bool) error
}

// Normalize maps a raw provider status string onto a Phase.
func Normalize(raw string) Phase {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "initiated", "ringing", "scheduled":
		return PhasePending
	case "in-progress", "in_progress", "active", "forwarding":
		return PhaseActive
	case "completed", "failed", "no-answer", "ended", "busy", "canceled", "cancelled":
		return PhaseTerminal
	default:
		return PhaseUnknown
	}
}

// IsFailure reports whether a terminal status means the call never connected.
func IsFailure(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "failed", "no-answer", "busy", "canceled", "cancelled":
		return true
	}
	return false
}
