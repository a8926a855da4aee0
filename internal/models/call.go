package models

import "time"

// Contact is the party being dialed. It is never modified once a session is
// created from it.
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PhoneNumber string `json:"phoneNumber"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// CallSnapshot is a read-only copy of a call session for rendering.
type CallSnapshot struct {
	ID              string            `json:"id"`
	ExternalCallID  string            `json:"externalCallId,omitempty"`
	Contact         Contact           `json:"contact"`
	State           string            `json:"state"`
	StatusLabel     string            `json:"statusLabel"`
	CreatedAt       time.Time         `json:"createdAt"`
	DurationSeconds int               `json:"durationSeconds"`
	Muted           bool              `json:"muted"`
	OnHold          bool              `json:"onHold"`
	SpeakerOn       bool              `json:"speakerOn"`
	AIMode          bool              `json:"aiMode"`
	OfflineMode     bool              `json:"offlineMode"`
	FeedMode        string            `json:"feedMode"`
	EndReason       string            `json:"endReason,omitempty"`
	Transcript      []TranscriptEntry `json:"transcript,omitempty"`
}

// CallStateChanged is published on every lifecycle transition.
type CallStateChanged struct {
	EventType      string `json:"eventType"`
	SessionID      string `json:"sessionId"`
	ExternalCallID string `json:"externalCallId,omitempty"`
	From           string `json:"from"`
	To             string `json:"to"`
	Reason         string `json:"reason,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

// CallRecord is a call as reported by the provider's call listing.
type CallRecord struct {
	ID          string     `json:"id"`
	AssistantID string     `json:"assistantId,omitempty"`
	Status      string     `json:"status"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	EndedReason string     `json:"endedReason,omitempty"`
}
