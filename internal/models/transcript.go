// Package models defines the data structures shared by the call service, its
// HTTP API and its published events.
package models

import "fmt"

// Speaker identifies who produced a transcript line.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerCaller Speaker = "caller"
	SpeakerAI     Speaker = "ai"
)

// ParseSpeaker maps the role tags used by providers onto a Speaker.
func ParseSpeaker(role string) (Speaker, error) {
	switch role {
	case "assistant", "ai", "bot":
		return SpeakerAI, nil
	case "user", "agent", "operator":
		return SpeakerUser, nil
	case "customer", "caller":
		return SpeakerCaller, nil
	default:
		return "", fmt.Errorf("unknown speaker role %q", role)
	}
}

// EntrySource records which feed produced a transcript entry.
type EntrySource string

const (
	SourceLive      EntrySource = "live"
	SourceSynthetic EntrySource = "synthetic"
	SourceSystem    EntrySource = "system"
)

// TranscriptEntry is one line of a call transcript. Entries are kept in
// arrival order; ArrivalIndex is strictly increasing within a session.
type TranscriptEntry struct {
	ID           string      `json:"id"`
	Text         string      `json:"text"`
	TimestampISO string      `json:"timestampIso"`
	Speaker      Speaker     `json:"speaker"`
	ArrivalIndex int         `json:"arrivalIndex"`
	Source       EntrySource `json:"source"`
}

// TranscriptAppended is published for every entry appended to a session transcript.
type TranscriptAppended struct {
	EventType      string          `json:"eventType"`
	SessionID      string          `json:"sessionId"`
	ExternalCallID string          `json:"externalCallId,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	Entry          TranscriptEntry `json:"entry"`
}
