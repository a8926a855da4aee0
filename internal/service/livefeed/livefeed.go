// Package livefeed defines push subscriptions to a provider's live call
// events and the message format carried over them.
package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-call-service/internal/models"
)

// Kind classifies a live message.
type Kind int

const (
	KindUnknown Kind = iota
	KindStatus
	KindTranscript
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindTranscript:
		return "transcript"
	default:
		return "unknown"
	}
}

// Message is one decoded live event.
type Message struct {
	Kind      Kind
	Type      string
	Status    string
	Speaker   models.Speaker
	Text      string
	Timestamp time.Time
}

// ErrMalformedMessage is returned for frames that are not valid live events.
var ErrMalformedMessage = errors.New("malformed live message")

type wireMessage struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	Role       string `json:"role"`
	Speaker    string `json:"speaker"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

// Parse decodes a JSON live event. Unknown event types decode with
// KindUnknown and no error so callers can skip them.
func Parse(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	msg := Message{Type: w.Type}
	switch w.Type {
	case "status-update", "status":
		if w.Status == "" {
			return Message{}, fmt.Errorf("%w: status-update without status", ErrMalformedMessage)
		}
		msg.Kind = KindStatus
		msg.Status = w.Status
	case "transcript":
		text := w.Transcript
		if text == "" {
			text = w.Text
		}
		if strings.TrimSpace(text) == "" {
			return Message{}, fmt.Errorf("%w: transcript without text", ErrMalformedMessage)
		}
		role := w.Role
		if role == "" {
			role = w.Speaker
		}
		speaker, err := models.ParseSpeaker(strings.ToLower(role))
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		msg.Kind = KindTranscript
		msg.Text = text
		msg.Speaker = speaker
		if w.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339Nano, w.Timestamp); err == nil {
				msg.Timestamp = ts
			}
		}
	default:
		msg.Kind = KindUnknown
	}
	return msg, nil
}

// Subscription is an open live feed for one call. Messages is closed when
// the feed terminates; Err then reports why (nil for a clean close).
type Subscription interface {
	Messages() <-chan Message
	Err() error
	Close() error
}

// Subscriber opens live feeds keyed by the provider's call id.
type Subscriber interface {
	Subscribe(ctx context.Context, externalCallID string) (Subscription, error)
}

// Expand substitutes the call id into a URL or subject template.
func Expand(template, externalCallID string) string {
	return strings.ReplaceAll(template, "{callId}", externalCallID)
}
