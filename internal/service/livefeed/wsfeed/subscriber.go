// Package wsfeed subscribes to live call events over a websocket.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"crm-call-service/internal/observability/logging"
	"crm-call-service/internal/service/livefeed"
)

const (
	defaultConnectTimeout = 10 * time.Second
	messageBuffer         = 64
)

// ErrNoURL is returned when no URL template is configured.
var ErrNoURL = errors.New("wsfeed: url template is required")

// Subscriber dials one websocket per call.
type Subscriber struct {
	urlTemplate    string
	header         http.Header
	dialer         *websocket.Dialer
	connectTimeout time.Duration
	logger         zerolog.Logger
}

// Config configures the websocket subscriber.
type Config struct {
	// URLTemplate contains {callId}, e.g. wss://host/calls/{callId}/events.
	URLTemplate    string
	APIKey         string
	ConnectTimeout time.Duration
	Dialer         *websocket.Dialer
}

var _ livefeed.Subscriber = (*Subscriber)(nil)

// New creates a websocket subscriber.
func New(cfg Config) (*Subscriber, error) {
	if cfg.URLTemplate == "" {
		return nil, ErrNoURL
	}
	header := make(http.Header)
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	return &Subscriber{
		urlTemplate:    cfg.URLTemplate,
		header:         header,
		dialer:         dialer,
		connectTimeout: timeout,
		logger:         logging.WithComponent("wsfeed"),
	}, nil
}

// Subscribe dials the feed for a call and starts reading it.
func (s *Subscriber) Subscribe(ctx context.Context, externalCallID string) (livefeed.Subscription, error) {
	wsURL := livefeed.Expand(s.urlTemplate, externalCallID)

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, s.connectTimeout)
		defer cancel()
	}

	conn, resp, err := s.dialer.DialContext(dialCtx, wsURL, s.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	sub := &subscription{
		conn:     conn,
		messages: make(chan livefeed.Message, messageBuffer),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		logger:   s.logger.With().Str("externalCallId", externalCallID).Logger(),
	}
	go sub.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

type subscription struct {
	conn      *websocket.Conn
	messages  chan livefeed.Message
	done      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	errMu     sync.Mutex
	err       error
	logger    zerolog.Logger
}

func (s *subscription) Messages() <-chan livefeed.Message {
	return s.messages
}

// Err returns the terminal feed error (if any) once the feed has stopped.
func (s *subscription) Err() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close closes the websocket and waits for the read loop to exit.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *subscription) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *subscription) readLoop() {
	defer close(s.done)
	defer close(s.messages)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.setErr(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := livefeed.Parse(data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Skipping malformed live message")
			continue
		}
		if msg.Kind == livefeed.KindUnknown {
			s.logger.Debug().Str("type", msg.Type).Msg("Ignoring live message type")
			continue
		}
		select {
		case s.messages <- msg:
		case <-s.stop:
			return
		}
	}
}
