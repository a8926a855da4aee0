// Package natsfeed subscribes to live call events relayed over NATS.
package natsfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"crm-call-service/internal/observability/logging"
	"crm-call-service/internal/service/livefeed"
)

const messageBuffer = 64

// ErrConnectionClosed is reported to open subscriptions when the NATS
// connection is permanently closed.
var ErrConnectionClosed = errors.New("natsfeed: connection closed")

// Subscriber subscribes to one subject per call on a shared connection.
type Subscriber struct {
	nc              *nats.Conn
	subjectTemplate string
	logger          zerolog.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

var _ livefeed.Subscriber = (*Subscriber)(nil)

// Connect dials NATS and returns a subscriber for subjects built from
// subjectTemplate (containing {callId}).
func Connect(natsURL, subjectTemplate string) (*Subscriber, error) {
	s := &Subscriber{
		subjectTemplate: subjectTemplate,
		logger:          logging.WithComponent("natsfeed"),
		subs:            make(map[*subscription]struct{}),
	}

	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			s.logger.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.failAll(ErrConnectionClosed)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	s.nc = nc
	return s, nil
}

// Subscribe starts delivering events published for the call.
func (s *Subscriber) Subscribe(ctx context.Context, externalCallID string) (livefeed.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subject := livefeed.Expand(s.subjectTemplate, externalCallID)

	sub := newSubscription(s.logger.With().Str("subject", subject).Logger())
	natsSub, err := s.nc.Subscribe(subject, func(m *nats.Msg) {
		sub.deliver(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	sub.unsubscribe = natsSub.Unsubscribe
	sub.onClose = func() { s.forget(sub) }

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Close closes the NATS connection, failing any open subscriptions.
func (s *Subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *Subscriber) forget(sub *subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

func (s *Subscriber) failAll(err error) {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fail(err)
	}
}

type subscription struct {
	in       chan livefeed.Message
	messages chan livefeed.Message
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	logger   zerolog.Logger

	unsubscribe func() error
	onClose     func()

	errMu sync.Mutex
	err   error
}

func newSubscription(logger zerolog.Logger) *subscription {
	sub := &subscription{
		in:       make(chan livefeed.Message),
		messages: make(chan livefeed.Message, messageBuffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go sub.pump()
	return sub
}

// deliver runs on the NATS dispatcher goroutine.
func (s *subscription) deliver(data []byte) {
	msg, err := livefeed.Parse(data)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Skipping malformed live message")
		return
	}
	if msg.Kind == livefeed.KindUnknown {
		s.logger.Debug().Str("type", msg.Type).Msg("Ignoring live message type")
		return
	}
	select {
	case s.in <- msg:
	case <-s.stop:
	}
}

// pump is the only writer to messages, so it alone closes it.
func (s *subscription) pump() {
	defer close(s.done)
	defer close(s.messages)
	for {
		select {
		case msg := <-s.in:
			select {
			case s.messages <- msg:
			case <-s.stop:
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *subscription) Messages() <-chan livefeed.Message {
	return s.messages
}

func (s *subscription) Err() error {
	<-s.done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		if s.unsubscribe != nil {
			if err := s.unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
				s.logger.Debug().Err(err).Msg("Unsubscribe failed")
			}
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	<-s.done
	return nil
}

func (s *subscription) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	_ = s.Close()
}
