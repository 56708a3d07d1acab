package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect dials the NATS server with reconnects enabled forever.
func Connect(url string) (*nats.Conn, error) {
	logger := slog.Default().With("module", "nats")
	return nats.Connect(url,
		nats.Name("trade_go"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(1*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
}

// Subscriber feeds NATS messages to a Router.
type Subscriber struct {
	nc     *nats.Conn
	router *Router
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber on an established connection.
func NewSubscriber(nc *nats.Conn, router *Router) *Subscriber {
	return &Subscriber{
		nc:     nc,
		router: router,
		logger: slog.Default().With("module", "events"),
	}
}

// Start subscribes to every router subject. Handlers run with ctx.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subject := range s.router.Subjects() {
		sub, err := s.nc.Subscribe(subject, func(m *nats.Msg) {
			s.dispatch(ctx, m.Subject, m.Data)
		})
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.logger.Info("Subscribed to trade events", slog.Int("subjects", len(s.subs)))
	return nil
}

func (s *Subscriber) dispatch(ctx context.Context, subject string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Event handler panic recovered", slog.String("subject", subject), slog.Any("panic", r))
		}
	}()
	if err := s.router.Handle(ctx, subject, data); err != nil {
		s.router.metrics.RecordDropped(subject)
		s.logger.Warn("Event dropped", slog.String("subject", subject), slog.Any("error", err))
	}
}

// Stop drains the subscriptions so in-progress handlers finish.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Warn("Drain failed", slog.String("subject", sub.Subject), slog.Any("error", err))
		}
	}
	s.subs = nil
}

func (s *Subscriber) unsubscribeLocked() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("Unsubscribe failed", slog.String("subject", sub.Subject), slog.Any("error", err))
		}
	}
	s.subs = nil
}
