package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
)

// NATSSource subscribes to one subject per event kind. Messages carry the
// bare payload, the kind comes from the subject.
type NATSSource struct {
	cfg    config.NATS
	logger *zap.Logger

	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
}

func NewNATSSource(cfg config.NATS, logger *zap.Logger) *NATSSource {
	return &NATSSource{cfg: cfg, logger: logger.Named("notify.nats")}
}

func (s *NATSSource) Subscribe(ctx context.Context, out chan<- Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return errors.New("nats source already subscribed")
	}

	conn, err := nats.Connect(s.cfg.URL,
		nats.Name("print-agent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.logger.Warn("disconnected from NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.logger.Info("reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	subjects := map[string]Kind{
		s.cfg.NewOrderSubject: KindNewOrder,
		s.cfg.ItemsSubject:    KindItemsAdded,
	}
	for subject, kind := range subjects {
		kind := kind
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			s.handle(ctx, out, kind, msg.Data)
		})
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.conn = conn
	s.logger.Info("subscribed to push notifications",
		zap.String("url", s.cfg.URL),
		zap.String("new_order", s.cfg.NewOrderSubject),
		zap.String("items_added", s.cfg.ItemsSubject))
	return nil
}

func (s *NATSSource) handle(ctx context.Context, out chan<- Event, kind Kind, data []byte) {
	evt, err := DecodePayload(kind, data)
	if err != nil {
		s.logger.Warn("dropping malformed push event", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	evt.Source = "nats"
	deliver(ctx, out, evt)
}

func (s *NATSSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
