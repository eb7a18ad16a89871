package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// KafkaSource reads one topic. The event kind comes from the message key
// when it names one; otherwise the value is decoded as an Envelope. Read
// errors are retried with exponential backoff.
type KafkaSource struct {
	cfg        config.Kafka
	newReader  func(config.Kafka) messageReader
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	reader messageReader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewKafkaSource(cfg config.Kafka, logger *zap.Logger) *KafkaSource {
	return &KafkaSource{
		cfg:        cfg,
		newReader:  newKafkaReader,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		logger:     logger.Named("notify.kafka"),
	}
}

func newKafkaReader(cfg config.Kafka) messageReader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
}

func (s *KafkaSource) Subscribe(ctx context.Context, out chan<- Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return errors.New("kafka source already subscribed")
	}

	s.reader = s.newReader(s.cfg)
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx, s.reader, out)
	s.logger.Info("subscribed to push notifications", zap.Strings("brokers", s.cfg.Brokers), zap.String("topic", s.cfg.Topic))
	return nil
}

func (s *KafkaSource) run(ctx context.Context, reader messageReader, out chan<- Event) {
	defer s.wg.Done()
	backoff := s.minBackoff
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("kafka read failed, retrying", zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.maxBackoff)
			continue
		}
		backoff = s.minBackoff

		evt, err := decodeKafka(msg.Key, msg.Value)
		if errors.Is(err, ErrUnknownEvent) {
			continue
		}
		if err != nil {
			s.logger.Warn("dropping malformed push event", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		evt.Source = "kafka"
		if !deliver(ctx, out, evt) {
			return
		}
	}
}

func decodeKafka(key, value []byte) (Event, error) {
	if kind, err := ParseKind(string(key)); err == nil {
		return DecodePayload(kind, value)
	}
	return DecodeEnvelope(value)
}

func (s *KafkaSource) Close() error {
	s.mu.Lock()
	cancel, reader := s.cancel, s.reader
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	if reader != nil {
		return reader.Close()
	}
	return nil
}
