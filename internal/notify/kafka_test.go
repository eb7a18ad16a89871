package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
)

type scriptedReader struct {
	mu     sync.Mutex
	script []func() (kafkago.Message, error)
	reads  int
	closed bool
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	r.reads++
	if len(r.script) == 0 {
		r.mu.Unlock()
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	next := r.script[0]
	r.script = r.script[1:]
	r.mu.Unlock()
	return next()
}

func (r *scriptedReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func TestKafkaSourceRetriesAfterReadError(t *testing.T) {
	brokerDown := func() (kafkago.Message, error) { return kafkago.Message{}, errors.New("broker unreachable") }
	reader := &scriptedReader{script: []func() (kafkago.Message, error){
		brokerDown,
		brokerDown,
		func() (kafkago.Message, error) {
			return kafkago.Message{Key: []byte("new-order"), Value: []byte(`{"orderId":41}`)}, nil
		},
	}}

	s := NewKafkaSource(config.Kafka{Topic: "orders"}, zap.NewNop())
	s.newReader = func(config.Kafka) messageReader { return reader }
	s.minBackoff = time.Millisecond
	s.maxBackoff = 2 * time.Millisecond

	out := make(chan Event, 1)
	if err := s.Subscribe(context.Background(), out); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-out:
		if evt.Kind != KindNewOrder || evt.OrderID != "41" || evt.Source != "kafka" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered after read errors")
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if reader.reads < 3 || !reader.closed {
		t.Errorf("reads = %d, closed = %v", reader.reads, reader.closed)
	}
}
