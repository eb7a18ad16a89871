package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pizza-nz/print-agent/internal/config"
)

// New builds the source named by cfg.Source. token is sent as a bearer
// token where the transport supports headers.
func New(cfg config.Notify, token string, logger *zap.Logger) (Source, error) {
	switch cfg.Source {
	case "websocket":
		return NewWebSocketSource(cfg.WebSocket, cfg.RestaurantID, token, logger), nil
	case "nats":
		return NewNATSSource(cfg.NATS, logger), nil
	case "mqtt":
		return NewMQTTSource(cfg.MQTT, logger), nil
	case "kafka":
		return NewKafkaSource(cfg.Kafka, logger), nil
	case "none", "":
		return nopSource{}, nil
	default:
		return nil, fmt.Errorf("unknown notify source %q", cfg.Source)
	}
}

// nopSource never delivers anything; auto-print is then driven only by the
// HTTP API.
type nopSource struct{}

func (nopSource) Subscribe(ctx context.Context, out chan<- Event) error { return nil }
func (nopSource) Close() error { return nil }
