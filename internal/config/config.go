package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/pizza-nz/print-agent/internal/models"
)

// DefaultPath is read when neither --config nor CONFIG_PATH is set.
const DefaultPath = "configs/agent.yaml"

type Config struct {
	Server Server `yaml:"server"`

	Database Database `yaml:"database"`

	JWT JWT `yaml:"jwt"`

	Auth Auth `yaml:"auth"`

	Backend Backend `yaml:"backend"`

	Notify Notify `yaml:"notify"`

	Printing Printing `yaml:"printing"`

	BLE BLE `yaml:"ble"`

	Serial Serial `yaml:"serial"`

	Browser Browser `yaml:"browser"`

	Log Log `yaml:"log"`
}

type Server struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type JWT struct {
	Secret    string `yaml:"secret"`
	ExpiresIn int    `yaml:"expires_in"` // In Hours
}

// Auth holds the operator PIN used to log in to the agent API.
type Auth struct {
	PinHash string `yaml:"pin_hash"` // bcrypt
}

type Database struct {
	Driver   string `yaml:"driver"` // postgres | sqlite
	Path     string `yaml:"path"`   // sqlite only
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// Backend is the POS backend the agent fetches orders from.
type Backend struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"` // static bearer; a JWT is minted when empty
	Timeout time.Duration `yaml:"timeout"`
}

type Notify struct {
	Source       string    `yaml:"source"` // websocket | nats | mqtt | kafka | none
	RestaurantID int       `yaml:"restaurant_id"`
	WebSocket    WebSocket `yaml:"websocket"`
	NATS         NATS      `yaml:"nats"`
	MQTT         MQTT      `yaml:"mqtt"`
	Kafka        Kafka     `yaml:"kafka"`
}

type WebSocket struct {
	URL        string        `yaml:"url"`
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

type NATS struct {
	URL             string `yaml:"url"`
	NewOrderSubject string `yaml:"new_order_subject"`
	ItemsSubject    string `yaml:"items_added_subject"`
}

type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type Printing struct {
	AutoPrint        bool                               `yaml:"auto_print"`
	AutoPrintRole    models.Role                        `yaml:"auto_print_role"`
	OperationTimeout time.Duration                      `yaml:"operation_timeout"`
	HistoryRetention time.Duration                      `yaml:"history_retention"`
	Roles            map[models.Role]models.BackendKind `yaml:"roles"`
}

type BLE struct {
	ScanWindow   time.Duration `yaml:"scan_window"`
	NamePrefixes []string      `yaml:"name_prefixes"`
	// WriteWithoutResponse is auto, on or off.
	WriteWithoutResponse string `yaml:"write_without_response"`
}

type Serial struct {
	BaudRates     []int         `yaml:"baud_rates"`
	WatchInterval time.Duration `yaml:"watch_interval"`
	// Ports lists non-USB ports (e.g. /dev/ttyS0) that may be used.
	// USB ports are always listed.
	Ports []string `yaml:"ports"`
}

type Browser struct {
	SpoolDir string   `yaml:"spool_dir"`
	Command  []string `yaml:"command"` // e.g. [lp, -d, kitchen]; the document path is appended
	Title    string   `yaml:"title"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// Defaults returns the configuration used for every key the file omits.
func Defaults() Config {
	return Config{
		Server: Server{
			Address:         ":8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			Driver: "sqlite",
			Path:   "print-agent.db",
		},
		JWT: JWT{ExpiresIn: 12},
		Backend: Backend{
			BaseURL: "http://localhost:4000",
			Timeout: 10 * time.Second,
		},
		Notify: Notify{
			Source:       "websocket",
			RestaurantID: 1,
			WebSocket: WebSocket{
				URL:        "http://localhost:4000",
				MinBackoff: time.Second,
				MaxBackoff: 30 * time.Second,
			},
			NATS: NATS{
				URL:             "nats://localhost:4222",
				NewOrderSubject: "orders.new",
				ItemsSubject:    "orders.items_added",
			},
			MQTT: MQTT{
				Broker:      "tcp://localhost:1883",
				ClientID:    "print-agent",
				TopicPrefix: "restaurant/1",
				QoS:         1,
			},
			Kafka: Kafka{
				Brokers: []string{"localhost:9092"},
				Topic:   "orders",
				GroupID: "print-agent",
			},
		},
		Printing: Printing{
			AutoPrint:        true,
			AutoPrintRole:    models.RoleKitchen,
			OperationTimeout: 8 * time.Second,
			HistoryRetention: 30 * 24 * time.Hour,
			Roles: map[models.Role]models.BackendKind{
				models.RoleKitchen: models.BackendBLE,
				models.RoleOrders:  models.BackendSerial,
			},
		},
		BLE: BLE{
			ScanWindow:           5 * time.Second,
			NamePrefixes:         []string{"POS", "Printer", "BT", "BlueTooth Printer"},
			WriteWithoutResponse: "auto",
		},
		Serial: Serial{
			BaudRates:     []int{9600, 115200},
			WatchInterval: 2 * time.Second,
		},
		Browser: Browser{
			SpoolDir: os.TempDir() + "/print-agent",
			Title:    "Comanda de Cocina",
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path over Defaults. An empty path falls back
// to CONFIG_PATH and then DefaultPath; a missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			path = envPath
		}
	}

	cfg := Defaults()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &cfg, cfg.Validate()
		}
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &cfg, cfg.Validate()
}

// Validate rejects settings the agent cannot start with.
func (c *Config) Validate() error {
	if c.Printing.OperationTimeout <= 0 {
		return errors.New("printing.operation_timeout must be positive")
	}
	if _, err := models.ParseRole(string(c.Printing.AutoPrintRole)); err != nil {
		return fmt.Errorf("printing.auto_print_role: %w", err)
	}
	for role, backend := range c.Printing.Roles {
		if _, err := models.ParseRole(string(role)); err != nil {
			return fmt.Errorf("printing.roles: %w", err)
		}
		if !backend.Physical() {
			return fmt.Errorf("printing.roles.%s: backend %q is not a device backend", role, backend)
		}
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.BLE.WriteWithoutResponse {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("ble.write_without_response must be auto, on or off")
	}
	if len(c.Serial.BaudRates) == 0 {
		return errors.New("serial.baud_rates must not be empty")
	}
	return nil
}
