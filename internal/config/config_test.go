package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pizza-nz/print-agent/internal/models"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Printing.OperationTimeout != 8*time.Second {
		t.Errorf("OperationTimeout = %v, want 8s", cfg.Printing.OperationTimeout)
	}
	if cfg.Printing.Roles[models.RoleKitchen] != models.BackendBLE {
		t.Errorf("kitchen backend = %q", cfg.Printing.Roles[models.RoleKitchen])
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	body := `
server:
  address: ":9999"
printing:
  operation_timeout: 5s
  roles:
    kitchen: serial
notify:
  source: nats
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("Address = %q", cfg.Server.Address)
	}
	if cfg.Printing.OperationTimeout != 5*time.Second {
		t.Errorf("OperationTimeout = %v", cfg.Printing.OperationTimeout)
	}
	if cfg.Printing.Roles[models.RoleKitchen] != models.BackendSerial {
		t.Errorf("kitchen backend = %q", cfg.Printing.Roles[models.RoleKitchen])
	}
	if cfg.Printing.Roles[models.RoleOrders] != models.BackendSerial {
		t.Errorf("orders backend lost: %q", cfg.Printing.Roles[models.RoleOrders])
	}
	if cfg.Notify.NATS.NewOrderSubject != "orders.new" {
		t.Errorf("nested default lost: %q", cfg.Notify.NATS.NewOrderSubject)
	}
}

func TestLoadUsesConfigPathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.Printing.OperationTimeout = 0 }},
		{"browser as device backend", func(c *Config) { c.Printing.Roles[models.RoleKitchen] = models.BackendBrowser }},
		{"unknown role", func(c *Config) { c.Printing.Roles["bar"] = models.BackendSerial }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"bad ble mode", func(c *Config) { c.BLE.WriteWithoutResponse = "maybe" }},
		{"no baud rates", func(c *Config) { c.Serial.BaudRates = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
