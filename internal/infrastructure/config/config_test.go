package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
modbus:
  poll_interval: 15
  sweep_interval: 45
rpc:
  timeout: 20
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	if got := cfg.GetPollInterval(); got != 15*time.Second {
		t.Errorf("GetPollInterval() = %v, want 15s", got)
	}

	if got := cfg.GetRPCTimeout(); got != 20*time.Second {
		t.Errorf("GetRPCTimeout() = %v, want 20s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
database:
  path: "/tmp/test.db"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
site:
  id: "defaults-site"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Modbus.PollInterval != 30 {
		t.Errorf("Modbus.PollInterval = %d, want default 30", cfg.Modbus.PollInterval)
	}
	if cfg.Modbus.FailureThreshold != 3 {
		t.Errorf("Modbus.FailureThreshold = %d, want default 3", cfg.Modbus.FailureThreshold)
	}
	if cfg.RPC.Timeout != 10 {
		t.Errorf("RPC.Timeout = %d, want default 10", cfg.RPC.Timeout)
	}
	if cfg.MQTT.Broker.ClientID != "fieldlink-core" {
		t.Errorf("MQTT.Broker.ClientID = %q, want default %q", cfg.MQTT.Broker.ClientID, "fieldlink-core")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
site:
  id: "env-site"
database:
  path: "/tmp/file.db"
`
	t.Setenv("FIELDLINK_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("FIELDLINK_MQTT_HOST", "broker.internal")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.internal" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "empty site id",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: true,
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Modbus.PollInterval = 0 },
			wantErr: true,
		},
		{
			name:    "zero failure threshold",
			mutate:  func(c *Config) { c.Modbus.FailureThreshold = 0 },
			wantErr: true,
		},
		{
			name:    "zero rpc timeout",
			mutate:  func(c *Config) { c.RPC.Timeout = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
