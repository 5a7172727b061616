package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes content to a config.yaml in a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
mqtt:
  broker:
    host: "test.mosquitto.org"
    port: 8080
    scheme: "ws"
    client_id: "test-client"
  qos: 1
  subscriptions:
    - topic: "sensors/#"
      qos: 1
    - topic: "alerts/fire"
database:
  enabled: true
  path: "/tmp/test.db"
api:
  host: "0.0.0.0"
  port: 8090
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "test.mosquitto.org" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "test.mosquitto.org")
	}
	if cfg.MQTT.Broker.ClientID != "test-client" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "test-client")
	}
	if len(cfg.MQTT.Subscriptions) != 2 {
		t.Fatalf("len(MQTT.Subscriptions) = %d, want 2", len(cfg.MQTT.Subscriptions))
	}
	if cfg.MQTT.Subscriptions[0].Topic != "sensors/#" || cfg.MQTT.Subscriptions[0].QoS != 1 {
		t.Errorf("MQTT.Subscriptions[0] = %+v", cfg.MQTT.Subscriptions[0])
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	// Defaults survive a partial file.
	if cfg.MQTT.Broker.Path != "/mqtt" {
		t.Errorf("MQTT.Broker.Path = %q, want default /mqtt", cfg.MQTT.Broker.Path)
	}
	if cfg.MQTT.ConnectTimeout != 3 {
		t.Errorf("MQTT.ConnectTimeout = %d, want default 3", cfg.MQTT.ConnectTimeout)
	}
}

func TestLoad_GeneratesClientID(t *testing.T) {
	content := `
mqtt:
  broker:
    host: "localhost"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !strings.HasPrefix(cfg.MQTT.Broker.ClientID, "graylogic-mqtt-") {
		t.Errorf("MQTT.Broker.ClientID = %q, want graylogic-mqtt- prefix", cfg.MQTT.Broker.ClientID)
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
mqtt:
  broker:
    host: ""
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty mqtt.broker.host, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.MQTT.Broker.ClientID = "client"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing broker host",
			mutate:  func(c *Config) { c.MQTT.Broker.Host = "" },
			wantErr: true,
		},
		{
			name:    "invalid broker port",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 0 },
			wantErr: true,
		},
		{
			name:    "unknown scheme",
			mutate:  func(c *Config) { c.MQTT.Broker.Scheme = "http" },
			wantErr: true,
		},
		{
			name:    "upper case scheme accepted",
			mutate:  func(c *Config) { c.MQTT.Broker.Scheme = "TCP" },
			wantErr: false,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.MQTT.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name: "subscription without topic",
			mutate: func(c *Config) {
				c.MQTT.Subscriptions = []MQTTSubscriptionConfig{{Topic: "", QoS: 0}}
			},
			wantErr: true,
		},
		{
			name: "subscription with invalid QoS",
			mutate: func(c *Config) {
				c.MQTT.Subscriptions = []MQTTSubscriptionConfig{{Topic: "a/b", QoS: 5}}
			},
			wantErr: true,
		},
		{
			name: "database enabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: true,
		},
		{
			name: "influxdb enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
			},
			wantErr: true,
		},
		{
			name:    "api port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name: "api port ignored when disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		MQTT: MQTTConfig{ConnectTimeout: 3},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Database: DatabaseConfig{Retention: 24},
	}

	if got := cfg.GetConnectTimeout(); got != 3*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 3s", got)
	}
	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetRetention(); got != 24*time.Hour {
		t.Errorf("GetRetention() = %v, want 24h", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_PORT", "1883")
	t.Setenv("GRAYLOGIC_MQTT_CLIENT_ID", "env-client")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ClientID != "env-client" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "env-client")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 8080 {
		t.Errorf("MQTT.Broker.Port = %d, want default 8080", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Scheme != "ws" {
		t.Errorf("defaultConfig MQTT.Broker.Scheme = %q, want ws", cfg.MQTT.Broker.Scheme)
	}
	if cfg.MQTT.Broker.Port != 8080 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 8080", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.ConnectTimeout != 3 {
		t.Errorf("defaultConfig MQTT.ConnectTimeout = %d, want 3", cfg.MQTT.ConnectTimeout)
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}
}

func TestGenerateClientID(t *testing.T) {
	a := GenerateClientID()
	b := GenerateClientID()

	if a == b {
		t.Errorf("GenerateClientID() returned duplicate %q", a)
	}
	if len(a) != len("graylogic-mqtt-")+8 {
		t.Errorf("GenerateClientID() = %q, unexpected length", a)
	}
}
