package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oprelay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Topic != DefaultTopic {
		t.Errorf("Topic = %q, want default %q", cfg.Topic, DefaultTopic)
	}
	if cfg.MaxInFlight != DefaultMaxInFlight {
		t.Errorf("MaxInFlight = %d, want default %d", cfg.MaxInFlight, DefaultMaxInFlight)
	}
	if cfg.PublishTimeout != DefaultPublishTimeout {
		t.Errorf("PublishTimeout = %v, want default %v", cfg.PublishTimeout, DefaultPublishTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
broker: rabbitmq
topic: audit-operations
rabbitmq_url: amqp://localhost:5672/
max_in_flight: 3
shutdown_grace_period: 45s
publish_timeout: 2m
database_min_conns: 2
metrics_enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Broker != "rabbitmq" {
		t.Errorf("Broker = %q, want rabbitmq", cfg.Broker)
	}
	if cfg.Topic != "audit-operations" {
		t.Errorf("Topic = %q, want audit-operations", cfg.Topic)
	}
	if cfg.MaxInFlight != 3 {
		t.Errorf("MaxInFlight = %d, want 3", cfg.MaxInFlight)
	}
	if cfg.ShutdownGracePeriod != 45*time.Second {
		t.Errorf("ShutdownGracePeriod = %v, want 45s", cfg.ShutdownGracePeriod)
	}
	if cfg.PublishTimeout != 2*time.Minute {
		t.Errorf("PublishTimeout = %v, want 2m", cfg.PublishTimeout)
	}
	if cfg.DatabaseMinConns != 2 {
		t.Errorf("DatabaseMinConns = %d, want 2", cfg.DatabaseMinConns)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled = false, want true")
	}

	// Fields the file does not mention still get defaults.
	if cfg.Source != DefaultSource {
		t.Errorf("Source = %q, want default %q", cfg.Source, DefaultSource)
	}
	if cfg.PublishInitialInterval != DefaultPublishInitialInterval {
		t.Errorf("PublishInitialInterval = %v, want default %v", cfg.PublishInitialInterval, DefaultPublishInitialInterval)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
topic: from-file
max_in_flight: 3
shutdown_grace_period: 45s
`)

	t.Setenv("OPRELAY_TOPIC", "from-env")
	t.Setenv("OPRELAY_MAX_IN_FLIGHT", "7")
	t.Setenv("OPRELAY_SHUTDOWN_GRACE_PERIOD", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Topic != "from-env" {
		t.Errorf("Topic = %q, want from-env", cfg.Topic)
	}
	if cfg.MaxInFlight != 7 {
		t.Errorf("MaxInFlight = %d, want 7", cfg.MaxInFlight)
	}
	if cfg.ShutdownGracePeriod != 90*time.Second {
		t.Errorf("ShutdownGracePeriod = %v, want 90s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("OPRELAY_BROKER", "kafka")
	t.Setenv("OPRELAY_KAFKA_BROKERS", "one:9092,two:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Broker != "kafka" {
		t.Errorf("Broker = %q, want kafka", cfg.Broker)
	}
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) != 2 || brokers[0] != "one:9092" || brokers[1] != "two:9092" {
		t.Errorf("KafkaBrokers = %v, want [one:9092 two:9092]", brokers)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfigFile(t, "shutdown_grace_period: banana\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "shutdown_grace_period") {
		t.Errorf("error should name the offending key, got %q", err.Error())
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := writeConfigFile(t, "broker: [unclosed\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
	if !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("error should mention config file parsing, got %q", err.Error())
	}
}
