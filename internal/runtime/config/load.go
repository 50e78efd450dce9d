package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Pick up a local .env file when present so environment overrides behave
	// the same in development and deployment.
	_ = godotenv.Load()
}

// Load builds a Config from an optional YAML file and the process
// environment, then fills remaining zero values with defaults.
// Precedence: defaults < file < environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := fc.apply(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return cfg.ApplyDefaults(), nil
}

// fileConfig is the YAML schema of the config file. Durations are strings in
// Go duration syntax ("45s", "2m") so files stay readable.
type fileConfig struct {
	Broker      string `yaml:"broker"`
	Topic       string `yaml:"topic"`
	Source      string `yaml:"source"`
	PoisonTopic string `yaml:"poison_topic"`

	MaxInFlight         int    `yaml:"max_in_flight"`
	ShutdownGracePeriod string `yaml:"shutdown_grace_period"`

	PublishInitialInterval string  `yaml:"publish_initial_interval"`
	PublishMaxInterval     string  `yaml:"publish_max_interval"`
	PublishTimeout         string  `yaml:"publish_timeout"`
	PublishMultiplier      float64 `yaml:"publish_multiplier"`

	KafkaBrokers       []string `yaml:"kafka_brokers"`
	KafkaConsumerGroup string   `yaml:"kafka_consumer_group"`

	RabbitMQURL string `yaml:"rabbitmq_url"`
	NATSURL     string `yaml:"nats_url"`

	HTTPServerAddress string `yaml:"http_server_address"`
	HTTPPublisherURL  string `yaml:"http_publisher_url"`

	AWSRegion          string `yaml:"aws_region"`
	AWSAccountID       string `yaml:"aws_account_id"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	AWSEndpoint        string `yaml:"aws_endpoint"`

	DatabaseURL      string `yaml:"database_url"`
	DatabaseMinConns int32  `yaml:"database_min_conns"`
	DatabaseMaxConns int32  `yaml:"database_max_conns"`

	MetricsEnabled *bool `yaml:"metrics_enabled"`
	MetricsPort    int   `yaml:"metrics_port"`

	StatsEnabled            *bool    `yaml:"stats_enabled"`
	StatsPort               int      `yaml:"stats_port"`
	StatsCORSAllowedOrigins []string `yaml:"stats_cors_allowed_origins"`
}

func (f fileConfig) apply(c *Config) error {
	setString(&c.Broker, f.Broker)
	setString(&c.Topic, f.Topic)
	setString(&c.Source, f.Source)
	setString(&c.PoisonTopic, f.PoisonTopic)

	if f.MaxInFlight != 0 {
		c.MaxInFlight = f.MaxInFlight
	}
	if err := setDuration(&c.ShutdownGracePeriod, "shutdown_grace_period", f.ShutdownGracePeriod); err != nil {
		return err
	}

	if err := setDuration(&c.PublishInitialInterval, "publish_initial_interval", f.PublishInitialInterval); err != nil {
		return err
	}
	if err := setDuration(&c.PublishMaxInterval, "publish_max_interval", f.PublishMaxInterval); err != nil {
		return err
	}
	if err := setDuration(&c.PublishTimeout, "publish_timeout", f.PublishTimeout); err != nil {
		return err
	}
	if f.PublishMultiplier != 0 {
		c.PublishMultiplier = f.PublishMultiplier
	}

	if len(f.KafkaBrokers) > 0 {
		c.KafkaBrokers = f.KafkaBrokers
	}
	setString(&c.KafkaConsumerGroup, f.KafkaConsumerGroup)
	setString(&c.RabbitMQURL, f.RabbitMQURL)
	setString(&c.NATSURL, f.NATSURL)
	setString(&c.HTTPServerAddress, f.HTTPServerAddress)
	setString(&c.HTTPPublisherURL, f.HTTPPublisherURL)
	setString(&c.AWSRegion, f.AWSRegion)
	setString(&c.AWSAccountID, f.AWSAccountID)
	setString(&c.AWSAccessKeyID, f.AWSAccessKeyID)
	setString(&c.AWSSecretAccessKey, f.AWSSecretAccessKey)
	setString(&c.AWSEndpoint, f.AWSEndpoint)

	setString(&c.DatabaseURL, f.DatabaseURL)
	if f.DatabaseMinConns != 0 {
		c.DatabaseMinConns = f.DatabaseMinConns
	}
	if f.DatabaseMaxConns != 0 {
		c.DatabaseMaxConns = f.DatabaseMaxConns
	}

	if f.MetricsEnabled != nil {
		c.MetricsEnabled = *f.MetricsEnabled
	}
	if f.MetricsPort != 0 {
		c.MetricsPort = f.MetricsPort
	}
	if f.StatsEnabled != nil {
		c.StatsEnabled = *f.StatsEnabled
	}
	if f.StatsPort != 0 {
		c.StatsPort = f.StatsPort
	}
	if len(f.StatsCORSAllowedOrigins) > 0 {
		c.StatsCORSAllowedOrigins = f.StatsCORSAllowedOrigins
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
