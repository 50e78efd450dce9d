// Package transport defines the core interfaces and types for oprelay
// transports. Each broker implementation (kafka, rabbitmq, aws, etc.) lives
// in its own sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
// Each transport package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetBroker returns the transport type name.
	GetBroker() string

	// GetMaxInFlight caps concurrent unacked deliveries; transports that
	// support prefetch limits apply it broker-side as well.
	GetMaxInFlight() int

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS (core and JetStream)
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// Errors returned by VerifyTopic implementations. ErrTopicNotFound and
// ErrTopicForbidden are fatal to publisher construction; verification that a
// transport simply cannot perform is not.
var (
	ErrTopicNotFound                = errors.New("transport: topic does not exist")
	ErrTopicForbidden               = errors.New("transport: topic access denied")
	ErrTopicVerificationUnsupported = errors.New("transport: topic verification not supported")
)

// TopicVerifier is implemented by publishers that can check a topic exists
// and is writable before any message is sent, so a misconfigured destination
// fails at startup instead of on the first publish.
type TopicVerifier interface {
	VerifyTopic(ctx context.Context, topic string) error
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
