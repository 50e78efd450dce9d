package oprelay

import (
	"context"
	"fmt"

	runtimepkg "github.com/oprelay/oprelay/internal/runtime"
	configpkg "github.com/oprelay/oprelay/internal/runtime/config"
	errspkg "github.com/oprelay/oprelay/internal/runtime/errors"
	idspkg "github.com/oprelay/oprelay/internal/runtime/ids"
	jsoncodec "github.com/oprelay/oprelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/oprelay/oprelay/internal/runtime/logging"
	metadatapkg "github.com/oprelay/oprelay/internal/runtime/metadata"
	"github.com/oprelay/oprelay/internal/runtime/sqlexec"
	transportpkg "github.com/oprelay/oprelay/internal/runtime/transport"
	newtransport "github.com/oprelay/oprelay/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	// Envelope types
	Envelope        = runtimepkg.Envelope
	Operation       = runtimepkg.Operation
	ValidationError = runtimepkg.ValidationError

	// Publish side
	Publisher    = runtimepkg.Publisher
	PublishError = runtimepkg.PublishError
	BatchResult  = runtimepkg.BatchResult

	// Consume side
	Consumer             = runtimepkg.Consumer
	ConsumerDependencies = runtimepkg.ConsumerDependencies
	Processor            = runtimepkg.Processor
	OperationProcessor   = runtimepkg.OperationProcessor
	Executor             = runtimepkg.Executor
	Outcome              = runtimepkg.Outcome
	ErrorClassifier      = runtimepkg.ErrorClassifier

	// Processing hooks
	MessageContext  = runtimepkg.MessageContext
	ProcessingHooks = runtimepkg.ProcessingHooks

	// Observability
	Counters         = runtimepkg.Counters
	CountersSnapshot = runtimepkg.CountersSnapshot
	StatsServer      = runtimepkg.StatsServer
	PipelineStatus   = runtimepkg.PipelineStatus
	ResourceUsage    = runtimepkg.ResourceUsage

	// SQL execution
	PGExecutor = sqlexec.PGExecutor

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError

	// Transport capabilities
	Capabilities = transportpkg.Capabilities

	// Modular transport types
	TransportBuilder     = newtransport.Builder
	TransportConfig      = newtransport.Config
	TransportRegistry    = newtransport.Registry
	TransportDefinition  = newtransport.Transport
	TopicVerifier        = newtransport.TopicVerifier
	CapabilitiesProvider = newtransport.CapabilitiesProvider
)

// Outcome values returned by processors and error classifiers.
const (
	OutcomeSuccess      = runtimepkg.OutcomeSuccess
	OutcomeRetryable    = runtimepkg.OutcomeRetryable
	OutcomeNonRetryable = runtimepkg.OutcomeNonRetryable
)

// Operation values accepted in envelopes.
const (
	OperationInsert = runtimepkg.OperationInsert
	OperationUpdate = runtimepkg.OperationUpdate
	OperationDelete = runtimepkg.OperationDelete
)

// EventTypeDatabaseOperation is the only event_type this pipeline relays.
const EventTypeDatabaseOperation = runtimepkg.EventTypeDatabaseOperation

var (
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewEnvelope    = runtimepkg.NewEnvelope
	ParseOperation = runtimepkg.ParseOperation

	NewPublisher           = runtimepkg.NewPublisher
	NewConsumer            = runtimepkg.NewConsumer
	NewOperationProcessor  = runtimepkg.NewOperationProcessor
	DefaultErrorClassifier = runtimepkg.DefaultErrorClassifier

	NewCounters          = runtimepkg.NewCounters
	NewCountersCollector = runtimepkg.NewCountersCollector
	NewStatsServer       = runtimepkg.NewStatsServer

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	// SQL execution
	ConnectDatabase  = sqlexec.Connect
	NewPGExecutor    = sqlexec.NewPGExecutor
	ClassifySQLError = sqlexec.ClassifyError

	// Transport capabilities
	GetCapabilities = transportpkg.GetCapabilities

	// Modular transport registry. Import individual transports via:
	// _ "github.com/oprelay/oprelay/transport/kafka"
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrProcessorRequired  = errspkg.ErrProcessorRequired
	ErrExecutorRequired   = errspkg.ErrExecutorRequired
	ErrEnvelopeRequired   = errspkg.ErrEnvelopeRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrTableRequired      = errspkg.ErrTableRequired
	ErrPublisherClosed    = errspkg.ErrPublisherClosed
	ErrTopicNotFound      = newtransport.ErrTopicNotFound
	ErrTopicForbidden     = newtransport.ErrTopicForbidden
	ErrDrainTimeout       = errspkg.ErrDrainTimeout

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID

	// NewEventID generates a unique event ID using ULID.
	NewEventID = idspkg.NewEventID
)

// Metadata keys attached to published envelopes and poison-routed messages.
const (
	MetadataKeySource    = metadatapkg.KeySource
	MetadataKeyEventType = metadatapkg.KeyEventType
	MetadataKeyTimestamp = metadatapkg.KeyTimestamp
	MetadataKeyOperation = metadatapkg.KeyOperation

	MetadataKeyPoisonedReason = metadatapkg.KeyPoisonedReason
	MetadataKeyPoisonedTopic  = metadatapkg.KeyPoisonedTopic
	MetadataKeyPoisonedAt     = metadatapkg.KeyPoisonedAt
)

// NewService builds the relay pipeline from the configuration. When the
// config names a DatabaseURL and no Executor or Processor is supplied, a pgx
// connection pool is opened and wired in as the executor, with SQLSTATE-based
// error classification; the pool is released by Service.Stop.
func NewService(ctx context.Context, conf *Config, log ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf != nil && conf.DatabaseURL != "" && deps.Executor == nil && deps.Processor == nil {
		pool, err := sqlexec.Connect(ctx, conf.DatabaseURL, conf.DatabaseMinConns, conf.DatabaseMaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}

		executor, err := sqlexec.NewPGExecutor(pool, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		deps.Executor = executor
		if deps.ErrorClassifier == nil {
			deps.ErrorClassifier = sqlexec.ClassifyError
		}

		onStop := deps.OnStop
		deps.OnStop = func() {
			pool.Close()
			if onStop != nil {
				onStop()
			}
		}

		svc, err := runtimepkg.NewService(ctx, conf, log, deps)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return svc, nil
	}

	return runtimepkg.NewService(ctx, conf, log, deps)
}
