package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/oprelay/oprelay/internal/runtime/config"
	errspkg "github.com/oprelay/oprelay/internal/runtime/errors"
	loggingpkg "github.com/oprelay/oprelay/internal/runtime/logging"
	transportpkg "github.com/oprelay/oprelay/internal/runtime/transport"
)

// ServiceDependencies holds the optional collaborators of a Service. Leave
// fields nil to use the built-in wiring derived from the configuration.
type ServiceDependencies struct {
	// TransportFactory overrides how the broker transport is built.
	TransportFactory transportpkg.Factory

	// Executor applies envelope operations to the destination store.
	Executor Executor

	// Processor overrides the whole consume-side processing chain. Takes
	// precedence over Executor.
	Processor Processor

	// ErrorClassifier maps execution errors to outcomes. Defaults to
	// DefaultErrorClassifier.
	ErrorClassifier ErrorClassifier

	// Hooks observe message processing on the consume side.
	Hooks ProcessingHooks

	// StatsRegisterer receives the counters collector. Defaults to
	// prometheus.DefaultRegisterer.
	StatsRegisterer prometheus.Registerer

	// OnStop runs at the end of Stop, after the pipeline has drained. Used
	// to release resources owned by the caller, such as database pools.
	OnStop func()
}

// Service wires the whole relay pipeline for one process: transport, durable
// publisher, bounded consumer, and the stats surface.
//
// A Service without a processing chain (no Processor and no Executor) runs
// publish-only; Start then only brings up the stats endpoints.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	counters  *Counters
	publisher *Publisher
	consumer  *Consumer
	stats     *StatsServer

	onStop func()
}

// NewService builds the pipeline from the configuration. The config is
// defaulted and validated in place; an invalid config fails construction.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		log = loggingpkg.NewNopLogger()
	}

	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating relay service", loggingpkg.LogFields{
		"broker": conf.Broker,
		"topic":  conf.Topic,
		"config": conf,
	})

	s := &Service{
		Conf:     conf,
		Logger:   log,
		counters: NewCounters(),
		onStop:   deps.OnStop,
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	s.publisher, err = NewPublisher(ctx, conf, log, transport.Publisher, s.counters)
	if err != nil {
		return nil, err
	}

	processor, err := buildProcessor(log, deps)
	if err != nil {
		return nil, err
	}

	if processor != nil {
		s.consumer, err = NewConsumer(conf, log, ConsumerDependencies{
			Subscriber:      transport.Subscriber,
			Processor:       processor,
			PoisonPublisher: transport.Publisher,
			Counters:        s.counters,
			Hooks:           deps.Hooks,
		})
		if err != nil {
			return nil, err
		}
	}

	if conf.StatsEnabled || conf.MetricsEnabled {
		statsDeps := StatsDependencies{
			Counters:       s.counters,
			PublisherReady: s.publisher.Ready,
			Registerer:     deps.StatsRegisterer,
		}
		if s.consumer != nil {
			statsDeps.ConsumerReady = s.consumer.Ready
		}
		s.stats, err = NewStatsServer(conf, log, statsDeps)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

// buildProcessor resolves the consume-side processing chain from the
// dependencies. Returns nil when the service has no consume side.
func buildProcessor(log loggingpkg.ServiceLogger, deps ServiceDependencies) (Processor, error) {
	if deps.Processor != nil {
		return deps.Processor, nil
	}
	if deps.Executor == nil {
		return nil, nil
	}

	classifier := deps.ErrorClassifier
	if classifier == nil {
		classifier = DefaultErrorClassifier
	}
	return NewOperationProcessor(deps.Executor, classifier, log)
}

// Publisher returns the durable envelope publisher.
func (s *Service) Publisher() *Publisher { return s.publisher }

// Consumer returns the bounded consumer, or nil for a publish-only service.
func (s *Service) Consumer() *Consumer { return s.consumer }

// Stats returns the stats server, or nil when stats and metrics are disabled.
func (s *Service) Stats() *StatsServer { return s.stats }

// Counters returns the shared pipeline counters.
func (s *Service) Counters() *Counters { return s.counters }

// Start brings up the stats endpoints and, when the service has a consume
// side, starts pulling deliveries. It returns once everything is running.
func (s *Service) Start(ctx context.Context) error {
	if s.stats != nil {
		if err := s.stats.Start(); err != nil {
			return fmt.Errorf("start stats server: %w", err)
		}
	}
	if s.consumer != nil {
		if err := s.consumer.Start(ctx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
	}
	return nil
}

// Stop drains the pipeline: the consumer stops accepting deliveries and
// waits out the grace period, then the publisher and stats server are
// closed. All shutdown errors are reported together.
func (s *Service) Stop(ctx context.Context) error {
	var errs []error

	if s.consumer != nil && s.consumer.Running() {
		if err := s.consumer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.stats != nil {
		if err := s.stats.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.onStop != nil {
		s.onStop()
	}

	return errors.Join(errs...)
}
