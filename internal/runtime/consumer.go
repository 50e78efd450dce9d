package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/oprelay/oprelay/internal/runtime/config"
	errspkg "github.com/oprelay/oprelay/internal/runtime/errors"
	loggingpkg "github.com/oprelay/oprelay/internal/runtime/logging"
	metadatapkg "github.com/oprelay/oprelay/internal/runtime/metadata"
)

// ConsumerDependencies carries the collaborators a consumer needs. Subscriber
// and Processor are required; the rest are optional.
type ConsumerDependencies struct {
	Subscriber message.Subscriber
	Processor  Processor

	// PoisonPublisher delivers permanently failed messages to the poison
	// topic. Required when the config sets one.
	PoisonPublisher message.Publisher

	Counters *Counters
	Hooks    ProcessingHooks
}

// Consumer pulls deliveries from the broker topic and processes them on a
// bounded worker pool. At most MaxInFlight messages are outstanding (received
// but not yet acked or nacked) at any time; the worker that processed a
// message is the one that settles it.
type Consumer struct {
	topic       string
	poisonTopic string
	subscriber  message.Subscriber
	poisonPub   message.Publisher
	processor   Processor
	logger      loggingpkg.ServiceLogger
	counters    *Counters
	hooks       ProcessingHooks
	maxInFlight int
	grace       time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConsumer validates the wiring and builds a consumer. Start must be
// called before any message is delivered.
func NewConsumer(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ConsumerDependencies) (*Consumer, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if deps.Subscriber == nil {
		return nil, errspkg.ErrSubscriberRequired
	}
	if deps.Processor == nil {
		return nil, errspkg.ErrProcessorRequired
	}
	if conf.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if conf.PoisonTopic != "" && deps.PoisonPublisher == nil {
		return nil, fmt.Errorf("poison topic %q configured: %w", conf.PoisonTopic, errspkg.ErrPublisherRequired)
	}
	if log == nil {
		log = loggingpkg.NewNopLogger()
	}

	maxInFlight := conf.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = configpkg.DefaultMaxInFlight
	}
	grace := conf.ShutdownGracePeriod
	if grace <= 0 {
		grace = configpkg.DefaultShutdownGracePeriod
	}

	return &Consumer{
		topic:       conf.Topic,
		poisonTopic: conf.PoisonTopic,
		subscriber:  deps.Subscriber,
		poisonPub:   deps.PoisonPublisher,
		processor:   deps.Processor,
		logger:      log,
		counters:    deps.Counters,
		hooks:       deps.Hooks,
		maxInFlight: maxInFlight,
		grace:       grace,
	}, nil
}

// Start subscribes to the topic and launches the worker pool. It returns
// immediately; processing continues until Stop is called or ctx is
// cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errspkg.ErrConsumerRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	messages, err := c.subscriber.Subscribe(runCtx, c.topic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to %q: %w", c.topic, err)
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	var wg sync.WaitGroup
	for i := 0; i < c.maxInFlight; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.runWorker(worker, messages)
		}(i)
	}
	done := c.done
	go func() {
		wg.Wait()
		close(done)
	}()

	c.logger.Info("Consumer started", loggingpkg.LogFields{
		"topic":         c.topic,
		"max_in_flight": c.maxInFlight,
	})
	return nil
}

// Stop cancels the subscription and waits for in-flight messages to finish.
// It returns ErrDrainTimeout when the grace period elapses first. The
// subscriber itself is owned by the transport and is not closed here.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return errspkg.ErrConsumerStopped
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.mu.Unlock()

	cancel()

	timer := time.NewTimer(c.grace)
	defer timer.Stop()

	select {
	case <-done:
		c.logger.Info("Consumer stopped", loggingpkg.LogFields{"topic": c.topic})
		return nil
	case <-timer.C:
		c.logger.Error("Consumer drain timed out", errspkg.ErrDrainTimeout, loggingpkg.LogFields{
			"topic":        c.topic,
			"grace_period": c.grace.String(),
		})
		return errspkg.ErrDrainTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the consumer has been started and not yet stopped.
func (c *Consumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Ready reports whether the consumer is subscribed and taking deliveries.
func (c *Consumer) Ready() bool {
	return c != nil && c.Running()
}

func (c *Consumer) runWorker(worker int, messages <-chan *message.Message) {
	log := c.logger.With(loggingpkg.LogFields{"worker": worker})
	for msg := range messages {
		c.handleMessage(log, msg)
	}
}

func (c *Consumer) handleMessage(log loggingpkg.ServiceLogger, msg *message.Message) {
	c.counters.IncReceived()
	start := time.Now()

	mc := MessageContext{
		Topic:       c.topic,
		MessageUUID: msg.UUID,
		Metadata:    msg.Metadata,
		Context:     msg.Context(),
		StartedAt:   start,
	}
	if c.hooks.OnStart != nil {
		c.hooks.OnStart(mc)
	}

	outcome, err := c.process(msg)

	mc.Duration = time.Since(start)
	mc.Outcome = outcome

	switch outcome {
	case OutcomeSuccess:
		c.counters.IncProcessedSuccess()
		msg.Ack()
		log.Trace("Message processed", loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"duration":     mc.Duration.String(),
		})
		if c.hooks.OnDone != nil {
			c.hooks.OnDone(mc)
		}

	case OutcomeNonRetryable:
		c.counters.IncProcessedFailure()
		if c.poisonTopic != "" && c.routePoison(log, msg, err) {
			c.counters.IncDeadLettered()
			msg.Ack()
		} else {
			msg.Nack()
		}
		if c.hooks.OnError != nil {
			c.hooks.OnError(mc, err)
		}

	default:
		c.counters.IncProcessedFailure()
		msg.Nack()
		log.Debug("Processing failed, message nacked", loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"error":        errString(err),
		})
		if c.hooks.OnError != nil {
			c.hooks.OnError(mc, err)
		}
	}
}

// process runs the processor inside a span and converts panics into
// retryable failures so one bad message cannot take a worker down.
func (c *Consumer) process(msg *message.Message) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeRetryable
			err = fmt.Errorf("panic while processing message %s: %v", msg.UUID, r)
			c.logger.Error("Recovered from processing panic", err, loggingpkg.LogFields{
				"message_uuid": msg.UUID,
			})
		}
	}()

	tracer := otel.Tracer("oprelay-consumer")
	ctx, span := tracer.Start(msg.Context(), "oprelay.process",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	msg.SetContext(ctx)

	span.SetAttributes(
		attribute.String("message.uuid", msg.UUID),
		attribute.String("message.topic", c.topic),
	)

	outcome, err = c.processor.Process(ctx, msg.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.String())
	}
	return outcome, err
}

// routePoison forwards a permanently failed message to the poison topic,
// carrying the original payload and metadata plus the failure annotations.
// It reports whether the handoff succeeded; on false the caller nacks.
func (c *Consumer) routePoison(log loggingpkg.ServiceLogger, msg *message.Message, cause error) bool {
	poisoned := message.NewMessage(msg.UUID, msg.Payload)
	poisoned.Metadata = metadatapkg.ToWatermill(
		metadatapkg.FromWatermill(msg.Metadata).
			With(metadatapkg.KeyPoisonedReason, errString(cause)).
			With(metadatapkg.KeyPoisonedTopic, c.topic).
			With(metadatapkg.KeyPoisonedAt, time.Now().UTC().Format(time.RFC3339Nano)),
	)

	if err := c.poisonPub.Publish(c.poisonTopic, poisoned); err != nil {
		log.Error("Poison publish failed, message nacked", err, loggingpkg.LogFields{
			"message_uuid": msg.UUID,
			"poison_topic": c.poisonTopic,
		})
		return false
	}

	log.Info("Message routed to poison topic", loggingpkg.LogFields{
		"message_uuid": msg.UUID,
		"poison_topic": c.poisonTopic,
		"reason":       errString(cause),
	})
	return true
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
