package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"

	configpkg "github.com/oprelay/oprelay/internal/runtime/config"
	errspkg "github.com/oprelay/oprelay/internal/runtime/errors"
	idspkg "github.com/oprelay/oprelay/internal/runtime/ids"
	jsoncodec "github.com/oprelay/oprelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/oprelay/oprelay/internal/runtime/logging"
	metadatapkg "github.com/oprelay/oprelay/internal/runtime/metadata"
	transportpkg "github.com/oprelay/oprelay/transport"
)

// PublishError reports a publish that gave up after exhausting its retry
// budget or hitting a permanent failure.
type PublishError struct {
	Topic    string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("oprelay: publish to %q failed after %d attempt(s) in %s: %v",
		e.Topic, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// BatchResult reports the outcome for one envelope of a batch publish.
type BatchResult struct {
	MessageID string
	Err       error
}

// NewMessageFromEnvelope converts a validated envelope into a Watermill
// message with the standard attributes required by the relay pipeline.
func NewMessageFromEnvelope(env *Envelope) (*message.Message, error) {
	if env == nil {
		return nil, errspkg.ErrEnvelopeRequired
	}

	payload, err := jsoncodec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(env.Attributes())
	return msg, nil
}

// Publisher delivers envelopes to the configured broker topic, retrying
// transient failures with exponential backoff until the publish deadline
// expires. It is safe for concurrent use.
type Publisher struct {
	topic     string
	publisher message.Publisher
	logger    loggingpkg.ServiceLogger
	counters  *Counters

	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	timeout         time.Duration

	closed atomic.Bool
}

// NewPublisher wires a transport publisher into a durable envelope publisher.
// When the transport can verify topics, the destination is checked up front:
// a missing or forbidden topic fails construction instead of surfacing on the
// first publish. Zero retry tuning falls back to the config defaults.
func NewPublisher(ctx context.Context, conf *configpkg.Config, logger loggingpkg.ServiceLogger, pub message.Publisher, counters *Counters) (*Publisher, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if conf.Topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}

	if verifier, ok := pub.(transportpkg.TopicVerifier); ok {
		switch err := verifier.VerifyTopic(ctx, conf.Topic); {
		case err == nil:
			logger.Debug("Topic verified", loggingpkg.LogFields{"topic": conf.Topic})
		case errors.Is(err, transportpkg.ErrTopicVerificationUnsupported):
			logger.Debug("Transport cannot verify topics, continuing", loggingpkg.LogFields{"topic": conf.Topic})
		default:
			return nil, fmt.Errorf("verify topic %q: %w", conf.Topic, err)
		}
	}

	p := &Publisher{
		topic:           conf.Topic,
		publisher:       pub,
		logger:          logger,
		counters:        counters,
		initialInterval: conf.PublishInitialInterval,
		maxInterval:     conf.PublishMaxInterval,
		multiplier:      conf.PublishMultiplier,
		timeout:         conf.PublishTimeout,
	}
	if p.initialInterval <= 0 {
		p.initialInterval = configpkg.DefaultPublishInitialInterval
	}
	if p.maxInterval <= 0 {
		p.maxInterval = configpkg.DefaultPublishMaxInterval
	}
	if p.multiplier < 1 {
		p.multiplier = configpkg.DefaultPublishMultiplier
	}
	if p.timeout <= 0 {
		p.timeout = configpkg.DefaultPublishTimeout
	}
	return p, nil
}

// Publish validates env and delivers it to the configured topic. The
// envelope's event_id is assigned at creation and never changes across
// publish attempts; each attempt gets a fresh broker message UUID, which is
// returned on success.
func (p *Publisher) Publish(ctx context.Context, env *Envelope) (string, error) {
	p.counters.IncReceived()
	if p.closed.Load() {
		return "", errspkg.ErrPublisherClosed
	}
	if env == nil {
		return "", errspkg.ErrEnvelopeRequired
	}
	if err := env.Validate(); err != nil {
		return "", err
	}

	payload, err := jsoncodec.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	start := time.Now()
	attempts := 0
	operation := func() (string, error) {
		attempts++
		if p.closed.Load() {
			return "", backoff.Permanent(errspkg.ErrPublisherClosed)
		}

		msg := message.NewMessage(idspkg.CreateULID(), payload)
		msg.Metadata = metadatapkg.ToWatermill(env.Attributes())
		msg.SetContext(ctx)

		if err := p.publisher.Publish(p.topic, msg); err != nil {
			if errors.Is(err, transportpkg.ErrTopicNotFound) || errors.Is(err, transportpkg.ErrTopicForbidden) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return msg.UUID, nil
	}

	messageID, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxElapsedTime(p.timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Debug("Publish attempt failed, backing off", loggingpkg.LogFields{
				"topic":    p.topic,
				"event_id": env.EventID,
				"attempt":  attempts,
				"next_try": next.String(),
				"error":    err.Error(),
			})
		}),
	)
	if err != nil {
		p.counters.IncPublishFailure()
		p.logger.Error("Publish failed", err, loggingpkg.LogFields{
			"topic":    p.topic,
			"event_id": env.EventID,
			"attempts": attempts,
		})
		return "", &PublishError{Topic: p.topic, Attempts: attempts, Elapsed: time.Since(start), Err: err}
	}

	p.counters.IncPublishSuccess()
	p.logger.Trace("Envelope published", loggingpkg.LogFields{
		"topic":      p.topic,
		"event_id":   env.EventID,
		"message_id": messageID,
		"attempts":   attempts,
	})
	return messageID, nil
}

// PublishBatch publishes every envelope concurrently and reports per-envelope
// outcomes. The result slice has the same length and order as envs; a failed
// entry never aborts the others.
func (p *Publisher) PublishBatch(ctx context.Context, envs []*Envelope) []BatchResult {
	results := make([]BatchResult, len(envs))

	var wg sync.WaitGroup
	for i, env := range envs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := p.Publish(ctx, env)
			results[i] = BatchResult{MessageID: id, Err: err}
		}()
	}
	wg.Wait()

	return results
}

// Ready reports whether the publisher can accept envelopes.
func (p *Publisher) Ready() bool {
	return p != nil && !p.closed.Load()
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string { return p.topic }

// Close stops accepting envelopes and shuts the transport publisher down.
// Close is idempotent.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.publisher.Close()
}

func (p *Publisher) newBackOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.initialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.multiplier,
		MaxInterval:         p.maxInterval,
	}
}
