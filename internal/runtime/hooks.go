package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/oprelay/oprelay/internal/runtime/logging"
)

// MessageContext provides information about one delivery to hooks.
type MessageContext struct {
	// Topic is the topic the message was received from.
	Topic string
	// MessageUUID is the unique identifier of the broker message.
	MessageUUID string
	// Metadata contains the message metadata.
	Metadata message.Metadata
	// Context is the context associated with the message.
	Context context.Context
	// StartedAt is when the worker picked up the message.
	StartedAt time.Time
	// Duration is how long processing took (only set in OnDone and OnError).
	Duration time.Duration
	// Outcome is the processing outcome (only set in OnDone and OnError).
	Outcome Outcome
}

// ProcessingHooks defines callbacks around each consumed message.
// All hooks are optional - nil hooks are simply not called.
type ProcessingHooks struct {
	// OnStart is called when a worker begins processing a delivery,
	// before the payload is decoded.
	OnStart func(mc MessageContext)

	// OnDone is called after a message was processed successfully.
	// Duration and Outcome are set.
	OnDone func(mc MessageContext)

	// OnError is called when processing fails, with the failure and its
	// outcome. Duration is set to how long processing took before failing.
	OnError func(mc MessageContext, err error)
}

// Merge combines two ProcessingHooks, creating a new ProcessingHooks that
// calls both. The hooks from 'other' are called after the hooks from 'h'.
func (h ProcessingHooks) Merge(other ProcessingHooks) ProcessingHooks {
	return ProcessingHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(MessageContext)) func(MessageContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(mc MessageContext) {
		a(mc)
		b(mc)
	}
}

func chainErrorHooks(a, b func(MessageContext, error)) func(MessageContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(mc MessageContext, err error) {
		a(mc, err)
		b(mc, err)
	}
}

// LoggingHooks returns pre-built hooks that log message lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) ProcessingHooks {
	return ProcessingHooks{
		OnStart: func(mc MessageContext) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"topic":        mc.Topic,
				"message_uuid": mc.MessageUUID,
			})
		},
		OnDone: func(mc MessageContext) {
			logger.Info("Message processed", loggingpkg.LogFields{
				"topic":        mc.Topic,
				"message_uuid": mc.MessageUUID,
				"duration_ms":  mc.Duration.Milliseconds(),
			})
		},
		OnError: func(mc MessageContext, err error) {
			logger.Error("Message processing failed", err, loggingpkg.LogFields{
				"topic":        mc.Topic,
				"message_uuid": mc.MessageUUID,
				"duration_ms":  mc.Duration.Milliseconds(),
				"outcome":      mc.Outcome.String(),
			})
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on processing
// failures.
func AlertingHooks(alertFunc func(mc MessageContext, err error)) ProcessingHooks {
	return ProcessingHooks{
		OnError: alertFunc,
	}
}
