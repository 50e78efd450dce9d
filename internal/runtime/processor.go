package runtime

import (
	"context"
	"errors"
	"fmt"

	errspkg "github.com/oprelay/oprelay/internal/runtime/errors"
	jsoncodec "github.com/oprelay/oprelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/oprelay/oprelay/internal/runtime/logging"
)

// Outcome classifies the result of processing one delivered message and
// drives the consumer's ack/nack decision.
type Outcome int

const (
	// OutcomeSuccess indicates the mutation was applied; the delivery is
	// acknowledged.
	OutcomeSuccess Outcome = iota

	// OutcomeRetryable indicates a transient failure; the delivery is
	// negatively acknowledged and the broker redelivers it.
	OutcomeRetryable

	// OutcomeNonRetryable indicates the message will never process
	// successfully. The consumer routes it to the poison topic when one is
	// configured instead of retrying forever.
	OutcomeNonRetryable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeNonRetryable:
		return "non_retryable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Executor applies one validated mutation to the destination store. All
// statements must be parameterized; implementations never interpolate values
// into SQL text.
type Executor interface {
	Insert(ctx context.Context, table string, data map[string]any) error
	Update(ctx context.Context, table string, data, where map[string]any) error
	Delete(ctx context.Context, table string, where map[string]any) error
}

// ErrorClassifier maps an executor error onto an outcome. A nil error must
// map to OutcomeSuccess.
type ErrorClassifier func(err error) Outcome

// DefaultErrorClassifier treats validation failures as permanent and
// everything else, including context cancellation, as transient. Store-aware
// classifiers refine the transient bucket.
func DefaultErrorClassifier(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return OutcomeNonRetryable
	}
	return OutcomeRetryable
}

// Processor turns one raw broker payload into a processing outcome.
type Processor interface {
	Process(ctx context.Context, payload []byte) (Outcome, error)
}

// OperationProcessor decodes and validates envelopes, then dispatches them to
// an Executor keyed on the operation. It is stateless and safe for
// concurrent use by multiple consumer workers.
type OperationProcessor struct {
	executor Executor
	classify ErrorClassifier
	logger   loggingpkg.ServiceLogger
}

// NewOperationProcessor builds the processor for the given executor. The
// classifier may be nil, in which case DefaultErrorClassifier is used; a
// store-aware classifier such as sqlexec.ClassifyError should be preferred
// when the executor talks to PostgreSQL. A nil logger disables logging.
func NewOperationProcessor(executor Executor, classifier ErrorClassifier, logger loggingpkg.ServiceLogger) (*OperationProcessor, error) {
	if executor == nil {
		return nil, errspkg.ErrExecutorRequired
	}
	if classifier == nil {
		classifier = DefaultErrorClassifier
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	return &OperationProcessor{
		executor: executor,
		classify: classifier,
		logger:   logger,
	}, nil
}

// Process decodes the payload, validates the envelope and executes the
// mutation. Decode and validation failures are NonRetryable: malformed bytes
// never become valid on redelivery. Executor failures are classified by the
// configured ErrorClassifier. The executor is never invoked for envelopes
// that fail validation.
func (p *OperationProcessor) Process(ctx context.Context, payload []byte) (Outcome, error) {
	var env Envelope
	if err := jsoncodec.Unmarshal(payload, &env); err != nil {
		return OutcomeNonRetryable, fmt.Errorf("decode envelope: %w", err)
	}

	if err := env.Validate(); err != nil {
		p.logger.Debug("Envelope failed validation", loggingpkg.LogFields{
			"event_id": env.EventID,
			"error":    err.Error(),
		})
		return OutcomeNonRetryable, err
	}

	// Validation guarantees the operation parses; envelopes built outside
	// NewEnvelope may still carry lower-case spellings.
	op, err := ParseOperation(string(env.Operation))
	if err != nil {
		return OutcomeNonRetryable, err
	}

	if err := p.execute(ctx, op, &env); err != nil {
		outcome := p.classify(err)
		p.logger.Debug("Operation failed", loggingpkg.LogFields{
			"event_id":  env.EventID,
			"operation": string(op),
			"table":     env.Table,
			"outcome":   outcome.String(),
			"error":     err.Error(),
		})
		return outcome, fmt.Errorf("execute %s on %q: %w", op, env.Table, err)
	}

	p.logger.Trace("Operation applied", loggingpkg.LogFields{
		"event_id":  env.EventID,
		"operation": string(op),
		"table":     env.Table,
	})
	return OutcomeSuccess, nil
}

func (p *OperationProcessor) execute(ctx context.Context, op Operation, env *Envelope) error {
	switch op {
	case OperationInsert:
		return p.executor.Insert(ctx, env.Table, env.Data)
	case OperationUpdate:
		return p.executor.Update(ctx, env.Table, env.Data, env.WhereClause)
	case OperationDelete:
		return p.executor.Delete(ctx, env.Table, env.WhereClause)
	default:
		return &ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", op)}
	}
}
