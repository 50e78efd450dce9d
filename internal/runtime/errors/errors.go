package errors

import sterrors "errors"

var (
	ErrConfigRequired     = sterrors.New("oprelay: configuration is required")
	ErrLoggerRequired     = sterrors.New("oprelay: logger is required")
	ErrPublisherRequired  = sterrors.New("oprelay: publisher is required")
	ErrSubscriberRequired = sterrors.New("oprelay: subscriber is required")
	ErrProcessorRequired  = sterrors.New("oprelay: processor is required")
	ErrExecutorRequired   = sterrors.New("oprelay: executor is required")
	ErrEnvelopeRequired   = sterrors.New("oprelay: envelope is required")
	ErrTopicRequired      = sterrors.New("oprelay: topic is required")
	ErrTableRequired      = sterrors.New("oprelay: table is required")
	ErrDatabaseRequired   = sterrors.New("oprelay: database handle is required")
	ErrPublisherClosed    = sterrors.New("oprelay: publisher is closed")
	ErrConsumerRunning    = sterrors.New("oprelay: consumer is already running")
	ErrConsumerStopped    = sterrors.New("oprelay: consumer is not running")
	ErrEmptyData          = sterrors.New("oprelay: data must not be empty")
	ErrEmptyWhereClause   = sterrors.New("oprelay: where clause must not be empty")
	ErrDrainTimeout       = sterrors.New("oprelay: shutdown grace period elapsed before in-flight work drained")
)

// ConfigValidationError wraps the aggregate of configuration problems found
// during Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "oprelay: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err in a ConfigValidationError. A nil err
// returns nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
