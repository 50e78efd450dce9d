package runtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	idspkg "github.com/oprelay/oprelay/internal/runtime/ids"
	metadatapkg "github.com/oprelay/oprelay/internal/runtime/metadata"
)

// EventTypeDatabaseOperation is the only event_type this pipeline relays.
// Envelopes carrying any other discriminator fail validation.
const EventTypeDatabaseOperation = "database_operation"

// Operation is the kind of row mutation an envelope requests.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// ParseOperation maps raw input onto the canonical upper-case operation.
// Input is case-insensitive; values outside the enum are rejected.
func ParseOperation(raw string) (Operation, error) {
	switch op := Operation(strings.ToUpper(raw)); op {
	case OperationInsert, OperationUpdate, OperationDelete:
		return op, nil
	default:
		return "", &ValidationError{
			Field:  "operation",
			Reason: fmt.Sprintf("must be one of INSERT, UPDATE, DELETE, got %q", raw),
		}
	}
}

// ValidationError reports why an envelope can never be processed. Validation
// failures are permanent: the same payload will not become valid on
// redelivery.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("oprelay: invalid envelope: %s %s", e.Field, e.Reason)
}

// Envelope describes one intended database mutation. It is both the in-memory
// value and, JSON-encoded, the broker payload shared by producer and
// consumer.
type Envelope struct {
	// EventID uniquely identifies the envelope. It is assigned once, when the
	// producer constructs the envelope, and is never regenerated downstream.
	EventID string `json:"event_id"`

	// Timestamp is the creation time, assigned together with EventID.
	// Encoded as RFC 3339 on the wire.
	Timestamp time.Time `json:"timestamp"`

	// Source names the producing service.
	Source string `json:"source"`

	// EventType is the fixed discriminator EventTypeDatabaseOperation.
	EventType string `json:"event_type"`

	// Operation selects the mutation kind: INSERT, UPDATE or DELETE.
	Operation Operation `json:"operation"`

	// Table names the target relation.
	Table string `json:"table"`

	// Data maps column names to scalar values. Required and non-empty for
	// INSERT and UPDATE; ignored for DELETE.
	Data map[string]any `json:"data,omitempty"`

	// WhereClause maps column names to scalar values, combined with AND.
	// Required and non-empty for UPDATE and DELETE; ignored for INSERT.
	WhereClause map[string]any `json:"where_clause,omitempty"`
}

// NewEnvelope builds a publishable envelope for one database operation.
// The operation is normalized to upper case; EventID and Timestamp are
// assigned here, on the producing side. The returned envelope is not yet
// validated beyond the operation enum.
func NewEnvelope(source, operation, table string, data, where map[string]any) (*Envelope, error) {
	op, err := ParseOperation(operation)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EventID:     idspkg.NewEventID(),
		Timestamp:   time.Now().UTC(),
		Source:      source,
		EventType:   EventTypeDatabaseOperation,
		Operation:   op,
		Table:       table,
		Data:        data,
		WhereClause: where,
	}, nil
}

// Validate checks the envelope against the pipeline contract, in order:
// required top-level fields, event_type discriminator, operation enum, and
// the per-operation field rules. The first failure is returned as a
// *ValidationError. Validate does not mutate the envelope.
func (e *Envelope) Validate() error {
	if e.Operation == "" {
		return &ValidationError{Field: "operation", Reason: "is required"}
	}
	if e.Table == "" {
		return &ValidationError{Field: "table", Reason: "is required"}
	}
	if e.EventType == "" {
		return &ValidationError{Field: "event_type", Reason: "is required"}
	}

	if e.EventType != EventTypeDatabaseOperation {
		return &ValidationError{
			Field:  "event_type",
			Reason: fmt.Sprintf("must be %q, got %q", EventTypeDatabaseOperation, e.EventType),
		}
	}

	op, err := ParseOperation(string(e.Operation))
	if err != nil {
		return err
	}

	switch op {
	case OperationInsert:
		if len(e.Data) == 0 {
			return &ValidationError{Field: "data", Reason: "is required for INSERT"}
		}
	case OperationUpdate:
		if len(e.Data) == 0 {
			return &ValidationError{Field: "data", Reason: "is required for UPDATE"}
		}
		if len(e.WhereClause) == 0 {
			return &ValidationError{Field: "where_clause", Reason: "is required for UPDATE"}
		}
	case OperationDelete:
		if len(e.WhereClause) == 0 {
			return &ValidationError{Field: "where_clause", Reason: "is required for DELETE"}
		}
	}

	// DELETE ignores data entirely, so its contents are not validated.
	if op != OperationDelete {
		if err := validateScalars("data", e.Data); err != nil {
			return err
		}
	}
	return validateScalars("where_clause", e.WhereClause)
}

// validateScalars rejects nested containers and other non-scalar values.
// Column values are constrained to strings, numbers, booleans and null.
func validateScalars(field string, m map[string]any) error {
	for _, k := range sortedKeys(m) {
		if !isScalar(m[k]) {
			return &ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("column %q must be a string, number, boolean or null, got %T", k, m[k]),
			}
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		json.Number:
		return true
	default:
		return false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Attributes returns the broker-level metadata attached alongside the
// payload for filtering and routing. The payload remains the source of
// truth.
func (e *Envelope) Attributes() metadatapkg.Metadata {
	return metadatapkg.Attributes(
		e.Source,
		e.EventType,
		e.Timestamp.Format(time.RFC3339Nano),
		string(e.Operation),
	)
}
