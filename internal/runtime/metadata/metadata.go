package metadata

// Metadata represents the attributes carried alongside an envelope on the
// broker. The payload stays the source of truth; attributes exist for
// broker-side filtering and routing only.
type Metadata map[string]string

// Well-known attribute keys attached by the publisher.
const (
	KeySource    = "source"
	KeyEventType = "event_type"
	KeyTimestamp = "timestamp"
	KeyOperation = "operation"
)

// Keys attached by the consumer when routing a message to the poison topic.
const (
	KeyPoisonedReason = "oprelay_poisoned_reason"
	KeyPoisonedTopic  = "oprelay_poisoned_topic"
	KeyPoisonedAt     = "oprelay_poisoned_at"
)

// Attributes builds the standard attribute set for a published envelope.
func Attributes(source, eventType, timestamp, operation string) Metadata {
	return Metadata{
		KeySource:    source,
		KeyEventType: eventType,
		KeyTimestamp: timestamp,
		KeyOperation: operation,
	}
}

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
