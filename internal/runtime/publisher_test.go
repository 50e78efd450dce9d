package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/oprelay/oprelay/internal/runtime/config"
	errspkg "github.com/oprelay/oprelay/internal/runtime/errors"
	jsoncodec "github.com/oprelay/oprelay/internal/runtime/jsoncodec"
	metadatapkg "github.com/oprelay/oprelay/internal/runtime/metadata"
	transportpkg "github.com/oprelay/oprelay/transport"
)

// recordingPublisher records every Publish call, including ones it fails on
// purpose. failUntil > 0 fails that many leading calls with failErr.
type recordingPublisher struct {
	mu        sync.Mutex
	topics    []string
	messages  []*message.Message
	calls     int
	closes    int
	failUntil int
	failErr   error
}

func (p *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, messages...)
	if p.calls <= p.failUntil {
		return p.failErr
	}
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *recordingPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *recordingPublisher) message(t *testing.T, i int) *message.Message {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.messages) {
		t.Fatalf("message %d not recorded, have %d", i, len(p.messages))
	}
	return p.messages[i]
}

type verifyingPublisher struct {
	recordingPublisher
	verifyErr error
	verified  []string
}

func (p *verifyingPublisher) VerifyTopic(_ context.Context, topic string) error {
	p.verified = append(p.verified, topic)
	return p.verifyErr
}

func publisherConfig() *configpkg.Config {
	return &configpkg.Config{
		Broker:                 "channel",
		Topic:                  "database-operations",
		Source:                 "unit-producer",
		PublishInitialInterval: time.Millisecond,
		PublishMaxInterval:     2 * time.Millisecond,
		PublishTimeout:         5 * time.Second,
		PublishMultiplier:      2,
	}
}

func newTestPublisher(t *testing.T, pub message.Publisher, counters *Counters) *Publisher {
	t.Helper()
	p, err := NewPublisher(context.Background(), publisherConfig(), nil, pub, counters)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	return p
}

func insertEnvelope(t *testing.T) *Envelope {
	t.Helper()
	env, err := NewEnvelope("unit-producer", "INSERT", "users", map[string]any{"name": "alice"}, nil)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	return env
}

func TestNewMessageFromEnvelope(t *testing.T) {
	if _, err := NewMessageFromEnvelope(nil); !errors.Is(err, errspkg.ErrEnvelopeRequired) {
		t.Fatalf("NewMessageFromEnvelope(nil) error = %v, want ErrEnvelopeRequired", err)
	}

	env := insertEnvelope(t)
	msg, err := NewMessageFromEnvelope(env)
	if err != nil {
		t.Fatalf("NewMessageFromEnvelope() error = %v", err)
	}
	if msg.UUID == "" {
		t.Error("message UUID is empty")
	}
	if got := msg.Metadata[metadatapkg.KeyOperation]; got != "INSERT" {
		t.Errorf("operation attribute = %q, want INSERT", got)
	}
	if got := msg.Metadata[metadatapkg.KeySource]; got != "unit-producer" {
		t.Errorf("source attribute = %q, want unit-producer", got)
	}

	var decoded Envelope
	if err := jsoncodec.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.EventID != env.EventID {
		t.Errorf("payload event_id = %q, want %q", decoded.EventID, env.EventID)
	}
}

func TestNewPublisherValidations(t *testing.T) {
	ctx := context.Background()

	if _, err := NewPublisher(ctx, nil, nil, &recordingPublisher{}, nil); !errors.Is(err, errspkg.ErrConfigRequired) {
		t.Errorf("nil config error = %v, want ErrConfigRequired", err)
	}
	if _, err := NewPublisher(ctx, publisherConfig(), nil, nil, nil); !errors.Is(err, errspkg.ErrPublisherRequired) {
		t.Errorf("nil publisher error = %v, want ErrPublisherRequired", err)
	}

	conf := publisherConfig()
	conf.Topic = ""
	if _, err := NewPublisher(ctx, conf, nil, &recordingPublisher{}, nil); !errors.Is(err, errspkg.ErrTopicRequired) {
		t.Errorf("empty topic error = %v, want ErrTopicRequired", err)
	}
}

func TestNewPublisherVerifiesTopic(t *testing.T) {
	pub := &verifyingPublisher{}
	if _, err := NewPublisher(context.Background(), publisherConfig(), nil, pub, nil); err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if len(pub.verified) != 1 || pub.verified[0] != "database-operations" {
		t.Fatalf("verified topics = %v, want [database-operations]", pub.verified)
	}
}

func TestNewPublisherFailsOnMissingTopic(t *testing.T) {
	pub := &verifyingPublisher{verifyErr: transportpkg.ErrTopicNotFound}
	_, err := NewPublisher(context.Background(), publisherConfig(), nil, pub, nil)
	if !errors.Is(err, transportpkg.ErrTopicNotFound) {
		t.Fatalf("NewPublisher() error = %v, want ErrTopicNotFound", err)
	}
}

func TestNewPublisherFailsOnForbiddenTopic(t *testing.T) {
	pub := &verifyingPublisher{verifyErr: transportpkg.ErrTopicForbidden}
	_, err := NewPublisher(context.Background(), publisherConfig(), nil, pub, nil)
	if !errors.Is(err, transportpkg.ErrTopicForbidden) {
		t.Fatalf("NewPublisher() error = %v, want ErrTopicForbidden", err)
	}
}

func TestNewPublisherToleratesUnsupportedVerification(t *testing.T) {
	pub := &verifyingPublisher{verifyErr: transportpkg.ErrTopicVerificationUnsupported}
	p, err := NewPublisher(context.Background(), publisherConfig(), nil, pub, nil)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v, want nil", err)
	}
	if !p.Ready() {
		t.Error("Ready() = false, want true")
	}
}

func TestPublishDeliversEnvelope(t *testing.T) {
	recorder := &recordingPublisher{}
	counters := NewCounters()
	p := newTestPublisher(t, recorder, counters)
	env := insertEnvelope(t)

	messageID, err := p.Publish(context.Background(), env)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if messageID == "" {
		t.Fatal("Publish() returned empty message id")
	}

	msg := recorder.message(t, 0)
	if msg.UUID != messageID {
		t.Errorf("recorded UUID = %q, want %q", msg.UUID, messageID)
	}
	if recorder.topics[0] != "database-operations" {
		t.Errorf("topic = %q, want database-operations", recorder.topics[0])
	}
	if got := msg.Metadata[metadatapkg.KeyEventType]; got != EventTypeDatabaseOperation {
		t.Errorf("event_type attribute = %q, want %q", got, EventTypeDatabaseOperation)
	}
	if got := msg.Metadata[metadatapkg.KeyTimestamp]; got == "" {
		t.Error("timestamp attribute is empty")
	}

	var decoded Envelope
	if err := jsoncodec.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.EventID != env.EventID {
		t.Errorf("payload event_id = %q, want %q", decoded.EventID, env.EventID)
	}

	snap := counters.Snapshot()
	if snap.Received != 1 || snap.PublishSuccess != 1 {
		t.Errorf("counters = %+v, want received/success 1", snap)
	}
}

func TestPublishValidatesBeforeDelivery(t *testing.T) {
	recorder := &recordingPublisher{}
	counters := NewCounters()
	p := newTestPublisher(t, recorder, counters)

	env := insertEnvelope(t)
	env.Table = ""

	_, err := p.Publish(context.Background(), env)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Publish() error = %v, want ValidationError", err)
	}
	if recorder.callCount() != 0 {
		t.Errorf("publish calls = %d, want 0", recorder.callCount())
	}
	snap := counters.Snapshot()
	if snap.Received != 1 {
		t.Errorf("received counter = %d, want 1", snap.Received)
	}
	if snap.PublishSuccess != 0 || snap.PublishFailure != 0 {
		t.Errorf("counters = %+v, want no broker outcome recorded", snap)
	}
}

func TestPublishRejectsNilEnvelope(t *testing.T) {
	p := newTestPublisher(t, &recordingPublisher{}, nil)
	if _, err := p.Publish(context.Background(), nil); !errors.Is(err, errspkg.ErrEnvelopeRequired) {
		t.Fatalf("Publish(nil) error = %v, want ErrEnvelopeRequired", err)
	}
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	recorder := &recordingPublisher{failUntil: 2, failErr: errors.New("broker unavailable")}
	counters := NewCounters()
	p := newTestPublisher(t, recorder, counters)

	messageID, err := p.Publish(context.Background(), insertEnvelope(t))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if messageID == "" {
		t.Fatal("Publish() returned empty message id")
	}
	if recorder.callCount() != 3 {
		t.Errorf("publish calls = %d, want 3", recorder.callCount())
	}
	snap := counters.Snapshot()
	if snap.PublishSuccess != 1 {
		t.Errorf("publish success counter = %d, want 1", snap.PublishSuccess)
	}
	if snap.Received != 1 {
		t.Errorf("received counter = %d after retries, want 1", snap.Received)
	}
}

func TestPublishEventIDStableAcrossRetries(t *testing.T) {
	recorder := &recordingPublisher{failUntil: 1, failErr: errors.New("broker unavailable")}
	p := newTestPublisher(t, recorder, nil)
	env := insertEnvelope(t)

	if _, err := p.Publish(context.Background(), env); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	first := recorder.message(t, 0)
	second := recorder.message(t, 1)
	if first.UUID == second.UUID {
		t.Error("retry reused the broker message UUID")
	}

	var one, two Envelope
	if err := jsoncodec.Unmarshal(first.Payload, &one); err != nil {
		t.Fatalf("unmarshal first payload: %v", err)
	}
	if err := jsoncodec.Unmarshal(second.Payload, &two); err != nil {
		t.Fatalf("unmarshal second payload: %v", err)
	}
	if one.EventID != env.EventID || two.EventID != env.EventID {
		t.Errorf("event ids across attempts = %q, %q, want %q", one.EventID, two.EventID, env.EventID)
	}
}

func TestPublishGivesUpAfterDeadline(t *testing.T) {
	brokerErr := errors.New("broker unavailable")
	recorder := &recordingPublisher{failUntil: 1 << 30, failErr: brokerErr}
	counters := NewCounters()

	conf := publisherConfig()
	conf.PublishTimeout = 25 * time.Millisecond
	p, err := NewPublisher(context.Background(), conf, nil, recorder, counters)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}

	_, err = p.Publish(context.Background(), insertEnvelope(t))
	var perr *PublishError
	if !errors.As(err, &perr) {
		t.Fatalf("Publish() error = %v, want PublishError", err)
	}
	if !errors.Is(err, brokerErr) {
		t.Errorf("PublishError does not wrap the broker error: %v", err)
	}
	if perr.Attempts < 1 {
		t.Errorf("attempts = %d, want at least 1", perr.Attempts)
	}
	if got := counters.Snapshot().PublishFailure; got != 1 {
		t.Errorf("publish failure counter = %d, want 1", got)
	}
}

func TestPublishStopsOnPermanentBrokerError(t *testing.T) {
	for _, tt := range []struct {
		name     string
		sentinel error
	}{
		{"topic not found", transportpkg.ErrTopicNotFound},
		{"topic forbidden", transportpkg.ErrTopicForbidden},
	} {
		t.Run(tt.name, func(t *testing.T) {
			// Transports wrap the sentinel the way the AWS publisher does.
			brokerErr := fmt.Errorf("topic %q: %w", "database-operations", tt.sentinel)
			recorder := &recordingPublisher{failUntil: 1 << 30, failErr: brokerErr}
			p := newTestPublisher(t, recorder, nil)

			_, err := p.Publish(context.Background(), insertEnvelope(t))
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("Publish() error = %v, want %v", err, tt.sentinel)
			}
			if recorder.callCount() != 1 {
				t.Errorf("publish calls = %d, want 1", recorder.callCount())
			}
		})
	}
}

func TestPublishAfterClose(t *testing.T) {
	recorder := &recordingPublisher{}
	p := newTestPublisher(t, recorder, nil)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := p.Publish(context.Background(), insertEnvelope(t)); !errors.Is(err, errspkg.ErrPublisherClosed) {
		t.Fatalf("Publish() error = %v, want ErrPublisherClosed", err)
	}
	if p.Ready() {
		t.Error("Ready() = true after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	recorder := &recordingPublisher{}
	p := newTestPublisher(t, recorder, nil)

	if err := p.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if recorder.closes != 1 {
		t.Errorf("transport closes = %d, want 1", recorder.closes)
	}
}

func TestPublishBatch(t *testing.T) {
	recorder := &recordingPublisher{}
	counters := NewCounters()
	p := newTestPublisher(t, recorder, counters)

	good1 := insertEnvelope(t)
	bad := insertEnvelope(t)
	bad.Table = ""
	good2 := insertEnvelope(t)

	results := p.PublishBatch(context.Background(), []*Envelope{good1, bad, good2})
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}

	if results[0].Err != nil || results[0].MessageID == "" {
		t.Errorf("results[0] = %+v, want success", results[0])
	}
	var verr *ValidationError
	if !errors.As(results[1].Err, &verr) {
		t.Errorf("results[1].Err = %v, want ValidationError", results[1].Err)
	}
	if results[2].Err != nil || results[2].MessageID == "" {
		t.Errorf("results[2] = %+v, want success", results[2])
	}

	if recorder.callCount() != 2 {
		t.Errorf("publish calls = %d, want 2", recorder.callCount())
	}
	if got := counters.Snapshot().PublishSuccess; got != 2 {
		t.Errorf("publish success counter = %d, want 2", got)
	}
}

func TestPublishBatchEmpty(t *testing.T) {
	p := newTestPublisher(t, &recordingPublisher{}, nil)
	if results := p.PublishBatch(context.Background(), nil); len(results) != 0 {
		t.Fatalf("len(results) = %d, want 0", len(results))
	}
}
