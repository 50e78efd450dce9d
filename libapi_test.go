package oprelay

import (
	"context"
	"errors"
	"testing"
)

func TestServiceExportsPropagateErrors(t *testing.T) {
	if _, err := NewService(context.Background(), nil, nil, ServiceDependencies{}); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}

	if _, err := NewPublisher(context.Background(), nil, nil, nil, nil); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}

	if _, err := NewConsumer(nil, nil, ConsumerDependencies{}); !errors.Is(err, ErrConfigRequired) {
		t.Fatalf("expected config required error, got %v", err)
	}
}

func TestEnvelopeExports(t *testing.T) {
	env, err := NewEnvelope("svc", "insert", "users", map[string]any{"name": "ada"}, nil)
	if err != nil {
		t.Fatalf("unexpected envelope error: %v", err)
	}
	if env.Operation != OperationInsert {
		t.Fatalf("expected %q operation, got %q", OperationInsert, env.Operation)
	}
	if env.EventType != EventTypeDatabaseOperation {
		t.Fatalf("expected event type %q, got %q", EventTypeDatabaseOperation, env.EventType)
	}

	if _, err := ParseOperation("truncate"); err == nil {
		t.Fatal("expected parse error for unknown operation")
	}
}

func TestOutcomeExports(t *testing.T) {
	if got := DefaultErrorClassifier(nil); got != OutcomeSuccess {
		t.Fatalf("expected success outcome for nil error, got %v", got)
	}
	if got := DefaultErrorClassifier(errors.New("boom")); got != OutcomeRetryable {
		t.Fatalf("expected retryable outcome by default, got %v", got)
	}
	if got := ClassifySQLError(ErrTableRequired); got != OutcomeNonRetryable {
		t.Fatalf("expected non-retryable outcome for build errors, got %v", got)
	}
}

func TestValidateConfigExport(t *testing.T) {
	if err := ValidateConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	conf := &Config{Broker: "channel"}
	conf.ApplyDefaults()
	if err := ValidateConfig(conf); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestTransportRegistryExports(t *testing.T) {
	caps := GetCapabilities("nats-jetstream")
	if caps.Name != "nats-jetstream" {
		t.Fatalf("expected jetstream capabilities, got %q", caps.Name)
	}
	if !DefaultTransportRegistry.Has("channel") {
		t.Fatal("expected channel transport to be registered")
	}
}

func TestEncodingExportAliases(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	if _, err := Marshal(payload); err != nil {
		t.Fatalf("marshal alias failed: %v", err)
	}
	if _, err := MarshalIndent(payload, "", "  "); err != nil {
		t.Fatalf("marshal indent alias failed: %v", err)
	}
	if err := Unmarshal([]byte(`{"hello":"world"}`), &payload); err != nil {
		t.Fatalf("unmarshal alias failed: %v", err)
	}
}

func TestMetadataExport(t *testing.T) {
	md := NewMetadata("key", "value")
	if md["key"] != "value" {
		t.Fatalf("expected metadata to contain key, got %#v", md)
	}
}

func TestIDExports(t *testing.T) {
	id := NewEventID()
	if len(id) != len("evt_")+26 {
		t.Fatalf("unexpected event id shape: %q", id)
	}
	if CreateULID() == CreateULID() {
		t.Fatal("expected distinct ULIDs")
	}
}
