/*
Package runtime implements the core relay pipeline.

# Architecture Overview

The pipeline has two independent halves joined by a message broker. The
produce side turns mutation requests into validated envelopes and publishes
them durably; the consume side pulls envelopes off the broker on a bounded
worker pool, dispatches them to an executor, and settles each delivery
according to its outcome.

# Components

  - envelope.go: the Envelope payload contract, operation enum, and the
    validation rules shared by both halves
  - publisher.go: durable publishing with exponential backoff, per-attempt
    message UUIDs, and optional fail-fast topic verification
  - consumer.go: the bounded worker pool, ack/nack settlement, poison topic
    routing, and panic recovery
  - processor.go: outcome taxonomy, error classification, and the
    envelope-to-executor dispatch
  - counters.go, stats.go, resources.go: pipeline counters, the stats and
    probe endpoints, and the Prometheus collector
  - hooks.go: processing hooks for logging and alerting around message
    handling
  - service.go: the Service orchestrator that wires all of the above from
    one Config

# Sub-packages

  - config/: configuration with env, file, and dotenv loading plus validation
  - errors/: sentinel errors and error types
  - ids/: ULID-based event ID generation
  - jsoncodec/: JSON marshaling utilities
  - logging/: logger interface and slog/watermill adapters
  - metadata/: broker message metadata utilities
  - sqlexec/: parameterized SQL execution on pgx and SQLSTATE classification
  - transport/: the factory bridging configuration to the transport registry
*/
package runtime
