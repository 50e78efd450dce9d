// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/oprelay/oprelay/transport/aws"
	_ "github.com/oprelay/oprelay/transport/channel"
	_ "github.com/oprelay/oprelay/transport/http"
	_ "github.com/oprelay/oprelay/transport/jetstream"
	_ "github.com/oprelay/oprelay/transport/kafka"
	_ "github.com/oprelay/oprelay/transport/nats"
	_ "github.com/oprelay/oprelay/transport/rabbitmq"
)
