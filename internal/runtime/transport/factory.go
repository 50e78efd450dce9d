package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/oprelay/oprelay/internal/runtime/config"
	newtransport "github.com/oprelay/oprelay/transport"

	// Import all transport packages to register them.
	_ "github.com/oprelay/oprelay/transport/aws"
	_ "github.com/oprelay/oprelay/transport/channel"
	_ "github.com/oprelay/oprelay/transport/http"
	_ "github.com/oprelay/oprelay/transport/jetstream"
	_ "github.com/oprelay/oprelay/transport/kafka"
	_ "github.com/oprelay/oprelay/transport/nats"
	_ "github.com/oprelay/oprelay/transport/rabbitmq"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Factory abstracts how the relay initialises message transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory returns the built-in transport factory that uses the
// modular transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	t, err := newtransport.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  t.Publisher,
		Subscriber: t.Subscriber,
	}, nil
}
