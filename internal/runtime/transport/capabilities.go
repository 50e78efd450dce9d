// Package transport provides transport types and interfaces for the internal runtime.
// Transport implementations live in github.com/oprelay/oprelay/transport/*.
package transport

import (
	newtransport "github.com/oprelay/oprelay/transport"
)

// Capabilities is an alias for the modular transport Capabilities.
type Capabilities = newtransport.Capabilities

// CapabilitiesProvider is an alias for the modular transport CapabilitiesProvider.
type CapabilitiesProvider = newtransport.CapabilitiesProvider

// TopicVerifier is an alias for the modular transport TopicVerifier.
type TopicVerifier = newtransport.TopicVerifier

// Predefined capability sets - aliased from the modular transport package.
var (
	ChannelCapabilities       = newtransport.ChannelCapabilities
	KafkaCapabilities         = newtransport.KafkaCapabilities
	RabbitMQCapabilities      = newtransport.RabbitMQCapabilities
	NATSCapabilities          = newtransport.NATSCapabilities
	NATSJetStreamCapabilities = newtransport.NATSJetStreamCapabilities
	AWSCapabilities           = newtransport.AWSCapabilities
	HTTPCapabilities          = newtransport.HTTPCapabilities
)

// GetCapabilities returns the capabilities for a transport by name.
func GetCapabilities(transportName string) Capabilities {
	return newtransport.GetCapabilities(transportName)
}
