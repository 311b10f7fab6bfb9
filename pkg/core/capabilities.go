package core

type Capability string // Capabilities of services

const (
	CapabilityNotifier  Capability = "NOTIFIER"
	CapabilityForwarder Capability = "FORWARDER"
	CapabilityAPI       Capability = "API"
)
