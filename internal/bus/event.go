package bus

import "time"

// Namespaces and kinds carried on the gateway bus.
const (
	// NSVendor carries raw provider webhook bodies ([]byte payload).
	NSVendor       = "vendor."
	KindVendorHook = "vendor.webhook"

	// NSGateway carries canonical events (chat.Event payload) for stream subscribers.
	NSGateway        = "gateway."
	KindGatewayEvent = "gateway.event"

	// NSVendorState carries the embedded provider's connection state changes.
	NSVendorState    = "vendorstate."
	KindStateChanged = "vendorstate.changed"
)

// Event represents a message published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
