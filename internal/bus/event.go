package bus

import "time"

// Namespaces used by publishers. Subscribers filter on these prefixes.
const (
	NamespaceSession = "session."
	NamespaceState   = "state."
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
