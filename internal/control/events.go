package control

import (
	"time"

	"github.com/heimdall-labs/heimdall/internal/models"
)

// ControlEvent is the fact published to observers after a control
// operation has been decided. Delivery is best-effort and happens after
// the audit record is durable; nothing in the authorization path waits
// on a consumer.
type ControlEvent struct {
	EntryID   string           `json:"entry_id"`
	Operation string           `json:"operation"`
	EventType models.EventType `json:"event_type"`
	Modules   []string         `json:"modules,omitempty"`
	Actor     string           `json:"actor"`
	Reason    string           `json:"reason,omitempty"`
	Result    models.Result    `json:"result"`
	Severity  models.Severity  `json:"severity"`
	Timestamp time.Time        `json:"timestamp"`
}

// publish hands an event to the observer channel without blocking.
// If no consumer is keeping up the event is dropped; the audit chain,
// not this channel, is the durable record.
func (c *Coordinator) publish(ev ControlEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

// Events returns the observer channel. Consumers such as the alert
// fan-out read from it on their own goroutine.
func (c *Coordinator) Events() <-chan ControlEvent {
	return c.events
}
