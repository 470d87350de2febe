package backup

// EventStatus marks an event's position in a step's lifecycle.
type EventStatus string

const (
	EventStarted  EventStatus = "started"
	EventProgress EventStatus = "progress"
	EventDone     EventStatus = "done"
	EventFailed   EventStatus = "failed"
	EventSkipped  EventStatus = "skipped"
)

// Event is one structured progress notification. The orchestrators emit
// events to a caller-provided sink and never write to a terminal
// themselves.
type Event struct {
	Step   string      `json:"step"`
	Status EventStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// EventSink receives progress events. Implementations must be cheap;
// orchestrators call them synchronously.
type EventSink interface {
	Publish(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(Event)

// Publish implements EventSink.
func (f EventSinkFunc) Publish(event Event) {
	f(event)
}

// discardSink drops all events; used when the caller passes nil.
type discardSink struct{}

func (discardSink) Publish(Event) {}

func sinkOrDiscard(sink EventSink) EventSink {
	if sink == nil {
		return discardSink{}
	}
	return sink
}
