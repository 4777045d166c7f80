package delivery

import "time"

// Push event names.
const (
	EventText     = "message:text"
	EventChatIn   = "chat:message"
	EventChatOut  = "chat:reply"
	EventSchedule = "schedule:notification"
)

// Payload is the data of a pushed frame.
type Payload struct {
	Kind      string    `json:"kind"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"messageId,omitempty"`
}

// Frame is what goes over the wire.
type Frame struct {
	Event string  `json:"event"`
	Data  Payload `json:"data"`
}

func normalizeEvent(ev string) string {
	if ev == "" {
		return EventText
	}
	return ev
}
