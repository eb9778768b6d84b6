package observability

// WSEventsRoutingKey is the routing key for session lifecycle events.
const WSEventsRoutingKey = "ws_events.sessions"

// EventEnvelope wraps every event published to the events exchange.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEventPayload describes one session lifecycle transition.
type WSEventPayload struct {
	WS       WSEventDetail `json:"ws"`
	Identity Identity      `json:"identity"`
}

type WSEventDetail struct {
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

type Identity struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
}

// NewWSEvent builds the envelope for a lifecycle event.
func NewWSEvent(detail WSEventDetail, identity Identity) EventEnvelope {
	return EventEnvelope{
		EventType: "ws_events",
		EventName: detail.Event,
		Payload:   WSEventPayload{WS: detail, Identity: identity},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
