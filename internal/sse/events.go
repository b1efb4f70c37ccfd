package sse

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rathix/dynamic-proxy/internal/routes"
)

// StateEventPayload is the initial "state" event sent to every new client.
type StateEventPayload struct {
	AppVersion string         `json:"appVersion"`
	Target     string         `json:"target"`
	Routes     []routes.Route `json:"routes"`
}

// RoutesEventPayload is the payload of "install" and "retarget" events.
type RoutesEventPayload struct {
	Target string         `json:"target"`
	Routes []routes.Route `json:"routes"`
}

func routesEventPayload(evt routes.Event) RoutesEventPayload {
	return RoutesEventPayload{Target: evt.ActiveTarget(), Routes: evt.Routes}
}

// formatSSEEvent formats an SSE event with the given type and JSON-encoded data.
func formatSSEEvent(eventType string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal SSE event data: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", eventType, jsonData)
	return buf.Bytes(), nil
}

// formatKeepalive returns a SSE keepalive comment.
func formatKeepalive() []byte {
	return []byte(":keepalive\n\n")
}
