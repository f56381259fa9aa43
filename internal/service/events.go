package service

import (
	"encoding/json"
	"time"
)

// marshalEvent wraps detail in the envelope shared by every bus message:
// {"event": ..., "timestamp": ..., "data": ...}.
func marshalEvent(event string, data any) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"data":      data,
	})
}
