package model

import "time"

// Event is the uniform record produced by converting a typed domain object
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	EventTime  time.Time         `json:"event_time"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Payload    []byte            `json:"payload,omitempty"`
}

// EventTimeLayout encodes event times as sortable keys, at second precision.
const EventTimeLayout = "20060102150405"

// TimeKey encodes t in UTC using EventTimeLayout
func TimeKey(t time.Time) string {
	return t.UTC().Format(EventTimeLayout)
}
