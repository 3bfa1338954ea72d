// Package events defines event types and payloads for the casetalink event system.
package events

import (
	"time"

	"github.com/casetalink/casetalink/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventSessionReady  EventType = "session_ready"
	EventSessionClosed EventType = "session_closed"

	// Bridge traffic
	EventButton         EventType = "button"
	EventMessageSkipped EventType = "message_skipped"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ButtonPayload carries one decoded button transition.
type ButtonPayload struct {
	RemoteID   protocol.RemoteID     `json:"remote_id"`
	Button     protocol.ButtonID     `json:"button"`
	Action     protocol.ButtonAction `json:"action"`
	ReceivedAt time.Time             `json:"received_at"`
}

// NewButtonPayload builds a payload from a decoded event.
func NewButtonPayload(ev protocol.ButtonEvent, at time.Time) ButtonPayload {
	return ButtonPayload{
		RemoteID:   ev.RemoteID,
		Button:     ev.Button,
		Action:     ev.Action,
		ReceivedAt: at,
	}
}

// SessionPayload describes a session state change.
type SessionPayload struct {
	Host   string    `json:"host"`
	State  string    `json:"state"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// SkippedPayload describes a bridge line that was not understood and skipped.
type SkippedPayload struct {
	Raw    string    `json:"raw"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}
