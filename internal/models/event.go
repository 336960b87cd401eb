package models

import "time"

// EventType names an orchestration event consumed by the UI layer.
type EventType string

const (
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventStreamAdded       EventType = "stream-added"
	EventStreamRemoved     EventType = "stream-removed"
	EventMeetingEnded      EventType = "meeting-ended"
	EventChatMessage       EventType = "chat-message"
	EventHostChanged       EventType = "host-changed"
	EventConnectionState   EventType = "connection-state"
)

// Event is one notification on the event bus. Data depends on Type:
// a media.Stream for stream-added, a ChatMessage for chat-message, a
// ConnectionState string for connection-state, nil otherwise.
type Event struct {
	Type          EventType `json:"type"`
	MeetingID     string    `json:"meeting_id"`
	ParticipantID string    `json:"participant_id"`
	Data          any       `json:"data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
