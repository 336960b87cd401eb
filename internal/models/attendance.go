package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord tracks one participant's join/leave in a meeting.
type AttendanceRecord struct {
	ID            uuid.UUID  `json:"id"`
	MeetingID     string     `json:"meeting_id"`
	ParticipantID string     `json:"participant_id"`
	Name          string     `json:"name"`
	JoinedAt      time.Time  `json:"joined_at"`
	LeftAt        *time.Time `json:"left_at,omitempty"`
	WatchSeconds  int64      `json:"watch_seconds"`
}

// MeetingRecord is the persisted summary of a meeting.
type MeetingRecord struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	HostID    string     `json:"host_id"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
