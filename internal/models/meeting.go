package models

import (
	"sort"
	"time"

	"github.com/aura-webinar/meshmeet/internal/media"
)

// Meeting is the local projection of one conferencing session.
type Meeting struct {
	ID           string                  `json:"id"`
	Title        string                  `json:"title"`
	HostID       string                  `json:"host_id"`
	Participants map[string]*Participant `json:"participants"`
	IsActive     bool                    `json:"is_active"`
	CreatedAt    time.Time               `json:"created_at"`
}

// Participant is one local or remote attendee. Stream is owned by whoever
// produced it (the capture device for the local participant, the peer
// connection for everyone else).
type Participant struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	IsHost          bool         `json:"is_host"`
	IsMuted         bool         `json:"is_muted"`
	IsCameraOn      bool         `json:"is_camera_on"`
	IsScreenSharing bool         `json:"is_screen_sharing"`
	Stream          media.Stream `json:"-"`
}

// NewMeeting returns an active meeting with no participants.
func NewMeeting(id, title string, now time.Time) *Meeting {
	return &Meeting{
		ID:           id,
		Title:        title,
		Participants: make(map[string]*Participant),
		IsActive:     true,
		CreatedAt:    now,
	}
}

// Clone returns a deep copy. Stream handles are shared, not copied.
func (m *Meeting) Clone() *Meeting {
	if m == nil {
		return nil
	}
	out := *m
	out.Participants = make(map[string]*Participant, len(m.Participants))
	for id, p := range m.Participants {
		cp := *p
		out.Participants[id] = &cp
	}
	return &out
}

// ParticipantIDs returns the roster sorted by id.
func (m *Meeting) ParticipantIDs() []string {
	ids := make([]string, 0, len(m.Participants))
	for id := range m.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ElectHost makes the participant with the lowest id host when the current
// host is gone. It returns the new host id and whether the host changed.
// An empty meeting is marked inactive and keeps no host.
func (m *Meeting) ElectHost() (string, bool) {
	if len(m.Participants) == 0 {
		changed := m.HostID != ""
		m.HostID = ""
		m.IsActive = false
		return "", changed
	}
	if p, ok := m.Participants[m.HostID]; ok {
		p.IsHost = true
		return m.HostID, false
	}
	next := m.ParticipantIDs()[0]
	for id, p := range m.Participants {
		p.IsHost = id == next
	}
	m.HostID = next
	return next, true
}
