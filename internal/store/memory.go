package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/meshmeet/internal/models"
)

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	mu         sync.Mutex
	meetings   map[string]models.MeetingRecord
	attendance map[string][]*models.AttendanceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meetings:   make(map[string]models.MeetingRecord),
		attendance: make(map[string][]*models.AttendanceRecord),
	}
}

func (s *MemoryStore) SaveMeeting(_ context.Context, m models.MeetingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.meetings[m.ID]; ok {
		existing.Title = m.Title
		existing.HostID = m.HostID
		s.meetings[m.ID] = existing
		return nil
	}
	s.meetings[m.ID] = m
	return nil
}

func (s *MemoryStore) EndMeeting(_ context.Context, meetingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return ErrNotFound
	}
	m.EndedAt = &at
	s.meetings[meetingID] = m
	return nil
}

func (s *MemoryStore) LogJoin(_ context.Context, meetingID, participantID, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meetings[meetingID]; !ok {
		return ErrNotFound
	}
	s.attendance[meetingID] = append(s.attendance[meetingID], &models.AttendanceRecord{
		ID:            uuid.New(),
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Name:          name,
		JoinedAt:      at,
	})
	return nil
}

func (s *MemoryStore) LogLeave(_ context.Context, meetingID, participantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.attendance[meetingID]
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.ParticipantID == participantID && r.LeftAt == nil {
			left := at
			r.LeftAt = &left
			r.WatchSeconds = watchSeconds(r.JoinedAt, at)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) GetMeeting(_ context.Context, meetingID string) (*models.MeetingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

// Attendance returns rows newest first.
func (s *MemoryStore) Attendance(_ context.Context, meetingID string) ([]models.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.attendance[meetingID]
	out := make([]models.AttendanceRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out, nil
}
