// Package store persists meeting and attendance records. Persistence is
// best-effort from the session's point of view: a failed write never blocks
// a meeting.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aura-webinar/meshmeet/internal/models"
)

var ErrNotFound = errors.New("meeting not found")

type Store interface {
	// SaveMeeting inserts the meeting or updates its title and host.
	SaveMeeting(ctx context.Context, m models.MeetingRecord) error
	EndMeeting(ctx context.Context, meetingID string, at time.Time) error
	LogJoin(ctx context.Context, meetingID, participantID, name string, at time.Time) error
	// LogLeave closes the participant's most recent open attendance row.
	LogLeave(ctx context.Context, meetingID, participantID string, at time.Time) error
	GetMeeting(ctx context.Context, meetingID string) (*models.MeetingRecord, error)
	Attendance(ctx context.Context, meetingID string) ([]models.AttendanceRecord, error)
}

func watchSeconds(joined, left time.Time) int64 {
	d := int64(left.Sub(joined) / time.Second)
	if d < 0 {
		return 0
	}
	return d
}
