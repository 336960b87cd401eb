package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/aura-webinar/meshmeet/internal/models"
	"github.com/aura-webinar/meshmeet/pkg/database"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	meetingID := "m-" + uuid.NewString()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if _, err := s.GetMeeting(ctx, meetingID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := s.SaveMeeting(ctx, models.MeetingRecord{ID: meetingID, Title: "Standup", HostID: "a", CreatedAt: start}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveMeeting(ctx, models.MeetingRecord{ID: meetingID, Title: "Standup", HostID: "b", CreatedAt: start.Add(time.Hour)}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := s.GetMeeting(ctx, meetingID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HostID != "b" || !got.CreatedAt.Equal(start) || got.EndedAt != nil {
		t.Fatalf("unexpected meeting %+v", got)
	}

	if err := s.LogJoin(ctx, meetingID, "a", "Alice", start); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if err := s.LogJoin(ctx, meetingID, "b", "Bob", start.Add(time.Minute)); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if err := s.LogLeave(ctx, meetingID, "a", start.Add(90*time.Second)); err != nil {
		t.Fatalf("leave a: %v", err)
	}
	if err := s.LogLeave(ctx, meetingID, "nobody", start); err != nil {
		t.Fatalf("leave unknown: %v", err)
	}

	rows, err := s.Attendance(ctx, meetingID)
	if err != nil {
		t.Fatalf("attendance: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("want 2 rows, got %d", len(rows))
	}
	if rows[0].ParticipantID != "b" || rows[0].LeftAt != nil {
		t.Fatalf("newest row should be b and open, got %+v", rows[0])
	}
	if rows[1].ParticipantID != "a" || rows[1].LeftAt == nil || rows[1].WatchSeconds != 90 {
		t.Fatalf("a should be closed after 90s, got %+v", rows[1])
	}

	end := start.Add(2 * time.Hour)
	if err := s.EndMeeting(ctx, meetingID, end); err != nil {
		t.Fatalf("end: %v", err)
	}
	got, _ = s.GetMeeting(ctx, meetingID)
	if got.EndedAt == nil || !got.EndedAt.Equal(end) {
		t.Fatalf("ended_at not set: %+v", got)
	}
	if err := s.EndMeeting(ctx, "missing-"+meetingID, end); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound ending unknown meeting, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreJoinUnknownMeeting(t *testing.T) {
	err := NewMemoryStore().LogJoin(context.Background(), "nope", "a", "Alice", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

// Runs against a real database when MESHMEET_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MESHMEET_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MESHMEET_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	exerciseStore(t, NewPostgresStore(pool))
}
