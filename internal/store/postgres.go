package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/meshmeet/internal/models"
)

// PostgresStore handles the meetings and meeting_attendance tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveMeeting(ctx context.Context, m models.MeetingRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO meetings (id, title, host_id, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, host_id = EXCLUDED.host_id`,
		m.ID, m.Title, m.HostID, m.CreatedAt)
	return err
}

func (s *PostgresStore) EndMeeting(ctx context.Context, meetingID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE meetings SET ended_at = $2 WHERE id = $1`, meetingID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LogJoin(ctx context.Context, meetingID, participantID, name string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO meeting_attendance (id, meeting_id, participant_id, name, joined_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), meetingID, participantID, name, at)
	return err
}

func (s *PostgresStore) LogLeave(ctx context.Context, meetingID, participantID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE meeting_attendance a SET left_at = $3, watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - a.joined_at))::BIGINT)
		 FROM (SELECT id FROM meeting_attendance WHERE meeting_id = $1 AND participant_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE a.id = sub.id`,
		meetingID, participantID, at)
	return err
}

func (s *PostgresStore) GetMeeting(ctx context.Context, meetingID string) (*models.MeetingRecord, error) {
	var m models.MeetingRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, host_id, created_at, ended_at FROM meetings WHERE id = $1`, meetingID).
		Scan(&m.ID, &m.Title, &m.HostID, &m.CreatedAt, &m.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) Attendance(ctx context.Context, meetingID string) ([]models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, meeting_id, participant_id, name, joined_at, left_at, watch_seconds
		 FROM meeting_attendance WHERE meeting_id = $1 ORDER BY joined_at DESC`,
		meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.MeetingID, &r.ParticipantID, &r.Name, &r.JoinedAt, &r.LeftAt, &r.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}
