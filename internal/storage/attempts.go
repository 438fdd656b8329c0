package storage

import (
	"context"
	"time"

	"github.com/cictpeerlearninghub/booking-gateway/internal/booking"
	"github.com/cictpeerlearninghub/booking-gateway/libs/db"
)

// AttemptsRepository persists submission attempts to Postgres. One row per
// slot per submit.
type AttemptsRepository struct {
	pool *db.Pool
}

func NewAttemptsRepository(pool *db.Pool) *AttemptsRepository {
	return &AttemptsRepository{pool: pool}
}

// RecordSubmission writes one submit's attempts in a single transaction so a
// partial write never splits a fan-out across reads.
func (r *AttemptsRepository) RecordSubmission(ctx context.Context, attempts []booking.SubmissionAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, a := range attempts {
		_, err := tx.Exec(ctx, `
			INSERT INTO booking_submission_attempts
				(session_id, requester_id, tutor_id, subject_id, slot_date, slot, outcome, detail, submitted_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9)
		`, a.SessionID, a.RequesterID, a.TutorID, a.SubjectID, a.Date, a.Slot, a.Outcome, a.Detail, a.SubmittedAt.UTC())
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

type AttemptRow struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	RequesterID string    `json:"requester_id"`
	TutorID     string    `json:"tutor_id"`
	SubjectID   string    `json:"subject_id,omitempty"`
	Date        string    `json:"date"`
	Slot        string    `json:"slot"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ListBySession returns a session's attempts, newest first.
func (r *AttemptsRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]AttemptRow, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, requester_id, tutor_id, COALESCE(subject_id, ''),
		       slot_date, slot, outcome, COALESCE(detail, ''), submitted_at
		FROM booking_submission_attempts
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var row AttemptRow
		if err := rows.Scan(&row.ID, &row.SessionID, &row.RequesterID, &row.TutorID, &row.SubjectID,
			&row.Date, &row.Slot, &row.Outcome, &row.Detail, &row.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
