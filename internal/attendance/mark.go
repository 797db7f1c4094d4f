package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bioattend/internal/verify"
)

// Mark is one durably recorded admission: who was accepted into which
// session, when, and on the strength of which signals.
type Mark struct {
	ID                string          `json:"id"`
	SessionID         string          `json:"session_id"`
	StudentID         string          `json:"student_id"`
	StudentName       string          `json:"student_name,omitempty"`
	MarkedAt          time.Time       `json:"marked_at"`
	Method            string          `json:"verification_method"`
	Scores            verify.Result   `json:"verification_scores"`
	Latitude          *float64        `json:"latitude,omitempty"`
	Longitude         *float64        `json:"longitude,omitempty"`
	WifiSSID          string          `json:"wifi_ssid,omitempty"`
	DeviceFingerprint string          `json:"-"`
	PhotoURL          string          `json:"-"`
	Liveness          json.RawMessage `json:"liveness,omitempty"`
}

// Record is the per-student summary shown on a session's detail view.
type Record struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	MarkedAt    time.Time `json:"marked_at"`
	Method      string    `json:"verification_method"`
	TotalScore  int       `json:"location_score"`
}

// Repository persists attendance marks in Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a repo.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert writes a new mark. The unique (session_id, student_id) constraint
// makes check-and-insert atomic: a conflicting insert affects zero rows and
// is reported as ErrDuplicateMark, leaving the original untouched even under
// concurrent near-simultaneous requests.
func (r *Repository) Insert(ctx context.Context, m *Mark) error {
	scores, err := json.Marshal(m.Scores)
	if err != nil {
		return fmt.Errorf("mark scores encode: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO attendance_marks
			(id, session_id, student_id, marked_at, verification_method,
			 verification_scores, latitude, longitude, wifi_ssid,
			 device_fingerprint, photo_url, liveness)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, m.ID, m.SessionID, m.StudentID, m.MarkedAt, m.Method,
		scores, m.Latitude, m.Longitude, m.WifiSSID,
		m.DeviceFingerprint, m.PhotoURL, nullableJSON(m.Liveness))
	if err != nil {
		return fmt.Errorf("mark insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateMark
	}
	return nil
}

// Exists reports whether a mark already exists for (session, student).
func (r *Repository) Exists(ctx context.Context, sessionID, studentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_marks WHERE session_id = $1 AND student_id = $2
		)
	`, sessionID, studentID).Scan(&exists)
	return exists, err
}

// GetByID returns a single mark, used by the liveness worker.
func (r *Repository) GetByID(ctx context.Context, id string) (*Mark, error) {
	var m Mark
	var scores []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, session_id, student_id, marked_at, verification_method,
			verification_scores, latitude, longitude, wifi_ssid,
			device_fingerprint, photo_url, COALESCE(liveness, 'null'::jsonb)
		FROM attendance_marks WHERE id = $1
	`, id).Scan(&m.ID, &m.SessionID, &m.StudentID, &m.MarkedAt, &m.Method,
		&scores, &m.Latitude, &m.Longitude, &m.WifiSSID,
		&m.DeviceFingerprint, &m.PhotoURL, &m.Liveness)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("mark %s: %w", id, pgx.ErrNoRows)
		}
		return nil, err
	}
	if err := json.Unmarshal(scores, &m.Scores); err != nil {
		return nil, fmt.Errorf("mark scores decode: %w", err)
	}
	return &m, nil
}

// UpdatePhotoURL attaches the stored check-in photo after upload.
func (r *Repository) UpdatePhotoURL(ctx context.Context, id, photoURL string) error {
	_, err := r.db.Exec(ctx, `UPDATE attendance_marks SET photo_url = $2 WHERE id = $1`, id, photoURL)
	return err
}

// UpdateLiveness stores the liveness judgment produced by the worker.
func (r *Repository) UpdateLiveness(ctx context.Context, id string, liveness json.RawMessage) error {
	_, err := r.db.Exec(ctx, `UPDATE attendance_marks SET liveness = $2 WHERE id = $1`, id, nullableJSON(liveness))
	return err
}

// ListBySession returns the per-student records of a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.student_id, s.name, m.marked_at, m.verification_method,
			COALESCE((m.verification_scores->>'total_score')::int, 0)
		FROM attendance_marks m
		JOIN students s ON m.student_id = s.id
		WHERE m.session_id = $1
		ORDER BY m.marked_at DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListToday returns all records marked since midnight UTC.
func (r *Repository) ListToday(ctx context.Context, now time.Time) ([]Record, error) {
	midnight := now.UTC().Truncate(24 * time.Hour)
	rows, err := r.db.Query(ctx, `
		SELECT m.student_id, s.name, m.marked_at, m.verification_method,
			COALESCE((m.verification_scores->>'total_score')::int, 0)
		FROM attendance_marks m
		JOIN students s ON m.student_id = s.id
		WHERE m.marked_at >= $1
		ORDER BY m.marked_at DESC
	`, midnight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.StudentID, &rec.StudentName, &rec.MarkedAt, &rec.Method, &rec.TotalScore); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// nullableJSON maps an empty payload to SQL NULL instead of invalid jsonb.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
