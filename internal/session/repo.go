package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no session matches a lookup. Callers surface
// it as a generic rejection so OTPs cannot be enumerated.
var ErrNotFound = errors.New("session not found")

// ErrAmbiguousOTP is returned when more than one active session shares an
// OTP. Collisions are re-rolled at creation, so this signals a policy breach
// and the lookup is rejected rather than guessed at.
var ErrAmbiguousOTP = errors.New("otp matches multiple active sessions")

// Repository persists sessions in Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a repo.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const sessionColumns = `id, course_name, professor_name, otp, classroom_location,
	classroom_lat, classroom_lon, geofence_radius, allowed_wifi_ssid,
	created_at, expires_at, is_active`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.CourseName, &s.ProfessorName, &s.OTP, &s.ClassroomLocation,
		&s.ClassroomLat, &s.ClassroomLon, &s.GeofenceRadiusM, &s.AllowedWifiSSID,
		&s.CreatedAt, &s.ExpiresAt, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO attendance_sessions
			(id, course_name, professor_name, otp, classroom_location,
			 classroom_lat, classroom_lon, geofence_radius, allowed_wifi_ssid,
			 created_at, expires_at, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, s.ID, s.CourseName, s.ProfessorName, s.OTP, s.ClassroomLocation,
		s.ClassroomLat, s.ClassroomLon, s.GeofenceRadiusM, s.AllowedWifiSSID,
		s.CreatedAt, s.ExpiresAt, s.Active)
	if err != nil {
		return fmt.Errorf("session insert: %w", err)
	}
	return nil
}

// GetByID returns a session regardless of state.
func (r *Repository) GetByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// GetByIDAndOTP returns a session only when both identifiers match.
func (r *Repository) GetByIDAndOTP(ctx context.Context, id, otp string) (*Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM attendance_sessions WHERE id = $1 AND otp = $2
	`, id, otp)
	return scanSession(row)
}

// FindActiveByOTP returns the single active, unexpired session carrying otp.
// Two matches make the OTP ambiguous and the lookup fails closed.
func (r *Repository) FindActiveByOTP(ctx context.Context, otp string, now time.Time) (*Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE otp = $1 AND is_active = TRUE AND expires_at > $2
		LIMIT 2
	`, otp, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.CourseName, &s.ProfessorName, &s.OTP, &s.ClassroomLocation,
			&s.ClassroomLat, &s.ClassroomLon, &s.GeofenceRadiusM, &s.AllowedWifiSSID,
			&s.CreatedAt, &s.ExpiresAt, &s.Active); err != nil {
			return nil, err
		}
		found = append(found, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return found[0], nil
	default:
		return nil, ErrAmbiguousOTP
	}
}

// ActiveOTPExists reports whether otp is already held by an active session.
func (r *Repository) ActiveOTPExists(ctx context.Context, otp string, now time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_sessions
			WHERE otp = $1 AND is_active = TRUE AND expires_at > $2
		)
	`, otp, now).Scan(&exists)
	return exists, err
}

// Deactivate flips an active session to closed. Returns ErrNotFound when the
// session does not exist or is already closed.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE attendance_sessions SET is_active = FALSE
		WHERE id = $1 AND is_active = TRUE
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Status summarizes a session for professor dashboards.
type Status struct {
	SessionID         string    `json:"session_id"`
	CourseName        string    `json:"course_name"`
	ProfessorName     string    `json:"professor_name"`
	Active            bool      `json:"is_active"`
	ExpiresAt         time.Time `json:"expires_at"`
	SecondsRemaining  int       `json:"seconds_remaining"`
	StudentsMarked    int       `json:"total_students_marked"`
	ClassroomLocation string    `json:"classroom_location,omitempty"`
}

const statusQuery = `
	SELECT s.id, s.course_name, s.professor_name, s.is_active, s.expires_at,
		s.classroom_location, COUNT(m.id)
	FROM attendance_sessions s
	LEFT JOIN attendance_marks m ON s.id = m.session_id`

func scanStatus(row pgx.Row, now time.Time) (*Status, error) {
	var st Status
	err := row.Scan(&st.SessionID, &st.CourseName, &st.ProfessorName, &st.Active,
		&st.ExpiresAt, &st.ClassroomLocation, &st.StudentsMarked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if remaining := int(st.ExpiresAt.Sub(now).Seconds()); remaining > 0 {
		st.SecondsRemaining = remaining
	}
	return &st, nil
}

// GetStatus returns the status summary for one session.
func (r *Repository) GetStatus(ctx context.Context, id string, now time.Time) (*Status, error) {
	row := r.db.QueryRow(ctx, statusQuery+` WHERE s.id = $1 GROUP BY s.id`, id)
	return scanStatus(row, now)
}

// ListActive returns status summaries for all active, unexpired sessions,
// newest first.
func (r *Repository) ListActive(ctx context.Context, now time.Time) ([]Status, error) {
	rows, err := r.db.Query(ctx, statusQuery+`
		WHERE s.is_active = TRUE AND s.expires_at > $1
		GROUP BY s.id
		ORDER BY s.created_at DESC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Status
	for rows.Next() {
		st, err := scanStatus(rows, now)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}
