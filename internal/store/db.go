package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool. Native pgx (rather than database/sql) is
// used so typed real[] embedding columns scan straight into []float32.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a Postgres pool with sane defaults and verifies
// connectivity.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, pool.Ping(ctx)
}

// Migrate applies the schema. Idempotent, run at startup by both binaries.
func (d *DB) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id              TEXT PRIMARY KEY,
		name            TEXT UNIQUE NOT NULL,
		embedding       REAL[] NOT NULL,
		photo_url       TEXT NOT NULL DEFAULT '',
		photo_public_id TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_sessions (
		id                 TEXT PRIMARY KEY,
		course_name        TEXT NOT NULL,
		professor_name     TEXT NOT NULL,
		otp                TEXT NOT NULL,
		classroom_location TEXT NOT NULL DEFAULT '',
		classroom_lat      DOUBLE PRECISION,
		classroom_lon      DOUBLE PRECISION,
		geofence_radius    INTEGER NOT NULL DEFAULT 50,
		allowed_wifi_ssid  TEXT NOT NULL DEFAULT '',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at         TIMESTAMPTZ NOT NULL,
		is_active          BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS attendance_marks (
		id                  TEXT PRIMARY KEY,
		session_id          TEXT NOT NULL REFERENCES attendance_sessions(id),
		student_id          TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		marked_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		verification_method TEXT NOT NULL DEFAULT '',
		verification_scores JSONB NOT NULL,
		latitude            DOUBLE PRECISION,
		longitude           DOUBLE PRECISION,
		wifi_ssid           TEXT NOT NULL DEFAULT '',
		device_fingerprint  TEXT NOT NULL DEFAULT '',
		photo_url           TEXT NOT NULL DEFAULT '',
		liveness            JSONB,
		UNIQUE (session_id, student_id)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_otp_active ON attendance_sessions (otp) WHERE is_active;
	CREATE INDEX IF NOT EXISTS idx_marks_session       ON attendance_marks (session_id);
	CREATE INDEX IF NOT EXISTS idx_marks_marked_at     ON attendance_marks (marked_at);
	`
	_, err := d.Pool.Exec(ctx, schema)
	return err
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Pool == nil {
		return false
	}
	return d.Pool.Ping(ctx) == nil
}

// Close closes the pool.
func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}
