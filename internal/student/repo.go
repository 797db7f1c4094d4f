package student

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bioattend/internal/roster"
)

// ErrNotFound is returned when a student lookup matches nothing.
var ErrNotFound = errors.New("student not found")

// Student is one enrolled student. The face embedding is stored as a typed
// real[] column and scans straight into []float32; no serialized-text
// vectors anywhere.
type Student struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Embedding     []float32 `json:"-"`
	PhotoURL      string    `json:"photo_url,omitempty"`
	PhotoPublicID string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// Repository persists students in Postgres.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a repo.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert writes a new student with their face embedding.
func (r *Repository) Insert(ctx context.Context, s Student) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO students (id, name, embedding, photo_url, photo_public_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Name, s.Embedding, s.PhotoURL, s.PhotoPublicID, s.CreatedAt)
	return err
}

// GetByID returns one student without the embedding payload.
func (r *Repository) GetByID(ctx context.Context, id string) (*Student, error) {
	var s Student
	err := r.db.QueryRow(ctx, `
		SELECT id, name, photo_url, photo_public_id, created_at FROM students WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.PhotoURL, &s.PhotoPublicID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GetIDByName resolves an enrolled name to its student id.
func (r *Repository) GetIDByName(ctx context.Context, name string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, `SELECT id FROM students WHERE name = $1`, name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return id, nil
}

// List returns all students, without embeddings, ordered by name.
func (r *Repository) List(ctx context.Context) ([]Student, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, photo_url, photo_public_id, created_at FROM students ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.PhotoURL, &s.PhotoPublicID, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a student row. Returns ErrNotFound when nothing matched.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadMembers implements roster.Loader: the (name, embedding) pairs the
// matcher runs against.
func (r *Repository) LoadMembers(ctx context.Context) ([]roster.Member, error) {
	rows, err := r.db.Query(ctx, `SELECT name, embedding FROM students`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []roster.Member
	for rows.Next() {
		var m roster.Member
		if err := rows.Scan(&m.Name, &m.Embedding); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
