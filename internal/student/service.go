package student

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"bioattend/internal/cloudinary"
	"bioattend/internal/faceclient"
	"bioattend/internal/roster"
)

// Service owns enrollment: extract the face embedding, store the photo,
// persist the student, and refresh the in-memory roster so matchers pick up
// the change.
type Service struct {
	repo   *Repository
	faces  *faceclient.Client
	photos *cloudinary.Client // nil when photo storage is not configured
	roster *roster.Roster
	now    func() time.Time
}

// NewService creates an enrollment service.
func NewService(repo *Repository, faces *faceclient.Client, photos *cloudinary.Client, r *roster.Roster) *Service {
	return &Service{
		repo:   repo,
		faces:  faces,
		photos: photos,
		roster: r,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enroll registers a student from a base64-encoded photo. The embedding is
// extracted first so a faceless image never creates a row or a blob.
func (s *Service) Enroll(ctx context.Context, name, imageBase64 string) (*Student, error) {
	if name == "" {
		return nil, fmt.Errorf("student name required")
	}

	embedding, err := s.faces.Detect(ctx, imageBase64)
	if err != nil {
		return nil, err
	}

	st := Student{
		ID:        uuid.NewString(),
		Name:      name,
		Embedding: embedding,
		CreatedAt: s.now(),
	}

	if s.photos != nil {
		uploaded, err := s.photos.UploadBase64(imageBase64)
		if err != nil {
			return nil, fmt.Errorf("photo upload failed: %w", err)
		}
		st.PhotoURL = uploaded.SecureURL
		st.PhotoPublicID = uploaded.PublicID
	}

	if err := s.repo.Insert(ctx, st); err != nil {
		return nil, err
	}

	if err := s.roster.Refresh(ctx); err != nil {
		log.Printf("roster refresh after enroll failed: %v", err)
	}
	return &st, nil
}

// Delete removes a student, their stored photo, and refreshes the roster.
func (s *Service) Delete(ctx context.Context, id string) error {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if s.photos != nil && st.PhotoPublicID != "" {
		if err := s.photos.Destroy(st.PhotoPublicID); err != nil {
			// Row is gone; an orphaned blob is tolerable and logged.
			log.Printf("photo delete failed for student %s: %v", id, err)
		}
	}

	if err := s.roster.Refresh(ctx); err != nil {
		log.Printf("roster refresh after delete failed: %v", err)
	}
	return nil
}

// List returns all enrolled students.
func (s *Service) List(ctx context.Context) ([]Student, error) {
	return s.repo.List(ctx)
}
