package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"bioattend/internal/qrtoken"
)

// Creation bounds.
const (
	MinDuration = 1 * time.Hour
	MaxDuration = 8 * time.Hour
	MinRadiusM  = 10
	MaxRadiusM  = 500
)

// otpMaxAttempts bounds the re-roll loop on active-OTP collisions.
const otpMaxAttempts = 5

// ErrInactive is returned for operations that require an active session.
var ErrInactive = errors.New("session is closed or expired")

// ValidationError describes an invalid session creation request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CreateParams are the professor-supplied session parameters.
type CreateParams struct {
	CourseName        string
	ProfessorName     string
	Duration          time.Duration
	ClassroomLocation string
	ClassroomLat      *float64
	ClassroomLon      *float64
	GeofenceRadiusM   int
	AllowedWifiSSID   string
}

// QRToken is one issued rotating token plus its remaining validity.
type QRToken struct {
	Token       string    `json:"token"`
	ExpiresIn   int       `json:"expires_in"`
	URL         string    `json:"qr_url"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Service owns session lifecycle: creation, closing, token issuance.
type Service struct {
	repo           *Repository
	qrSecret       string
	qrInterval     time.Duration
	qrLength       int
	defaultRadiusM int
	frontendURL    string
	now            func() time.Time
}

// NewService creates a session service.
func NewService(repo *Repository, qrSecret string, qrInterval time.Duration, qrLength, defaultRadiusM int, frontendURL string) *Service {
	if defaultRadiusM <= 0 {
		defaultRadiusM = 50
	}
	return &Service{
		repo:           repo,
		qrSecret:       qrSecret,
		qrInterval:     qrInterval,
		qrLength:       qrLength,
		defaultRadiusM: defaultRadiusM,
		frontendURL:    frontendURL,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Create validates params, rolls a collision-free OTP, and persists the new
// session.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Session, error) {
	if err := validateParams(&p, s.defaultRadiusM); err != nil {
		return nil, err
	}

	now := s.now()

	otp, err := s.rollOTP(ctx, now)
	if err != nil {
		return nil, err
	}

	sess := Session{
		ID:                uuid.NewString(),
		CourseName:        p.CourseName,
		ProfessorName:     p.ProfessorName,
		OTP:               otp,
		ClassroomLocation: p.ClassroomLocation,
		ClassroomLat:      p.ClassroomLat,
		ClassroomLon:      p.ClassroomLon,
		GeofenceRadiusM:   p.GeofenceRadiusM,
		AllowedWifiSSID:   p.AllowedWifiSSID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(p.Duration),
		Active:            true,
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// rollOTP generates an OTP that no currently-active session holds. The
// configured length makes collisions negligible; the loop is a backstop.
func (s *Service) rollOTP(ctx context.Context, now time.Time) (string, error) {
	for i := 0; i < otpMaxAttempts; i++ {
		otp, err := GenerateOTP(OTPLength)
		if err != nil {
			return "", err
		}
		taken, err := s.repo.ActiveOTPExists(ctx, otp, now)
		if err != nil {
			return "", err
		}
		if !taken {
			return otp, nil
		}
	}
	return "", errors.New("session: could not generate unique otp")
}

func validateParams(p *CreateParams, defaultRadiusM int) error {
	if p.CourseName == "" {
		return &ValidationError{Field: "course_name", Reason: "required"}
	}
	if p.ProfessorName == "" {
		return &ValidationError{Field: "professor_name", Reason: "required"}
	}
	if p.Duration < MinDuration || p.Duration > MaxDuration {
		return &ValidationError{Field: "duration", Reason: "must be between 1 and 8 hours"}
	}
	if (p.ClassroomLat == nil) != (p.ClassroomLon == nil) {
		return &ValidationError{Field: "classroom coordinates", Reason: "latitude and longitude must be provided together"}
	}
	if p.GeofenceRadiusM == 0 {
		p.GeofenceRadiusM = defaultRadiusM
	}
	if p.GeofenceRadiusM < MinRadiusM || p.GeofenceRadiusM > MaxRadiusM {
		return &ValidationError{Field: "geofence_radius", Reason: fmt.Sprintf("must be between %d and %d meters", MinRadiusM, MaxRadiusM)}
	}
	return nil
}

// Close deactivates a session before its expiry.
func (s *Service) Close(ctx context.Context, id string) error {
	return s.repo.Deactivate(ctx, id)
}

// Token derives the current rotating QR token for an active session. Tokens
// are computed, never stored.
func (s *Service) Token(ctx context.Context, id string) (*QRToken, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !sess.IsActive(now) {
		return nil, ErrInactive
	}

	token := qrtoken.Generate(sess.ID, s.qrSecret, s.qrInterval, s.qrLength, now)
	return &QRToken{
		Token:       token,
		ExpiresIn:   int(qrtoken.Remaining(now, s.qrInterval).Seconds()),
		URL:         s.MarkURL(sess.ID, token),
		GeneratedAt: now,
	}, nil
}

// MarkURL builds the link a scanned QR code opens.
func (s *Service) MarkURL(sessionID, token string) string {
	return fmt.Sprintf("%s/mark-attendance?session=%s&token=%s",
		s.frontendURL, url.QueryEscape(sessionID), url.QueryEscape(token))
}

// Status returns the dashboard summary for one session.
func (s *Service) Status(ctx context.Context, id string) (*Status, error) {
	return s.repo.GetStatus(ctx, id, s.now())
}

// ListActive lists all currently joinable sessions.
func (s *Service) ListActive(ctx context.Context) ([]Status, error) {
	return s.repo.ListActive(ctx, s.now())
}
