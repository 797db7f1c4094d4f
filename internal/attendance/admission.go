// Package attendance implements the admission state machine: validate the
// session, score the contextual presence signals, match the face, enforce
// the at-most-one-mark invariant, and persist the result.
package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bioattend/internal/faceclient"
	"bioattend/internal/session"
	"bioattend/internal/student"
	"bioattend/internal/verify"
)

// SessionSource is the subset of session lookups admission needs.
type SessionSource interface {
	FindActiveByOTP(ctx context.Context, otp string, now time.Time) (*session.Session, error)
	GetByIDAndOTP(ctx context.Context, id, otp string) (*session.Session, error)
}

// FaceDetector extracts an embedding from a submitted image.
type FaceDetector interface {
	Detect(ctx context.Context, imageBase64 string) ([]float32, error)
}

// FaceMatcher finds the closest enrolled identity for a probe embedding.
type FaceMatcher interface {
	Match(probe []float32, threshold float64) (name string, similarity float64, ok bool)
}

// Directory resolves an enrolled name to a stored student id.
type Directory interface {
	GetIDByName(ctx context.Context, name string) (string, error)
}

// MarkStore persists marks; Insert returns ErrDuplicateMark on the unique
// (session, student) constraint.
type MarkStore interface {
	Insert(ctx context.Context, m *Mark) error
}

// Claim carries the contextual signals submitted alongside a request.
type Claim struct {
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	WifiSSID          string   `json:"wifi_ssid"`
	QRToken           string   `json:"qr_token"`
	DeviceFingerprint string   `json:"device_fingerprint"`
}

func (c Claim) input() verify.Input {
	return verify.Input{
		Latitude:          c.Latitude,
		Longitude:         c.Longitude,
		WifiSSID:          c.WifiSSID,
		QRToken:           c.QRToken,
		DeviceFingerprint: c.DeviceFingerprint,
	}
}

// VerifyLocationRequest asks for a scored breakdown without marking.
type VerifyLocationRequest struct {
	OTP string
	Claim
}

// MarkRequest is the full admission claim.
type MarkRequest struct {
	SessionID string
	OTP       string
	Image     string // base64-encoded face photo
	Claim
	Liveness json.RawMessage
}

// Admission orchestrates the two-step verification protocol.
type Admission struct {
	sessions  SessionSource
	scorer    verify.Scorer
	faces     FaceDetector
	matcher   FaceMatcher
	students  Directory
	marks     MarkStore
	threshold float64
	now       func() time.Time
}

// NewAdmission wires the orchestrator. threshold is the minimum cosine
// similarity for a face match.
func NewAdmission(sessions SessionSource, scorer verify.Scorer, faces FaceDetector,
	matcher FaceMatcher, students Directory, marks MarkStore, threshold float64) *Admission {
	return &Admission{
		sessions:  sessions,
		scorer:    scorer,
		faces:     faces,
		matcher:   matcher,
		students:  students,
		marks:     marks,
		threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// VerifyLocation scores a claim against the active session behind otp and
// returns the full breakdown whether or not it clears the bar. Read-only:
// nothing is marked, and wrong and expired OTPs are indistinguishable to the
// caller.
func (a *Admission) VerifyLocation(ctx context.Context, req VerifyLocationRequest) (*verify.Result, error) {
	now := a.now()
	sess, err := a.sessions.FindActiveByOTP(ctx, req.OTP, now)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrAmbiguousOTP) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	result := a.scorer.Score(sess.Target(), req.input(), now)
	return &result, nil
}

// Mark runs the full admission: session re-validation, a fresh scoring round
// (a client-cached verify result is never trusted), face match, dedup, and
// the durable insert. The insert happens only after every prior check has
// passed, so a rejection leaves no partial state.
func (a *Admission) Mark(ctx context.Context, req MarkRequest) (*Mark, error) {
	now := a.now()

	sess, err := a.sessions.GetByIDAndOTP(ctx, req.SessionID, req.OTP)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if !sess.IsActive(now) {
		return nil, ErrSessionNotFound
	}

	result := a.scorer.Score(sess.Target(), req.input(), now)
	if !result.Passed {
		return nil, &VerificationError{Result: result}
	}

	embedding, err := a.faces.Detect(ctx, req.Image)
	if err != nil {
		if errors.Is(err, faceclient.ErrNoFaceDetected) || errors.Is(err, faceclient.ErrDecodeFailed) {
			return nil, ErrFaceNotDetected
		}
		return nil, fmt.Errorf("face detection: %w", err)
	}

	name, _, ok := a.matcher.Match(embedding, a.threshold)
	if !ok {
		return nil, ErrFaceNotRecognized
	}

	studentID, err := a.students.GetIDByName(ctx, name)
	if err != nil {
		if errors.Is(err, student.ErrNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("student lookup: %w", err)
	}

	mark := &Mark{
		ID:                uuid.NewString(),
		SessionID:         sess.ID,
		StudentID:         studentID,
		StudentName:       name,
		MarkedAt:          now,
		Method:            result.Method(),
		Scores:            result,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		WifiSSID:          req.WifiSSID,
		DeviceFingerprint: req.DeviceFingerprint,
		Liveness:          req.Liveness,
	}
	if err := a.marks.Insert(ctx, mark); err != nil {
		if errors.Is(err, ErrDuplicateMark) {
			return nil, ErrDuplicateMark
		}
		return nil, fmt.Errorf("mark persist: %w", err)
	}
	return mark, nil
}
