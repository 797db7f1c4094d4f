package attendance

import (
	"errors"
	"fmt"

	"bioattend/internal/verify"
)

// Typed rejection catalog for the admission flow. Retryable user outcomes
// get their own sentinel so the boundary can map each to the right guidance;
// anything else bubbles up wrapped and is treated as a server fault.
var (
	// ErrSessionNotFound deliberately covers wrong OTP, unknown session id,
	// expired, and closed alike, so OTPs cannot be enumerated.
	ErrSessionNotFound = errors.New("invalid or expired session")

	// ErrFaceNotDetected covers both no-face and undecodable images.
	ErrFaceNotDetected = errors.New("no face detected in the submitted image")

	// ErrFaceNotRecognized means the best match fell below the recognition
	// threshold. The runner-up identity is never disclosed.
	ErrFaceNotRecognized = errors.New("face not recognized")

	// ErrStudentNotFound means a matched name has no stored identity, which
	// points at a roster refresh race rather than a user error.
	ErrStudentNotFound = errors.New("student not found")

	// ErrDuplicateMark is the "already marked" outcome. Not a system fault;
	// the original mark is left untouched.
	ErrDuplicateMark = errors.New("attendance already marked for this session")
)

// VerificationError carries the full check breakdown of a failed scoring
// round so the client can see exactly which signals fell short.
type VerificationError struct {
	Result verify.Result
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed: scored %d of %d required",
		e.Result.TotalScore, e.Result.RequiredScore)
}
