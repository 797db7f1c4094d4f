package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"bioattend/internal/verify"
)

// OTPLength is the number of digits in a session OTP.
const OTPLength = 6

// Session is one attendance-collection window opened by a professor. The OTP
// is meaningful only while the session is active and unexpired; sessions are
// closed or expire but are never deleted.
type Session struct {
	ID                string    `json:"id"`
	CourseName        string    `json:"course_name"`
	ProfessorName     string    `json:"professor_name"`
	OTP               string    `json:"otp,omitempty"`
	ClassroomLocation string    `json:"classroom_location,omitempty"`
	ClassroomLat      *float64  `json:"classroom_lat,omitempty"`
	ClassroomLon      *float64  `json:"classroom_lon,omitempty"`
	GeofenceRadiusM   int       `json:"geofence_radius"`
	AllowedWifiSSID   string    `json:"allowed_wifi_ssid,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Active            bool      `json:"is_active"`
}

// IsActive is the single validity predicate: manually closed or expired
// sessions are both terminal for admission purposes.
func (s Session) IsActive(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// Target returns the verification expectations this session imposes.
func (s Session) Target() verify.Target {
	return verify.Target{
		SessionID:       s.ID,
		AllowedWifiSSID: s.AllowedWifiSSID,
		ClassroomLat:    s.ClassroomLat,
		ClassroomLon:    s.ClassroomLon,
		GeofenceRadiusM: s.GeofenceRadiusM,
	}
}

// GenerateOTP returns a random numeric code of the given length.
func GenerateOTP(length int) (string, error) {
	if length <= 0 {
		length = OTPLength
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("session: otp generation failed: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
