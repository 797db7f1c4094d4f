// Package verify fuses four independent presence signals (Wi-Fi SSID, GPS
// geofence, rotating QR token, device fingerprint) into a single scored
// admission decision. Each signal is individually weak; the scorer sums the
// configured weight of every passing check and compares against a minimum,
// so a single missing signal degrades the score instead of blocking outright.
package verify

import (
	"fmt"
	"strings"
	"time"

	"bioattend/internal/geo"
	"bioattend/internal/qrtoken"
)

// Check kinds, one per signal.
const (
	KindWifi   = "wifi"
	KindGPS    = "gps"
	KindQR     = "qr"
	KindDevice = "device"
)

// suspiciousMarkers flag virtualization/emulation fingerprints. This is a
// best-effort legitimacy heuristic, not a cryptographic attestation.
var suspiciousMarkers = []string{
	"emulator",
	"generic",
	"unknown",
	"goldfish",
	"vbox",
	"vmware",
	"qemu",
}

const minFingerprintLen = 20

// Check is the outcome of a single signal validator.
type Check struct {
	Kind           string   `json:"kind"`
	Passed         bool     `json:"passed"`
	Score          int      `json:"score"`
	MaxScore       int      `json:"max_score"`
	Message        string   `json:"message"`
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
}

// Result is the fused verification outcome returned to the client in full,
// pass or fail, so the UI can show which signals fell short.
type Result struct {
	TotalScore       int     `json:"total_score"`
	RequiredScore    int     `json:"required_score"`
	MaxPossibleScore int     `json:"max_possible_score"`
	Passed           bool    `json:"passed"`
	Checks           []Check `json:"checks"`
}

// PassedKinds returns the kinds of the checks that passed, in check order.
func (r Result) PassedKinds() []string {
	var kinds []string
	for _, c := range r.Checks {
		if c.Passed {
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

// Method derives the recorded verification method from the passing checks.
func (r Result) Method() string {
	kinds := r.PassedKinds()
	if len(kinds) == 0 {
		return "none"
	}
	return strings.Join(kinds, "+")
}

// Target describes the session-side expectations a claim is verified against.
type Target struct {
	SessionID       string
	AllowedWifiSSID string // empty means no restriction configured
	ClassroomLat    *float64
	ClassroomLon    *float64
	GeofenceRadiusM int
}

// Input carries the contextual signals submitted with a claim. Pointer
// fields distinguish "absent" from zero values.
type Input struct {
	Latitude          *float64
	Longitude         *float64
	WifiSSID          string
	QRToken           string
	DeviceFingerprint string
}

// Weights assigns the point value each passing check earns.
type Weights struct {
	Wifi   int
	GPS    int
	QR     int
	Device int
}

// Max returns the highest attainable total score.
func (w Weights) Max() int {
	return w.Wifi + w.GPS + w.QR + w.Device
}

// Scorer runs the four validators and fuses their outcomes. All fields are
// fixed at startup; Score is pure and safe for concurrent use.
type Scorer struct {
	Weights       Weights
	RequiredScore int
	QRSecret      string
	QRInterval    time.Duration
	QRLength      int
}

// Validate rejects a policy no claim could ever satisfy.
func (s Scorer) Validate() error {
	if max := s.Weights.Max(); max < s.RequiredScore {
		return fmt.Errorf("verify: max attainable score %d below required %d", max, s.RequiredScore)
	}
	return nil
}

// Score runs all four validators independently (no short-circuiting; order
// does not affect the result) and sums the weights of the passing checks.
func (s Scorer) Score(target Target, in Input, now time.Time) Result {
	checks := []Check{
		s.checkWifi(target, in),
		s.checkGPS(target, in),
		s.checkQR(target, in, now),
		s.checkDevice(in),
	}

	total := 0
	for _, c := range checks {
		total += c.Score
	}

	return Result{
		TotalScore:       total,
		RequiredScore:    s.RequiredScore,
		MaxPossibleScore: s.Weights.Max(),
		Passed:           total >= s.RequiredScore,
		Checks:           checks,
	}
}

func (s Scorer) checkWifi(target Target, in Input) Check {
	check := Check{Kind: KindWifi, MaxScore: s.Weights.Wifi}

	switch {
	case in.WifiSSID == "":
		check.Message = "WiFi SSID not provided"
	case target.AllowedWifiSSID == "":
		// A session without an SSID restriction can never earn Wi-Fi points.
		check.Message = "No WiFi restriction configured"
	case strings.EqualFold(strings.TrimSpace(in.WifiSSID), strings.TrimSpace(target.AllowedWifiSSID)):
		check.Passed = true
		check.Score = s.Weights.Wifi
		check.Message = "Connected to correct WiFi: " + target.AllowedWifiSSID
	default:
		check.Message = fmt.Sprintf("Wrong WiFi network. Expected: %s, Got: %s", target.AllowedWifiSSID, in.WifiSSID)
	}
	return check
}

func (s Scorer) checkGPS(target Target, in Input) Check {
	check := Check{Kind: KindGPS, MaxScore: s.Weights.GPS}

	if in.Latitude == nil || in.Longitude == nil {
		check.Message = "GPS coordinates not provided"
		return check
	}
	if target.ClassroomLat == nil || target.ClassroomLon == nil {
		check.Message = "Classroom coordinates not configured"
		return check
	}

	distance := geo.Distance(*in.Latitude, *in.Longitude, *target.ClassroomLat, *target.ClassroomLon)
	check.DistanceMeters = &distance

	if distance <= float64(target.GeofenceRadiusM) {
		check.Passed = true
		check.Score = s.Weights.GPS
		check.Message = fmt.Sprintf("Within geofence (%dm from classroom)", int(distance))
	} else {
		check.Message = fmt.Sprintf("Outside geofence (%dm away, must be within %dm)", int(distance), target.GeofenceRadiusM)
	}
	return check
}

func (s Scorer) checkQR(target Target, in Input, now time.Time) Check {
	check := Check{Kind: KindQR, MaxScore: s.Weights.QR}

	if in.QRToken == "" {
		check.Message = "QR token not provided"
		return check
	}
	if qrtoken.Validate(target.SessionID, s.QRSecret, in.QRToken, s.QRInterval, s.QRLength, now) {
		check.Passed = true
		check.Score = s.Weights.QR
		check.Message = "Valid QR token"
	} else {
		check.Message = "QR code expired or invalid. Please scan again."
	}
	return check
}

func (s Scorer) checkDevice(in Input) Check {
	check := Check{Kind: KindDevice, MaxScore: s.Weights.Device}

	if in.DeviceFingerprint == "" {
		check.Message = "Device fingerprint not provided"
		return check
	}

	lower := strings.ToLower(in.DeviceFingerprint)
	for _, marker := range suspiciousMarkers {
		if strings.Contains(lower, marker) {
			check.Message = "Suspicious device detected: " + marker
			return check
		}
	}

	if len(in.DeviceFingerprint) < minFingerprintLen {
		check.Message = "Device fingerprint too short"
		return check
	}

	check.Passed = true
	check.Score = s.Weights.Device
	check.Message = "Device appears legitimate"
	return check
}
