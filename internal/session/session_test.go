package session

import (
	"testing"
	"time"
)

func TestGenerateOTP(t *testing.T) {
	for i := 0; i < 50; i++ {
		otp, err := GenerateOTP(OTPLength)
		if err != nil {
			t.Fatalf("GenerateOTP: %v", err)
		}
		if len(otp) != OTPLength {
			t.Fatalf("otp %q has length %d, want %d", otp, len(otp), OTPLength)
		}
		for _, r := range otp {
			if r < '0' || r > '9' {
				t.Fatalf("otp %q contains non-digit %q", otp, r)
			}
		}
	}
}

func TestIsActive(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		active  bool
		expires time.Time
		want    bool
	}{
		{"active and unexpired", true, now.Add(time.Hour), true},
		{"manually closed", false, now.Add(time.Hour), false},
		{"expired", true, now.Add(-time.Minute), false},
		{"expiring exactly now", true, now, false},
		{"closed and expired", false, now.Add(-time.Hour), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := Session{Active: c.active, ExpiresAt: c.expires}
			if got := s.IsActive(now); got != c.want {
				t.Errorf("IsActive = %v, want %v", got, c.want)
			}
		})
	}
}

func TestValidateParams(t *testing.T) {
	lat, lon := 12.9716, 77.5946
	base := func() CreateParams {
		return CreateParams{
			CourseName:    "Distributed Systems",
			ProfessorName: "Dr. Rao",
			Duration:      2 * time.Hour,
			ClassroomLat:  &lat,
			ClassroomLon:  &lon,
		}
	}

	cases := []struct {
		name    string
		mutate  func(*CreateParams)
		wantErr bool
	}{
		{"valid", func(p *CreateParams) {}, false},
		{"no course", func(p *CreateParams) { p.CourseName = "" }, true},
		{"no professor", func(p *CreateParams) { p.ProfessorName = "" }, true},
		{"too short", func(p *CreateParams) { p.Duration = 30 * time.Minute }, true},
		{"too long", func(p *CreateParams) { p.Duration = 9 * time.Hour }, true},
		{"lat without lon", func(p *CreateParams) { p.ClassroomLon = nil }, true},
		{"lon without lat", func(p *CreateParams) { p.ClassroomLat = nil }, true},
		{"no coordinates at all", func(p *CreateParams) { p.ClassroomLat, p.ClassroomLon = nil, nil }, false},
		{"radius below minimum", func(p *CreateParams) { p.GeofenceRadiusM = 5 }, true},
		{"radius above maximum", func(p *CreateParams) { p.GeofenceRadiusM = 900 }, true},
		{"explicit radius in range", func(p *CreateParams) { p.GeofenceRadiusM = 120 }, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := base()
			c.mutate(&p)
			err := validateParams(&p, 50)
			if (err != nil) != c.wantErr {
				t.Errorf("validateParams err = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}

func TestValidateParamsDefaultsRadius(t *testing.T) {
	p := CreateParams{CourseName: "Algorithms", ProfessorName: "Dr. Iyer", Duration: time.Hour}
	if err := validateParams(&p, 50); err != nil {
		t.Fatalf("validateParams: %v", err)
	}
	if p.GeofenceRadiusM != 50 {
		t.Errorf("default radius = %d, want 50", p.GeofenceRadiusM)
	}
}
