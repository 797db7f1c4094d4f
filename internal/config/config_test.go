package config

import (
	"testing"
	"time"
)

func validConfig() App {
	return App{
		ScoreWifi:            30,
		ScoreGPS:             40,
		ScoreQR:              20,
		ScoreDevice:          10,
		RequiredScore:        70,
		QRTokenLength:        16,
		QRTokenInterval:      30 * time.Second,
		RecognitionThreshold: 0.45,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*App)
		wantErr bool
	}{
		{"defaults", func(a *App) {}, false},
		{"required equals max", func(a *App) { a.RequiredScore = 100 }, false},
		{"required above max", func(a *App) { a.RequiredScore = 101 }, true},
		{"negative weight", func(a *App) { a.ScoreGPS = -1 }, true},
		{"zero token length", func(a *App) { a.QRTokenLength = 0 }, true},
		{"token length too long", func(a *App) { a.QRTokenLength = 65 }, true},
		{"sub-second interval", func(a *App) { a.QRTokenInterval = 500 * time.Millisecond }, true},
		{"threshold at zero", func(a *App) { a.RecognitionThreshold = 0 }, true},
		{"threshold at one", func(a *App) { a.RecognitionThreshold = 1 }, true},
		{"zero required score", func(a *App) { a.RequiredScore = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.ScoreWifi+cfg.ScoreGPS+cfg.ScoreQR+cfg.ScoreDevice != 100 {
		t.Fatalf("default weights should sum to 100")
	}
	if cfg.RequiredScore != 70 {
		t.Fatalf("default required score = %d, want 70", cfg.RequiredScore)
	}
}
