package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"bioattend/internal/faceclient"
	"bioattend/internal/qrtoken"
	"bioattend/internal/roster"
	"bioattend/internal/session"
	"bioattend/internal/student"
	"bioattend/internal/verify"
)

const (
	testSecret    = "admission-test-secret"
	testSessionID = "5e9f8a30-7c53-4e0b-b6e4-cc3a4fbb8a01"
	testOTP       = "123456"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fakeSessions struct {
	sessions map[string]*session.Session // keyed by id
}

func (f *fakeSessions) FindActiveByOTP(ctx context.Context, otp string, now time.Time) (*session.Session, error) {
	for _, s := range f.sessions {
		if s.OTP == otp && s.IsActive(now) {
			return s, nil
		}
	}
	return nil, session.ErrNotFound
}

func (f *fakeSessions) GetByIDAndOTP(ctx context.Context, id, otp string) (*session.Session, error) {
	if s, ok := f.sessions[id]; ok && s.OTP == otp {
		return s, nil
	}
	return nil, session.ErrNotFound
}

type fakeDetector struct {
	embedding []float32
	err       error
}

func (f *fakeDetector) Detect(ctx context.Context, imageBase64 string) ([]float32, error) {
	return f.embedding, f.err
}

type fakeDirectory struct {
	ids map[string]string // name -> id
}

func (f *fakeDirectory) GetIDByName(ctx context.Context, name string) (string, error) {
	if id, ok := f.ids[name]; ok {
		return id, nil
	}
	return "", student.ErrNotFound
}

type memMarkStore struct {
	marks map[string]*Mark // session_id + "/" + student_id
}

func newMemMarkStore() *memMarkStore {
	return &memMarkStore{marks: make(map[string]*Mark)}
}

func (m *memMarkStore) Insert(ctx context.Context, mark *Mark) error {
	key := mark.SessionID + "/" + mark.StudentID
	if _, exists := m.marks[key]; exists {
		return ErrDuplicateMark
	}
	m.marks[key] = mark
	return nil
}

func ptr(f float64) *float64 { return &f }

type loaderFunc func(ctx context.Context) ([]roster.Member, error)

func (f loaderFunc) LoadMembers(ctx context.Context) ([]roster.Member, error) { return f(ctx) }

func activeSession() *session.Session {
	return &session.Session{
		ID:              testSessionID,
		CourseName:      "Distributed Systems",
		ProfessorName:   "Dr. Rao",
		OTP:             testOTP,
		ClassroomLat:    ptr(12.9716),
		ClassroomLon:    ptr(77.5946),
		GeofenceRadiusM: 50,
		AllowedWifiSSID: "CampusNet",
		CreatedAt:       testNow.Add(-10 * time.Minute),
		ExpiresAt:       testNow.Add(2 * time.Hour),
		Active:          true,
	}
}

func newTestAdmission(sess *session.Session, detector FaceDetector, marks MarkStore) *Admission {
	scorer := verify.Scorer{
		Weights:       verify.Weights{Wifi: 30, GPS: 40, QR: 20, Device: 10},
		RequiredScore: 70,
		QRSecret:      testSecret,
		QRInterval:    30 * time.Second,
		QRLength:      16,
	}
	sessions := &fakeSessions{sessions: map[string]*session.Session{}}
	if sess != nil {
		sessions.sessions[sess.ID] = sess
	}
	r := roster.New(loaderFunc(func(ctx context.Context) ([]roster.Member, error) {
		return []roster.Member{{Name: "Asha", Embedding: []float32{1, 0, 0}}}, nil
	}))
	_ = r.Refresh(context.Background())

	a := NewAdmission(sessions, scorer, detector, r,
		&fakeDirectory{ids: map[string]string{"Asha": "student-asha"}},
		marks, 0.45)
	a.now = func() time.Time { return testNow }
	return a
}

func passingClaim() Claim {
	return Claim{
		Latitude:          ptr(12.9716),
		Longitude:         ptr(77.5946),
		WifiSSID:          "CampusNet",
		QRToken:           qrtoken.Generate(testSessionID, testSecret, 30*time.Second, 16, testNow),
		DeviceFingerprint: "Pixel-8-Android14-a1b2c3d4",
	}
}

func TestVerifyLocationReturnsBreakdown(t *testing.T) {
	a := newTestAdmission(activeSession(), &fakeDetector{}, newMemMarkStore())

	res, err := a.VerifyLocation(context.Background(), VerifyLocationRequest{OTP: testOTP, Claim: passingClaim()})
	if err != nil {
		t.Fatalf("VerifyLocation: %v", err)
	}
	if !res.Passed || res.TotalScore != 100 {
		t.Errorf("result = %d passed=%v, want 100 passed", res.TotalScore, res.Passed)
	}
	if len(res.Checks) != 4 {
		t.Errorf("checks = %d, want 4", len(res.Checks))
	}
}

func TestVerifyLocationFailureStillReturnsBreakdown(t *testing.T) {
	a := newTestAdmission(activeSession(), &fakeDetector{}, newMemMarkStore())

	res, err := a.VerifyLocation(context.Background(), VerifyLocationRequest{OTP: testOTP})
	if err != nil {
		t.Fatalf("VerifyLocation: %v", err)
	}
	if res.Passed || res.TotalScore != 0 {
		t.Errorf("result = %d passed=%v, want 0 not passed", res.TotalScore, res.Passed)
	}
	if len(res.Checks) != 4 {
		t.Errorf("checks = %d, want 4 even on failure", len(res.Checks))
	}
}

func TestVerifyLocationUnknownOTPGeneric(t *testing.T) {
	a := newTestAdmission(activeSession(), &fakeDetector{}, newMemMarkStore())

	if _, err := a.VerifyLocation(context.Background(), VerifyLocationRequest{OTP: "999999"}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown otp err = %v, want ErrSessionNotFound", err)
	}

	// An expired session is indistinguishable from a wrong OTP.
	expired := activeSession()
	expired.ExpiresAt = testNow.Add(-time.Minute)
	a = newTestAdmission(expired, &fakeDetector{}, newMemMarkStore())
	if _, err := a.VerifyLocation(context.Background(), VerifyLocationRequest{OTP: testOTP}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired session err = %v, want ErrSessionNotFound", err)
	}
}

func TestMarkSuccess(t *testing.T) {
	store := newMemMarkStore()
	a := newTestAdmission(activeSession(), &fakeDetector{embedding: []float32{0.95, 0.05, 0}}, store)

	mark, err := a.Mark(context.Background(), MarkRequest{
		SessionID: testSessionID,
		OTP:       testOTP,
		Image:     "data:image/jpeg;base64,...",
		Claim:     passingClaim(),
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if mark.StudentID != "student-asha" || mark.StudentName != "Asha" {
		t.Errorf("mark identity = %s/%s", mark.StudentID, mark.StudentName)
	}
	if mark.Method != "wifi+gps+qr+device" {
		t.Errorf("method = %q", mark.Method)
	}
	if !mark.MarkedAt.Equal(testNow) {
		t.Errorf("marked at = %v, want %v", mark.MarkedAt, testNow)
	}
	if len(store.marks) != 1 {
		t.Errorf("stored marks = %d, want 1", len(store.marks))
	}
}

func TestMarkDuplicateSecondCallRejected(t *testing.T) {
	store := newMemMarkStore()
	a := newTestAdmission(activeSession(), &fakeDetector{embedding: []float32{0.95, 0.05, 0}}, store)

	req := MarkRequest{
		SessionID: testSessionID,
		OTP:       testOTP,
		Image:     "data:image/jpeg;base64,...",
		Claim:     passingClaim(),
	}

	if _, err := a.Mark(context.Background(), req); err != nil {
		t.Fatalf("first Mark: %v", err)
	}
	if _, err := a.Mark(context.Background(), req); !errors.Is(err, ErrDuplicateMark) {
		t.Fatalf("second Mark err = %v, want ErrDuplicateMark", err)
	}
	if len(store.marks) != 1 {
		t.Errorf("stored marks = %d, want exactly 1", len(store.marks))
	}
}

func TestMarkVerificationShortfall(t *testing.T) {
	a := newTestAdmission(activeSession(), &fakeDetector{embedding: []float32{1, 0, 0}}, newMemMarkStore())

	// Only wifi (30) and device (10) can pass: 40 < 70.
	claim := passingClaim()
	claim.QRToken = ""
	claim.Latitude, claim.Longitude = nil, nil

	_, err := a.Mark(context.Background(), MarkRequest{
		SessionID: testSessionID, OTP: testOTP, Image: "x", Claim: claim,
	})
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want VerificationError", err)
	}
	if verr.Result.TotalScore != 40 || verr.Result.Passed {
		t.Errorf("breakdown = %d passed=%v, want 40 not passed", verr.Result.TotalScore, verr.Result.Passed)
	}
}

func TestMarkFaceOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		detector *fakeDetector
		want     error
	}{
		{"no face", &fakeDetector{err: faceclient.ErrNoFaceDetected}, ErrFaceNotDetected},
		{"decode failure", &fakeDetector{err: faceclient.ErrDecodeFailed}, ErrFaceNotDetected},
		{"below threshold", &fakeDetector{embedding: []float32{0, 0, 1}}, ErrFaceNotRecognized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := newTestAdmission(activeSession(), c.detector, newMemMarkStore())
			_, err := a.Mark(context.Background(), MarkRequest{
				SessionID: testSessionID, OTP: testOTP, Image: "x", Claim: passingClaim(),
			})
			if !errors.Is(err, c.want) {
				t.Errorf("err = %v, want %v", err, c.want)
			}
		})
	}
}

func TestMarkMatcherFailureIsServerFault(t *testing.T) {
	boom := errors.New("face service down")
	a := newTestAdmission(activeSession(), &fakeDetector{err: boom}, newMemMarkStore())

	_, err := a.Mark(context.Background(), MarkRequest{
		SessionID: testSessionID, OTP: testOTP, Image: "x", Claim: passingClaim(),
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped service error", err)
	}
	if errors.Is(err, ErrFaceNotDetected) || errors.Is(err, ErrFaceNotRecognized) {
		t.Error("service fault mapped to a user-correctable rejection")
	}
}

func TestMarkStaleRosterNameMissing(t *testing.T) {
	a := newTestAdmission(activeSession(), &fakeDetector{embedding: []float32{1, 0, 0}}, newMemMarkStore())
	a.students = &fakeDirectory{ids: map[string]string{}} // roster knows Asha, storage does not

	_, err := a.Mark(context.Background(), MarkRequest{
		SessionID: testSessionID, OTP: testOTP, Image: "x", Claim: passingClaim(),
	})
	if !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("err = %v, want ErrStudentNotFound", err)
	}
}

func TestMarkClosedSessionGeneric(t *testing.T) {
	closed := activeSession()
	closed.Active = false
	a := newTestAdmission(closed, &fakeDetector{embedding: []float32{1, 0, 0}}, newMemMarkStore())

	_, err := a.Mark(context.Background(), MarkRequest{
		SessionID: testSessionID, OTP: testOTP, Image: "x", Claim: passingClaim(),
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("closed session err = %v, want ErrSessionNotFound", err)
	}
}

func TestMarkWrongOTPForKnownSession(t *testing.T) {
	a := newTestAdmission(activeSession(), &fakeDetector{embedding: []float32{1, 0, 0}}, newMemMarkStore())

	_, err := a.Mark(context.Background(), MarkRequest{
		SessionID: testSessionID, OTP: "000000", Image: "x", Claim: passingClaim(),
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("wrong otp err = %v, want ErrSessionNotFound", err)
	}
}
