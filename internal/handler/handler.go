package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"bioattend/internal/attendance"
	"bioattend/internal/auth"
	"bioattend/internal/cloudinary"
	"bioattend/internal/config"
	"bioattend/internal/faceclient"
	"bioattend/internal/metrics"
	"bioattend/internal/queue"
	"bioattend/internal/session"
	"bioattend/internal/student"
)

// Handler carries the wired services behind the HTTP surface.
type Handler struct {
	sessions  *session.Service
	admission *attendance.Admission
	marks     *attendance.Repository
	students  *student.Service
	photos    *cloudinary.Client // nil when photo storage is not configured
	queue     queue.Queue
	cfg       config.App
}

// New creates a handler.
func New(sessions *session.Service, admission *attendance.Admission, marks *attendance.Repository,
	students *student.Service, photos *cloudinary.Client, q queue.Queue, cfg config.App) *Handler {
	return &Handler{
		sessions:  sessions,
		admission: admission,
		marks:     marks,
		students:  students,
		photos:    photos,
		queue:     q,
		cfg:       cfg,
	}
}

// ---------- Devices ----------

// RegisterDevice issues a JWT pair for a student device.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := auth.Issue(req.DeviceID, "device", h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Sessions ----------

type createSessionRequest struct {
	CourseName        string   `json:"course_name" binding:"required"`
	ProfessorName     string   `json:"professor_name" binding:"required"`
	DurationHours     float64  `json:"duration_hours" binding:"required"`
	ClassroomLocation string   `json:"classroom_location"`
	ClassroomLat      *float64 `json:"classroom_lat"`
	ClassroomLon      *float64 `json:"classroom_lon"`
	GeofenceRadius    int      `json:"geofence_radius"`
	AllowedWifiSSID   string   `json:"allowed_wifi_ssid"`
}

// CreateSession opens a new attendance window and returns the OTP plus the
// initial QR URL.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.sessions.Create(c.Request.Context(), session.CreateParams{
		CourseName:        req.CourseName,
		ProfessorName:     req.ProfessorName,
		Duration:          time.Duration(req.DurationHours * float64(time.Hour)),
		ClassroomLocation: req.ClassroomLocation,
		ClassroomLat:      req.ClassroomLat,
		ClassroomLon:      req.ClassroomLon,
		GeofenceRadiusM:   req.GeofenceRadius,
		AllowedWifiSSID:   req.AllowedWifiSSID,
	})
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		log.Printf("session create failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	token, err := h.sessions.Token(c.Request.Context(), sess.ID)
	if err != nil {
		log.Printf("initial qr token failed for session %s: %v", sess.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	metrics.SessionsCreated.Inc()
	c.JSON(http.StatusCreated, gin.H{
		"session_id":  sess.ID,
		"otp":         sess.OTP,
		"qr_code_url": token.URL,
		"expires_at":  sess.ExpiresAt,
	})
}

// ListActiveSessions returns all currently joinable sessions.
func (h *Handler) ListActiveSessions(c *gin.Context) {
	sessions, err := h.sessions.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []session.Status{}
	}
	c.JSON(http.StatusOK, sessions)
}

// SessionStatus returns the dashboard summary of a session.
func (h *Handler) SessionStatus(c *gin.Context) {
	st, err := h.sessions.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// SessionDetails returns the summary plus every attendance record.
func (h *Handler) SessionDetails(c *gin.Context) {
	id := c.Param("id")
	st, err := h.sessions.Status(c.Request.Context(), id)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	records, err := h.marks.ListBySession(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"session": st, "attendance_records": records})
}

// CloseSession deactivates a session before expiry.
func (h *Handler) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found or already closed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "session closed"})
}

// QRToken returns the current rotating token and its remaining validity.
func (h *Handler) QRToken(c *gin.Context) {
	token, err := h.sessions.Token(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

// QRImage renders the current token URL as a PNG for projection.
func (h *Handler) QRImage(c *gin.Context) {
	token, err := h.sessions.Token(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	png, err := qrcode.Encode(token.URL, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrInactive):
		c.JSON(http.StatusBadRequest, gin.H{"error": "session is closed or expired"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ---------- Attendance ----------

type claimFields struct {
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	WifiSSID          string   `json:"wifi_ssid"`
	QRToken           string   `json:"qr_token"`
	DeviceFingerprint string   `json:"device_fingerprint"`
}

func (f claimFields) claim() attendance.Claim {
	return attendance.Claim{
		Latitude:          f.Latitude,
		Longitude:         f.Longitude,
		WifiSSID:          f.WifiSSID,
		QRToken:           f.QRToken,
		DeviceFingerprint: f.DeviceFingerprint,
	}
}

// VerifyLocation scores the contextual signals without marking anything.
func (h *Handler) VerifyLocation(c *gin.Context) {
	var req struct {
		OTP string `json:"otp" binding:"required,len=6,numeric"`
		claimFields
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.admission.VerifyLocation(c.Request.Context(), attendance.VerifyLocationRequest{
		OTP:   req.OTP,
		Claim: req.claimFields.claim(),
	})
	if err != nil {
		if errors.Is(err, attendance.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": attendance.ErrSessionNotFound.Error()})
			return
		}
		log.Printf("verify-location failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification unavailable"})
		return
	}

	metrics.VerificationScore.Observe(float64(result.TotalScore))
	c.JSON(http.StatusOK, result)
}

// MarkAttendance runs the full admission and persists the mark.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		OTP       string `json:"otp" binding:"required,len=6,numeric"`
		Image     string `json:"image" binding:"required"`
		claimFields
		Liveness json.RawMessage `json:"liveness"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mark, err := h.admission.Mark(c.Request.Context(), attendance.MarkRequest{
		SessionID: req.SessionID,
		OTP:       req.OTP,
		Image:     req.Image,
		Claim:     req.claimFields.claim(),
		Liveness:  req.Liveness,
	})
	if err != nil {
		h.markError(c, err)
		return
	}

	metrics.MarkAttempts.WithLabelValues(metrics.OutcomeMarked).Inc()
	metrics.VerificationScore.Observe(float64(mark.Scores.TotalScore))

	h.postProcess(c.Request.Context(), mark, req.Image)

	c.JSON(http.StatusCreated, gin.H{
		"success":             true,
		"student_name":        mark.StudentName,
		"marked_at":           mark.MarkedAt,
		"verification_method": mark.Method,
		"verification":        mark.Scores,
	})
}

func (h *Handler) markError(c *gin.Context, err error) {
	var verr *attendance.VerificationError
	switch {
	case errors.Is(err, attendance.ErrSessionNotFound):
		metrics.MarkAttempts.WithLabelValues(metrics.OutcomeSessionNotFound).Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": attendance.ErrSessionNotFound.Error()})
	case errors.As(err, &verr):
		metrics.MarkAttempts.WithLabelValues(metrics.OutcomeScoreTooLow).Inc()
		metrics.VerificationScore.Observe(float64(verr.Result.TotalScore))
		c.JSON(http.StatusForbidden, gin.H{"error": verr.Error(), "verification": verr.Result})
	case errors.Is(err, attendance.ErrFaceNotDetected):
		metrics.MarkAttempts.WithLabelValues(metrics.OutcomeFaceRejected).Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": attendance.ErrFaceNotDetected.Error()})
	case errors.Is(err, attendance.ErrFaceNotRecognized):
		metrics.MarkAttempts.WithLabelValues(metrics.OutcomeFaceRejected).Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": attendance.ErrFaceNotRecognized.Error()})
	case errors.Is(err, attendance.ErrStudentNotFound):
		metrics.MarkAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": attendance.ErrStudentNotFound.Error()})
	case errors.Is(err, attendance.ErrDuplicateMark):
		metrics.MarkAttempts.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": attendance.ErrDuplicateMark.Error()})
	default:
		metrics.MarkAttempts.WithLabelValues(metrics.OutcomeError).Inc()
		log.Printf("mark failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance service unavailable"})
	}
}

// postProcess stores the check-in photo and hands the mark to the liveness
// worker. Best-effort: the mark is already durable.
func (h *Handler) postProcess(ctx context.Context, mark *attendance.Mark, image string) {
	if h.photos != nil {
		uploaded, err := h.photos.UploadBase64(image)
		if err != nil {
			log.Printf("mark photo upload failed for %s: %v", mark.ID, err)
		} else if err := h.marks.UpdatePhotoURL(ctx, mark.ID, uploaded.SecureURL); err != nil {
			log.Printf("mark photo url update failed for %s: %v", mark.ID, err)
		}
	}
	if h.queue != nil {
		if err := h.queue.Publish(ctx, queue.Message{Type: queue.TypeMark, Body: []byte(mark.ID)}); err != nil {
			log.Printf("queue publish failed for mark %s: %v", mark.ID, err)
		}
	}
}

// TodayAttendance lists every mark recorded since midnight UTC.
func (h *Handler) TodayAttendance(c *gin.Context) {
	records, err := h.marks.ListToday(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, records)
}

// ---------- Students ----------

// EnrollStudent registers a student from a name and a base64 photo.
func (h *Handler) EnrollStudent(c *gin.Context) {
	var req struct {
		Name  string `json:"name" binding:"required"`
		Image string `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	st, err := h.students.Enroll(c.Request.Context(), req.Name, req.Image)
	if err != nil {
		if errors.Is(err, faceclient.ErrNoFaceDetected) || errors.Is(err, faceclient.ErrDecodeFailed) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
			return
		}
		log.Printf("enroll failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "enrollment failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "student": st})
}

// ListStudents returns all enrolled students.
func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.students.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if students == nil {
		students = []student.Student{}
	}
	c.JSON(http.StatusOK, students)
}

// DeleteStudent removes a student, their photo, and their roster entry.
func (h *Handler) DeleteStudent(c *gin.Context) {
	if err := h.students.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, student.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "student deleted"})
}
