package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bioattend/internal/attendance"
	"bioattend/internal/auth"
	"bioattend/internal/cloudinary"
	"bioattend/internal/config"
	"bioattend/internal/faceclient"
	"bioattend/internal/handler"
	"bioattend/internal/httpmiddleware"
	"bioattend/internal/queue"
	"bioattend/internal/roster"
	"bioattend/internal/session"
	"bioattend/internal/store"
	"bioattend/internal/student"
	"bioattend/internal/verify"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "bioattend:marks")
	}

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	sessionRepo := session.NewRepository(db.Pool)
	sessions := session.NewService(sessionRepo, cfg.QRSecret, cfg.QRTokenInterval, cfg.QRTokenLength, cfg.DefaultRadiusM, cfg.FrontendURL)

	studentRepo := student.NewRepository(db.Pool)
	enrolled := roster.New(studentRepo)
	if err := enrolled.Refresh(ctx); err != nil {
		log.Printf("warning: initial roster load failed: %v", err)
	} else {
		log.Printf("roster loaded: %d students", enrolled.Len())
	}
	students := student.NewService(studentRepo, face, cdnClient, enrolled)

	scorer := verify.Scorer{
		Weights: verify.Weights{
			Wifi:   cfg.ScoreWifi,
			GPS:    cfg.ScoreGPS,
			QR:     cfg.ScoreQR,
			Device: cfg.ScoreDevice,
		},
		RequiredScore: cfg.RequiredScore,
		QRSecret:      cfg.QRSecret,
		QRInterval:    cfg.QRTokenInterval,
		QRLength:      cfg.QRTokenLength,
	}

	markRepo := attendance.NewRepository(db.Pool)
	admission := attendance.NewAdmission(sessionRepo, scorer, face, enrolled, studentRepo, markRepo, cfg.RecognitionThreshold)

	h := handler.New(sessions, admission, markRepo, students, cdnClient, q, cfg)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware(cfg.FrontendURL))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/devices/register", h.RegisterDevice)

	// Professor/dashboard surface
	r.POST("/v1/sessions", h.CreateSession)
	r.GET("/v1/sessions/active", h.ListActiveSessions)
	r.GET("/v1/sessions/:id/status", h.SessionStatus)
	r.GET("/v1/sessions/:id/details", h.SessionDetails)
	r.POST("/v1/sessions/:id/close", h.CloseSession)
	r.GET("/v1/sessions/:id/qr-token", h.QRToken)
	r.GET("/v1/sessions/:id/qr.png", h.QRImage)

	r.POST("/v1/students/enroll", h.EnrollStudent)
	r.GET("/v1/students", h.ListStudents)
	r.DELETE("/v1/students/:id", h.DeleteStudent)

	r.GET("/v1/attendance/today", h.TodayAttendance)

	// Student surface, gated on a registered device token
	authGroup := r.Group("/v1/attendance", auth.RequireDevice(cfg.JWTSigningKey, cfg.JWTIssuer))
	authGroup.POST("/verify-location", h.VerifyLocation)
	authGroup.POST("/mark", h.MarkAttendance)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// corsMiddleware allows the configured frontend origin. Non-browser clients
// (the mobile app) send no Origin header and are unaffected.
func corsMiddleware(frontend string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch origin {
		case "":
			origin = frontend
		case frontend:
		default:
			// Unknown origin: answer without CORS headers.
			if c.Request.Method == "OPTIONS" {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
