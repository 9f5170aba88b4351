package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"clubops/internal/auth"
	"clubops/internal/config"
	"clubops/internal/directory"
	"clubops/internal/evaluation"
	"clubops/internal/httpmiddleware"
	"clubops/internal/queue"
	"clubops/internal/registration"
	"clubops/internal/store"
)

var registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clubops_registrations_total",
	Help: "Registration attempts by outcome.",
}, []string{"outcome"})

var attendanceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clubops_attendance_updates_total",
	Help: "Attendance status updates by resulting status.",
}, []string{"status"})

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatalw("http server failed", "error", err)
	}
}

func newLogger(env string) *zap.Logger {
	if env == "production" || env == "prod" {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}

func runHTTP(cfg config.App, log *zap.SugaredLogger) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelMigrate()
	if err := db.Migrate(migrateCtx, cfg.MigrationsDir); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "clubops:events")
	}

	dir := directory.New(cfg.DirectoryURL, cfg.DirectorySkip)
	if cfg.DirectorySkip {
		log.Infow("directory running in skip mode, lookups return fixtures")
	}

	regRepo := registration.NewRepository(db.Client)
	regs := registration.NewService(log, regRepo, dir)
	evalRepo := evaluation.NewRepository(db.Client)
	evals := evaluation.NewService(log, evalRepo, regRepo, dir)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(log, "/healthz", "/metrics"))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(redisClient.Client, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	authed := r.Group("/v1", auth.MemberAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	exco := authed.Group("", auth.RequireExco())

	// Self-service registration. The member id comes from the token, never
	// the body.
	authed.POST("/meetings/:meetingID/registrations", func(c *gin.Context) {
		var req struct {
			RoleID           *string `json:"role_id"`
			SpeechTitle      *string `json:"speech_title"`
			SpeechObjectives *string `json:"speech_objectives"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		reg, err := regs.Register(c.Request.Context(), c.Param("meetingID"), claims.Subject,
			req.RoleID, req.SpeechTitle, req.SpeechObjectives)
		if err != nil {
			registrationsTotal.WithLabelValues(outcome(err)).Inc()
			writeErr(c, err)
			return
		}
		registrationsTotal.WithLabelValues("created").Inc()
		c.JSON(http.StatusCreated, reg)
	})

	// Partial update of the caller's own registration. A present-and-null
	// role_id clears the role; an absent key leaves it unchanged.
	authed.PUT("/meetings/:meetingID/registrations/me", func(c *gin.Context) {
		raw, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
			return
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		var req struct {
			RoleID           *string `json:"role_id"`
			SpeechTitle      *string `json:"speech_title"`
			SpeechObjectives *string `json:"speech_objectives"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		_, roleSet := fields["role_id"]

		claims, _ := auth.FromContext(c)
		reg, err := regs.Update(c.Request.Context(), c.Param("meetingID"), claims.Subject, registration.UpdateParams{
			Role:             registration.RoleChange{Set: roleSet, ID: req.RoleID},
			SpeechTitle:      req.SpeechTitle,
			SpeechObjectives: req.SpeechObjectives,
		})
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, reg)
	})

	// The caller's registration for a meeting, or null when not signed up.
	authed.GET("/meetings/:meetingID/registrations/me", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		reg, err := regs.Get(c.Request.Context(), c.Param("meetingID"), claims.Subject)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, reg)
	})

	authed.GET("/meetings/:meetingID/registrations", func(c *gin.Context) {
		roster, err := regs.List(c.Request.Context(), c.Param("meetingID"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"registrations": roster})
	})

	authed.GET("/members/:userID/speeches", func(c *gin.Context) {
		speeches, err := regs.Speeches(c.Request.Context(), c.Param("userID"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"speeches": speeches})
	})

	// Operator path for walk-ins who never self-registered.
	exco.POST("/meetings/:meetingID/attendees", func(c *gin.Context) {
		var req struct {
			UserID string  `json:"user_id" binding:"required"`
			RoleID *string `json:"role_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reg, err := regs.AddAttendee(c.Request.Context(), c.Param("meetingID"), req.UserID, req.RoleID)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, reg)
	})

	exco.PUT("/registrations/:id/attendance", func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reg, err := regs.SetAttendance(c.Request.Context(), c.Param("id"), registration.Status(req.Status))
		if err != nil {
			writeErr(c, err)
			return
		}
		attendanceUpdates.WithLabelValues(string(reg.Status)).Inc()
		if err := q.Publish(c.Request.Context(), queue.Message{Type: queue.TypeAttendance, Body: reg.ID}); err != nil {
			log.Warnw("queue publish failed", "error", err, "registration_id", reg.ID)
		}
		c.JSON(http.StatusOK, reg)
	})

	exco.PUT("/registrations/:id/role", func(c *gin.Context) {
		var req struct {
			RoleID *string `json:"role_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reg, err := regs.SetRole(c.Request.Context(), c.Param("id"), req.RoleID)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, reg)
	})

	exco.DELETE("/registrations/:id", func(c *gin.Context) {
		if err := regs.Delete(c.Request.Context(), c.Param("id")); err != nil {
			writeErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	exco.POST("/registrations/:id/reports", func(c *gin.Context) {
		var req struct {
			RoleID    string  `json:"role_id" binding:"required"`
			Comment1  string  `json:"comment1" binding:"required"`
			TimeUsed  *int    `json:"time_used"`
			Comment2  *string `json:"comment2"`
			Qualified bool    `json:"qualified"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		rep, err := evals.CreateReport(c.Request.Context(), c.Param("id"), req.RoleID,
			req.Comment1, req.TimeUsed, req.Comment2, req.Qualified, claims.Subject)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, rep)
	})

	exco.GET("/registrations/:id/reports", func(c *gin.Context) {
		reports, err := evals.ListReports(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": reports})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("server forced shutdown", "error", err)
	}

	log.Infow("server exited")
	return nil
}

// writeErr maps the core error taxonomy onto HTTP statuses. Every response
// carries the ids from the error so the caller can explain the failure
// without a second lookup.
func writeErr(c *gin.Context, err error) {
	var conflict *registration.RoleConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   conflict.Error(),
			"role_id": conflict.RoleID,
			"held_by": conflict.HeldBy,
		})
	case errors.Is(err, registration.ErrAlreadyRegistered):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, registration.ErrNotFound),
		errors.Is(err, registration.ErrMeetingNotFound),
		errors.Is(err, registration.ErrMemberNotFound),
		errors.Is(err, registration.ErrRoleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, registration.ErrInvalidStatus):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, registration.ErrRoleTaken):
		return "role_conflict"
	case errors.Is(err, registration.ErrAlreadyRegistered):
		return "duplicate"
	default:
		return "error"
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
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
