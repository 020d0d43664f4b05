package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edutend/internal/attendance"
	"edutend/internal/auth"
	"edutend/internal/broadcast"
	"edutend/internal/config"
	"edutend/internal/httpmiddleware"
	"edutend/internal/qrimg"
	"edutend/internal/roster"
	"edutend/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var bus broadcast.Bus
	if cfg.BroadcastBackend == "memory" {
		bus = broadcast.NewInMemory(64)
	} else {
		bus = broadcast.NewRedisBus(redisClient.Client, cfg.BroadcastChannel)
	}

	rosterRepo := roster.NewRepository(db.Client)
	attRepo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(attRepo, rosterRepo, bus)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

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

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user, err := rosterRepo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
			return
		}
		if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		tokens, err := auth.Issue(user.ID, user.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
			"role":          user.Role,
		})
	})

	admin := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, roster.RoleAdmin))

	admin.POST("/users", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required,email"`
			Name     string `json:"name"`
			Role     string `json:"role" binding:"required,oneof=admin lecturer student"`
			Password string `json:"password" binding:"required,min=8"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hash failed"})
			return
		}
		user, err := rosterRepo.CreateUser(c.Request.Context(), req.Email, req.Name, req.Role, hash)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "user create failed"})
			return
		}
		c.JSON(http.StatusCreated, user)
	})

	admin.POST("/courses", func(c *gin.Context) {
		var req struct {
			Code    string `json:"code" binding:"required"`
			Name    string `json:"name"`
			OwnerID string `json:"owner_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		course, err := rosterRepo.CreateCourse(c.Request.Context(), req.Code, req.Name, req.OwnerID)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "course create failed"})
			return
		}
		c.JSON(http.StatusCreated, course)
	})

	admin.POST("/courses/:id/enroll", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := rosterRepo.Enroll(c.Request.Context(), c.Param("id"), req.StudentID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "enroll failed"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	staff := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, roster.RoleLecturer, roster.RoleAdmin))

	staff.POST("/courses/:id/sessions", func(c *gin.Context) {
		var req struct {
			DurationMinutes int    `json:"duration_minutes" binding:"required"`
			Title           string `json:"title"`
			Notes           string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		sess, err := svc.Create(c.Request.Context(), attendance.CreateInput{
			CourseID:        c.Param("id"),
			DurationMinutes: req.DurationMinutes,
			Title:           req.Title,
			Notes:           req.Notes,
		}, actorFrom(c))
		if err != nil {
			failJSON(c, err)
			return
		}
		qr, err := qrimg.DataURL(sess.Payload, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session": sess, "qr": qr})
	})

	staff.POST("/sessions/:id/expire", func(c *gin.Context) {
		sess, err := svc.Expire(c.Request.Context(), c.Param("id"), actorFrom(c))
		if err != nil {
			failJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sess})
	})

	staff.POST("/sessions/:id/cancel", func(c *gin.Context) {
		sess, err := svc.Cancel(c.Request.Context(), c.Param("id"), actorFrom(c))
		if err != nil {
			failJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": sess})
	})

	// Active sessions only; effective state is re-derived against the clock.
	staff.GET("/sessions", func(c *gin.Context) {
		sessions, err := svc.ListActive(c.Request.Context(), c.Query("course_id"))
		if err != nil {
			failJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	staff.POST("/attendance", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			CourseID  string `json:"course_id" binding:"required"`
			Date      string `json:"date"`
			Status    string `json:"status" binding:"required"`
			Note      string `json:"note"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date := time.Now()
		if req.Date != "" {
			parsed, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			date = parsed
		}
		rec, err := svc.Mark(c.Request.Context(), attendance.MarkInput{
			StudentID: req.StudentID,
			CourseID:  req.CourseID,
			Date:      date,
			Status:    req.Status,
			Note:      req.Note,
		}, actorFrom(c))
		if err != nil {
			failJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"record": rec})
	})

	staff.GET("/courses/:id/attendance", func(c *gin.Context) {
		date := time.Now()
		if v := c.Query("date"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			date = parsed
		}
		records, err := svc.ListRecords(c.Request.Context(), c.Param("id"), date)
		if err != nil {
			failJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	student := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, roster.RoleStudent))

	student.POST("/scans", func(c *gin.Context) {
		var req struct {
			Payload string `json:"payload" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.ValidateAndScan(c.Request.Context(), req.Payload, actorFrom(c).ID)
		if err != nil {
			// Expired/not-active scans still carry session context for display.
			status := errStatus(err)
			c.JSON(status, gin.H{"error": err.Error(), "session": res})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": res})
	})

	// Live dashboard feed. Any authenticated user may listen; events carry
	// ids only and listeners re-fetch authoritative state.
	authed := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer))

	authed.GET("/stream", func(c *gin.Context) {
		ctx := c.Request.Context()
		events, err := bus.Subscribe(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
			return
		}
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Stream(func(w io.Writer) bool {
			select {
			case evt, ok := <-events:
				if !ok {
					return false
				}
				c.SSEvent(evt.Name, evt)
				return true
			case <-ctx.Done():
				return false
			}
		})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoint
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func actorFrom(c *gin.Context) roster.Actor {
	claims := auth.FromContext(c)
	return roster.Actor{ID: claims.Subject, Role: claims.Role}
}

func failJSON(c *gin.Context, err error) {
	c.JSON(errStatus(err), gin.H{"error": err.Error()})
}

// errStatus maps the failure taxonomy onto HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, attendance.ErrMalformedPayload),
		errors.Is(err, attendance.ErrInvalidStatus),
		errors.Is(err, attendance.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrSessionNotFound),
		errors.Is(err, attendance.ErrStudentNotFound),
		errors.Is(err, attendance.ErrCourseNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrSessionExpired),
		errors.Is(err, attendance.ErrSessionNotActive),
		errors.Is(err, attendance.ErrNotEnrolled):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
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

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
