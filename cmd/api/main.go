package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/cloudinary"
	"classroll/internal/config"
	"classroll/internal/handler"
	"classroll/internal/httpmiddleware"
	"classroll/internal/password"
	"classroll/internal/photo"
	"classroll/internal/queue"
	"classroll/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	memoryMode := cfg.StoreBackend == "memory"

	var (
		db   *store.DB
		repo attendance.Repository
	)
	if memoryMode {
		log.Println("using in-memory store; data is lost on restart")
		repo = attendance.NewMemoryRepository()
	} else {
		var err error
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		repo = attendance.NewPostgresRepository(db.Client)
	}

	var redisClient *store.Redis
	if !memoryMode || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}

	photos, err := photoStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}

	svc := attendance.NewService(repo, password.New(cfg.BcryptCost), photos, attendance.Options{
		LowAttendanceThreshold: cfg.LowAttendanceThreshold,
		NewStudentWindow:       cfg.NewStudentWindow,
		Location:               cfg.Location,
	})
	if cfg.AdminUsername != "" && cfg.AdminPassword != "" {
		created, err := svc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			return err
		}
		if created {
			log.Printf("bootstrap admin %q created", cfg.AdminUsername)
		}
	}

	var (
		revoker      auth.Revoker
		loginLimiter httpmiddleware.Limiter
	)
	if redisClient != nil {
		revoker = auth.NewRedisRevoker(redisClient.Client)
		loginLimiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.LoginRateLimitPerMin)
	} else {
		revoker = auth.NewMemoryRevoker()
		loginLimiter = httpmiddleware.NewSimpleTokenBucket(cfg.LoginRateLimitPerMin, cfg.LoginRateLimitPerMin)
	}
	gate := auth.NewGate(svc, cfg.JWTSigningKey, cfg.JWTIssuer, cfg.SessionTTL, revoker)

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return !cfg.Production() },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))

	// Security headers
	r.Use(securityHeaders())

	r.Use(httpmiddleware.Metrics())

	// Rate limiting
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{"status": "ok", "store": cfg.StoreBackend}
		if db != nil {
			ok := db.Healthy(c.Request.Context())
			body["db"] = ok
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		if redisClient != nil {
			ok := redisClient.Healthy(c.Request.Context())
			body["redis"] = ok
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	if cfg.PhotoBackend != "cloudinary" {
		r.Static(cfg.PhotoURLPrefix, cfg.UploadDir)
	}

	h := handler.New(svc, gate, handler.Config{
		CookieName:   cfg.SessionCookie,
		CookieSecure: cfg.CookieSecure,
		LoginLimiter: httpmiddleware.Middleware(loginLimiter, "login"),
	})
	h.Register(r)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// photoStore picks the backend for student photos. With a Redis queue,
// deletions are handed to the worker. With the memory queue they are
// released in-process until ctx is cancelled.
func photoStore(ctx context.Context, cfg config.App, redisClient *store.Redis) (photo.Store, error) {
	var base photo.Store
	switch cfg.PhotoBackend {
	case "cloudinary":
		if !cfg.CloudinaryConfigured() {
			log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set), falling back to local photos")
			break
		}
		base = photo.NewCloudinaryStore(cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder))
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	}
	if base == nil {
		local, err := photo.NewLocalStore(cfg.UploadDir, cfg.PhotoURLPrefix)
		if err != nil {
			return nil, err
		}
		base = local
	}
	switch {
	case cfg.QueueBackend == "redis" && redisClient != nil:
		return photo.NewDeferredStore(base, queue.NewRedisQueue(redisClient.Client, "")), nil
	case cfg.QueueBackend == "memory":
		q := queue.NewInMemory(64)
		go func() {
			if err := photo.Consume(ctx, base, q); err != nil {
				log.Printf("photo release consumer: %v", err)
			}
		}()
		return photo.NewDeferredStore(base, q), nil
	}
	return base, nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
