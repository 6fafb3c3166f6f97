package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classroll/internal/cloudinary"
	"classroll/internal/config"
	"classroll/internal/photo"
	"classroll/internal/queue"
	"classroll/internal/store"
)

// Worker consumes queued photo releases and deletes the stored files.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q", cfg.QueueBackend)
	}
	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable yet, will keep retrying", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(redisClient.Client, "")

	var photos photo.Store
	if cfg.PhotoBackend == "cloudinary" && cfg.CloudinaryConfigured() {
		photos = photo.NewCloudinaryStore(cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder))
	} else {
		local, err := photo.NewLocalStore(cfg.UploadDir, cfg.PhotoURLPrefix)
		if err != nil {
			log.Fatalf("photo store init failed: %v", err)
		}
		photos = local
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()
	defer metricsSrv.Close()

	log.Println("worker started, waiting for messages...")
	if err := photo.Consume(ctx, photos, q); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker stopped")
}
