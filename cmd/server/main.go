package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexprut/radiocms/internal/analytics"
	"github.com/alexprut/radiocms/internal/cache"
	"github.com/alexprut/radiocms/internal/config"
	"github.com/alexprut/radiocms/internal/database"
	"github.com/alexprut/radiocms/internal/handlers"
	"github.com/alexprut/radiocms/internal/models"
	"github.com/alexprut/radiocms/internal/queue"
	"github.com/alexprut/radiocms/internal/search"
	"github.com/alexprut/radiocms/internal/server"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := config.Load()
	log.Printf("Starting RadioCMS server [instance: %s]", cfg.InstanceID)
	log.Printf("Environment: %s, Port: %s", cfg.Environment, cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ============== PostgreSQL ==============
	// The store is optional: with no DATABASE_URL (or an unreachable one)
	// the server still starts and every report serves its zero-value shape.
	var db *database.PostgresDB
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set, running in degraded mode (zero-value analytics)")
	} else {
		log.Println("Connecting to PostgreSQL...")
		var err error
		db, err = database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("PostgreSQL connection failed, running in degraded mode: %v", err)
			db = nil
		} else {
			defer db.Close()
			log.Println("PostgreSQL connected and migrated")
		}
	}

	// ============== Response cache + aggregation engine ==============
	respCache := cache.NewMemory(cfg.CacheTTL)
	respCache.StartSweeper(ctx, cfg.CacheSweepInt)

	var store analytics.Store
	if db != nil {
		store = db
	}
	engine := analytics.NewEngine(store, respCache)

	// ============== Redis (Sentinel) ==============
	var redisClient *cache.RedisClient
	log.Printf("Connecting to Redis Sentinel at %v...", cfg.RedisSentinelAddrs)
	redisClient, err := cache.NewRedisClient(ctx, cfg.RedisSentinelAddrs, cfg.RedisMasterName, cfg.RedisPassword, cfg.InstanceID)
	if err != nil {
		log.Printf("Redis connection failed (cluster features disabled): %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Redis Sentinel connected")

		// Drop cached reports when another instance mutates the catalog
		redisClient.OnCatalogEvent(func(event models.CatalogEvent) {
			if event.InstanceID != cfg.InstanceID {
				log.Printf("[CLUSTER EVENT] %s from instance %s, invalidating analytics cache",
					event.Type, event.InstanceID)
				respCache.InvalidatePrefix("analytics:")
			}
		})
	}

	// ============== Elasticsearch ==============
	var esClient *search.ElasticsearchClient
	log.Printf("Connecting to Elasticsearch at %s...", cfg.ElasticsearchURL)
	esClient, err = search.NewElasticsearchClient(cfg.ElasticsearchURL)
	if err != nil {
		log.Printf("Elasticsearch connection failed (search disabled): %v", err)
		esClient = nil
	} else {
		log.Println("Elasticsearch connected")
	}

	// ============== RabbitMQ ==============
	var rmq *queue.RabbitMQ
	log.Printf("Connecting to RabbitMQ at %s...", cfg.RabbitMQURL)
	rmq, err = queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.InstanceID)
	if err != nil {
		log.Printf("RabbitMQ connection failed (queues disabled): %v", err)
		rmq = nil
	} else {
		log.Println("RabbitMQ connected")

		// The event-log writer: appends rows published by the download path
		rmq.RegisterHandler(queue.QueueDownloads, func(job models.Job) error {
			if job.Event == nil || db == nil {
				return nil
			}
			writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer writeCancel()
			return db.InsertDownloadEvent(writeCtx, job.Event)
		})

		rmq.RegisterHandler(queue.QueueAudio, func(job models.Job) error {
			log.Printf("[JOB] Processing audio for file %s", job.FileID)
			// Waveform/loudness analysis runs out of process; this consumer
			// only acknowledges the hand-off in the demo deployment.
			return nil
		})

		rmq.RegisterHandler(queue.QueueNotify, func(job models.Job) error {
			log.Printf("[JOB] Sending notification: %v", job.Payload)
			return nil
		})

		if err := rmq.StartAllConsumers(ctx); err != nil {
			log.Printf("Failed to start consumers: %v", err)
		}

		defer rmq.Close()
	}

	// ============== HTTP Handlers ==============
	h := handlers.NewHandlers(cfg, db, engine, respCache, redisClient, esClient, rmq)

	// ============== Server ==============
	addr := ":" + cfg.Port
	useTLS := os.Getenv("TLS_ENABLED") == "true"

	var srv *server.Server
	if useTLS {
		tlsConfig, err := server.GenerateSelfSignedCert()
		if err != nil {
			log.Fatalf("TLS config error: %v", err)
		}
		srv = server.NewServer(addr, h.Router(), tlsConfig)
	} else {
		srv = server.NewServer(addr, h.Router(), nil)
	}

	// Start server in goroutine
	go func() {
		var err error
		if useTLS {
			log.Printf("Starting HTTP/3 + HTTP/2 server on %s (TLS)", addr)
			err = srv.ListenAndServe()
		} else {
			log.Printf("Starting HTTP/1.1 server on %s (no TLS - dev mode)", addr)
			err = srv.ListenAndServeInsecure()
		}
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("Server started successfully")
	log.Println("Endpoints:")
	log.Println("  GET  /health                     - Liveness probe")
	log.Println("  GET  /health/ready               - Readiness probe (checks all services)")
	log.Println("  GET  /api/analytics/overview     - Download totals, series, top files")
	log.Println("  GET  /api/analytics/users        - Per-user download activity")
	log.Println("  GET  /api/analytics/logs         - Raw event log (paginated)")
	log.Println("  GET  /api/analytics/files        - Per-file stats (paginated)")
	log.Println("  GET  /api/analytics/projects     - Project rollups")
	log.Println("  GET  /api/analytics/episodes     - Episode rollups")
	log.Println("  GET  /api/analytics/scripts      - Script rollups")
	log.Println("  POST /api/analytics/track        - Manual download tracking")
	log.Println("  POST /api/projects               - Create project")
	log.Println("  POST /api/files                  - Upload file")
	log.Println("  GET  /api/files/{id}/download    - Download file")
	log.Println("  GET  /api/search?q=              - Search files (Elasticsearch)")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
