package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"biddesk/internal/api"
	"biddesk/internal/auth"
	"biddesk/internal/config"
	"biddesk/internal/db"
	"biddesk/internal/jobs"
	"biddesk/internal/pubsub"
	"biddesk/internal/schema"
	"biddesk/internal/service"
	"biddesk/internal/ws"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runGooseMigrations(cfg); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] != "serve" {
		log.Fatalf("Unknown command: %s (use 'serve' or 'migrate')", os.Args[1])
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Database connection
	dbPool, err := db.NewPool(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	// Redis connection
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Pub/sub bus
	bus := pubsub.New(rdb, logger)

	// Background jobs
	jobServer, jobClient := jobs.NewJobServer(cfg.RedisAddr, dbPool, bus, logger)
	go func() {
		if err := jobServer.Start(); err != nil {
			logger.Fatal("Job server failed", zap.Error(err))
		}
	}()
	defer jobServer.Stop()

	// WebSocket hub
	hub := ws.NewHub(logger)
	go hub.Run()
	bus.SetWSHub(hub)

	// Workflow services
	schemaComp := schema.NewCompilerWithCache(64)
	requestSvc := service.NewRequestService(dbPool.Queries, bus, schemaComp)
	requestSvc.SetJobClient(jobs.NewClient(jobClient))
	offerSvc := service.NewOfferService(dbPool.Queries, bus, schemaComp)
	conversationSvc := service.NewConversationService(dbPool.Queries, bus)
	paymentSvc := service.NewPaymentService(dbPool.Queries, bus, offerSvc, requestSvc, conversationSvc)

	// Conversation channels carry message metadata; only participants
	// may subscribe.
	hub.SetChannelGuard(func(userID, channel string) bool {
		const prefix = "conversation:"
		if !strings.HasPrefix(channel, prefix) {
			return false
		}
		ok, err := conversationSvc.IsParticipant(context.Background(), strings.TrimPrefix(channel, prefix), userID)
		return err == nil && ok
	})

	// HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Timeout middleware - skip for WebSocket upgrades
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, req)
				return
			}
			middleware.Timeout(60 * time.Second)(next).ServeHTTP(w, req)
		})
	})

	r.Mount("/v1", api.Routes(api.Dependencies{
		Requests:      requestSvc,
		Offers:        offerSvc,
		Payments:      paymentSvc,
		Conversations: conversationSvc,
		Hub:           hub,
		Log:           logger,
		JWT:           auth.NewJWTConfig(cfg.JWTSecret),
	}))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	logger.Info("Starting server", zap.String("addr", cfg.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
