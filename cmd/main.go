package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/funhub/offers/internal/api"
	"github.com/funhub/offers/internal/config"
	"github.com/funhub/offers/internal/database"
	"github.com/funhub/offers/internal/logger"
	"github.com/funhub/offers/internal/notify"
	"github.com/funhub/offers/internal/payment"
	"github.com/funhub/offers/internal/repository"
	"github.com/funhub/offers/internal/service"
	"github.com/funhub/offers/internal/vouchercode"
)

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.App.LogLevel, cfg.App.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("Starting offer service", zap.String("environment", cfg.App.Environment))

	// Initialize database connections
	db, err := database.NewDB(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zlog.Error("Error closing database connections", zap.Error(err))
		}
	}()

	if cfg.Database.Migrate {
		if err := db.Migrate(); err != nil {
			zlog.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	ids, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		zlog.Fatal("Failed to create id generator", zap.Int64("node_id", cfg.App.NodeID), zap.Error(err))
	}

	if cfg.Payment.MID == "" || cfg.Payment.HashKey == "" {
		zlog.Warn("Payment gateway credentials are not configured; callbacks will fail verification")
	}
	signer := payment.NewSigner(cfg.Payment.MID, cfg.Payment.HashKey)

	var notifier notify.Notifier = notify.NewLogNotifier(zlog)
	if cfg.Broker.BrokerEnabled() {
		publisher, err := notify.NewRabbitPublisher(cfg.Broker.URL, cfg.Broker.Exchange, cfg.Broker.RoutingKey)
		if err != nil {
			zlog.Fatal("Failed to connect to message broker", zap.Error(err))
		}
		defer publisher.Close()
		notifier = publisher
		zlog.Info("Publishing purchase notifications", zap.String("exchange", cfg.Broker.Exchange))
	}

	store := repository.NewPostgresStore(db.Postgres)
	materializer := service.NewMaterializer(store, vouchercode.NewGenerator(), zlog.Named("materializer"))
	claims := service.NewClaims(store, signer, notifier, ids, zlog.Named("claims"))
	ledger := service.NewLedger(store, zlog.Named("ledger"))

	offers := api.NewOfferServer(materializer, claims, ledger, zlog.Named("api"))
	router := api.NewRouter(offers, api.NewCallbackHandler(claims, zlog.Named("callback")), db.Postgres, zlog)

	// Create server with configuration optimized for high concurrency
	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(router, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	go func() {
		zlog.Info("Listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	zlog.Info("Server exited gracefully")
}
