// Command bunquery-server runs the streaming query gateway: it loads
// config, wires the configured metadata store and the driver registry,
// and serves /ws, /health and /admin/* until an interrupt or SIGTERM
// arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/bunquery/internal/adminapi"
	"github.com/kartikbazzad/bunbase/bunquery/internal/config"
	"github.com/kartikbazzad/bunbase/bunquery/internal/driver"
	_ "github.com/kartikbazzad/bunbase/bunquery/internal/driver/lakehouse"
	_ "github.com/kartikbazzad/bunbase/bunquery/internal/driver/relational"
	_ "github.com/kartikbazzad/bunbase/bunquery/internal/driver/warehouse"
	"github.com/kartikbazzad/bunbase/bunquery/internal/gateway"
	"github.com/kartikbazzad/bunbase/bunquery/internal/logger"
	"github.com/kartikbazzad/bunbase/bunquery/internal/metadata"
	"github.com/kartikbazzad/bunbase/bunquery/internal/resolver"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to the bunquery TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logger.Get()

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Error("failed to initialize metadata store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	res := resolver.New(store, driver.Global())

	gwServer := gateway.New(gateway.Config{
		MaxWorkers:           cfg.MaxWorkers,
		QueueCapacity:        cfg.QueueCapacity,
		MaxInboundFrameBytes: int64(cfg.MaxInboundFrameBytes),
	}, res)

	gin.SetMode(gin.ReleaseMode)
	adminEngine := gin.New()
	adminEngine.Use(gin.Recovery())
	adminapi.NewHandler(gwServer).Mount(adminEngine)

	mux := http.NewServeMux()
	mux.Handle("/admin/", adminEngine)
	mux.Handle("/", gwServer.Handler())

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	serverClosed := make(chan struct{})
	go func() {
		log.Info("bunquery-server starting", "port", cfg.Port, "metadata_backend", cfg.MetadataBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "error", err)
		}
		close(serverClosed)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutdown signal received")

	gwServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}
	<-serverClosed
}

func buildStore(cfg *config.Config) (metadata.Store, func(), error) {
	switch cfg.MetadataBackend {
	case "postgres":
		store, err := metadata.NewPostgresStore(context.Background(), cfg.PostgresDSN, cfg.MigrationsPath)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize postgres metadata store: %w", err)
		}
		return store, store.Close, nil
	case "supabase":
		store, err := metadata.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize supabase metadata store: %w", err)
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata_backend %q", cfg.MetadataBackend)
	}
}
