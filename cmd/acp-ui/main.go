// Package main runs the acp-ui backend: the WebSocket gateway the desktop
// UI talks to, the agent bridges behind it, and the debug endpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/formulahendry/acp-ui/internal/agent/registry"
	"github.com/formulahendry/acp-ui/internal/bridge/session"
	"github.com/formulahendry/acp-ui/internal/bridge/traffic"
	"github.com/formulahendry/acp-ui/internal/common/config"
	"github.com/formulahendry/acp-ui/internal/common/logger"
	"github.com/formulahendry/acp-ui/internal/debug"
	"github.com/formulahendry/acp-ui/internal/events/bus"
	gateway "github.com/formulahendry/acp-ui/internal/gateway/websocket"
	"github.com/formulahendry/acp-ui/internal/sessionstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting acp-ui backend...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer eventBus.Close()
	if cfg.NATS.URL != "" {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	store, err := sessionstore.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal("Failed to open session store", zap.Error(err), zap.String("path", cfg.Store.Path))
	}
	defer store.Close()
	log.Info("Session store opened", zap.String("path", cfg.Store.Path))

	catalog, err := registry.New(cfg.Agents.CatalogPath, eventBus, log)
	if err != nil {
		log.Fatal("Failed to load agent catalog", zap.Error(err), zap.String("path", cfg.Agents.CatalogPath))
	}
	defer catalog.Close()
	log.Info("Agent catalog loaded",
		zap.String("path", catalog.Path()),
		zap.Int("agents", len(catalog.List())))

	recorder := traffic.NewRecorder(cfg.Bridge.TrafficCapacity)

	manager := session.NewManager(catalog, store, recorder, eventBus, log, session.ManagerOptions{
		RequestTimeout: cfg.Bridge.RequestTimeoutDuration(),
	})
	defer manager.CloseAll()

	// WebSocket gateway
	gw := gateway.NewGateway(eventBus, log)
	gateway.NewAPI(manager, catalog, store, log).Register(gw.Dispatcher)
	if err := gw.Forwarder.Start(); err != nil {
		log.Fatal("Failed to subscribe gateway to event bus", zap.Error(err))
	}
	defer gw.Forwarder.Stop()

	// HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	gw.SetupRoutes(router)
	debug.NewHandlers(recorder).SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "acp-ui",
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		gw.Hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("Server listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"),
			zap.String("health", "/health"),
			zap.String("traffic", "/debug/traffic"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down acp-ui...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}
	log.Info("acp-ui stopped")
}
