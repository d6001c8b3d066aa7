// Package main is the entry point for gitwarden, the credential, trust, and
// process supervision backend for a locally-running coding-agent server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gitwarden/gitwarden/internal/common/config"
	"github.com/gitwarden/gitwarden/internal/common/httpmw"
	"github.com/gitwarden/gitwarden/internal/common/logger"
	"github.com/gitwarden/gitwarden/internal/common/tracing"
	"github.com/gitwarden/gitwarden/internal/db"
	"github.com/gitwarden/gitwarden/internal/events/bus"
	gateways "github.com/gitwarden/gitwarden/internal/gateway/websocket"
	"github.com/gitwarden/gitwarden/internal/gitenv"
	"github.com/gitwarden/gitwarden/internal/hosttrust"
	"github.com/gitwarden/gitwarden/internal/secrets"
	"github.com/gitwarden/gitwarden/internal/settings"
	"github.com/gitwarden/gitwarden/internal/supervisor"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting gitwarden...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Event bus (in-memory by default, NATS if configured)
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
		defer natsEventBus.Close()
		log.Info("Connected to NATS event bus")
	} else {
		log.Info("Using in-memory event bus")
		memBus := bus.NewMemoryEventBus(log)
		eventBus = memBus
		defer memBus.Close()
	}

	// 4. Database pool
	pool, err := db.Open(cfg)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Database initialized", zap.String("driver", cfg.Database.Driver))

	// 5. Secrets cipher
	serverSecret := []byte(cfg.Secrets.ServerSecret)
	if len(serverSecret) == 0 {
		serverSecret, err = secrets.LoadServerSecret(cfg.DataDir)
		if err != nil {
			log.Fatal("Failed to load server secret", zap.Error(err))
		}
	}
	cipher, err := secrets.NewCipher(serverSecret)
	if err != nil {
		log.Fatal("Failed to initialize cipher", zap.Error(err))
	}

	// 6. Settings store and service
	settingsStore, err := settings.Provide(pool.Writer(), pool.Reader(), cipher)
	if err != nil {
		log.Fatal("Failed to initialize settings store", zap.Error(err))
	}
	settingsSvc := settings.NewService(settingsStore, log)

	// 7. Host trust gateway
	trustStore, err := hosttrust.Provide(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("Failed to initialize trusted-host store", zap.Error(err))
	}
	knownHosts := hosttrust.NewKnownHostsFile(cfg.KnownHostsPath(), trustStore, log)
	knownHosts.Rebuild(ctx)
	scanner := hosttrust.NewKeyScanner(cfg.Trust.ScanTimeoutDuration())
	trustGateway := hosttrust.NewGateway(trustStore, scanner, eventBus, knownHosts,
		cfg.Trust.ResponseTimeoutDuration(), log)

	// 8. Supervisor with the credential environment builders
	keys := gitenv.NewKeyManager(cfg.SSHKeysDir(), nil, log)
	resolver := gitenv.NewIdentityResolver(nil, log)
	sup := supervisor.New(cfg, settingsStore, resolver, keys, eventBus, log)
	settingsSvc.SetApplier(sup)

	// 9. WebSocket hub streaming trust/supervisor events to UI clients
	hub := gateways.NewHub(eventBus, log)
	if err := hub.SubscribeBus("trust.>", bus.SubjectSupervisorState); err != nil {
		log.Fatal("Failed to subscribe event hub", zap.Error(err))
	}

	// 10. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log))
	router.Use(httpmw.OtelTracing("gitwarden"))
	router.Use(corsMiddleware())

	settings.RegisterRoutes(router, settingsSvc, log)
	hosttrust.RegisterRoutes(router, trustGateway, log)
	supervisor.RegisterRoutes(router, sup, log)
	gateways.RegisterRoutes(router, hub, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "gitwarden",
			"agent":   sup.State(),
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
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("Management API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Bring the agent server up if one is configured. A failed start is
	// diagnosable over the API, not fatal to the backend.
	if cfg.Agent.Command != "" {
		g.Go(func() error {
			if err := sup.Start(gctx); err != nil {
				log.Warn("Agent server did not start", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("Run loop error", zap.Error(err))
	}

	log.Info("Shutting down gitwarden...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sup.Stop(shutdownCtx); err != nil {
		log.Error("Agent server stop error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("gitwarden stopped")
}

// corsMiddleware returns a CORS middleware for HTTP and WebSocket connections
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
