package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/config"
	"github.com/federated-storage/registry/internal/handlers"
	"github.com/federated-storage/registry/internal/ledger"
	"github.com/federated-storage/registry/internal/logging"
	"github.com/federated-storage/registry/internal/middleware"
	"github.com/federated-storage/registry/internal/p2p"
	"github.com/federated-storage/registry/internal/registry"
	"github.com/federated-storage/registry/internal/services"
	"github.com/federated-storage/registry/internal/storage"
	"github.com/federated-storage/registry/migrations"
)

const journalDrainTimeout = 10 * time.Second

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.toml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v", configPath, err)
		log.Println("Using default configuration")
		cfg = config.DefaultConfig()
	}
	cfg.ApplyEnv()

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("registry exited with error", zap.Error(err))
	}
	logger.Info("registry exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required (set JWT_SECRET)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Token ledgers
	ledgers := ledger.NewDirectory(cfg.Ledger.Driver, cfg.Ledger.DataDir, cfg.Ledger.Minter, cfg.Ledger.Treasury, logger)
	defer ledgers.Close()

	tokenLedger, err := ledgers.Resolve(cfg.Ledger.Token)
	if err != nil {
		return fmt.Errorf("failed to open token ledger: %w", err)
	}

	// Initialize database
	db, err := storage.New(ctx, cfg.Database.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(migrations.Postgres, "postgres"); err != nil {
		return err
	}

	// Event consumers, in the order they see each event
	feed := services.NewEventFeed(cfg.Journal.BufferSize, logger)
	notifiers := registry.Notifiers{services.EventMetrics{}, feed}

	var journal *services.Journal
	if cfg.Journal.Enabled {
		journal = services.NewJournal(db, cfg.Journal.BufferSize, logger)
		notifiers = append(registry.Notifiers{journal}, notifiers...)
	}

	reg := registry.New(registry.Options{
		Ledger:       tokenLedger,
		TokenRef:     cfg.Ledger.Token,
		Resolver:     ledgers,
		Authorizer:   registry.NewOwnable(cfg.Registry.Owner),
		Notifier:     notifiers,
		Logger:       logger,
		MinRefLength: cfg.Registry.MinRefLength,
		TipRewardBps: cfg.Registry.TipRewardBps,
	})

	if journal != nil {
		if _, err := journal.Replay(ctx, reg.Seq(), reg.Apply); err != nil {
			return err
		}
		go journal.Run(context.Background())
		defer func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), journalDrainTimeout)
			defer cancel()
			if err := journal.Close(drainCtx); err != nil {
				logger.Error("event journal closed with unwritten events", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("event journal disabled, registry state will not survive a restart")
	}

	// Initialize P2P node
	var network services.ContentNetwork
	var node *p2p.Node
	if cfg.P2P.Enabled {
		node = p2p.NewNode(p2p.NodeConfig{
			ListenAddresses: cfg.P2P.ListenAddresses,
			BootstrapPeers:  cfg.P2P.BootstrapPeers,
			MaxContentBytes: cfg.Content.MaxUploadBytes,
		}, logger)
		if err := node.Start(ctx); err != nil {
			return fmt.Errorf("failed to start P2P node: %w", err)
		}
		defer node.Close()
		network = node
	}

	content := services.NewContentService(services.ContentOptions{
		Dir:       cfg.Content.BlobDir,
		MaxBytes:  cfg.Content.MaxUploadBytes,
		CacheSize: cfg.Content.CacheSize,
		CacheTTL:  time.Duration(cfg.Content.CacheTTLSeconds) * time.Second,
		Network:   network,
		Logger:    logger,
	})
	if node != nil {
		node.SetContentHandler(content.GetLocal)
	}

	// Set up HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.RouterConfig{
		Registry: reg,
		Accounts: services.NewAccountService(db),
		Content:  content,
		Feed:     feed,
		JWT: middleware.JWTConfig{
			Secret:     cfg.Auth.JWTSecret,
			Expiration: time.Duration(cfg.Auth.TokenTTLHours) * time.Hour,
		},
		ServiceKey:  cfg.Auth.ServiceKey,
		RateLimiter: middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		Logger:      logger,
	})
	router.MaxMultipartMemory = cfg.Content.MaxUploadBytes

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("registry HTTP server starting",
			zap.String("addr", srv.Addr),
			zap.String("token", reg.TokenRef()),
			zap.Uint64("files", reg.Count()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	return nil
}
