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
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odlemon/khaya-portal-sub001/internal/activity"
	"github.com/odlemon/khaya-portal-sub001/internal/client"
	"github.com/odlemon/khaya-portal-sub001/internal/config"
	"github.com/odlemon/khaya-portal-sub001/internal/credential"
	"github.com/odlemon/khaya-portal-sub001/internal/handler"
	"github.com/odlemon/khaya-portal-sub001/internal/hub"
	"github.com/odlemon/khaya-portal-sub001/internal/realtime"
	"github.com/odlemon/khaya-portal-sub001/internal/store"
	"github.com/odlemon/khaya-portal-sub001/pkg/database"
	"github.com/odlemon/khaya-portal-sub001/pkg/jwt"
	pkglog "github.com/odlemon/khaya-portal-sub001/pkg/log"
	"github.com/odlemon/khaya-portal-sub001/pkg/metrics"
	"github.com/odlemon/khaya-portal-sub001/pkg/middleware"
	"github.com/odlemon/khaya-portal-sub001/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: "chat-console",
	})
	logger := pkglog.L()

	instanceID := cfg.Server.InstanceID
	if instanceID == "" {
		instanceID = uuid.New().String()
	}

	parser := jwt.NewParser(cfg.Credential.JWTSecret)

	// Session token store
	credStore, err := newCredentialStore(cfg, parser)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Credential.Driver).Msg("failed to initialize credential store")
	}
	session := credential.NewSession(credStore, cfg.Credential.Name, parser)
	defer session.Close()
	logger.Info().Str("driver", cfg.Credential.Driver).Msg("credential store ready")

	// Marketplace API and realtime transport
	api := client.NewAPIClient(cfg.API, session)
	rt := realtime.NewClient(cfg.Realtime, session)

	// Chat store
	st := store.New(api, rt, api.PageSize())
	session.OnChange(func(id *jwt.Identity) {
		if id == nil {
			st.SetSelf("")
			return
		}
		st.SetSelf(id.UserID)
	})

	// Activity fan-out
	cfg.PubSub.Kafka.InstanceID = instanceID
	bus, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to initialize pubsub")
	}
	defer bus.Close()
	publisher := activity.NewPublisher(bus, instanceID, 256)
	consumer := activity.NewConsumer(bus, instanceID, st)
	st.OnActivity(publisher.Enqueue)

	// Browser relay
	consoleHub := hub.NewHub(cfg.WebSocket)
	st.Subscribe(func(state store.State) {
		if err := consoleHub.BroadcastState(state); err != nil {
			logger.Warn().Err(err).Msg("failed to broadcast state")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Background workers; a failing worker shuts the console down
	workers, workerCtx := errgroup.WithContext(ctx)
	workers.Go(func() error {
		consoleHub.Run(workerCtx)
		return nil
	})
	workers.Go(func() error {
		if err := rt.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("realtime client: %w", err)
		}
		return nil
	})
	workers.Go(func() error { return publisher.Run(workerCtx) })
	workers.Go(func() error { return consumer.Run(workerCtx) })
	go func() {
		if err := workers.Wait(); err != nil {
			logger.Error().Err(err).Msg("background worker failed")
			select {
			case quit <- syscall.SIGTERM:
			default:
			}
		}
	}()
	st.InitSocketListeners(ctx)

	// Initial chat list, deferred until a session token exists
	go func() {
		if err := st.LoadAllChats(ctx, 1); err != nil {
			logger.Info().Err(err).Msg("initial chat list not loaded")
		}
	}()

	// HTTP handlers
	authMiddleware := middleware.NewSessionMiddleware(session, credential.ErrAuthNotReady, cfg.Credential.RetryAfter)
	httpHandler := handler.NewHandler(st, session, api, authMiddleware, cfg.Credential.RetryAfter)
	wsHandler := handler.NewWSHandler(consoleHub, st, cfg.WebSocket)
	healthHandler := handler.NewHealthHandler(rt, consoleHub.ClientCount)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	r.Use(metrics.GinMiddleware())
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	healthHandler.RegisterRoutes(r)
	httpHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Info().
			Str("addr", addr).
			Str("api", cfg.API.BaseURL).
			Str("realtime", cfg.Realtime.URL).
			Str("pubsub", cfg.PubSub.Driver).
			Str("instance", instanceID).
			Msg("chat-console starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-quit
	logger.Info().Msg("shutting down chat-console")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}

	// Leave the open room while the transport is still up
	st.ClearCurrentChat(shutdownCtx)
	st.Close()
	cancel()
	if err := workers.Wait(); err != nil {
		logger.Warn().Err(err).Msg("background workers stopped with error")
	}

	logger.Info().Msg("chat-console stopped")
}

// newCredentialStore selects the session token store for cfg.Credential.Driver.
func newCredentialStore(cfg *config.Config, parser *jwt.Parser) (credential.Store, error) {
	switch cfg.Credential.Driver {
	case "static":
		return credential.NewStaticStore(cfg.Credential.Name, cfg.Credential.Token), nil

	case "redis":
		s, err := credential.NewRedisStore(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return s.WithTTL(func(token string) time.Duration {
			id, err := parser.Parse(token)
			if err != nil || id.ExpiresAt.IsZero() {
				return 0
			}
			return time.Until(id.ExpiresAt)
		}), nil

	case "database", "":
		db, err := database.New(&database.Config{
			Driver:          cfg.Database.Driver,
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			DBName:          cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			FilePath:        cfg.Database.FilePath,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		s, err := credential.NewGormStore(db)
		if err != nil {
			return nil, err
		}
		if cfg.Credential.Token != "" {
			if err := s.Save(context.Background(), cfg.Credential.Name, cfg.Credential.Token); err != nil {
				return nil, err
			}
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported credential driver: %s", cfg.Credential.Driver)
	}
}
