package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"storefront-chat/internal/auth"
	"storefront-chat/internal/cache"
	"storefront-chat/internal/chat"
	"storefront-chat/internal/config"
	"storefront-chat/internal/db"
	grpcserver "storefront-chat/internal/grpc"
	"storefront-chat/internal/handlers"
	"storefront-chat/internal/logging"
	"storefront-chat/internal/middleware"
	"storefront-chat/internal/observability"
	"storefront-chat/internal/presence"
	"storefront-chat/internal/rabbitmq"
	"storefront-chat/internal/repositories"
	"storefront-chat/internal/storage"
	"storefront-chat/internal/telemetry"
	"storefront-chat/internal/users"
	"storefront-chat/internal/ws"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP, websocket and gRPC health servers",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "migrate", Usage: "apply the schema before serving", Value: true},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
			return serve(c.Context, cfg, c.Bool("migrate"))
		},
	}
}

func serve(parent context.Context, cfg *config.Config, migrate bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.Enabled, cfg.Tracing.Endpoint, cfg.Service.Name, cfg.Service.Environment)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer database.Close()
	if migrate {
		if err := db.Migrate(ctx, database); err != nil {
			return err
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("reason", rabbitmq.PublisherNoopReason(publisher)).Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, telemetry.AuditRoutingKey, cfg.Service.Name, cfg.Service.Environment)

	registry := presence.NewRegistry()
	hub := ws.NewHub(registry, publisher)
	provider := auth.NewJWTProvider(cfg.Auth.JWTSecret)
	directory := users.NewSQLDirectory(database)

	deps := chat.Deps{
		Threads:  repositories.NewThreadRepo(database),
		Messages: repositories.NewMessageRepo(database),
		Users:    directory,
		Notifier: hub,
		Presence: registry,
		Events:   publisher,
		Limits:   cfg.Chat,
	}
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer redisCache.Close()
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, unread cache disabled")
		} else {
			deps.Cache = cache.NewUnreadCache(redisCache, cfg.Redis.UnreadTTL)
		}
	}
	service := chat.NewService(deps)

	var files storage.AttachmentStore
	s3cfg := storage.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
		PublicURL: cfg.S3.PublicURL,
	}
	if s3cfg.Configured() {
		store, err := storage.NewS3Storage(s3cfg)
		if err != nil {
			return fmt.Errorf("setup attachment storage: %w", err)
		}
		files = store
	} else {
		log.Info().Msg("attachment storage not configured, uploads disabled")
	}

	router := newRouter(cfg, database, service, directory, files, audit, hub, provider)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := grpcserver.NewHealthServer()
	grpcListener, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go healthServer.Watch(ctx, 15*time.Second, func(ctx context.Context) error { return db.Ping(ctx, database) })

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.GRPC.Addr).Msg("grpc health server listening")
		if err := healthServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-errCh:
		log.Error().Err(err).Msg("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Shutdown()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("http shutdown")
	}
	healthServer.Stop()
	return err
}

func newRouter(
	cfg *config.Config,
	database *sqlx.DB,
	service *chat.Service,
	directory users.Directory,
	files storage.AttachmentStore,
	audit *telemetry.AuditEmitter,
	hub *ws.Hub,
	provider auth.Provider,
) *gin.Engine {
	if cfg.Service.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.Service.Name),
		middleware.RequestID(),
		logging.RequestLogger(),
		observability.HTTPMetricsMiddleware(),
	)

	handlers.RegisterHealthRoutes(router, func(ctx context.Context) error { return db.Ping(ctx, database) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chatHandler := handlers.NewChatHandler(service, directory, files, audit, cfg.Chat)
	handlers.RegisterChatRoutes(router, chatHandler, middleware.AuthMiddleware(provider))

	wsHandler := ws.NewHandler(hub, provider, service, ws.Options{
		SendBuffer:      cfg.WS.SendBuffer,
		PingInterval:    cfg.WS.PingInterval,
		PongTimeout:     cfg.WS.PongTimeout,
		TypingPerSecond: cfg.Chat.TypingPerSecond,
	})
	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, audit, hub, cfg.Debug.Enabled)
	return router
}
