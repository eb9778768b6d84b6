package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"devconnector-chat/internal/auth"
	"devconnector-chat/internal/config"
	"devconnector-chat/internal/db"
	"devconnector-chat/internal/handlers"
	"devconnector-chat/internal/middleware"
	"devconnector-chat/internal/observability"
	"devconnector-chat/internal/rabbitmq"
	"devconnector-chat/internal/repositories"
	"devconnector-chat/internal/telemetry"
	"devconnector-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(observability.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to init tracing", "err", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(ctx, db.Options{Driver: cfg.DBDriver, DSN: cfg.DBDSN, MaxOpenConns: cfg.DBMaxOpenConns})
	if err != nil {
		slog.Error("failed to connect to db", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	userRepo := repositories.NewUserRepo(database)
	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), userRepo)

	var registry ws.Registry
	var hub *ws.Hub
	var healthChecks []handlers.HealthChecker
	var registryDone <-chan struct{}
	switch cfg.RegistryBackend {
	case config.RegistryAMQP:
		amqpRegistry, closeRegistry, err := rabbitmq.DialRegistry(cfg.AMQPURL, cfg.AMQPGroupsExchange)
		if err != nil {
			slog.Error("failed to start amqp registry", "err", err)
			os.Exit(1)
		}
		defer closeRegistry()
		registry, hub = amqpRegistry, amqpRegistry.Local()
		healthChecks = append(healthChecks, amqpRegistry)
		registryDone = amqpRegistry.Done()
	default:
		hub = ws.NewHub()
		registry = hub
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPEventsExchange)
	defer publisher.Close()
	slog.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment)

	chatHandler := handlers.NewChatHandler(userRepo, chatRepo, messageRepo, registry)
	chatWS := ws.NewChatWebSocketHandler(registry, verifier, handlers.NewActionDispatcher(chatHandler), publisher, audit, ws.HandlerOptions{
		Session: ws.SessionOptions{
			SendBuffer:    cfg.WSSendBuffer,
			InboundBuffer: cfg.WSInboundBuffer,
			ReadLimit:     cfg.WSReadLimit,
		},
		AllowedOrigins: cfg.WSAllowedOrigins,
	})

	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/chats", authMiddleware, chatHandler.ListChats)
	router.GET("/chats/:chat_id/messages", authMiddleware, chatHandler.GetChatMessages)
	router.POST("/chats/:chat_id/messages", authMiddleware, chatHandler.PostChatMessage)
	router.GET("/users", authMiddleware, chatHandler.ListUsers)

	router.GET("/ws/chat", chatWS.Handle)

	router.GET("/healthz", handlers.Health(database, healthChecks...))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, hub.Stats, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		slog.Info("chat service listening", "port", cfg.Port, "registry", cfg.RegistryBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	select {
	case <-ctx.Done():
	case <-registryDone:
		slog.Error("group registry lost its broker, shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "err", err)
	}
}
