package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"autoflow.app/relay/common/id"
	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/common/otel"
	"autoflow.app/relay/core/config"
	"autoflow.app/relay/core/db"
	"autoflow.app/relay/internal/credential"
	"autoflow.app/relay/internal/dispatch"
	"autoflow.app/relay/internal/http/middleware"
	httprouter "autoflow.app/relay/internal/http/router"
	"autoflow.app/relay/internal/mailbox"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/queue"
	"autoflow.app/relay/internal/service"
	"autoflow.app/relay/internal/store"
	"autoflow.app/relay/internal/trigger"
	"autoflow.app/relay/internal/verify"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "relay starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Execution.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Execution.Stream)

	producer := queue.NewRedisProducer(redisClient, cfg.Execution.Stream, cfg.Execution.DedupWindow, slog.Default())
	defer producer.Close()
	dispatcher := dispatch.New(producer)

	stores := store.NewStores(database.Conn())

	credentials, err := credential.NewServiceFromConfig(cfg, stores.Credentials())
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize credential service", "error", err)
		os.Exit(1)
	}

	matcher, err := trigger.NewMatcher(credentials)
	if err != nil {
		slog.ErrorContext(ctx, "failed to compile trigger schemas", "error", err)
		os.Exit(1)
	}

	syncer := mailbox.NewSyncer(
		stores.Subscriptions(),
		service.MailboxTxRunner(service.NewTxRunner(database)),
		credentials,
		mailbox.NewHTTPClient(cfg.Mailbox.APIBaseURL, &http.Client{Timeout: 20 * time.Second}),
		dispatcher,
		mailbox.SyncerConfig{Concurrency: cfg.Execution.Concurrency},
	)

	services := service.NewServices(service.ServicesConfig{
		Triggers:    stores.TriggerRegistrations(),
		Matcher:     matcher,
		Dispatcher:  dispatcher,
		Syncer:      syncer,
		Concurrency: cfg.Execution.Concurrency,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, newVerifier(cfg.Secrets))
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services, verifier *verify.Verifier) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, services, verifier)

	return router
}

func newVerifier(secrets config.SecretsConfig) *verify.Verifier {
	social := verify.Rule{
		Method:      verify.MethodHMAC,
		Secret:      secrets.SocialAppSecret,
		Headers:     []string{"X-Hub-Signature-256"},
		Prefix:      "sha256=",
		VerifyToken: secrets.SocialVerifyToken,
	}
	return verify.New(map[model.ProviderType]verify.Rule{
		model.ProviderChatMessage: {
			Method:  verify.MethodSharedSecret,
			Secret:  secrets.ChatRelaySecret,
			Headers: []string{"X-Relay-Secret"},
		},
		model.ProviderGenericWebhook: {
			Method:  verify.MethodSharedSecret,
			Secret:  secrets.WebhookSecret,
			Headers: []string{"X-Webhook-Secret", "X-Webhook-Signature"},
		},
		model.ProviderSocialDM:      social,
		model.ProviderSocialComment: social,
		model.ProviderMailbox: {
			Method:     verify.MethodSharedSecret,
			Secret:     secrets.MailboxVerifyToken,
			QueryParam: "token",
		},
	})
}

const banner = `
 █████╗ ██╗   ██╗████████╗ ██████╗ ███████╗██╗      ██████╗ ██╗    ██╗    ██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔══██╗██║   ██║╚══██╔══╝██╔═══██╗██╔════╝██║     ██╔═══██╗██║    ██║    ██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
███████║██║   ██║   ██║   ██║   ██║█████╗  ██║     ██║   ██║██║ █╗ ██║    ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██╔══██║██║   ██║   ██║   ██║   ██║██╔══╝  ██║     ██║   ██║██║███╗██║    ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
██║  ██║╚██████╔╝   ██║   ╚██████╔╝██║     ███████╗╚██████╔╝╚███╔███╔╝    ██║  ██║███████╗███████╗██║  ██║   ██║
╚═╝  ╚═╝ ╚═════╝    ╚═╝    ╚═════╝ ╚═╝     ╚══════╝ ╚═════╝  ╚══╝╚══╝     ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`
