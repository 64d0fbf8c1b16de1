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

	"github.com/redis/go-redis/v9"

	"autoflow.app/relay/common/id"
	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/common/otel"
	"autoflow.app/relay/core/config"
	"autoflow.app/relay/core/db"
	"autoflow.app/relay/internal/credential"
	"autoflow.app/relay/internal/mailbox"
	"autoflow.app/relay/internal/queue"
	"autoflow.app/relay/internal/store"
	"autoflow.app/relay/internal/worker"
)

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger.Setup(cfg)

	slog.InfoContext(ctx, "relay worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Execution.Group,
		"consumer_name", cfg.Execution.Consumer)

	// Initialize snowflake ID generator (use different node ID than server)
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

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

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Execution.Stream,
		Group:        cfg.Execution.Group,
		Consumer:     cfg.Execution.Consumer,
		DLQStream:    cfg.Execution.DLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	runtime := worker.NewRuntimeClient(worker.RuntimeConfig{
		URL:         cfg.Runtime.URL,
		APIKey:      cfg.Runtime.APIKey,
		TraceHeader: cfg.Execution.TraceHeaderName,
		Timeout:     cfg.Runtime.RequestTimeout,
	}, nil)

	w := worker.New(consumer, runtime, worker.Config{
		MaxAttempts: cfg.Runtime.MaxAttempts,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Execution.Stream,
		Group:     cfg.Execution.Group,
		Consumer:  cfg.Execution.Consumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.HandleMessage)

	// Watch renewal needs the database and a push topic; without a topic the
	// worker only forwards executions.
	var renewer *mailbox.Renewer
	if cfg.Mailbox.WatchEnabled() {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer database.Close()

		stores := store.NewStores(database.Conn())
		credentials, err := credential.NewServiceFromConfig(cfg, stores.Credentials())
		if err != nil {
			slog.ErrorContext(ctx, "failed to initialize credential service", "error", err)
			os.Exit(1)
		}

		renewer = mailbox.NewRenewer(
			stores.Subscriptions(),
			credentials,
			mailbox.NewHTTPClient(cfg.Mailbox.APIBaseURL, &http.Client{Timeout: 20 * time.Second}),
			mailbox.RenewerConfig{Topic: cfg.Mailbox.Topic, Within: cfg.Mailbox.RenewWithin},
		)
		if err := renewer.Start(ctx, cfg.Mailbox.RenewSchedule); err != nil {
			slog.ErrorContext(ctx, "failed to start watch renewer", "error", err)
			os.Exit(1)
		}
	} else {
		slog.InfoContext(ctx, "mailbox watch renewal disabled (no topic configured)")
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop reclaimer first (quick)
	reclaimer.Stop()

	// Stop worker (may be forwarding)
	w.Stop()

	if renewer != nil {
		renewer.Stop()
	}
	stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(shutdownCtx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(shutdownCtx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "worker shutdown complete")
}

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗    ███████╗ ██████╗ ██████╗ ██╗    ██╗ █████╗ ██████╗ ██████╗ ███████╗██████╗
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝    ██╔════╝██╔═══██╗██╔══██╗██║    ██║██╔══██╗██╔══██╗██╔══██╗██╔════╝██╔══██╗
██████╔╝█████╗  ██║     ███████║ ╚████╔╝     █████╗  ██║   ██║██████╔╝██║ █╗ ██║███████║██████╔╝██║  ██║█████╗  ██████╔╝
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝      ██╔══╝  ██║   ██║██╔══██╗██║███╗██║██╔══██║██╔══██╗██║  ██║██╔══╝  ██╔══██╗
██║  ██║███████╗███████╗██║  ██║   ██║       ██║     ╚██████╔╝██║  ██║╚███╔███╔╝██║  ██║██║  ██║██████╔╝███████╗██║  ██║
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝       ╚═╝      ╚═════╝ ╚═╝  ╚═╝ ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝ ╚══════╝╚═╝  ╚═╝
`
