// cmd/agent-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pharmacy-agents/internal/agents/extraction"
	"pharmacy-agents/internal/agents/fulfillment"
	"pharmacy-agents/internal/agents/refill"
	"pharmacy-agents/internal/agents/safety"
	"pharmacy-agents/internal/common/aws"
	"pharmacy-agents/internal/common/config"
	"pharmacy-agents/internal/common/database"
	"pharmacy-agents/internal/common/logger"
	"pharmacy-agents/internal/common/observability"
	"pharmacy-agents/internal/common/retry"
	"pharmacy-agents/internal/common/tracing"
	"pharmacy-agents/internal/orchestrator"
	"pharmacy-agents/internal/server"
	"pharmacy-agents/internal/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting agent manager...")

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (optional) ---
	var esClient *database.ElasticsearchClient
	if cfg.Database.Elasticsearch.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Tracing ---
	tracer := tracing.NewNoop()
	if cfg.Tracing.Enabled {
		tracer, err = tracing.New(cfg.App.Name, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			zapLog.Fatal("tracer init failed", zap.Error(err))
		}
		defer func() {
			if err := tracer.Shutdown(context.Background()); err != nil {
				zapLog.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	// --- Stores ---
	sessionStore := store.NewSessionStore(rdb.Client, time.Duration(cfg.Session.TTLMinutes)*time.Minute)
	inventoryStore := store.NewInventoryStore(pg.DB)
	orderStore := store.NewOrderStore(pg.DB)
	patientStore := store.NewPatientStore(pg.DB)
	refillStore := store.NewRefillStore(pg.DB)
	retryQueue := store.NewWarehouseRetryQueue(rdb.Client)

	var catalog *store.Catalog
	if esClient != nil {
		catalog = store.NewCatalog(pg.DB, esClient.Client, esClient.Index)
	} else {
		catalog = store.NewCatalog(pg.DB, nil, "")
	}

	// --- Warehouse notifier ---
	var notifier fulfillment.WarehouseNotifier = fulfillment.NoopNotifier{}
	if cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		notifier = fulfillment.NewSNSNotifier(snsClient, cfg.Integrations.AWS.SNS.WarehouseTopicARN)
	}

	// --- Agents ---
	extractionCfg := &extraction.Config{
		Backend:             cfg.Agents.Extraction.Backend,
		BaseURL:             cfg.Agents.Extraction.BaseURL,
		APIKey:              cfg.Agents.Extraction.APIKey,
		Timeout:             time.Duration(cfg.Agents.TimeoutMS) * time.Millisecond,
		SimilarityThreshold: cfg.Policy.SimilarityThreshold,
		MinConfidence:       cfg.Agents.Extraction.MinConfidence,
		HistoryUsed:         cfg.Session.HistoryUsed,
	}
	extractor := extraction.NewAgent(extractionCfg, extraction.NewBackend(extractionCfg), catalog, log)

	evaluator := safety.NewAgent(&safety.Config{
		MaxQuantityPerOrder: cfg.Policy.MaxQuantityPerOrder,
		MaxDailyDoseMG:      cfg.Policy.MaxDailyDoseMG,
		MaxDailyDosePerKgMG: cfg.Policy.MaxDailyDosePerKgMG,
	}, log)

	fulfillmentCfg := &fulfillment.Config{
		WarehouseTopicARN: cfg.Integrations.AWS.SNS.WarehouseTopicARN,
		SNSEnabled:        cfg.Integrations.AWS.SNS.Enabled,
		RetryInterval:     30 * time.Second,
		MaxRetryAttempts:  5,
	}
	fulfiller := fulfillment.NewAgent(fulfillmentCfg, inventoryStore, orderStore, notifier, retryQueue, log)

	refillCfg := &refill.Config{
		LeadTimeDays:      cfg.Refill.LeadTimeDays,
		ToleranceDays:     cfg.Refill.NotificationToleranceDays,
		RecomputeInterval: time.Duration(cfg.Refill.RecomputeIntervalMinutes) * time.Minute,
		SESEnabled:        cfg.Integrations.AWS.SES.Enabled,
		FromEmail:         cfg.Integrations.AWS.SES.FromEmail,
	}
	refiller := refill.NewAgent(refillCfg, refillStore, patientStore, catalog, log)

	var sender refill.SuggestionSender = refill.NewLogSender(refillStore, log)
	if cfg.Integrations.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		sender = refill.NewSESSender(sesClient, cfg.Integrations.AWS.SES.FromEmail, refillStore, log)
	}

	// --- Orchestrator ---
	orchCfg := &orchestrator.Config{
		StageTimeout: time.Duration(cfg.Agents.TimeoutMS) * time.Millisecond,
		MaxTurns:     cfg.Session.MaxTurns,
	}
	policy := retry.Policy{
		MaxAttempts: cfg.Agents.MaxRetries,
		BaseDelay:   time.Duration(cfg.Agents.BackoffMS) * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
	orch := orchestrator.New(orchCfg, sessionStore, extractor, evaluator, fulfiller, patientStore, catalog, tracer, obs, policy, log)

	// --- Background loops ---
	retrier := fulfillment.NewWarehouseRetrier(fulfillmentCfg, retryQueue, orderStore, notifier, log)
	go retrier.Run(ctx)

	runner := refill.NewRunner(refillCfg, refiller, refillStore, sender, catalog, log)
	go runner.Run(ctx)

	// --- HTTP surfaces ---
	healthChecks := []server.HealthCheck{
		{Name: "postgres", Ping: pg.Ping},
		{Name: "redis", Ping: rdb.Ping},
	}
	if esClient != nil {
		healthChecks = append(healthChecks, server.HealthCheck{
			Name: "elasticsearch",
			Ping: func(context.Context) error { return esClient.Ping() },
		})
	}

	apiServer := server.New(orch, orderStore, inventoryStore, refillStore, refiller, log, healthChecks...)
	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: apiServer.Router(),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddress,
		Handler: metricsMux,
	}

	go func() {
		zapLog.Info("metrics server listening", zap.String("address", cfg.Server.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		zapLog.Info("api server listening", zap.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("api server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("api server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("metrics server shutdown failed", zap.Error(err))
	}
	zapLog.Info("agent manager stopped")
}
