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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"bookinghub/auth"
	"bookinghub/config"
	"bookinghub/db"
	"bookinghub/discipline"
	"bookinghub/dispute"
	"bookinghub/driver"
	"bookinghub/events"
	"bookinghub/logging"
	"bookinghub/metrics"
	"bookinghub/notification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	inbox := notification.NewPGStore(pool)
	sinks := []notification.Sender{inbox}
	var producer *kgo.Client
	if cfg.Kafka.Enabled() {
		producer, err = kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.DefaultProduceTopic(cfg.Kafka.NotificationTopic),
		)
		if err != nil {
			return err
		}
		defer producer.Close()
		sinks = append(sinks, notification.NewKafkaPublisher(producer, cfg.Kafka.NotificationTopic, logger))
	}

	engine := discipline.NewEngine(pool, nil,
		discipline.WithNotifier(notification.NewFanout(sinks...)),
		discipline.WithIDGenerator(uuid.NewString),
		discipline.WithLogger(logger),
		discipline.WithMetrics(m),
		discipline.WithPeriodMonths(cfg.Discipline.PeriodMonths),
		discipline.WithWarningThreshold(cfg.Discipline.WarningThreshold),
	)

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	server := &Server{
		disciplineService: engine,
		disputeService:    dispute.NewService(dispute.NewRepository(pool), engine, logger),
		driverService:     driver.NewService(driver.NewRepository(pool)),
		notifications:     inbox,
		tokens:            auth.NewService(cfg.JWTSecret),
		metricsHandler:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		logger:            logger,
		ready: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			if rdb != nil {
				return rdb.Ping(ctx).Err()
			}
			return nil
		},
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Discipline.ReconcileSchedule != "" {
		reconciler := discipline.NewReconciler(engine)
		if err := reconciler.Start(cfg.Discipline.ReconcileSchedule, cfg.Discipline.ReconcileTimeout); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			reconciler.Stop()
			return nil
		})
	}

	if cfg.Kafka.Enabled() {
		client, err := events.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.RideTopic, cfg.Kafka.DisputeTopic)
		if err != nil {
			return err
		}
		defer client.Close()

		var dedupe events.Deduper
		if rdb != nil {
			dedupe = events.NewRedisDeduper(rdb, cfg.Redis.DedupeTTL)
		} else {
			logger.Warn("REDIS_URL not set; redelivered events are not de-duplicated")
		}
		consumer := events.NewConsumer(client, events.NewHandler(engine, dedupe, logger, m), logger)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
