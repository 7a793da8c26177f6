package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/brunoviniciusrv/chat4alltijolim/internal/config"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/connector"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/kafka"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/notify"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/observability"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/processor"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/router"
	"github.com/brunoviniciusrv/chat4alltijolim/internal/store"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.ServiceName)
	defer log.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(registry, cfg.ServiceName)

	ctx, cancel := setupSignalHandler(log)
	defer cancel()

	instanceID := getOrGenerateInstanceID(cfg.InstanceID)
	log.Info("starting router worker", zap.String("instance_id", instanceID))

	redisClient := initRedis(ctx, cfg.RedisAddr, log)
	messageStore := store.NewRedisStore(redisClient, log)
	notifier := notify.NewRedisPublisher(redisClient, log)

	producer := initProducer(cfg, log)
	defer producer.Close()

	connectors := connector.NewRegistry()
	workers := registerConnectors(ctx, cfg, connectors, producer, metrics, log)

	rtr := router.New(connectors, producer, log)
	proc := processor.New(
		messageStore,
		rtr,
		notifier,
		processor.SleepDeliver(cfg.LocalDeliveryDelay),
		metrics,
		log,
	)

	consumers := startConsumers(ctx, cfg, proc, messageStore, workers, metrics, log)

	obsSrv := initObservabilityServer(cfg, registry, messageStore)
	go func() {
		log.Info("starting observability server", zap.String("addr", cfg.ObsHTTPAddr))
		if err := obsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("observability server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	performGracefulShutdown(obsSrv, consumers, connectors, producer, redisClient, log)
}

func setupSignalHandler(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
		cancel()
	}()
	return ctx, cancel
}

func getOrGenerateInstanceID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func initRedis(ctx context.Context, addr string, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	return client
}

func initProducer(cfg *config.Config, log *zap.Logger) *kafka.Producer {
	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		log.Fatal("failed to create kafka producer", zap.Error(err))
	}
	return producer
}

func registerConnectors(ctx context.Context, cfg *config.Config, registry *connector.Registry,
	producer *kafka.Producer, metrics *observability.Metrics, log *zap.Logger) []*connector.Worker {

	var configs []connector.WorkerConfig
	if cfg.WhatsAppEnabled {
		configs = append(configs, connector.WhatsAppConfig(cfg.ConnectorFailureRate))
	}
	if cfg.InstagramEnabled {
		configs = append(configs, connector.InstagramConfig(cfg.ConnectorFailureRate))
	}

	var workers []*connector.Worker
	for _, wc := range configs {
		wc := wc
		status := kafka.NewStatusPublisher(producer, cfg.StatusTopic, wc.Platform)
		registry.Register(wc.Platform, func() (connector.PlatformConnector, error) {
			return connector.NewWorker(wc, status, metrics, log), nil
		})
		instance, err := registry.Create(ctx, wc.Platform)
		if err != nil {
			log.Fatal("failed to create connector", zap.String("platform", wc.Platform), zap.Error(err))
		}
		workers = append(workers, instance.(*connector.Worker))
		log.Info("connector registered", zap.String("platform", wc.Platform))
	}
	return workers
}

func startConsumers(ctx context.Context, cfg *config.Config,
	proc *processor.Processor, messageStore store.MessageStore,
	workers []*connector.Worker, metrics *observability.Metrics, log *zap.Logger) []*kafka.Consumer {

	var consumers []*kafka.Consumer

	events, err := kafka.NewConsumer(
		"router-worker",
		cfg.KafkaBrokers,
		cfg.ConsumerGroup,
		[]string{cfg.MessagesTopic},
		processor.NewHandler(proc, log),
		log,
		metrics,
	)
	if err != nil {
		log.Fatal("failed to create events consumer", zap.Error(err))
	}
	events.Start(ctx)
	consumers = append(consumers, events)

	status, err := kafka.NewConsumer(
		"status-updates",
		cfg.KafkaBrokers,
		cfg.ConsumerGroup+"-status",
		[]string{cfg.StatusTopic},
		processor.NewStatusHandler(messageStore, log),
		log,
		metrics,
	)
	if err != nil {
		log.Fatal("failed to create status consumer", zap.Error(err))
	}
	status.Start(ctx)
	consumers = append(consumers, status)

	for _, w := range workers {
		wc, err := kafka.NewConsumer(
			"connector-"+w.ID(),
			cfg.KafkaBrokers,
			w.GroupID(),
			[]string{w.InboundTopic()},
			w,
			log,
			metrics,
		)
		if err != nil {
			log.Fatal("failed to create connector consumer",
				zap.String("platform", w.ID()), zap.Error(err))
		}
		wc.Start(ctx)
		consumers = append(consumers, wc)
	}

	return consumers
}

func initObservabilityServer(cfg *config.Config, registry *prometheus.Registry, messageStore *store.RedisStore) *http.Server {
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return messageStore.Ping(ctx)
	}))
	return &http.Server{Addr: cfg.ObsHTTPAddr, Handler: mux}
}

func performGracefulShutdown(obsSrv *http.Server, consumers []*kafka.Consumer,
	connectors *connector.Registry, producer *kafka.Producer, redisClient *redis.Client, log *zap.Logger) {

	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Consumers first: each finishes its in-flight batch and commits.
	for _, c := range consumers {
		c.Close()
	}
	connectors.ShutdownAll(ctx)
	producer.Flush(5000)

	if err := obsSrv.Shutdown(ctx); err != nil {
		log.Error("error during observability server shutdown", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		log.Error("error closing redis client", zap.Error(err))
	}
	log.Info("shutdown complete, exiting")
}
