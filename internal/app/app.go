// Package app собирает витрину: хранилище, сервисы чекаута, HTTP API,
// доставку событий outbox и служебные серверы.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run запускает витрину и блокируется до отмены ctx или падения сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	rt, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close(logger)

	if cfg.CatalogPath != "" {
		products, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}
		if _, err := catalog.Seed(ctx, rt.products, products, logger.WithField("component", "catalog")); err != nil {
			return err
		}
	}

	deps, err := NewDependencies(cfg, rt, metrics.NewCheckoutMetrics(), logger)
	if err != nil {
		return err
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if err := healthHandler.ExportMetrics(prometheus.DefaultRegisterer); err != nil {
		logger.WithError(err).Warn("dependency metrics disabled")
	}
	healthHandler.Register("storage", rt.storageProbe)
	healthHandler.RegisterOptional("outbox", outboxBacklogProbe(rt.outboxRepo, cfg.OutboxMaxPending))

	// Без Kafka события статусов доставляются внутрипроцессному диспетчеру.
	kafkaProducer, err := initKafkaProducer(cfg.Brokers(), logger)
	if err != nil {
		kafkaProducer = nil
	}
	defer closeKafkaProducer(kafkaProducer, logger)

	// Воркеры останавливаются раньше, чем закрывается producer.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	var (
		publisher   domain.OutboxPublisher
		deadLetters domain.OutboxPublisher
	)
	if kafkaProducer != nil {
		publisher = kafka.NewOutboxPublisher(kafkaProducer, cfg.KafkaTopic)
		deadLetters = kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)
		healthHandler.RegisterOptional("kafka", kafkaProducer.Ping)

		consumer, err := initRestockConsumer(cfg, kafkaProducer, deps.Restock, logger)
		if err != nil {
			logger.WithError(err).Warn("restock consumer disabled")
		} else {
			consumer.Start(workerCtx)
			defer stopKafkaConsumer(consumer, logger)
		}
	} else {
		publisher = newLocalDispatcher(deps)
	}

	outboxWorker := outbox.NewWorker(rt.outboxRepo, publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDeadLetters(deadLetters),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithRetry(cfg.OutboxMaxAttempts, cfg.OutboxRetryDelay),
	)
	cleaner := idempotency.NewCleaner(rt.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleaner")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	workers.Add(2)
	go func() { defer workers.Done(); outboxWorker.Run(workerCtx) }()
	go func() { defer workers.Done(); cleaner.Run(workerCtx) }()

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http: %w", err)
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	apiSrv := &http.Server{Handler: deps.Handler, ReadHeaderTimeout: 10 * time.Second}
	defer shutdownHTTP(apiSrv, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		errCh <- apiSrv.Serve(httpLis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		return ctx.Err()
	case err := <-errCh:
		stopGRPC(grpcServer, logger)
		if errors.Is(err, grpc.ErrServerStopped) || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newLocalDispatcher подписывает внутрипроцессные обработчики событий заказов.
func newLocalDispatcher(deps *Dependencies) *outbox.Dispatcher {
	dispatcher := outbox.NewDispatcher()
	dispatcher.Subscribe(domain.OutboxEventOrderStatusChange, deps.Restock)
	return dispatcher
}

// newGRPCServer поднимает gRPC health для оркестратора с метриками go-grpc-prometheus.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// outboxBacklogProbe сообщает о деградации, когда backlog outbox превышает порог.
func outboxBacklogProbe(repo domain.OutboxRepository, maxPending int) healthcheck.Probe {
	if repo == nil || maxPending <= 0 {
		return nil
	}
	return func(ctx context.Context) error {
		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	}
}

// startMetricsServer запускает /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
