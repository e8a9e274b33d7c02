// Server runs the session hub: it resumes persisted sessions on boot, supervises them against
// the transport bridge, counts inbound activity and serves gRPC health until signalled.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"session-hub/internal/activity"
	"session-hub/internal/config"
	"session-hub/internal/health"
	"session-hub/internal/logging"
	"session-hub/internal/platform/besteffort"
	"session-hub/internal/server"
	"session-hub/internal/session"
	"session-hub/internal/store"
	"session-hub/internal/telemetry"
	telemetryotel "session-hub/internal/telemetry/otel"
	"session-hub/internal/telemetry/producer"
	"session-hub/internal/transport/wsbridge"
)

const (
	healthInterval  = 15 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.TransportBridgeURL == "" {
		return errors.New("TRANSPORT_BRIDGE_URL is required")
	}

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	meter := otel.Meter(telemetry.MeterName)
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	rpcRequests, err := meter.Int64Counter("session_hub.grpc.requests")
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	recorder := besteffort.NewLogRecorder(log, metrics.BestEffortFailures)

	stores, err := store.Open(ctx, cfg, store.Options{Migrate: true, EnsureIndexes: true}, log)
	if err != nil {
		return err
	}

	bridge, err := wsbridge.New(cfg.TransportBridgeURL, log.Named("wsbridge"))
	if err != nil {
		_ = stores.Close(context.Background())
		return err
	}

	events := telemetry.Fanout{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SessionEventsTopic)
	if kafkaProducer != nil {
		events = append(events, kafkaProducer)
		log.Info("session events exported to kafka", zap.String("topic", cfg.SessionEventsTopic))
	}

	engine := activity.NewEngine(stores.Activity, activity.Options{
		Location:         cfg.Location(),
		ExcludedChannels: cfg.ExcludedChannelsList(),
		Recorder:         recorder,
		Recorded:         metrics.ActivityRecorded,
		Logger:           log.Named("activity"),
	})
	manager, err := session.NewManager(session.Config{
		PairingMaxRetries:     cfg.PairingMaxRetries,
		PairingBaseDelay:      cfg.PairingBaseDelay,
		PairingSettleDelay:    cfg.PairingSettleDelay,
		PairingAttemptTimeout: cfg.PairingAttemptTimeout,
		OpenGraceDelay:        cfg.OpenGraceDelay,
		ReconnectDelay:        cfg.ReconnectDelay,
		ResumeInterval:        cfg.ResumeInterval,
	}, session.Deps{
		Credentials: stores.Credentials,
		Directory:   stores.Directory,
		Transport:   bridge,
		Engine:      engine,
		Recorder:    recorder,
		Events:      events,
		Metrics:     metrics,
		Logger:      log.Named("session"),
	})
	if err != nil {
		_ = stores.Close(context.Background())
		return err
	}

	checker := health.NewChecker(log.Named("health"))
	checker.Add("store", stores.Pinger)
	grpcServer := server.New(server.Deps{Health: checker.Server(), Logger: log.Named("grpc"), Requests: rpcRequests})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = stores.Close(context.Background())
		return fmt.Errorf("listen: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		resumed, err := manager.ResumeAll(gctx)
		if err != nil && gctx.Err() == nil {
			log.Warn("resume incomplete", zap.Error(err))
		}
		log.Info("boot complete", zap.Int("resumed", resumed), zap.String("store", stores.Driver))
		if err := checker.MarkReady(gctx); err != nil {
			log.Warn("initial health check failed", zap.Error(err))
		}
		return checker.Run(gctx, healthInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown(log, checker, grpcServer, manager, kafkaProducer, stores, providers)
		return nil
	})
	return g.Wait()
}

// shutdown drains in dependency order: stop advertising health, stop RPCs, stop sessions
// without touching persisted state (which also drains queued events), then close exporters and stores.
func shutdown(log *zap.Logger, checker *health.Checker, grpcServer *grpc.Server, manager *session.Manager,
	kafkaProducer *producer.KafkaProducer, stores *store.Stores, providers *telemetryotel.Providers) {
	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	checker.Shutdown()
	grpcServer.GracefulStop()
	if err := manager.Shutdown(ctx); err != nil {
		log.Warn("session manager shutdown", zap.Error(err))
	}

	if err := kafkaProducer.Close(); err != nil {
		log.Warn("kafka producer close", zap.Error(err))
	}
	if err := providers.Shutdown(ctx); err != nil {
		log.Warn("telemetry shutdown", zap.Error(err))
	}
	if err := stores.Close(ctx); err != nil {
		log.Warn("store close", zap.Error(err))
	}
	log.Info("server stopped")
}
