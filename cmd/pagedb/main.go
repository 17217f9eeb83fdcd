package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/devrev/pagedb/internal/config"
	"github.com/devrev/pagedb/internal/events"
	"github.com/devrev/pagedb/internal/health"
	"github.com/devrev/pagedb/internal/kv"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/model"
	"github.com/devrev/pagedb/internal/server"
	"github.com/devrev/pagedb/internal/service"
	"github.com/devrev/pagedb/internal/storage/allocator"
	"github.com/devrev/pagedb/internal/storage/diskmanager"
	"github.com/devrev/pagedb/internal/storage/pagecache"
	"github.com/devrev/pagedb/internal/table"
	"github.com/devrev/pagedb/internal/util/workerpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Node.NodeID),
		zap.String("data_dir", cfg.Node.DataDir),
		zap.String("allocator", cfg.Allocator.Kind),
		zap.String("engine", cfg.Engine.Kind))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("pagedb exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	m := metrics.NewMetrics(cfg.Node.NodeID, nil)

	guard, err := diskmanager.NewGuard(&diskmanager.Config{
		DataDir:          cfg.Node.DataDir,
		CheckInterval:    cfg.Disk.CheckInterval,
		WarningThreshold: cfg.Disk.WarningThreshold,
		RefuseThreshold:  cfg.Disk.RefuseThreshold,
	}, logger.Named("disk"))
	if err != nil {
		return fmt.Errorf("failed to initialize disk guard: %w", err)
	}

	alloc, err := newAllocator(cfg, guard, m, logger.Named("allocator"))
	if err != nil {
		return err
	}
	defer alloc.Close()

	engine, err := newEngine(ctx, &cfg.Engine, logger.Named("engine"))
	if err != nil {
		return err
	}
	defer engine.Close()

	store, err := events.New(&events.Config{
		ChunkSize:          cfg.TimeSeries.ChunkSize,
		BloomFalsePositive: cfg.TimeSeries.BloomFilterFP,
	}, logger.Named("events"), m)
	if err != nil {
		return fmt.Errorf("failed to create event store: %w", err)
	}
	store.Register("event", func() events.Converter {
		return func(row any) (*model.Event, error) {
			ev, ok := row.(*model.Event)
			if !ok {
				return nil, fmt.Errorf("expected *model.Event, got %T", row)
			}
			cp := *ev
			return &cp, nil
		}
	})

	segments, err := service.NewSegmentCatalog(engine, logger.Named("segments"), m)
	if err != nil {
		return fmt.Errorf("failed to create segment catalog: %w", err)
	}
	catalog := table.NewCatalog()
	if err := catalog.Register(segments.Table()); err != nil {
		return err
	}
	recorder := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "segments",
		MaxWorkers: 1,
		QueueSize:  cfg.Archive.QueueSize,
		Logger:     logger.Named("segments"),
	})
	service.RecordSeals(segments, store.Series(), recorder)

	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:   cfg.Node.NodeID,
		Interval: cfg.Disk.CheckInterval,
	}, logger.Named("health"))
	checker.Register(health.DiskSpaceCheck(guard, cfg.Disk.WarningThreshold, cfg.Disk.RefuseThreshold))
	checker.Register(health.DataDirCheck(cfg.Node.DataDir))
	checker.Register(health.WorkerPoolCheck(recorder.Stats, 80))

	var archiver *service.ArchiveService[*model.Event]
	if cfg.Archive.Enabled {
		archiver = service.NewArchiveService[*model.Event](&service.ArchiveConfig{
			Workers:     cfg.Archive.Workers,
			QueueSize:   cfg.Archive.QueueSize,
			StopTimeout: cfg.Archive.StopTimeout,
		}, store.Series(), alloc, kv.JSONCodec[*model.Event]{}, logger.Named("archive"), m)
		archiver.OnArchived(func(ctx context.Context, info model.SegmentInfo) {
			if err := segments.Record(ctx, info); err != nil {
				logger.Error("Failed to record archived segment",
					zap.Int64("page_id", info.PageID),
					zap.Error(err))
			}
		})
		checker.Register(health.WorkerPoolCheck(archiver.Stats, 80))
	}

	logger.Info("Tables registered", zap.Strings("tables", catalog.Tables()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		checker.Start(gctx)
		return nil
	})

	if cfg.Metrics.Enabled {
		ms := server.NewMetricsServer(&server.MetricsServerConfig{
			Port:    cfg.Metrics.Port,
			Path:    cfg.Metrics.Path,
			Catalog: catalog,
		}, m, guard, checker, logger.Named("metrics"))
		if err := ms.Start(); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Node.ShutdownTimeout)
			defer cancel()
			return ms.Stop(shutdownCtx)
		})
	}

	if cfg.GRPC.Enabled {
		if err := serveHealth(gctx, g, cfg, checker, logger.Named("grpc")); err != nil {
			return err
		}
	}

	logger.Info("pagedb started", zap.String("node_id", cfg.Node.NodeID))
	<-gctx.Done()
	logger.Info("Shutting down gracefully...")
	checker.SetReadiness(false)

	if archiver != nil {
		if err := archiver.Stop(); err != nil {
			logger.Error("Archive service did not drain", zap.Error(err))
		}
	}
	if err := recorder.Stop(cfg.Archive.StopTimeout); err != nil {
		logger.Error("Segment recorder did not drain", zap.Error(err))
	}

	return g.Wait()
}

func newAllocator(cfg *config.Config, guard *diskmanager.Guard, m *metrics.Metrics, logger *zap.Logger) (allocator.PageAllocator, error) {
	base := allocator.Config{
		Version:  cfg.Allocator.Version,
		PageSize: cfg.Allocator.PageSize,
		Metrics:  m,
	}
	switch cfg.Allocator.Kind {
	case config.AllocatorHeap:
		a, err := allocator.NewHeapAllocator(&base, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create heap allocator: %w", err)
		}
		return a, nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Allocator.DataFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data file directory: %w", err)
		}
		a, err := allocator.NewDiskAllocator(&allocator.DiskConfig{
			Config:     base,
			DataFile:   cfg.Allocator.DataFile,
			SyncWrites: cfg.Allocator.SyncWrites,
			Guard:      guard,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open disk allocator: %w", err)
		}
		if cfg.Allocator.CachePages < 0 {
			return a, nil
		}
		return pagecache.Wrap(a, pagecache.New(&pagecache.Config{MaxPages: cfg.Allocator.CachePages}, logger.Named("cache"), m)), nil
	}
}

func newEngine(ctx context.Context, cfg *config.EngineConfig, logger *zap.Logger) (kv.Engine, error) {
	switch cfg.Kind {
	case config.EngineRedis:
		e, err := kv.NewRedisEngine(&kv.RedisConfig{
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return e, nil
	case config.EnginePostgres:
		e, err := kv.NewPostgresEngine(ctx, &kv.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
			Table:    cfg.Postgres.Table,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return e, nil
	default:
		return kv.NewMemoryEngine(), nil
	}
}

// serveHealth exposes the checker through the standard gRPC health service
func serveHealth(ctx context.Context, g *errgroup.Group, cfg *config.Config, checker *health.HealthChecker, logger *zap.Logger) error {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	checker.OnStatusChange(func(s model.NodeStatus) {
		status := healthpb.HealthCheckResponse_SERVING
		if s == model.NodeStatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	})

	logger.Info("gRPC health service starting", zap.String("address", addr))
	g.Go(func() error {
		if err := grpcServer.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		hs.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})
	return nil
}

func initLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = level
	zc.Encoding = cfg.Format
	return zc.Build()
}
