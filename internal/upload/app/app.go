package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpHandler "github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/inbound/http"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/breaker"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/filesystem"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/mongostore"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/progress"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/redisstore"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/s3store"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/segment"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/adapter/outbound/sqlstore"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/config"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/port"
	"github.com/anthanhphan/go-chunked-upload/internal/upload/service"
	"github.com/anthanhphan/go-chunked-upload/pkg/idgen"
	"github.com/anthanhphan/go-chunked-upload/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg     *config.Config
	server  *httpHandler.Server
	pool    *resilience.WorkerPool
	hub     *progress.Hub
	relay   *progress.RedisRelay
	closers []func(context.Context) error
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	return Build(context.Background(), cfg)
}

// Build wires every component from an already loaded config.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	// 1. Redis, shared by the redis store, progress pub/sub and the ID clock
	var redisClient *redis.Client
	if usesRedis(cfg) {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func(context.Context) error { return redisClient.Close() })
	}

	// 2. Upload IDs
	var clock idgen.Clock = &idgen.SystemClock{}
	if redisClient != nil {
		clock = idgen.NewRedisClock(redisClient)
	}
	idGen, err := idgen.New(cfg.Upload.NodeID, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to init snowflake: %w", err)
	}

	// 3. Chunk store
	store, err := a.buildStore(ctx, redisClient)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	// 4. Progress
	a.hub = progress.NewHub(cfg.Progress.QueueSize)
	notifier, err := a.buildNotifier(redisClient)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	// 5. Use case and HTTP
	uc := service.NewUploadUseCase(store, notifier, cfg.Upload.ChunkCount, idGen)
	a.pool = resilience.NewWorkerPool(cfg.Upload.Workers, cfg.Upload.QueueSize)
	a.server = httpHandler.NewServer(cfg, uc, a.pool, a.hub)

	logger.Infow("Upload service wired",
		"storage_backend", cfg.Storage.Backend,
		"progress_mode", cfg.Progress.Mode,
		"chunk_count", uc.ChunkCount(),
	)
	return a, nil
}

func usesRedis(cfg *config.Config) bool {
	return cfg.Storage.Backend == config.BackendRedis || cfg.Progress.Mode == config.ProgressRedis
}

func (a *App) buildStore(ctx context.Context, redisClient *redis.Client) (port.FileRepository, error) {
	cfg := a.cfg.Storage

	var store port.FileRepository
	switch cfg.Backend {
	case config.BackendFilesystem, "":
		fsStore, err := filesystem.NewOSStore(cfg.Filesystem)
		if err != nil {
			return nil, err
		}
		store = fsStore
	case config.BackendSegment:
		segStore, err := segment.NewOSStore(cfg.Segment)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return segStore.Close() })
		store = segStore
	case config.BackendSQL:
		sqlStore, err := sqlstore.Open(ctx, cfg.SQL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return sqlStore.Close() })
		store = sqlStore
	case config.BackendRedis:
		store = redisstore.NewStore(redisClient)
	case config.BackendMongo:
		mongoStore, disconnect, err := mongostore.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, disconnect)
		store = mongoStore
	case config.BackendS3:
		s3Store, err := s3store.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		store = s3Store
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	if cfg.Breaker.Enabled {
		store = breaker.Wrap(cfg.Backend, store, cfg.Breaker)
	}
	return store, nil
}

func (a *App) buildNotifier(redisClient *redis.Client) (port.ProgressNotifier, error) {
	cfg := a.cfg.Progress

	var notifiers progress.Fanout
	if cfg.Log {
		notifiers = append(notifiers, progress.LogNotifier{})
	}

	switch cfg.Mode {
	case config.ProgressLocal, "":
		notifiers = append(notifiers, a.hub)
	case config.ProgressRedis:
		// Labels reach local observers through the relay, like every other instance's.
		notifiers = append(notifiers, progress.NewRedisPublisher(redisClient, cfg.Channel))
		a.relay = progress.NewRedisRelay(redisClient, cfg.Channel, a.hub)
	default:
		return nil, fmt.Errorf("unknown progress mode %q", cfg.Mode)
	}
	return notifiers, nil
}

func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	logger.Infow("Upload server starting", "addr", a.cfg.Server.Addr)
	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gCtx)
		})
	}

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case <-gCtx.Done():
		logger.Errorw("Upload server exited unexpectedly", "error", context.Cause(gCtx).Error())
	}

	logger.Info("Shutting down upload services")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	runErr := a.shutdown(shutdownCtx)
	cancel()
	if err := g.Wait(); err != nil {
		runErr = errors.Join(err, runErr)
	}
	return runErr
}

// shutdown stops accepting requests, drains in-flight uploads, then releases backends.
func (a *App) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Stop(ctx); err != nil {
		logger.Errorw("HTTP shutdown error", "error", err.Error())
		errs = append(errs, err)
	}
	a.pool.Close()
	a.pool.Wait()
	a.hub.Close()
	errs = append(errs, a.close(ctx)...)
	return errors.Join(errs...)
}

func (a *App) close(ctx context.Context) []error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Errorw("Failed to close backend", "error", err.Error())
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errs
}
