package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/bakeready/internal/archive"
	"github.com/example/bakeready/internal/auth"
	"github.com/example/bakeready/internal/config"
	"github.com/example/bakeready/internal/handlers"
	"github.com/example/bakeready/internal/health"
	"github.com/example/bakeready/internal/imageprocessor"
	"github.com/example/bakeready/internal/logging"
	"github.com/example/bakeready/internal/predictclient"
	"github.com/example/bakeready/internal/repository"
	"github.com/example/bakeready/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	var opts []usecase.Option

	if cfg.Storage.DatabaseDSN != "" {
		db := initDatabase(ctx, cfg.Storage.DatabaseDSN, logger)
		repo := repository.NewPredictionRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		opts = append(opts, usecase.WithRepository(repo))
	} else {
		logger.Info("DATABASE_DSN not set, attempt log disabled")
	}

	var cache usecase.Cache = usecase.NewMemoryCache()
	if cfg.Storage.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.Storage.RedisAddr, logger))
	} else {
		logger.Info("REDIS_ADDR not set, using in-memory status store")
	}

	if cfg.ArchiveEnabled() {
		store, err := archive.NewS3Archive(ctx, cfg.S3, logger)
		if err != nil {
			logger.Fatal("failed to initialise image archive", zap.Error(err))
		}
		opts = append(opts, usecase.WithArchiver(store))
	}

	client := predictclient.NewClient(logger,
		predictclient.WithTimeout(cfg.Inference.Timeout),
		predictclient.WithOrigin(cfg.Inference.PublicOrigin),
	)
	svc := usecase.NewAttemptService(imageprocessor.NewPreprocessor(logger), client, cfg.Resolver(), cache, logger, opts...)

	var authMiddleware gin.HandlerFunc
	if cfg.Auth.JWTSecret != "" {
		authMiddleware = auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	} else {
		logger.Warn("JWT_SECRET not set, prediction route is unauthenticated")
	}

	healthServer := health.NewServer(logger)
	healthListener, err := net.Listen("tcp", cfg.Server.GRPCHealthAddr)
	if err != nil {
		logger.Fatal("failed to listen for gRPC health", zap.Error(err))
	}
	go func() {
		if err := healthServer.Serve(healthListener); err != nil {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	defer healthServer.Stop()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go healthServer.Watch(watchCtx, cfg.Server.HealthProbeInterval, func(ctx context.Context) error {
		_, err := svc.Health(ctx, "")
		return err
	})

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: newRouter(svc, authMiddleware, cfg.Server.MaxUploadSize),
	}

	logger.Info("bakeready gateway listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("endpoint", cfg.Resolver().Resolve("").BaseURL))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newRouter(svc *usecase.AttemptService, authMiddleware gin.HandlerFunc, maxUploadSize int64) *gin.Engine {
	r := gin.Default()
	r.MaxMultipartMemory = maxUploadSize
	handlers.RegisterRoutes(r, svc, authMiddleware, maxUploadSize)
	return r
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
