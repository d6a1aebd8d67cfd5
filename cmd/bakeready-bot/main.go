package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/bakeready/internal/config"
	"github.com/example/bakeready/internal/imageprocessor"
	"github.com/example/bakeready/internal/logging"
	"github.com/example/bakeready/internal/predictclient"
	"github.com/example/bakeready/internal/telegram"
	"github.com/example/bakeready/internal/usecase"
)

func main() {
	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.Telegram.Token == "" {
		logger.Fatal("TELEGRAM_TOKEN is required")
	}

	var cache usecase.Cache = usecase.NewMemoryCache()
	if cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		cache = usecase.NewRedisCache(client)
	}

	client := predictclient.NewClient(logger,
		predictclient.WithTimeout(cfg.Inference.Timeout),
		predictclient.WithOrigin(cfg.Inference.PublicOrigin),
	)
	svc := usecase.NewAttemptService(imageprocessor.NewPreprocessor(logger), client, cfg.Resolver(), cache, logger)

	bot, err := telegram.NewBot(cfg.Telegram.Token, svc, logger)
	if err != nil {
		logger.Fatal("failed to create bot", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("bot is running")
	if err := bot.Run(ctx); err != nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}
