package main

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"

	"github.com/codenix-ai/store-chismo/internal/common"
	"github.com/codenix-ai/store-chismo/internal/config"
	"github.com/codenix-ai/store-chismo/internal/notify"
	"github.com/codenix-ai/store-chismo/internal/obs"
)

// The worker drains the notification queue so customer emails never ride the
// webhook request path.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Str("component", "worker").Logger()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	concurrency := envInt("WORKER_CONCURRENCY", 4)
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{cfg.NotifyQueueName: 1},
		},
	)

	emailNotifier := notify.EmailNotifier{
		Mail:         common.NopEmailSender{},
		Enabled:      cfg.NotifyEmailEnabled,
		From:         cfg.NotifyEmailFrom,
		TopicToggles: notify.DefaultTopicToggles(),
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TypeEmail, notify.NewEmailTaskHandler(emailNotifier))

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		logger.Info().Msg("shutdown signal received")
		srv.Shutdown()
	}()

	logger.Info().Str("queue", cfg.NotifyQueueName).Int("concurrency", concurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker exited unexpectedly")
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
