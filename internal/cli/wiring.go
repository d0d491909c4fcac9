package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"mentara-client/internal/app"
	"mentara-client/internal/config"
	"mentara-client/internal/infra/file"
	"mentara-client/internal/infra/memory"
	pgstore "mentara-client/internal/infra/postgres"
	redisstore "mentara-client/internal/infra/redis"
	"mentara-client/internal/infra/restapi"
)

func newAPIClient(cfg config.Config, log zerolog.Logger) *restapi.Client {
	return restapi.New(cfg.API.BaseURL, restapi.NewFileTokens(cfg.Auth.CredentialsPath),
		restapi.WithTimeout(config.TTLDuration(cfg.API.Timeout, 30*time.Second)),
		restapi.WithSubmitTimeout(config.TTLDuration(cfg.API.SubmitTimeout, 120*time.Second)),
		restapi.WithRetryDelays(restapi.RetryDelays(cfg.Retries())),
		restapi.WithLogger(log),
	)
}

func sessionSettings(cfg config.Config) app.Settings {
	defaults := app.DefaultSettings()
	return app.Settings{
		MaxStrikes:       cfg.Session.MaxStrikes,
		TickInterval:     config.TTLDuration(cfg.Session.TickInterval, defaults.TickInterval),
		AutosaveInterval: config.TTLDuration(cfg.Session.AutosaveInterval, defaults.AutosaveInterval),
		LowTimeThreshold: config.TTLDuration(cfg.Session.LowTimeThreshold, defaults.LowTimeThreshold),
		ForceSubmitDelay: config.TTLDuration(cfg.Session.ForceSubmitDelay, defaults.ForceSubmitDelay),
		MaxUploadBytes:   int64(cfg.Session.MaxUploadMB) << 20,
	}
}

// runtime is everything a session needs, built from config.
type runtime struct {
	api     *restapi.Client
	service *app.AttemptService
	closers []func()
	log     zerolog.Logger
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func buildRuntime(ctx context.Context, cfg config.Config, log zerolog.Logger) (*runtime, error) {
	rt := &runtime{api: newAPIClient(cfg, log), log: log}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}

	examTTL := config.TTLDuration(cfg.Exams.TTL, 10*time.Minute)
	var exams app.ExamRepository
	if redisClient != nil {
		exams = redisstore.NewExamRepository(redisClient, rt.api, examTTL)
	} else {
		exams = memory.NewExamRepository(rt.api, examTTL)
	}

	snapshotTTL := config.TTLDuration(cfg.Snapshot.TTL, 24*time.Hour)
	var snapshots app.SnapshotStore
	switch cfg.Snapshot.Backend {
	case "memory":
		snapshots = memory.NewSnapshotStore()
	case "redis":
		snapshots = redisstore.NewSnapshotStore(redisClient, snapshotTTL)
	case "postgres":
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			rt.Close()
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		snapshots = pgstore.NewSnapshotStore(pool)
	default:
		snapshots = file.NewSnapshotStore(cfg.Snapshot.Dir)
	}

	rt.service = app.NewAttemptService(rt.api, exams, snapshots, sessionSettings(cfg), app.WithLogger(log))
	log.Debug().Str("snapshot_backend", cfg.Snapshot.Backend).Bool("redis_cache", redisClient != nil).Msg("runtime ready")
	return rt, nil
}
