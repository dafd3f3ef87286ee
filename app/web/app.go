package web

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zero-network/txexporter/app/web/types"
	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/export"
	"github.com/zero-network/txexporter/pkg/files"
	"github.com/zero-network/txexporter/pkg/jobs"
	"github.com/zero-network/txexporter/pkg/logging"
	"github.com/zero-network/txexporter/pkg/pager"
	"github.com/zero-network/txexporter/pkg/presets"
	"github.com/zero-network/txexporter/pkg/redis"
	"github.com/zero-network/txexporter/pkg/utils"
	"github.com/zero-network/txexporter/pkg/yield"
	"go.uber.org/zap"
)

// Initialize wires the application from the environment.
func Initialize(ctx context.Context) (*types.App, error) {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}

	explorerOpts := explorer.OptsFromEnv(logger)
	client := explorer.NewClient(explorerOpts)
	pinned := explorer.FetcherFor(explorerOpts)
	logger.Info("Explorer client ready", zap.Strings("base_urls", client.BaseURLs()))

	exportDir := utils.Env("EXPORT_DIR", export.DefaultDir)
	yieldDir := utils.Env("YIELD_DIR", yield.DefaultDir)

	exports := export.NewService(export.ServiceOpts{
		Fetcher: client,
		FetcherFor: func(baseURL string) pager.Fetcher {
			return pinned(baseURL)
		},
		Dir:    exportDir,
		Logger: logger,
	})

	analyzer := yield.NewAnalyzer(yield.Opts{
		Fetcher:       client,
		Contract:      utils.Env("YIELD_CONTRACT", yield.CLNYContract),
		WindowDays:    utils.EnvInt("YIELD_WINDOW_DAYS", yield.DefaultWindowDays),
		ExpectedPages: utils.EnvInt("YIELD_EXPECTED_PAGES", 0),
		Dir:           yieldDir,
		Logger:        logger,
	})

	store := presets.NewStore(utils.Env("PRESETS_FILE", presets.DefaultPath), logger)
	if _, err := store.Load(); err != nil {
		return nil, fmt.Errorf("load presets: %w", err)
	}

	sinks := []jobs.Sink{jobs.NewFileSink(map[jobs.Kind]string{
		jobs.KindExport: exportDir,
		jobs.KindYield:  yieldDir,
	})}

	// Redis only mirrors job statuses, so a connection failure is not fatal.
	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, redis.ConfigFromEnv(), logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - job status mirror disabled", zap.Error(err))
			redisClient = nil
		} else {
			sinks = append(sinks, redis.NewStatusSink(redisClient))
			logger.Info("Redis job status mirror enabled")
		}
	} else {
		logger.Info("Redis disabled - job statuses are kept in memory and status files only")
	}

	manager := jobs.NewManager(ctx, jobs.Opts{
		Workers: utils.EnvInt("JOB_WORKERS", 4),
		Timeout: utils.EnvDuration("JOB_TIMEOUT", 0),
		Sinks:   sinks,
		Logger:  logger,
	})

	app := &types.App{
		Explorer:    client,
		Exports:     exports,
		Yield:       analyzer,
		Presets:     store,
		Files:       files.NewDescriber(256),
		Jobs:        manager,
		RedisClient: redisClient,
		Scheduled:   xsync.NewMapOf[string, types.Schedule](),
		Logger:      logger,
	}

	app.Cron = types.NewCron(logger)
	if err := app.SchedulePrune(utils.EnvDuration("JOB_RETENTION", time.Hour)); err != nil {
		return nil, err
	}
	if utils.EnvBool("PRESET_SCHEDULES_ENABLED", false) {
		app.SchedulesEnabled = true
		if err := app.ReconcileSchedules(); err != nil {
			return nil, err
		}
	} else {
		logger.Info("Preset schedules disabled")
	}

	return app, nil
}
