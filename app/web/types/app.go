package types

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robfig/cron/v3"
	"github.com/zero-network/txexporter/pkg/explorer"
	"github.com/zero-network/txexporter/pkg/export"
	"github.com/zero-network/txexporter/pkg/files"
	"github.com/zero-network/txexporter/pkg/jobs"
	"github.com/zero-network/txexporter/pkg/pager"
	"github.com/zero-network/txexporter/pkg/presets"
	"github.com/zero-network/txexporter/pkg/redis"
	"github.com/zero-network/txexporter/pkg/yield"
	"go.uber.org/zap"
)

type App struct {
	// Explorer API client shared by exports and the yield analyzer
	Explorer *explorer.Client

	// Export pipeline (explorer -> pager -> CSV)
	Exports *export.Service

	// Yield analyzer for the CLNY token
	Yield *yield.Analyzer

	// Saved export configurations
	Presets *presets.Store

	// CSV listing with cached row counts
	Files *files.Describer

	// Background jobs and their status registry
	Jobs *jobs.Manager

	// Redis Client (optional status mirror)
	RedisClient *redis.Client

	// Cron runs housekeeping and, when SchedulesEnabled, presets that carry a schedule.
	// Scheduled maps preset name to its cron entry.
	Cron             *cron.Cron
	SchedulesEnabled bool
	Scheduled        *xsync.MapOf[string, Schedule]

	// Zap Logger
	Logger *zap.Logger

	// HTTP Server
	Server *http.Server
}

// Schedule is a preset currently registered with the cron scheduler.
type Schedule struct {
	Spec    string
	EntryID cron.EntryID
}

// SubmitExport queues req as a background export job.
func (a *App) SubmitExport(req export.Request) (*jobs.Tracker, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return a.Jobs.Submit(jobs.KindExport, req.Addresses, req.MaxPages, func(ctx context.Context, t *jobs.Tracker) error {
		_, err := a.Exports.Run(ctx, req, t)
		return err
	})
}

// SubmitPreset loads the preset called name and queues it as an export job.
func (a *App) SubmitPreset(name string) (*jobs.Tracker, error) {
	p, err := a.Presets.Get(name)
	if err != nil {
		return nil, err
	}
	req, err := export.RequestFromPreset(p, "")
	if err != nil {
		return nil, err
	}
	t, err := a.SubmitExport(req)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("Preset submitted", zap.String("preset", name), zap.String("job_id", t.ID()))
	return t, nil
}

// SubmitYield queues a yield analysis over window.
func (a *App) SubmitYield(window pager.Window, windowDays int) (*jobs.Tracker, error) {
	return a.Jobs.Submit(jobs.KindYield, []string{a.Yield.Contract()}, 0, func(ctx context.Context, t *jobs.Tracker) error {
		_, err := a.Yield.Generate(ctx, yield.Options{Window: window, WindowDays: windowDays}, t)
		return err
	})
}

// Health reports the state of optional dependencies.
func (a *App) Health(ctx context.Context) map[string]string {
	out := map[string]string{"status": "ok", "redis": "disabled"}
	if a.RedisClient != nil {
		if err := a.RedisClient.Health(ctx); err != nil {
			out["redis"] = err.Error()
			out["status"] = "degraded"
		} else {
			out["redis"] = "ok"
		}
	}
	return out
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	if a.Cron != nil {
		a.Cron.Start()
		a.Logger.Info("Scheduler started", zap.Int("preset_schedules", a.Scheduled.Size()))
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	if a.Cron != nil {
		a.Logger.Info("Stopping scheduler")
		<-a.Cron.Stop().Done()
	}

	a.Logger.Info("Stopping job workers")
	a.Jobs.Stop()

	if a.RedisClient != nil {
		a.Logger.Info("Closing Redis client")
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close Redis client", zap.Error(err))
		}
	}

	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("bye")
}
