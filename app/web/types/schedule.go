package types

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const pruneSpec = "@every 10m"

// ScheduleParser accepts standard five-field specs plus descriptors like "@daily".
var ScheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewCron builds the scheduler used for preset schedules.
func NewCron(logger *zap.Logger) *cron.Cron {
	cl := cronLogger{logger: logger}
	return cron.New(cron.WithParser(ScheduleParser), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
}

// ReconcileSchedules makes the cron entries match the presets that carry a schedule.
// Added, changed and removed presets are applied; an invalid spec is logged and skipped.
func (a *App) ReconcileSchedules() error {
	if a.Cron == nil || !a.SchedulesEnabled {
		return nil
	}
	all, err := a.Presets.Load()
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}

	desired := map[string]string{}
	for name, p := range all {
		if p.Schedule != "" {
			desired[name] = p.Schedule
		}
	}

	// Drop entries whose preset disappeared or changed spec.
	a.Scheduled.Range(func(name string, s Schedule) bool {
		if spec, ok := desired[name]; !ok || spec != s.Spec {
			a.Cron.Remove(s.EntryID)
			a.Scheduled.Delete(name)
			a.Logger.Info("Preset schedule removed", zap.String("preset", name), zap.String("spec", s.Spec))
		}
		return true
	})

	for name, spec := range desired {
		if _, ok := a.Scheduled.Load(name); ok {
			continue
		}
		preset := name
		id, err := a.Cron.AddFunc(spec, func() {
			if _, err := a.SubmitPreset(preset); err != nil {
				a.Logger.Error("Scheduled preset failed to start", zap.String("preset", preset), zap.Error(err))
			}
		})
		if err != nil {
			a.Logger.Warn("Invalid preset schedule", zap.String("preset", name), zap.String("spec", spec), zap.Error(err))
			continue
		}
		a.Scheduled.Store(name, Schedule{Spec: spec, EntryID: id})
		a.Logger.Info("Preset scheduled", zap.String("preset", name), zap.String("spec", spec))
	}
	return nil
}

// SchedulePrune registers a periodic sweep dropping finished jobs older than retention.
func (a *App) SchedulePrune(retention time.Duration) error {
	if a.Cron == nil || retention <= 0 {
		return nil
	}
	_, err := a.Cron.AddFunc(pruneSpec, func() {
		if n := a.Jobs.Prune(retention); n > 0 {
			a.Logger.Debug("Pruned finished jobs", zap.Int("jobs", n), zap.Duration("retention", retention))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule job pruning: %w", err)
	}
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("[cron] "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("[cron] "+msg, append(keysAndValues, "error", err)...)
}
