package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/ranking"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/training"
)

// Retrainer retrains the ranking model of one strategy key.
type Retrainer interface {
	Retrain(ctx context.Context, window domain.DateRange) (*ranking.RetrainOutcome, error)
}

// RetrainCheckJob polls the drift monitor for every configured strategy
// key and launches a background retrain run when drift exceeds the
// threshold. A key with a run already active is skipped, not queued.
type RetrainCheckJob struct {
	monitor     domain.DriftMonitor
	retrainers  map[domain.StrategyKey]Retrainer
	coordinator *training.Coordinator
	windowDays  int
	log         zerolog.Logger
}

// NewRetrainCheckJob creates the periodic retrain check.
func NewRetrainCheckJob(
	monitor domain.DriftMonitor,
	retrainers map[domain.StrategyKey]Retrainer,
	coordinator *training.Coordinator,
	windowDays int,
	log zerolog.Logger,
) *RetrainCheckJob {
	return &RetrainCheckJob{
		monitor:     monitor,
		retrainers:  retrainers,
		coordinator: coordinator,
		windowDays:  windowDays,
		log:         log.With().Str("job", "retrain_check").Logger(),
	}
}

// Name returns the job name for the scheduler.
func (j *RetrainCheckJob) Name() string {
	return "retrain_check"
}

// Run checks drift for every key and starts retrain runs where advised.
func (j *RetrainCheckJob) Run() error {
	ctx := context.Background()

	for key, retrainer := range j.retrainers {
		recommended, score, err := j.monitor.RetrainRecommended(ctx, key)
		if err != nil {
			j.log.Error().Err(err).Str("strategy", key.String()).Msg("Drift check failed")
			continue
		}
		if !recommended {
			continue
		}

		j.log.Info().
			Str("strategy", key.String()).
			Float64("drift_score", score).
			Msg("Feature drift exceeds threshold, launching retrain")

		end := time.Now().UTC()
		window := domain.DateRange{Start: end.AddDate(0, 0, -j.windowDays), End: end}

		r := retrainer
		_, err = j.coordinator.Start(ctx, key, "ranking", func(runCtx context.Context, progress chan<- training.Progress) error {
			progress <- training.Progress{Phase: "retrain", Total: 1}
			outcome, err := r.Retrain(runCtx, window)
			if err != nil {
				return err
			}
			progress <- training.Progress{Phase: "retrain", Done: 1, Total: 1, Metric: outcome.RankIC}
			return nil
		})
		if errors.Is(err, domain.ErrRunActive) {
			j.log.Debug().Str("strategy", key.String()).Msg("Retrain already running, skipped")
			continue
		}
		if err != nil {
			j.log.Error().Err(err).Str("strategy", key.String()).Msg("Failed to start retrain run")
		}
	}

	return nil
}
