package ranking

import (
	"sort"
	"time"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/formulas"
)

// Fold is one rolling (train, test) partition of the history.
type Fold struct {
	TrainStart time.Time `json:"train_start"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
	RankIC     float64   `json:"rank_ic"`
	TestRows   int       `json:"test_rows"`
}

// WalkForwardReport summarizes the rolling out-of-sample evaluation.
type WalkForwardReport struct {
	Folds      []Fold  `json:"folds"`
	MeanRankIC float64 `json:"mean_rank_ic"`
}

// WalkForward partitions the history into rolling (train_window, test_window)
// pairs advancing by the test window length, fits a model per fold and
// measures held-out Spearman rank correlation between predicted and
// realized forward returns. Rolling partitions avoid look-ahead bias: every
// prediction is made by a model that never saw its test dates.
func WalkForward(snapshots []domain.FeatureSnapshot, width int, lambda float64, trainDays, testDays int) (*WalkForwardReport, error) {
	byDate := groupByDate(snapshots)
	dates := sortedDates(byDate)

	minDays := trainDays + testDays
	if len(dates) < minDays {
		return nil, &domain.InsufficientDataError{
			Op:     "ranking.WalkForward",
			Needed: minDays,
			Got:    len(dates),
			Detail: "trading days",
		}
	}

	var report WalkForwardReport
	for start := 0; start+trainDays+testDays <= len(dates); start += testDays {
		trainDates := dates[start : start+trainDays]
		testDates := dates[start+trainDays : start+trainDays+testDays]

		model, err := Fit(collect(byDate, trainDates), width, lambda)
		if err != nil {
			// A fold without enough labeled rows carries no information;
			// skip it rather than failing the whole evaluation.
			if _, ok := err.(*domain.InsufficientDataError); ok {
				continue
			}
			return nil, err
		}

		var predicted, realized []float64
		for _, s := range collect(byDate, testDates) {
			if s.TargetReturn == nil || !s.HasCompleteFeatures(width) {
				continue
			}
			predicted = append(predicted, model.Predict(s.Features))
			realized = append(realized, *s.TargetReturn)
		}
		if len(predicted) < 3 {
			continue
		}

		report.Folds = append(report.Folds, Fold{
			TrainStart: trainDates[0],
			TestStart:  testDates[0],
			TestEnd:    testDates[len(testDates)-1],
			RankIC:     formulas.SpearmanCorrelation(predicted, realized),
			TestRows:   len(predicted),
		})
	}

	if len(report.Folds) == 0 {
		return nil, &domain.InsufficientDataError{
			Op:     "ranking.WalkForward",
			Needed: 1,
			Got:    0,
			Detail: "evaluable folds",
		}
	}

	sum := 0.0
	for _, f := range report.Folds {
		sum += f.RankIC
	}
	report.MeanRankIC = sum / float64(len(report.Folds))

	return &report, nil
}

func groupByDate(snapshots []domain.FeatureSnapshot) map[time.Time][]domain.FeatureSnapshot {
	byDate := make(map[time.Time][]domain.FeatureSnapshot)
	for _, s := range snapshots {
		d := s.Date.UTC().Truncate(24 * time.Hour)
		byDate[d] = append(byDate[d], s)
	}
	return byDate
}

func sortedDates(byDate map[time.Time][]domain.FeatureSnapshot) []time.Time {
	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func collect(byDate map[time.Time][]domain.FeatureSnapshot, dates []time.Time) []domain.FeatureSnapshot {
	var out []domain.FeatureSnapshot
	for _, d := range dates {
		out = append(out, byDate[d]...)
	}
	return out
}
