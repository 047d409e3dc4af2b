package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/logger"
)

type fakeWindowProvider struct {
	snapshots []domain.FeatureSnapshot
}

func (f *fakeWindowProvider) GetSnapshots(_ context.Context, dateRange domain.DateRange, _ []string) ([]domain.FeatureSnapshot, error) {
	var out []domain.FeatureSnapshot
	for _, s := range f.snapshots {
		if !s.Date.Before(dateRange.Start) && s.Date.Before(dateRange.End) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeScreener struct {
	scores []domain.CandidateScore
}

func (f *fakeScreener) Screen(_ []domain.FeatureSnapshot) ([]domain.CandidateScore, error) {
	return f.scores, nil
}

func windowSnapshots() []domain.FeatureSnapshot {
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	var out []domain.FeatureSnapshot
	for day := 0; day < 3; day++ {
		d := base.AddDate(0, 0, day)
		out = append(out,
			domain.FeatureSnapshot{Ticker: "AAPL", Date: d, Price: 150 + float64(day)},
			domain.FeatureSnapshot{Ticker: "MSFT", Date: d, Price: 300 + float64(day)},
		)
		// NVDA lists on the second session only.
		if day >= 1 {
			out = append(out, domain.FeatureSnapshot{Ticker: "NVDA", Date: d, Price: 500})
		}
	}
	return out
}

func TestWindowBuilder_AlignsShortlistAcrossSessions(t *testing.T) {
	provider := &fakeWindowProvider{snapshots: windowSnapshots()}
	screener := &fakeScreener{scores: []domain.CandidateScore{
		{Ticker: "NVDA", PredictedReturn: 0.04, Rank: 1},
		{Ticker: "AAPL", PredictedReturn: 0.02, Rank: 2},
		{Ticker: "MSFT", PredictedReturn: 0.01, Rank: 3},
	}}
	builder := NewWindowBuilder(provider, screener, 10, logger.New(logger.Config{Level: "error"}))

	window, err := builder.Build(context.Background(), domain.DateRange{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"NVDA", "AAPL", "MSFT"}, window.Tickers, "slots follow shortlist rank order")
	assert.Equal(t, []float64{0.04, 0.02, 0.01}, window.Predicted)
	require.Equal(t, 3, window.Sessions())

	assert.Equal(t, []float64{0, 150, 300}, window.Prices[0], "unlisted ticker holds a zero price")
	assert.Equal(t, []float64{500, 151, 301}, window.Prices[1])
	assert.Equal(t, []float64{500, 152, 302}, window.Prices[2])
}

func TestWindowBuilder_TruncatesToShortlistSize(t *testing.T) {
	provider := &fakeWindowProvider{snapshots: windowSnapshots()}
	screener := &fakeScreener{scores: []domain.CandidateScore{
		{Ticker: "AAPL", PredictedReturn: 0.03, Rank: 1},
		{Ticker: "MSFT", PredictedReturn: 0.02, Rank: 2},
		{Ticker: "NVDA", PredictedReturn: 0.01, Rank: 3},
	}}
	builder := NewWindowBuilder(provider, screener, 2, logger.New(logger.Config{Level: "error"}))

	window, err := builder.Build(context.Background(), domain.DateRange{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, window.Tickers)
}

func TestWindowBuilder_SingleSessionIsInsufficient(t *testing.T) {
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	provider := &fakeWindowProvider{snapshots: []domain.FeatureSnapshot{
		{Ticker: "AAPL", Date: base, Price: 150},
	}}
	builder := NewWindowBuilder(provider, &fakeScreener{}, 10, logger.New(logger.Config{Level: "error"}))

	_, err := builder.Build(context.Background(), domain.DateRange{
		Start: base.AddDate(0, 0, -1),
		End:   base.AddDate(0, 0, 1),
	})

	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Needed)
	assert.Equal(t, 1, insufficient.Got)
}
