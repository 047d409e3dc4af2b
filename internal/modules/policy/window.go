package policy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/allocation"
)

// Screener scores one day's feature snapshots with the production ranking
// model. Satisfied by ranking.Service.
type Screener interface {
	Screen(snapshots []domain.FeatureSnapshot) ([]domain.CandidateScore, error)
}

// WindowBuilder assembles the historical price window the training
// environment replays. The tradable slots are the ranking shortlist as of
// the most recent session in the range; earlier sessions where a shortlist
// ticker has no price are left at zero, which the environment treats as
// not yet listed or delisted.
type WindowBuilder struct {
	provider domain.FeatureProvider
	screener Screener
	topN     int
	log      zerolog.Logger
}

// NewWindowBuilder creates a window builder with a shortlist of topN slots.
func NewWindowBuilder(provider domain.FeatureProvider, screener Screener, topN int, log zerolog.Logger) *WindowBuilder {
	return &WindowBuilder{
		provider: provider,
		screener: screener,
		topN:     topN,
		log:      log.With().Str("component", "window_builder").Logger(),
	}
}

// Build fetches snapshots over the range and assembles a price window.
func (b *WindowBuilder) Build(ctx context.Context, window domain.DateRange) (allocation.PriceWindow, error) {
	snapshots, err := b.provider.GetSnapshots(ctx, window, nil)
	if err != nil {
		return allocation.PriceWindow{}, fmt.Errorf("failed to load snapshots for training window: %w", err)
	}

	byDate := make(map[time.Time]map[string]float64)
	for _, s := range snapshots {
		d := s.Date.UTC().Truncate(24 * time.Hour)
		if byDate[d] == nil {
			byDate[d] = make(map[string]float64)
		}
		byDate[d][s.Ticker] = s.Price
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	if len(dates) < 2 {
		return allocation.PriceWindow{}, &domain.InsufficientDataError{
			Op:     "build training window",
			Needed: 2,
			Got:    len(dates),
			Detail: "sessions in range",
		}
	}

	latest := dates[len(dates)-1]
	var latestSnapshots []domain.FeatureSnapshot
	for _, s := range snapshots {
		if s.Date.UTC().Truncate(24 * time.Hour).Equal(latest) {
			latestSnapshots = append(latestSnapshots, s)
		}
	}

	scores, err := b.screener.Screen(latestSnapshots)
	if err != nil {
		return allocation.PriceWindow{}, fmt.Errorf("failed to screen shortlist for training window: %w", err)
	}
	if len(scores) > b.topN {
		scores = scores[:b.topN]
	}

	tickers := make([]string, len(scores))
	predicted := make([]float64, len(scores))
	for i, score := range scores {
		tickers[i] = score.Ticker
		predicted[i] = score.PredictedReturn
	}

	prices := make([][]float64, len(dates))
	for t, d := range dates {
		row := make([]float64, len(tickers))
		for i, ticker := range tickers {
			row[i] = byDate[d][ticker]
		}
		prices[t] = row
	}

	b.log.Debug().
		Int("sessions", len(dates)).
		Int("slots", len(tickers)).
		Time("latest", latest).
		Msg("Training window assembled")

	return allocation.PriceWindow{Tickers: tickers, Predicted: predicted, Prices: prices}, nil
}

// Pipeline ties the window builder to the training service so callers can
// train straight from a date range.
type Pipeline struct {
	builder *WindowBuilder
	svc     *Service
}

// NewPipeline creates a training pipeline.
func NewPipeline(builder *WindowBuilder, svc *Service) *Pipeline {
	return &Pipeline{builder: builder, svc: svc}
}

// Train assembles the window for the range and runs a full training pass.
func (p *Pipeline) Train(ctx context.Context, window domain.DateRange, seed int64) (*TrainOutcome, error) {
	priceWindow, err := p.builder.Build(ctx, window)
	if err != nil {
		return nil, err
	}
	return p.svc.Train(ctx, priceWindow, seed)
}
