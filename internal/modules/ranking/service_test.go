package ranking

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/config"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/logger"
)

// fakeStore is an in-memory ArtifactStore for tests.
type fakeStore struct {
	payloads   map[string][]byte
	production map[domain.StrategyKey]string
	promotions int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payloads:   make(map[string][]byte),
		production: make(map[domain.StrategyKey]string),
	}
}

func (f *fakeStore) Save(key domain.StrategyKey, version string, payload []byte, metrics map[string]float64) error {
	f.payloads[key.String()+"/"+version] = payload
	return nil
}

func (f *fakeStore) LoadProduction(key domain.StrategyKey) ([]byte, string, error) {
	version, ok := f.production[key]
	if !ok {
		return nil, "", domain.ErrNoProductionModel
	}
	return f.payloads[key.String()+"/"+version], version, nil
}

func (f *fakeStore) Promote(key domain.StrategyKey, version string) error {
	if _, ok := f.payloads[key.String()+"/"+version]; !ok {
		return domain.ErrVersionNotFound
	}
	f.production[key] = version
	f.promotions++
	return nil
}

// fakeProvider serves a fixed snapshot slice.
type fakeProvider struct {
	rows []domain.FeatureSnapshot
}

func (f *fakeProvider) GetSnapshots(_ context.Context, dateRange domain.DateRange, _ []string) ([]domain.FeatureSnapshot, error) {
	var out []domain.FeatureSnapshot
	for _, s := range f.rows {
		if !s.Date.Before(dateRange.Start) && s.Date.Before(dateRange.End) {
			out = append(out, s)
		}
	}
	return out, nil
}

func testProfile() *config.StrategyProfile {
	return &config.StrategyProfile{
		Strategy:  "growth",
		MarketCap: "large",
		Screening: config.ScreeningConfig{
			ShortlistSize:    10,
			MinHistoryDays:   90,
			TrainWindowDays:  60,
			TestWindowDays:   20,
			RankICFloor:      0.05,
			RidgeLambda:      1.0,
			PriceFloor:       5.0,
			ExtremeMoveBound: 0.5,
		},
		Risk: config.RiskConfig{
			MaxPositions: 20, MinPosition: 0.01, MaxPosition: 0.10,
			CashReserve: 0.05, TransactionCost: 0.001,
		},
	}
}

// identityModel predicts exactly the single feature value.
func identityModel(t *testing.T) []byte {
	t.Helper()
	m := &Model{
		FeatureWidth: 1,
		Means:        []float64{0},
		Stds:         []float64{1},
		Coefficients: []float64{1},
	}
	payload, err := m.Encode()
	require.NoError(t, err)
	return payload
}

func screeningService(t *testing.T, store *fakeStore) *Service {
	t.Helper()
	profile := testProfile()
	store.payloads[profile.Key().String()+"/v1"] = identityModel(t)
	store.production[profile.Key()] = "v1"
	log := logger.New(logger.Config{Level: "error"})
	return NewService(&fakeProvider{}, store, profile, log)
}

func TestScreen_OrderingAndTieBreak(t *testing.T) {
	svc := screeningService(t, newFakeStore())
	date := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	batch := []domain.FeatureSnapshot{
		{Ticker: "MSFT", Date: date, Features: []float64{0.05}},
		{Ticker: "AAPL", Date: date, Features: []float64{0.05}}, // tie with MSFT
		{Ticker: "NVDA", Date: date, Features: []float64{0.09}},
		{Ticker: "ZZZZ", Date: date, Features: []float64{-0.02}},
	}

	scores, err := svc.Screen(batch)
	require.NoError(t, err)
	require.Len(t, scores, 4)

	// Strict order: predicted desc, ties by ticker ascending.
	assert.Equal(t, []string{"NVDA", "AAPL", "MSFT", "ZZZZ"},
		[]string{scores[0].Ticker, scores[1].Ticker, scores[2].Ticker, scores[3].Ticker})
	for i, s := range scores {
		assert.Equal(t, i+1, s.Rank)
	}

	// Same input, same output.
	again, err := svc.Screen(batch)
	require.NoError(t, err)
	assert.Equal(t, scores, again)
}

func TestScreen_ExcludesIncompleteSilently(t *testing.T) {
	svc := screeningService(t, newFakeStore())
	date := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	batch := []domain.FeatureSnapshot{
		{Ticker: "GOOD", Date: date, Features: []float64{0.01}},
		{Ticker: "WIDE", Date: date, Features: []float64{0.01, 0.02}},
		{Ticker: "NONE", Date: date, Features: nil},
	}

	scores, err := svc.Screen(batch)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, "GOOD", scores[0].Ticker)
}

func TestScreen_EmptyAfterFilteringIsError(t *testing.T) {
	svc := screeningService(t, newFakeStore())

	_, err := svc.Screen([]domain.FeatureSnapshot{
		{Ticker: "NONE", Features: nil},
	})

	var insufficient *domain.InsufficientDataError
	assert.ErrorAs(t, err, &insufficient)
}

func TestShortlist_EmptyIsError(t *testing.T) {
	_, err := Shortlist(nil, 10)
	var insufficient *domain.InsufficientDataError
	assert.ErrorAs(t, err, &insufficient)
}

func TestShortlist_TopN(t *testing.T) {
	scores := []domain.CandidateScore{
		{Ticker: "A", Rank: 1}, {Ticker: "B", Rank: 2}, {Ticker: "C", Rank: 3},
	}

	top, err := Shortlist(scores, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
	assert.Equal(t, "A", top[0].Ticker)

	all, err := Shortlist(scores, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRetrain_InsufficientHistoryBeforeAnyFit(t *testing.T) {
	// 40 days of history against a configured minimum of 90.
	provider := &fakeProvider{rows: syntheticHistory(40, 10, 5)}
	store := newFakeStore()
	log := logger.New(logger.Config{Level: "error"})
	svc := NewService(provider, store, testProfile(), log)

	window := domain.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	_, err := svc.Retrain(context.Background(), window)

	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 90, insufficient.Needed)
	assert.Equal(t, 40, insufficient.Got)
	assert.Zero(t, store.promotions, "no model may be saved or promoted before the history gate")
}

func TestRetrain_RejectionKeepsPreviousProduction(t *testing.T) {
	// Pure-noise targets: the walk-forward IC cannot clear the floor.
	rng := rand.New(rand.NewSource(17))
	rows := syntheticHistory(120, 20, 23)
	for i := range rows {
		noise := 0.01 * rng.NormFloat64()
		rows[i].TargetReturn = &noise
	}

	profile := testProfile()
	profile.Screening.RankICFloor = 0.5 // Unreachable on noise

	store := newFakeStore()
	store.payloads[profile.Key().String()+"/prev"] = identityModel(t)
	store.production[profile.Key()] = "prev"

	log := logger.New(logger.Config{Level: "error"})
	svc := NewService(&fakeProvider{rows: rows}, store, profile, log)

	window := domain.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	outcome, err := svc.Retrain(context.Background(), window)

	var vf *domain.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, "prev", store.production[profile.Key()], "previous production model must stay active")
}

func TestRetrain_AcceptPromotesNewVersion(t *testing.T) {
	provider := &fakeProvider{rows: syntheticHistory(120, 25, 31)}
	store := newFakeStore()
	log := logger.New(logger.Config{Level: "error"})
	svc := NewService(provider, store, testProfile(), log)

	window := domain.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	outcome, err := svc.Retrain(context.Background(), window)
	require.NoError(t, err)

	assert.True(t, outcome.Accepted)
	assert.Greater(t, outcome.RankIC, 0.05)
	assert.NotEmpty(t, outcome.Version)
	assert.Equal(t, outcome.Version, store.production[testProfile().Key()])

	// The promoted payload decodes back into a usable model.
	payload, _, err := store.LoadProduction(testProfile().Key())
	require.NoError(t, err)
	model, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, 2, model.FeatureWidth)
}
