package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/logger"
)

func testQualityConfig() QualityConfig {
	return QualityConfig{
		FeatureWidth:     3,
		PriceFloor:       5.0,
		ExtremeMoveBound: 0.5,
	}
}

func snapshot(ticker string, features []float64, price float64, volume int64, target *float64) domain.FeatureSnapshot {
	return domain.FeatureSnapshot{
		Ticker:       ticker,
		Date:         time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Features:     features,
		Price:        price,
		Volume:       volume,
		TargetReturn: target,
	}
}

func fp(v float64) *float64 { return &v }

func TestFilter_KeepsCleanRows(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})

	rows := []domain.FeatureSnapshot{
		snapshot("AAPL", []float64{1, 2, 3}, 150, 1000, fp(0.02)),
		snapshot("MSFT", []float64{4, 5, 6}, 300, 2000, fp(-0.01)),
	}

	clean, report := Filter(rows, testQualityConfig(), log)

	assert.Len(t, clean, 2)
	assert.Equal(t, 2, report.Kept)
	assert.Equal(t, 0, report.Excluded())
}

func TestFilter_Gates(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})

	tests := []struct {
		name string
		row  domain.FeatureSnapshot
	}{
		{"short feature vector", snapshot("A", []float64{1, 2}, 100, 1000, nil)},
		{"nan feature", snapshot("B", []float64{1, math.NaN(), 3}, 100, 1000, nil)},
		{"penny price", snapshot("C", []float64{1, 2, 3}, 0.50, 1000, nil)},
		{"zero volume", snapshot("D", []float64{1, 2, 3}, 100, 0, nil)},
		{"extreme move", snapshot("E", []float64{1, 2, 3}, 100, 1000, fp(0.9))},
		{"nan target", snapshot("F", []float64{1, 2, 3}, 100, 1000, fp(math.NaN()))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, report := Filter([]domain.FeatureSnapshot{tt.row}, testQualityConfig(), log)
			assert.Empty(t, clean)
			assert.Equal(t, 1, report.Excluded())
		})
	}
}

func TestFilter_MixedBatchNeverFails(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})

	rows := []domain.FeatureSnapshot{
		snapshot("GOOD", []float64{1, 2, 3}, 100, 1000, fp(0.01)),
		snapshot("BAD1", []float64{1}, 100, 1000, nil),
		snapshot("BAD2", []float64{1, 2, 3}, 1.0, 1000, nil),
	}

	clean, report := Filter(rows, testQualityConfig(), log)

	assert.Len(t, clean, 1)
	assert.Equal(t, "GOOD", clean[0].Ticker)
	assert.Equal(t, 3, report.Input)
	assert.Equal(t, 2, report.Excluded())
}
