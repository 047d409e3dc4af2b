// Package ranking implements the candidate ranking model: a supervised
// regressor that predicts forward return and screens the ticker universe
// down to a shortlist. Only the relative ordering of predictions matters
// downstream, so the model is validated with Spearman rank correlation,
// never mean-squared error.
package ranking

import (
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// Model is a standardized ridge regressor. Features are z-scored with the
// training-set statistics before the linear map is applied, so coefficients
// stay comparable across features with different scales.
type Model struct {
	FeatureWidth int       `msgpack:"feature_width"`
	Lambda       float64   `msgpack:"lambda"`
	Means        []float64 `msgpack:"means"`
	Stds         []float64 `msgpack:"stds"`
	Intercept    float64   `msgpack:"intercept"`
	Coefficients []float64 `msgpack:"coefficients"`
}

// Fit solves the ridge problem (XᵀX + λI)β = Xᵀy on standardized features.
// The closed-form solve keeps training deterministic: same window, same
// model. Callers are responsible for minimum-history checks; Fit only
// requires more rows than features.
func Fit(snapshots []domain.FeatureSnapshot, width int, lambda float64) (*Model, error) {
	var xRows [][]float64
	var y []float64
	for _, s := range snapshots {
		if s.TargetReturn == nil || !s.HasCompleteFeatures(width) {
			continue
		}
		xRows = append(xRows, s.Features)
		y = append(y, *s.TargetReturn)
	}

	n := len(xRows)
	if n <= width {
		return nil, &domain.InsufficientDataError{
			Op:     "ranking.Fit",
			Needed: width + 1,
			Got:    n,
			Detail: "labeled rows",
		}
	}

	means, stds := columnStats(xRows, width)

	// Standardized design matrix.
	x := mat.NewDense(n, width, nil)
	for i, row := range xRows {
		for j := 0; j < width; j++ {
			x.Set(i, j, (row[j]-means[j])/stds[j])
		}
	}
	yVec := mat.NewVecDense(n, y)

	// Normal equations with ridge penalty: (XᵀX + λI)β = Xᵀy.
	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	for j := 0; j < width; j++ {
		xtx.Set(j, j, xtx.At(j, j)+lambda)
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), yVec)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return nil, fmt.Errorf("ridge solve failed: %w", err)
	}

	coefficients := make([]float64, width)
	for j := 0; j < width; j++ {
		coefficients[j] = beta.AtVec(j)
	}

	// Intercept is the label mean: features are centered, so the linear
	// part has zero mean over the training set.
	var meanY float64
	for _, v := range y {
		meanY += v
	}
	meanY /= float64(n)

	return &Model{
		FeatureWidth: width,
		Lambda:       lambda,
		Means:        means,
		Stds:         stds,
		Intercept:    meanY,
		Coefficients: coefficients,
	}, nil
}

// Predict returns the predicted forward return for one feature vector.
// The vector must be complete; callers screen incomplete rows first.
func (m *Model) Predict(features []float64) float64 {
	pred := m.Intercept
	for j := 0; j < m.FeatureWidth; j++ {
		pred += m.Coefficients[j] * (features[j] - m.Means[j]) / m.Stds[j]
	}
	return pred
}

// Encode serializes the model for the artifact registry.
func (m *Model) Encode() ([]byte, error) {
	payload, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ranking model: %w", err)
	}
	return payload, nil
}

// Decode deserializes a registry payload back into a model.
func Decode(payload []byte) (*Model, error) {
	var m Model
	if err := msgpack.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode ranking model: %w", err)
	}
	if m.FeatureWidth == 0 || len(m.Coefficients) != m.FeatureWidth {
		return nil, fmt.Errorf("decoded ranking model is malformed (width %d, %d coefficients)", m.FeatureWidth, len(m.Coefficients))
	}
	return &m, nil
}

// columnStats returns per-column mean and standard deviation. Columns with
// zero variance get std 1 so standardization stays a no-op for them.
func columnStats(rows [][]float64, width int) (means, stds []float64) {
	n := float64(len(rows))
	means = make([]float64, width)
	stds = make([]float64, width)

	for _, row := range rows {
		for j := 0; j < width; j++ {
			means[j] += row[j]
		}
	}
	for j := 0; j < width; j++ {
		means[j] /= n
	}

	for _, row := range rows {
		for j := 0; j < width; j++ {
			d := row[j] - means[j]
			stds[j] += d * d
		}
	}
	for j := 0; j < width; j++ {
		stds[j] = math.Sqrt(stds[j] / n)
		if stds[j] == 0 {
			stds[j] = 1
		}
	}

	return means, stds
}
