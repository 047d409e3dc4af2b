package domain

import "context"

// FeatureProvider supplies per-ticker-date feature rows from the
// materialized feature view. Missing rows mean "no data", never zero.
// The provider is an external collaborator; retries for transient failures
// belong in its adapter, not in this engine.
type FeatureProvider interface {
	// GetSnapshots returns all snapshots in [dateRange.Start, dateRange.End)
	// for the given universe. An empty universe means the full universe.
	GetSnapshots(ctx context.Context, dateRange DateRange, universe []string) ([]FeatureSnapshot, error)
}

// ArtifactStore persists trained model artifacts. Promote is the only write
// path that changes what LoadProduction returns; readers always observe
// either the old or the new production version, never a partial update.
type ArtifactStore interface {
	// Save stores an encoded artifact under (key, version) with its
	// acceptance metrics. Saving does not promote.
	Save(key StrategyKey, version string, payload []byte, metrics map[string]float64) error

	// LoadProduction returns the payload and version currently promoted for
	// the key. Returns ErrNoProductionModel when nothing is promoted.
	LoadProduction(key StrategyKey) (payload []byte, version string, err error)

	// Promote atomically flips production to the given version.
	// Returns ErrVersionNotFound when the version was never saved.
	Promote(key StrategyKey, version string) error
}

// ExecutionClient submits order batches to the execution venue. The engine
// does not retry failed orders; a failed order surfaces as a reportable
// outcome and the next cycle re-evaluates drift.
type ExecutionClient interface {
	SubmitBatch(ctx context.Context, batchID string, orders []RebalanceOrder) ([]OrderResult, error)
}

// DriftMonitor is the external monitoring collaborator's retrain signal,
// derived from feature-distribution drift over a rolling window.
type DriftMonitor interface {
	// RetrainRecommended returns whether retraining is advised for the key,
	// along with the drift score that produced the recommendation.
	RetrainRecommended(ctx context.Context, key StrategyKey) (bool, float64, error)
}
