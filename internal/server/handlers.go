package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/policy"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/ranking"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/rebalancing"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/registry"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/modules/training"
	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/scheduler"
)

// defaultTrainingWindowDays is used when a training request omits the
// lookback window.
const defaultTrainingWindowDays = 365

// RankingRetrainer retrains the ranking model of one strategy key.
type RankingRetrainer interface {
	Retrain(ctx context.Context, window domain.DateRange) (*ranking.RetrainOutcome, error)
}

// PolicyTrainer trains the allocation policy over a date range.
type PolicyTrainer interface {
	Train(ctx context.Context, window domain.DateRange, seed int64) (*policy.TrainOutcome, error)
}

// RebalanceService runs rebalance cycles for one strategy profile.
type RebalanceService interface {
	Check(accountID string, state domain.PortfolioState, target domain.TargetPortfolio, prices map[string]float64, inWindow bool) (*rebalancing.CycleResult, error)
	Execute(ctx context.Context, accountID string, state domain.PortfolioState, target domain.TargetPortfolio, prices map[string]float64, inWindow bool) (*rebalancing.ExecuteResult, error)
}

// ModelRegistry is the read side of the artifact registry.
type ModelRegistry interface {
	LoadProduction(key domain.StrategyKey) ([]byte, string, error)
	Versions(key domain.StrategyKey) ([]registry.VersionInfo, error)
}

// RebalanceDeferrals records accounts whose SCHEDULED decision must wait
// for the next eligible window. Satisfied by scheduler.PendingQueue.
type RebalanceDeferrals interface {
	Defer(acct scheduler.AccountRebalance)
}

// Engine bundles the services of one strategy/market-cap pair. Deferrals
// is optional; without it SCHEDULED decisions outside the window are
// reported but not queued.
type Engine struct {
	Ranking    RankingRetrainer
	Policy     PolicyTrainer
	Rebalancer RebalanceService
	Deferrals  RebalanceDeferrals
}

// Handlers serves the engine API across all configured strategy keys.
type Handlers struct {
	engines     map[domain.StrategyKey]*Engine
	coordinator *training.Coordinator
	registry    ModelRegistry
	log         zerolog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(
	engines map[domain.StrategyKey]*Engine,
	coordinator *training.Coordinator,
	reg ModelRegistry,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		engines:     engines,
		coordinator: coordinator,
		registry:    reg,
		log:         log.With().Str("component", "api").Logger(),
	}
}

type trainRequest struct {
	Strategy   string `json:"strategy"`
	MarketCap  string `json:"market_cap"`
	WindowDays int    `json:"window_days,omitempty"`
	Seed       int64  `json:"seed,omitempty"`
}

func (req *trainRequest) key() domain.StrategyKey {
	return domain.StrategyKey{Strategy: req.Strategy, MarketCap: req.MarketCap}
}

func (req *trainRequest) window() domain.DateRange {
	days := req.WindowDays
	if days <= 0 {
		days = defaultTrainingWindowDays
	}
	end := time.Now().UTC()
	return domain.DateRange{Start: end.AddDate(0, 0, -days), End: end}
}

// HandleRetrainRanking launches a background ranking retrain run.
// POST /api/ranking/retrain
func (h *Handlers) HandleRetrainRanking(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	engine, ok := h.engines[req.key()]
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown strategy key %s", req.key()))
		return
	}

	window := req.window()
	// The run outlives this request: the coordinator gets a background
	// context, not the request context.
	runID, err := h.coordinator.Start(context.Background(), req.key(), "ranking",
		func(ctx context.Context, progress chan<- training.Progress) error {
			progress <- training.Progress{Phase: "retrain", Total: 1}
			outcome, err := engine.Ranking.Retrain(ctx, window)
			if err != nil {
				return err
			}
			progress <- training.Progress{Phase: "retrain", Done: 1, Total: 1, Metric: outcome.RankIC}
			return nil
		})
	if errors.Is(err, domain.ErrRunActive) {
		h.writeError(w, http.StatusConflict, "a training run is already active for this strategy key")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("strategy", req.key().String()).Msg("Failed to start retrain run")
		h.writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// HandleTrainPolicy launches a background policy training run.
// POST /api/policy/train
func (h *Handlers) HandleTrainPolicy(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	engine, ok := h.engines[req.key()]
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown strategy key %s", req.key()))
		return
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	window := req.window()
	runID, err := h.coordinator.Start(context.Background(), req.key(), "policy",
		func(ctx context.Context, progress chan<- training.Progress) error {
			progress <- training.Progress{Phase: "train", Total: 1}
			outcome, err := engine.Policy.Train(ctx, window, seed)
			if err != nil {
				return err
			}
			progress <- training.Progress{Phase: "train", Done: 1, Total: 1, Metric: outcome.MeanReward}
			return nil
		})
	if errors.Is(err, domain.ErrRunActive) {
		h.writeError(w, http.StatusConflict, "a training run is already active for this strategy key")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("strategy", req.key().String()).Msg("Failed to start training run")
		h.writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// HandleListRuns lists all training runs, oldest first.
// GET /api/training/runs
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": h.coordinator.Runs()})
}

// HandleGetRun returns one training run.
// GET /api/training/runs/{runID}
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, ok := h.coordinator.Get(runID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// HandleCancelRun cancels an active training run.
// POST /api/training/runs/{runID}/cancel
func (h *Handlers) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !h.coordinator.Cancel(runID) {
		h.writeError(w, http.StatusNotFound, "no active run with that id")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

type rebalanceRequest struct {
	Strategy  string                 `json:"strategy"`
	MarketCap string                 `json:"market_cap"`
	AccountID string                 `json:"account_id"`
	State     domain.PortfolioState  `json:"state"`
	Target    domain.TargetPortfolio `json:"target"`
	Prices    map[string]float64     `json:"prices"`
	InWindow  bool                   `json:"in_window"`
}

func (h *Handlers) rebalanceEngine(w http.ResponseWriter, r *http.Request) (*rebalanceRequest, *Engine, bool) {
	var req rebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, nil, false
	}
	if req.AccountID == "" {
		h.writeError(w, http.StatusBadRequest, "account_id is required")
		return nil, nil, false
	}

	key := domain.StrategyKey{Strategy: req.Strategy, MarketCap: req.MarketCap}
	engine, ok := h.engines[key]
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown strategy key %s", key))
		return nil, nil, false
	}
	return &req, engine, true
}

// HandleRebalanceCheck evaluates drift and generates orders without
// submitting anything to the venue.
// POST /api/rebalance/check
func (h *Handlers) HandleRebalanceCheck(w http.ResponseWriter, r *http.Request) {
	req, engine, ok := h.rebalanceEngine(w, r)
	if !ok {
		return
	}

	result, err := engine.Rebalancer.Check(req.AccountID, req.State, req.Target, req.Prices, req.InWindow)
	if err != nil {
		h.rebalanceError(w, req.AccountID, err)
		return
	}

	if result.Decision == rebalancing.Scheduled && !req.InWindow && engine.Deferrals != nil {
		engine.Deferrals.Defer(scheduler.AccountRebalance{
			AccountID: req.AccountID,
			State:     req.State,
			Target:    req.Target,
			Prices:    req.Prices,
		})
		h.log.Info().Str("account_id", req.AccountID).Msg("Rebalance deferred to next scheduled window")
	}

	h.writeJSON(w, http.StatusOK, result)
}

type executeResponse struct {
	*rebalancing.ExecuteResult
	Partial bool `json:"partial,omitempty"`
}

// HandleRebalanceExecute runs a full cycle: drift, orders, venue
// submission, fills applied. A partially filled batch is reported as a
// success with the partial flag set; the returned state reflects the
// fills that did land.
// POST /api/rebalance/execute
func (h *Handlers) HandleRebalanceExecute(w http.ResponseWriter, r *http.Request) {
	req, engine, ok := h.rebalanceEngine(w, r)
	if !ok {
		return
	}

	result, err := engine.Rebalancer.Execute(r.Context(), req.AccountID, req.State, req.Target, req.Prices, req.InWindow)

	var partial *domain.ExecutionPartialFailure
	if errors.As(err, &partial) {
		h.log.Warn().
			Str("account_id", req.AccountID).
			Str("batch_id", partial.BatchID).
			Msg("Rebalance batch partially filled")
		h.writeJSON(w, http.StatusOK, executeResponse{ExecuteResult: result, Partial: true})
		return
	}
	if err != nil {
		h.rebalanceError(w, req.AccountID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, executeResponse{ExecuteResult: result})
}

func (h *Handlers) rebalanceError(w http.ResponseWriter, accountID string, err error) {
	var violation *domain.ConstraintViolation
	if errors.As(err, &violation) {
		h.writeError(w, http.StatusUnprocessableEntity, violation.Error())
		return
	}
	if errors.Is(err, domain.ErrNoProductionModel) {
		h.writeError(w, http.StatusConflict, "no production model for this strategy key")
		return
	}
	h.log.Error().Err(err).Str("account_id", accountID).Msg("Rebalance cycle failed")
	h.writeError(w, http.StatusInternalServerError, "rebalance cycle failed")
}

func (h *Handlers) registryKey(r *http.Request) domain.StrategyKey {
	return domain.StrategyKey{
		Strategy:  chi.URLParam(r, "strategy"),
		MarketCap: r.URL.Query().Get("market_cap"),
	}
}

// HandleProductionArtifact reports the current production version of a
// strategy key. The artifact payload itself is never served over HTTP.
// GET /api/registry/{strategy}/production?market_cap=large
func (h *Handlers) HandleProductionArtifact(w http.ResponseWriter, r *http.Request) {
	key := h.registryKey(r)

	payload, version, err := h.registry.LoadProduction(key)
	if errors.Is(err, domain.ErrNoProductionModel) {
		h.writeError(w, http.StatusNotFound, "no production model for this strategy key")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("strategy", key.String()).Msg("Failed to load production artifact")
		h.writeError(w, http.StatusInternalServerError, "failed to load production artifact")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":   key.Strategy,
		"market_cap": key.MarketCap,
		"version":    version,
		"size_bytes": len(payload),
	})
}

// HandleVersions lists all stored versions of a strategy key, newest
// first.
// GET /api/registry/{strategy}/versions?market_cap=large
func (h *Handlers) HandleVersions(w http.ResponseWriter, r *http.Request) {
	key := h.registryKey(r)

	versions, err := h.registry.Versions(key)
	if err != nil {
		h.log.Error().Err(err).Str("strategy", key.String()).Msg("Failed to list versions")
		h.writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
