// Package training coordinates background model training runs. A run is a
// goroutine executing one retrain or policy-training job for a strategy
// key; the coordinator enforces a single active run per key and keeps the
// run records the API reports from.
package training

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

// RunStatus is a run's lifecycle phase.
type RunStatus string

const (
	StatusRunning   RunStatus = "RUNNING"
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// Progress is one update emitted by a running job.
type Progress struct {
	Phase   string  `json:"phase"`
	Done    int     `json:"done"`
	Total   int     `json:"total"`
	Metric  float64 `json:"metric,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Run is the record of one training run. Snapshot copies are returned to
// callers; the live record is mutated only by the coordinator.
type Run struct {
	ID         string             `json:"id"`
	Key        domain.StrategyKey `json:"key"`
	Kind       string             `json:"kind"` // "ranking" or "policy"
	Status     RunStatus          `json:"status"`
	Progress   Progress           `json:"progress"`
	Error      string             `json:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`

	cancel context.CancelFunc
}

// Job is the work a run executes. Jobs send progress updates on the
// channel as they go; the coordinator drains it into the run record. A
// job honors its context: cancellation must abort without touching
// production artifacts.
type Job func(ctx context.Context, progress chan<- Progress) error

// Coordinator owns all training runs.
type Coordinator struct {
	mu     sync.Mutex
	active map[domain.StrategyKey]*Run
	runs   map[string]*Run
	order  []string
	log    zerolog.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(log zerolog.Logger) *Coordinator {
	return &Coordinator{
		active: make(map[domain.StrategyKey]*Run),
		runs:   make(map[string]*Run),
		log:    log.With().Str("service", "training").Logger(),
	}
}

// Start launches a job for a strategy key in the background. A key with a
// run already active returns ErrRunActive; duplicates are rejected, never
// queued. The returned ID identifies the run for polling and cancellation.
func (c *Coordinator) Start(ctx context.Context, key domain.StrategyKey, kind string, job Job) (string, error) {
	c.mu.Lock()
	if _, busy := c.active[key]; busy {
		c.mu.Unlock()
		return "", domain.ErrRunActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:        uuid.NewString(),
		Key:       key,
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		cancel:    cancel,
	}
	c.active[key] = run
	c.runs[run.ID] = run
	c.order = append(c.order, run.ID)
	c.mu.Unlock()

	progress := make(chan Progress, 16)
	done := make(chan error, 1)

	go func() {
		done <- job(runCtx, progress)
		close(progress)
	}()

	go func() {
		defer cancel()

		for p := range progress {
			c.mu.Lock()
			run.Progress = p
			c.mu.Unlock()
		}
		err := <-done

		c.mu.Lock()
		now := time.Now().UTC()
		run.FinishedAt = &now
		switch {
		case err == nil:
			run.Status = StatusCompleted
		case runCtx.Err() != nil:
			run.Status = StatusCancelled
			run.Error = err.Error()
		default:
			run.Status = StatusFailed
			run.Error = err.Error()
		}
		delete(c.active, key)
		c.mu.Unlock()

		c.log.Info().
			Str("run_id", run.ID).
			Str("strategy", key.String()).
			Str("kind", kind).
			Str("status", string(run.Status)).
			Msg("Training run finished")
	}()

	c.log.Info().
		Str("run_id", run.ID).
		Str("strategy", key.String()).
		Str("kind", kind).
		Msg("Training run started")

	return run.ID, nil
}

// Cancel requests cancellation of a run. Unknown IDs and finished runs
// are no-ops reported as not found.
func (c *Coordinator) Cancel(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[runID]
	if !ok || run.Status != StatusRunning {
		return false
	}
	run.cancel()
	return true
}

// Get returns a snapshot of one run.
func (c *Coordinator) Get(runID string) (Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.runs[runID]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Runs returns snapshots of all runs, oldest first.
func (c *Coordinator) Runs() []Run {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Run, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.runs[id])
	}
	return out
}
