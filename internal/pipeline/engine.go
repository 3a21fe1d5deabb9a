package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ferrow/reqscope/internal/events"
	"github.com/ferrow/reqscope/internal/metrics"
	"github.com/ferrow/reqscope/internal/store"
	"github.com/ferrow/reqscope/pkg/models"
)

// Outcome distinguishes how a run ended
type Outcome int

const (
	// Completed means the pipeline reached a stage with no successor.
	Completed Outcome = iota
	// Interrupted means a cooperative interruption was honored at a stage
	// boundary; the state of the last completed stage is persisted.
	Interrupted
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Engine executes a directed sequence of stages over a shared state
// object, persisting a checkpoint after every stage transition.
//
// One Engine drives one session at a time; a process may run many engines
// concurrently over the same store, cache, limiter, and breakers.
type Engine struct {
	registry  *Registry
	store     *store.Store
	emitter   *events.Emitter
	collector *metrics.Collector
	logger    *slog.Logger

	interrupted atomic.Bool
}

// NewEngine creates an engine
func NewEngine(registry *Registry, st *store.Store, emitter *events.Emitter, collector *metrics.Collector, logger *slog.Logger) *Engine {
	return &Engine{
		registry:  registry,
		store:     st,
		emitter:   emitter,
		collector: collector,
		logger:    logger,
	}
}

// Interrupt raises the cooperative interruption flag. It is honored only
// at stage boundaries; no stage is preempted mid-flight.
func (e *Engine) Interrupt() {
	e.interrupted.Store(true)
}

// Run executes stages for the session, resuming from the latest
// checkpoint when one exists and starting from initial otherwise.
// Already-completed stages are never re-run on resume.
//
// A stage that fails has its error recorded in the state's accumulator
// ("<stage>: <message>") and execution routes to the stage's declared
// fallback; stage-level failure is non-fatal. Errors returned by Run
// itself are infrastructure failures (checkpoint writes, unknown stages).
func (e *Engine) Run(ctx context.Context, sessionID string, initial *models.PipelineState) (*models.PipelineState, Outcome, error) {
	e.interrupted.Store(false)

	state, err := e.store.LoadLatestCheckpoint(sessionID)
	if err != nil {
		return nil, Completed, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if state == nil {
		if initial == nil {
			return nil, Completed, fmt.Errorf("session %s has no checkpoint and no initial state", sessionID)
		}
		state = initial
		e.logger.Info("Starting pipeline",
			"session_id", sessionID,
			"first_stage", state.CurrentStage)
	} else {
		if state.NextStage == "" {
			e.logger.Info("Session already complete", "session_id", sessionID)
			return state, Completed, nil
		}
		state.CurrentStage = state.NextStage
		e.logger.Info("Resuming pipeline",
			"session_id", sessionID,
			"stage", state.CurrentStage,
			"iteration", state.Iteration)
	}

	for {
		// Cooperative interruption, checked only between stage boundaries.
		if e.interrupted.Load() || ctx.Err() != nil {
			e.emitter.Emit(state.CurrentStage, "interrupted before stage", events.LevelWarn)
			if _, err := e.store.PutCheckpoint(sessionID, state); err != nil {
				e.logger.Error("Failed to persist state on interruption", "error", err)
			}
			return state, Interrupted, nil
		}

		name := state.CurrentStage
		stage, ok := e.registry.Get(name)
		if !ok {
			return state, Completed, fmt.Errorf("unknown stage: %q", name)
		}

		e.emitter.Emit(name, "stage started", events.LevelInfo)
		start := time.Now()

		delta, next, stageErr := stage.Run(ctx, state.Clone())
		duration := time.Since(start)

		if stageErr != nil {
			// Stage-local failure is non-fatal: record and take the
			// declared fallback route.
			delta.Errors = append(delta.Errors, fmt.Sprintf("%s: %s", name, stageErr))
			next = stage.FallbackNext
			e.collector.RecordStage(name, duration, false)
			e.emitter.Emit(name, stageErr.Error(), events.LevelError)
			e.logger.Warn("Stage failed, continuing via fallback",
				"stage", name,
				"fallback", next,
				"error", stageErr)
		} else {
			e.collector.RecordStage(name, duration, true)
			e.emitter.Emit(name, fmt.Sprintf("stage completed in %s", duration.Round(time.Millisecond)), events.LevelInfo)
		}

		Apply(state, &delta)
		state.CurrentStage = name
		state.NextStage = next

		if _, err := e.store.PutCheckpoint(sessionID, state); err != nil {
			return state, Completed, fmt.Errorf("failed to checkpoint after stage %s: %w", name, err)
		}

		if next == "" {
			e.logger.Info("Pipeline completed",
				"session_id", sessionID,
				"stage_errors", len(state.Errors))
			return state, Completed, nil
		}
		state.CurrentStage = next
	}
}
