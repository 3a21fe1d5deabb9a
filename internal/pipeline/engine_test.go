package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ferrow/reqscope/internal/events"
	"github.com/ferrow/reqscope/internal/metrics"
	"github.com/ferrow/reqscope/internal/store"
	"github.com/ferrow/reqscope/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type engineFixture struct {
	engine  *Engine
	store   *store.Store
	emitter *events.Emitter
	session string
}

func newEngineFixture(t *testing.T, stages []Stage) *engineFixture {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	st := store.New(db, testLogger())
	t.Cleanup(func() { _ = st.Close() })

	sess, err := st.GetOrCreateSession("doc#test", false)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	registry, err := NewRegistry(stages)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	collector := metrics.NewCollector(testLogger())
	emitter := events.NewEmitter(64, time.Hour, collector, testLogger())
	t.Cleanup(emitter.Close)

	return &engineFixture{
		engine:  NewEngine(registry, st, emitter, collector, testLogger()),
		store:   st,
		emitter: emitter,
		session: sess.SessionID,
	}
}

func progressStage(name, next string, runs *atomic.Int32) Stage {
	return Stage{
		Name: name,
		Run: func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
			if runs != nil {
				runs.Add(1)
			}
			return models.StateDelta{Progress: []string{name}}, next, nil
		},
		FallbackNext: next,
	}
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	var runsA, runsB, runsC atomic.Int32
	f := newEngineFixture(t, []Stage{
		progressStage("StageA", "StageB", &runsA),
		progressStage("StageB", "StageC", &runsB),
		progressStage("StageC", "", &runsC),
	})

	initial := models.NewPipelineState("/tmp/doc.md", "text", "StageA")
	state, outcome, err := f.engine.Run(context.Background(), f.session, initial)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != Completed {
		t.Fatalf("expected Completed, got %v", outcome)
	}

	want := []string{"StageA", "StageB", "StageC"}
	if len(state.Progress) != len(want) {
		t.Fatalf("expected %d progress entries, got %v", len(want), state.Progress)
	}
	for i, name := range want {
		if state.Progress[i] != name {
			t.Errorf("progress[%d]: expected %s, got %s", i, name, state.Progress[i])
		}
	}
	if state.NextStage != "" {
		t.Errorf("completed pipeline must have empty NextStage, got %q", state.NextStage)
	}

	// One checkpoint per stage transition.
	count, err := f.store.CheckpointCount(f.session)
	if err != nil || count != 3 {
		t.Errorf("expected 3 checkpoints, got %d (%v)", count, err)
	}
}

func TestStageFailureRoutesToFallback(t *testing.T) {
	boom := errors.New("upstream exploded")
	stages := []Stage{
		{
			Name: "StageA",
			Run: func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
				return models.StateDelta{}, "", boom
			},
			FallbackNext: "StageB",
		},
		progressStage("StageB", "", nil),
	}
	f := newEngineFixture(t, stages)

	initial := models.NewPipelineState("/tmp/doc.md", "text", "StageA")
	state, outcome, err := f.engine.Run(context.Background(), f.session, initial)
	if err != nil {
		t.Fatalf("stage failure must not fail the run: %v", err)
	}
	if outcome != Completed {
		t.Fatalf("expected Completed, got %v", outcome)
	}
	if len(state.Errors) != 1 {
		t.Fatalf("expected 1 accumulated error, got %v", state.Errors)
	}
	if want := "StageA: upstream exploded"; state.Errors[0] != want {
		t.Errorf("expected %q, got %q", want, state.Errors[0])
	}
	if len(state.Progress) != 1 || state.Progress[0] != "StageB" {
		t.Errorf("fallback stage should have run: %v", state.Progress)
	}
}

func TestStagesCannotMutateSharedState(t *testing.T) {
	stages := []Stage{
		{
			Name: "StageA",
			Run: func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
				// Direct writes must be invisible; only the delta lands.
				state.DocumentText = "tampered"
				state.Progress = append(state.Progress, "tampered")
				return models.StateDelta{}, "", nil
			},
			FallbackNext: "",
		},
	}
	f := newEngineFixture(t, stages)

	initial := models.NewPipelineState("/tmp/doc.md", "original", "StageA")
	state, _, err := f.engine.Run(context.Background(), f.session, initial)
	if err != nil {
		t.Fatal(err)
	}
	if state.DocumentText != "original" {
		t.Errorf("stage mutation leaked into shared state: %q", state.DocumentText)
	}
	if len(state.Progress) != 0 {
		t.Errorf("stage mutation leaked into accumulator: %v", state.Progress)
	}
}

func TestInterruptStopsAtStageBoundary(t *testing.T) {
	var runsA, runsB, runsC atomic.Int32
	var f *engineFixture

	// Interrupt while StageB runs; honored before StageC starts.
	interruptDuringB := func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
		runsB.Add(1)
		f.engine.Interrupt()
		return models.StateDelta{Progress: []string{"StageB"}}, "StageC", nil
	}
	f = newEngineFixture(t, []Stage{
		progressStage("StageA", "StageB", &runsA),
		{Name: "StageB", Run: interruptDuringB, FallbackNext: "StageC"},
		progressStage("StageC", "", &runsC),
	})

	initial := models.NewPipelineState("/tmp/doc.md", "text", "StageA")
	state, outcome, err := f.engine.Run(context.Background(), f.session, initial)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != Interrupted {
		t.Fatalf("expected Interrupted, got %v", outcome)
	}
	if state.NextStage != "StageC" {
		t.Errorf("interrupted state must resume at StageC, got %q", state.NextStage)
	}
	if runsC.Load() != 0 {
		t.Fatal("StageC must not run after interruption")
	}

	// Resume: only the remaining stage runs, and the final state matches an
	// uninterrupted run's outputs.
	state, outcome, err = f.engine.Run(context.Background(), f.session, nil)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if outcome != Completed {
		t.Fatalf("expected Completed on resume, got %v", outcome)
	}
	if runsA.Load() != 1 || runsB.Load() != 1 || runsC.Load() != 1 {
		t.Errorf("completed stages must not re-run: A=%d B=%d C=%d",
			runsA.Load(), runsB.Load(), runsC.Load())
	}
	want := []string{"StageA", "StageB", "StageC"}
	if len(state.Progress) != len(want) {
		t.Fatalf("expected %v, got %v", want, state.Progress)
	}
	for i, name := range want {
		if state.Progress[i] != name {
			t.Errorf("progress[%d]: expected %s, got %s", i, name, state.Progress[i])
		}
	}
}

func TestCompletedSessionDoesNotRerun(t *testing.T) {
	var runs atomic.Int32
	f := newEngineFixture(t, []Stage{progressStage("StageA", "", &runs)})

	initial := models.NewPipelineState("/tmp/doc.md", "text", "StageA")
	if _, _, err := f.engine.Run(context.Background(), f.session, initial); err != nil {
		t.Fatal(err)
	}

	_, outcome, err := f.engine.Run(context.Background(), f.session, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Completed {
		t.Fatalf("expected Completed, got %v", outcome)
	}
	if runs.Load() != 1 {
		t.Errorf("completed session must not re-run stages, runs = %d", runs.Load())
	}
}

func TestRunWithoutCheckpointOrInitialFails(t *testing.T) {
	f := newEngineFixture(t, []Stage{progressStage("StageA", "", nil)})
	if _, _, err := f.engine.Run(context.Background(), f.session, nil); err == nil {
		t.Fatal("expected error for missing checkpoint and initial state")
	}
}

func TestContextCancelBehavesLikeInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stages := []Stage{
		{
			Name: "StageA",
			Run: func(ctx context.Context, state *models.PipelineState) (models.StateDelta, string, error) {
				cancel()
				return models.StateDelta{Progress: []string{"StageA"}}, "StageB", nil
			},
			FallbackNext: "StageB",
		},
		progressStage("StageB", "", nil),
	}
	f := newEngineFixture(t, stages)

	initial := models.NewPipelineState("/tmp/doc.md", "text", "StageA")
	state, outcome, err := f.engine.Run(ctx, f.session, initial)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome != Interrupted {
		t.Fatalf("expected Interrupted on context cancel, got %v", outcome)
	}
	if state.NextStage != "StageB" {
		t.Errorf("expected resumable state at StageB, got %q", state.NextStage)
	}
}

func TestUnknownStageIsFatal(t *testing.T) {
	f := newEngineFixture(t, []Stage{progressStage("StageA", "", nil)})

	initial := models.NewPipelineState("/tmp/doc.md", "text", "Nonexistent")
	_, _, err := f.engine.Run(context.Background(), f.session, initial)
	if err == nil {
		t.Fatal("expected error for unknown stage")
	}
	if msg := fmt.Sprint(err); msg == "" {
		t.Error("error must name the unknown stage")
	}
}
