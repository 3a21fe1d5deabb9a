package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ferrow/reqscope/internal/analysis"
	"github.com/ferrow/reqscope/internal/breaker"
	"github.com/ferrow/reqscope/internal/cache"
	"github.com/ferrow/reqscope/internal/client"
	"github.com/ferrow/reqscope/internal/config"
	"github.com/ferrow/reqscope/internal/events"
	"github.com/ferrow/reqscope/internal/metrics"
	"github.com/ferrow/reqscope/internal/pipeline"
	"github.com/ferrow/reqscope/internal/ratelimit"
	"github.com/ferrow/reqscope/internal/store"
	"github.com/ferrow/reqscope/pkg/models"
)

// Options controls a single analysis request
type Options struct {
	// ForceNew allocates a fresh session even when one already exists for
	// the document, discarding resumability of the old one.
	ForceNew bool
}

// Result is the outcome of one analysis or refinement run
type Result struct {
	SessionID  string
	Outcome    pipeline.Outcome
	State      *models.PipelineState
	Stats      models.SessionStats
	ReportPath string
}

// Runner owns the long-lived components (store, cache, limiter, breakers,
// client, emitter, engine) and exposes the document-level operations.
// Construct once per process; the components it wires are all safe for
// concurrent use.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.Store
	cache    *cache.Store
	emitter  *events.Emitter
	registry *pipeline.Registry
	engine   *pipeline.Engine
	client   *client.Client
}

// New builds a runner from configuration. The caller owns Close.
func New(cfg *config.Config, secrets *config.Secrets, logger *slog.Logger) (*Runner, error) {
	storePath := cfg.Pipeline.StoreFile
	if storePath == "" {
		storePath = filepath.Join(cfg.Pipeline.OutputDir, "reqscope.db")
	}
	db, err := store.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	st := store.New(db, logger)

	collector := metrics.NewCollector(logger)
	cacheStore := cache.NewStore(cfg.Cache.MaxSizeBytes,
		time.Duration(cfg.Cache.SweepSec)*time.Second, logger)
	limiter := ratelimit.New(ratelimit.Config{
		Window:     time.Duration(cfg.RateLimit.WindowSec) * time.Second,
		Limit:      cfg.RateLimit.WindowLimit,
		Burst:      time.Duration(cfg.RateLimit.BurstSec) * time.Second,
		BurstLimit: cfg.RateLimit.BurstLimit,
	})
	breakers := breaker.NewGroup(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    time.Duration(cfg.Breaker.FailureWindowSec) * time.Second,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSec) * time.Second,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		HalfOpenMax:      cfg.Breaker.HalfOpenMax,
	})

	baseURLs := make(map[string]string)
	pacerRates := make(map[string]int)
	perServiceTTL := make(map[string]time.Duration)
	var services []string
	for name, svc := range cfg.Services {
		if !svc.Enabled {
			continue
		}
		services = append(services, name)
		baseURLs[name] = svc.BaseURL
		if svc.RateLimitPerMinute > 0 {
			pacerRates[name] = svc.RateLimitPerMinute
		} else {
			pacerRates[name] = cfg.Client.PacerRatePerMinute
		}
		if svc.CacheTTLSec > 0 {
			perServiceTTL[name] = time.Duration(svc.CacheTTLSec) * time.Second
		}
	}

	apiClient := client.New(client.Options{
		Cache:    cacheStore,
		Limiter:  limiter,
		Breakers: breakers,
		Transport: client.NewHTTPTransport(baseURLs, func(service string) string {
			return secrets.GetAPIKey(service)
		}, logger),
		TTL: &cache.FixedTTL{
			PerService: perServiceTTL,
			Default:    time.Duration(cfg.Cache.DefaultTTLSec) * time.Second,
		},
		PacerRates:       pacerRates,
		MaxRetries:       cfg.Client.MaxRetries,
		BaseRetryDelay:   time.Duration(cfg.Client.BaseRetryDelayMs) * time.Millisecond,
		MaxBackoff:       time.Duration(cfg.Client.MaxBackoffSec) * time.Second,
		CallTimeout:      time.Duration(cfg.Client.CallTimeoutSec) * time.Second,
		MaxRateLimitWait: time.Duration(cfg.RateLimit.MaxWaitMs) * time.Millisecond,
		Metrics:          collector,
		Logger:           logger,
	})

	registry, err := pipeline.NewRegistry(analysis.Stages(analysis.Deps{
		Client:       apiClient,
		Parser:       analysis.LineParser{},
		Services:     services,
		Concurrency:  cfg.Pipeline.ResearchConcurrency,
		Timeout:      time.Duration(cfg.Pipeline.ResearchTimeoutSecs) * time.Second,
		MaxPerSource: cfg.Pipeline.MaxFindingsPerSource,
		Logger:       logger,
	}))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to build stage registry: %w", err)
	}

	emitter := events.NewEmitter(cfg.Events.BufferSize,
		time.Duration(cfg.Events.FlushTickMs)*time.Millisecond, collector, logger)

	return &Runner{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		cache:    cacheStore,
		emitter:  emitter,
		registry: registry,
		engine:   pipeline.NewEngine(registry, st, emitter, collector, logger),
		client:   apiClient,
	}, nil
}

// Close releases the runner's resources. The event channel is closed, so
// consumers ranging over Events return.
func (r *Runner) Close() error {
	r.emitter.Close()
	r.cache.Close()
	return r.store.Close()
}

// Events returns the progress event channel for UI consumption
func (r *Runner) Events() <-chan events.Event {
	return r.emitter.Events()
}

// Interrupt requests a cooperative stop at the next stage boundary
func (r *Runner) Interrupt() {
	r.engine.Interrupt()
}

// Analyze runs the full pipeline over a requirements document. An existing
// session for the same document content resumes from its latest
// checkpoint; completed stages are not re-run.
func (r *Runner) Analyze(ctx context.Context, docPath string, opts Options) (*Result, error) {
	absPath, text, identity, err := r.loadDocument(docPath)
	if err != nil {
		return nil, err
	}

	sess, err := r.store.GetOrCreateSession(identity, opts.ForceNew)
	if err != nil {
		return nil, err
	}

	initial := models.NewPipelineState(absPath, text, r.registry.First())
	return r.run(ctx, sess.SessionID, initial)
}

// Refine resumes a previously analyzed document with additional input
// appended, bumping the session's iteration count and restarting the
// pipeline over the enriched state. Outputs accumulate across iterations;
// they are replaced per stage, not erased up front.
func (r *Runner) Refine(ctx context.Context, docPath, additionalText string, opts Options) (*Result, error) {
	_, _, identity, err := r.loadDocument(docPath)
	if err != nil {
		return nil, err
	}

	sess, err := r.store.SessionByIdentity(identity)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, store.ErrNoPriorAnalysis
	}
	state, err := r.store.LoadLatestCheckpoint(sess.SessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, store.ErrNoPriorAnalysis
	}

	iteration, err := r.store.BumpIteration(sess.SessionID)
	if err != nil {
		return nil, err
	}

	state.Iteration = iteration
	if additionalText != "" {
		state.DocumentText += "\n" + additionalText
	}
	state.NextStage = r.registry.First()
	if _, err := r.store.PutCheckpoint(sess.SessionID, state); err != nil {
		return nil, fmt.Errorf("failed to checkpoint refinement: %w", err)
	}

	r.logger.Info("Refining analysis",
		"session_id", sess.SessionID,
		"iteration", iteration)

	return r.run(ctx, sess.SessionID, nil)
}

func (r *Runner) run(ctx context.Context, sessionID string, initial *models.PipelineState) (*Result, error) {
	start := time.Now()
	checkpointsBefore, err := r.store.CheckpointCount(sessionID)
	if err != nil {
		return nil, err
	}

	state, outcome, err := r.engine.Run(ctx, sessionID, initial)
	if err != nil {
		return nil, err
	}
	end := time.Now()

	checkpointsAfter, _ := r.store.CheckpointCount(sessionID)
	calls, cacheHits := r.client.Stats()
	result := &Result{
		SessionID: sessionID,
		Outcome:   outcome,
		State:     state,
		Stats: models.SessionStats{
			StartTime:     start,
			EndTime:       end,
			StagesRun:     checkpointsAfter - checkpointsBefore,
			StageErrors:   len(state.Errors),
			UpstreamCalls: int(calls),
			CacheHits:     int(cacheHits),
			TotalDuration: end.Sub(start),
		},
	}

	if outcome == pipeline.Completed && state.NextStage == "" {
		path, reportErr := r.writeReport(sessionID, state, result.Stats)
		if reportErr != nil {
			r.logger.Error("Failed to write report", "error", reportErr)
		} else {
			result.ReportPath = path
		}
	}
	return result, nil
}

// loadDocument reads the document and computes its identity. A read
// failure here is fatal and user-actionable, unlike stage-level errors.
func (r *Runner) loadDocument(docPath string) (absPath, text, identity string, err error) {
	absPath, err = filepath.Abs(docPath)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to resolve document path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to read document: %w", err)
	}

	sum := sha256.Sum256(data)
	identity = absPath + "#" + hex.EncodeToString(sum[:6])
	return absPath, string(data), identity, nil
}
