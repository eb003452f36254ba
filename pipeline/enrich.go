package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rasnes/movielens-etl/cache"
	"github.com/rasnes/movielens-etl/config"
	"github.com/rasnes/movielens-etl/extract"
	"github.com/rasnes/movielens-etl/load"
	"github.com/rasnes/movielens-etl/metrics"
	"github.com/rasnes/movielens-etl/model"
	"github.com/rasnes/movielens-etl/utils"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"
)

// Lookuper resolves a title to metadata with a single external call.
// *extract.OMDbClient is the production implementation.
type Lookuper interface {
	Lookup(ctx context.Context, title string, year *int) (model.EnrichmentResult, error)
}

// EnrichmentStore persists the per-movie lookup state. *load.Store implements it.
type EnrichmentStore interface {
	StartRun(ctx context.Context, runID string) error
	FinishRun(ctx context.Context, audit model.RunAudit) error
	RecoverInProgress(ctx context.Context) (int64, error)
	SeedPending(ctx context.Context) (int64, error)
	ResetFailed(ctx context.Context) (int64, error)
	SelectCandidates(ctx context.Context, filter load.CandidateFilter) ([]model.Candidate, error)
	Claim(ctx context.Context, movieID int64) (bool, error)
	Release(ctx context.Context, movieID int64) error
	MarkEnriched(ctx context.Context, movieID int64, r model.EnrichmentResult) error
	MarkNotFound(ctx context.Context, movieID int64, reason string) error
	RecordTransient(ctx context.Context, movieID int64, retryMax int, reason string) (int, model.Status, error)
}

type EnricherConfig struct {
	// RetryMax is the number of transient failures after which a movie is failed.
	RetryMax          int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	Cooldown          time.Duration
	MaxRateLimitWaits int
	RequestsPerSecond float64
	Burst             int
	Workers           int
	MaxStorageErrors  int
	ProgressEvery     int
}

func NewEnricherConfig(cfg *config.Config) EnricherConfig {
	return EnricherConfig{
		RetryMax:          cfg.Extract.Backoff.RetryMax,
		RetryWaitMin:      cfg.Extract.Backoff.RetryWaitMin,
		RetryWaitMax:      cfg.Extract.Backoff.RetryWaitMax,
		Cooldown:          cfg.OMDb.Cooldown,
		MaxRateLimitWaits: cfg.OMDb.MaxRateLimitWaits,
		RequestsPerSecond: cfg.OMDb.RequestsPerSecond,
		Burst:             cfg.OMDb.Burst,
		Workers:           cfg.Enrich.Workers,
		MaxStorageErrors:  cfg.Enrich.MaxStorageErrors,
		ProgressEvery:     cfg.Enrich.ProgressEvery,
	}
}

// RunOptions select which movies an enrichment pass considers.
type RunOptions struct {
	BatchSize int
	Reprocess bool
	OnlyRated bool
}

// EnrichSummary counts what happened during one pass. Enriched and NotFound
// include cache hits.
type EnrichSummary struct {
	RunID          string
	Selected       int
	Enriched       int
	NotFound       int
	Failed         int
	Retries        int
	RateLimitWaits int
	CacheHits      int
	Skipped        int
	StorageErrors  int
}

// Enricher drives every selected movie from pending to a terminal status.
type Enricher struct {
	store   EnrichmentStore
	client  Lookuper
	cache   cache.Cache
	cfg     EnricherConfig
	logger  *slog.Logger
	metrics *metrics.Registry
	clock   utils.TimeProvider
	limiter *rate.Limiter
	gate    *cooldownGate
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewEnricher(
	store EnrichmentStore,
	client Lookuper,
	c cache.Cache,
	cfg EnricherConfig,
	logger *slog.Logger,
	m *metrics.Registry,
	clock utils.TimeProvider,
) *Enricher {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 20
	}
	if cfg.MaxRateLimitWaits <= 0 {
		cfg.MaxRateLimitWaits = 5
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	if clock == nil {
		clock = utils.RealTimeProvider{}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)

	return &Enricher{
		store:   store,
		client:  client,
		cache:   c,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		clock:   clock,
		limiter: rate.NewLimiter(limit, burst),
		gate:    &cooldownGate{now: clock.Now},
		sleep:   sleepContext,
	}
}

// Run executes one enrichment pass. It returns a non-nil error only when the
// pass was aborted: the context was canceled, the API key was rejected, the
// rate limit never lifted or storage kept failing. Per-movie failures are
// recorded in the store and in the summary.
func (e *Enricher) Run(ctx context.Context, opts RunOptions) (EnrichSummary, error) {
	summary := EnrichSummary{RunID: uuid.NewString()}
	logger := e.logger.With("run_id", summary.RunID)

	if err := e.store.StartRun(ctx, summary.RunID); err != nil {
		return summary, fmt.Errorf("error starting enrichment run: %w", err)
	}

	candidates, err := e.prepare(ctx, logger, opts)
	if err != nil {
		e.finish(ctx, logger, summary, err)
		return summary, err
	}
	summary.Selected = len(candidates)
	logger.Info("Starting enrichment", "selected", len(candidates), "workers", e.cfg.Workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t := &tally{summary: summary}
	p := pool.New().WithErrors().WithMaxGoroutines(e.cfg.Workers)
	for _, c := range candidates {
		p.Go(func() error {
			if err := e.processRow(runCtx, c, t); err != nil {
				cancel()
				return err
			}
			e.progress(logger, t)
			return nil
		})
	}
	runErr := p.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	summary = t.snapshot()
	if err := e.finish(ctx, logger, summary, runErr); err != nil && runErr == nil {
		runErr = err
	}
	return summary, runErr
}

// prepare recovers interrupted rows, seeds new movies and selects the candidates.
func (e *Enricher) prepare(ctx context.Context, logger *slog.Logger, opts RunOptions) ([]model.Candidate, error) {
	recovered, err := e.store.RecoverInProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("error recovering interrupted rows: %w", err)
	}
	seeded, err := e.store.SeedPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("error seeding pending rows: %w", err)
	}
	var reset int64
	if opts.Reprocess {
		if reset, err = e.store.ResetFailed(ctx); err != nil {
			return nil, fmt.Errorf("error resetting failed rows: %w", err)
		}
	}
	logger.Info("Prepared enrichment state", "recovered", recovered, "seeded", seeded, "reset_failed", reset)

	candidates, err := e.store.SelectCandidates(ctx, load.CandidateFilter{Limit: opts.BatchSize, OnlyRated: opts.OnlyRated})
	if err != nil {
		return nil, fmt.Errorf("error selecting candidates: %w", err)
	}
	return candidates, nil
}

func (e *Enricher) finish(ctx context.Context, logger *slog.Logger, s EnrichSummary, runErr error) error {
	audit := model.RunAudit{
		RunID:    s.RunID,
		Selected: s.Selected,
		Enriched: s.Enriched,
		NotFound: s.NotFound,
		Failed:   s.Failed,
	}
	if runErr != nil {
		msg := runErr.Error()
		audit.Error = &msg
	}

	err := e.store.FinishRun(context.WithoutCancel(ctx), audit)
	if err != nil {
		logger.Error("Failed to record enrichment run", "error", err)
	}

	attrs := []any{
		"selected", s.Selected,
		"enriched", s.Enriched,
		"not_found", s.NotFound,
		"failed", s.Failed,
		"retries", s.Retries,
		"rate_limit_waits", s.RateLimitWaits,
		"cache_hits", s.CacheHits,
		"skipped", s.Skipped,
		"storage_errors", s.StorageErrors,
	}
	if runErr != nil {
		logger.Error("Enrichment aborted", append(attrs, "error", runErr)...)
	} else {
		logger.Info("Enrichment finished", attrs...)
	}
	return err
}

// processRow drives a single movie to a terminal status. Writes after the
// claim use a context that survives cancellation so that a row is never
// left in_progress by a clean shutdown.
func (e *Enricher) processRow(ctx context.Context, c model.Candidate, t *tally) error {
	if ctx.Err() != nil {
		return nil
	}
	wctx := context.WithoutCancel(ctx)
	logger := e.logger.With("movie_id", c.MovieID, "title", c.Title)

	claimed, err := e.store.Claim(ctx, c.MovieID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return e.storageFailure(logger, t, err)
	}
	if !claimed {
		t.update(func(s *EnrichSummary) { s.Skipped++ })
		return nil
	}
	e.metrics.Transition(string(model.StatusInProgress))

	key := cache.Key(c.MovieID, c.Title, c.Year)
	if entry, ok, err := e.cache.Get(key); err != nil {
		logger.Warn("Lookup cache read failed", "error", err)
	} else if ok {
		return e.applyCached(wctx, logger, c, entry, t)
	}

	rateLimited := 0
	for {
		if d := e.gate.remaining(); d > 0 {
			if err := e.sleep(ctx, d); err != nil {
				return e.abandon(wctx, logger, c)
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return e.abandon(wctx, logger, c)
		}

		start := time.Now()
		result, err := e.client.Lookup(ctx, c.Title, c.Year)
		took := time.Since(start)

		var rateErr *extract.RateLimitError
		switch {
		case err == nil:
			e.metrics.Lookup("enriched", took)
			if err := e.store.MarkEnriched(wctx, c.MovieID, result); err != nil {
				return e.storageFailure(logger, t, err)
			}
			t.storageOK()
			e.remember(logger, key, cache.Entry{Outcome: cache.OutcomeFound, Result: &result})
			e.transitioned(t, model.StatusEnriched)
			logger.Debug("Movie enriched")
			return nil

		case errors.Is(err, extract.ErrNotFound):
			e.metrics.Lookup("not_found", took)
			if err := e.store.MarkNotFound(wctx, c.MovieID, err.Error()); err != nil {
				return e.storageFailure(logger, t, err)
			}
			t.storageOK()
			e.remember(logger, key, cache.Entry{Outcome: cache.OutcomeNotFound})
			e.transitioned(t, model.StatusNotFound)
			logger.Debug("Movie not found")
			return nil

		case errors.As(err, &rateErr):
			e.metrics.Lookup("rate_limited", took)
			e.metrics.RateLimitWait()
			t.update(func(s *EnrichSummary) { s.RateLimitWaits++ })
			rateLimited++
			if rateLimited > e.cfg.MaxRateLimitWaits {
				e.release(wctx, logger, c)
				return fmt.Errorf("rate limit did not lift after %d cooldowns: %w", rateLimited-1, err)
			}
			wait := rateErr.RetryAfter
			if wait <= 0 {
				wait = e.cfg.Cooldown
			}
			e.gate.suspend(wait)
			logger.Warn("Rate limited, cooling down", "cooldown", wait.String(), "attempt", rateLimited)

		case errors.Is(err, extract.ErrUnauthorized):
			e.metrics.Lookup("unauthorized", took)
			e.release(wctx, logger, c)
			return fmt.Errorf("error looking up movie %d: %w", c.MovieID, err)

		case ctx.Err() != nil:
			return e.abandon(wctx, logger, c)

		default:
			e.metrics.Lookup("transient", took)
			count, status, serr := e.store.RecordTransient(wctx, c.MovieID, e.cfg.RetryMax, err.Error())
			if serr != nil {
				return e.storageFailure(logger, t, serr)
			}
			t.storageOK()
			t.update(func(s *EnrichSummary) { s.Retries++ })

			if status == model.StatusFailed {
				e.transitioned(t, model.StatusFailed)
				logger.Warn("Giving up on movie", "retry_count", count, "error", err)
				return nil
			}

			backoff := retryablehttp.DefaultBackoff(e.cfg.RetryWaitMin, e.cfg.RetryWaitMax, count-1, nil)
			logger.Info("Transient lookup failure, retrying", "retry_count", count, "backoff", backoff.String(), "error", err)
			if err := e.sleep(ctx, backoff); err != nil {
				return e.abandon(wctx, logger, c)
			}
		}
	}
}

func (e *Enricher) applyCached(ctx context.Context, logger *slog.Logger, c model.Candidate, entry cache.Entry, t *tally) error {
	var err error
	status := model.StatusEnriched
	switch entry.Outcome {
	case cache.OutcomeFound:
		err = e.store.MarkEnriched(ctx, c.MovieID, *entry.Result)
	case cache.OutcomeNotFound:
		status = model.StatusNotFound
		err = e.store.MarkNotFound(ctx, c.MovieID, extract.ErrNotFound.Error())
	default:
		logger.Warn("Ignoring unexpected cache entry", "outcome", entry.Outcome)
		e.release(ctx, logger, c)
		return nil
	}
	if err != nil {
		return e.storageFailure(logger, t, err)
	}
	t.storageOK()
	t.update(func(s *EnrichSummary) { s.CacheHits++ })
	e.transitioned(t, status)
	logger.Debug("Applied cached lookup", "status", status)
	return nil
}

func (e *Enricher) remember(logger *slog.Logger, key string, entry cache.Entry) {
	entry.StoredAt = e.clock.Now().UTC()
	if err := e.cache.Put(key, entry); err != nil {
		logger.Warn("Lookup cache write failed", "error", err)
	}
}

func (e *Enricher) transitioned(t *tally, status model.Status) {
	e.metrics.Transition(string(status))
	t.update(func(s *EnrichSummary) {
		switch status {
		case model.StatusEnriched:
			s.Enriched++
		case model.StatusNotFound:
			s.NotFound++
		case model.StatusFailed:
			s.Failed++
		}
	})
}

// abandon hands the row back after cancellation. The pass itself reports ctx.Err().
func (e *Enricher) abandon(ctx context.Context, logger *slog.Logger, c model.Candidate) error {
	e.release(ctx, logger, c)
	return nil
}

func (e *Enricher) release(ctx context.Context, logger *slog.Logger, c model.Candidate) {
	if err := e.store.Release(ctx, c.MovieID); err != nil {
		logger.Error("Failed to release movie, it will be recovered on the next run", "error", err)
		return
	}
	e.metrics.Transition(string(model.StatusPending))
}

// storageFailure logs err and reports a fatal error once more than
// MaxStorageErrors storage operations in a row have failed.
func (e *Enricher) storageFailure(logger *slog.Logger, t *tally, err error) error {
	n := t.storageFailed()
	logger.Error("Storage error while enriching movie", "consecutive", n, "error", err)
	if n > e.cfg.MaxStorageErrors {
		return fmt.Errorf("aborting after %d consecutive storage errors: %w", n, err)
	}
	return nil
}

func (e *Enricher) progress(logger *slog.Logger, t *tally) {
	s, done := t.finished()
	if done%e.cfg.ProgressEvery == 0 {
		logger.Info(fmt.Sprintf("Processed %d of %d movies", done, s.Selected),
			"enriched", s.Enriched,
			"not_found", s.NotFound,
			"failed", s.Failed,
		)
	}
}

// tally is the summary shared by the workers of one pass.
type tally struct {
	mu                 sync.Mutex
	summary            EnrichSummary
	done               int
	consecutiveStorage int
}

func (t *tally) update(fn func(s *EnrichSummary)) {
	t.mu.Lock()
	fn(&t.summary)
	t.mu.Unlock()
}

func (t *tally) storageOK() {
	t.mu.Lock()
	t.consecutiveStorage = 0
	t.mu.Unlock()
}

func (t *tally) storageFailed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.StorageErrors++
	t.consecutiveStorage++
	return t.consecutiveStorage
}

func (t *tally) finished() (EnrichSummary, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	return t.summary, t.done
}

func (t *tally) snapshot() EnrichSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// cooldownGate holds back every worker until a rate limit cooldown has passed.
type cooldownGate struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func (g *cooldownGate) suspend(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t := g.now().Add(d); t.After(g.until) {
		g.until = t
	}
}

func (g *cooldownGate) remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.until.Sub(g.now())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
