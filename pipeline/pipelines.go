package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rasnes/movielens-etl/cache"
	"github.com/rasnes/movielens-etl/config"
	"github.com/rasnes/movielens-etl/load"
	"github.com/rasnes/movielens-etl/metrics"
	"github.com/rasnes/movielens-etl/model"
	"github.com/rasnes/movielens-etl/utils"
)

type Pipeline struct {
	DuckDB       *load.DuckDB
	Store        *load.Store
	Metrics      *metrics.Registry
	Logger       *slog.Logger
	config       *config.Config
	timeProvider utils.TimeProvider
}

func NewPipeline(config *config.Config, logger *slog.Logger, timeProvider utils.TimeProvider) (*Pipeline, error) {
	db, err := load.NewDuckDB(config, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating DB database: %v", err)
	}
	if timeProvider == nil {
		timeProvider = utils.RealTimeProvider{}
	}

	return &Pipeline{
		DuckDB:       db,
		Store:        load.NewStore(db.DBx, logger, timeProvider),
		Metrics:      metrics.NewRegistry(),
		Logger:       logger,
		config:       config,
		timeProvider: timeProvider,
	}, nil
}

// Close releases the database and, when configured, writes the metrics of the run.
func (p *Pipeline) Close() error {
	defer p.DuckDB.Close()
	if err := p.Metrics.WriteTextfile(p.config.Metrics.Textfile); err != nil {
		return fmt.Errorf("error writing metrics textfile: %w", err)
	}
	return nil
}

type LoadResult struct {
	Movies  load.LoadSummary
	Ratings load.LoadSummary
}

// Load ensures the schema and loads the movie file followed by the optional
// ratings file. A positive limit caps the records read from the movie file;
// every rating of a loaded movie is kept.
func (p *Pipeline) Load(ctx context.Context, moviesPath, ratingsPath string, limit int) (LoadResult, error) {
	var res LoadResult
	if err := p.Store.EnsureSchema(ctx); err != nil {
		return res, err
	}

	loader := load.NewLoader(p.Store, p.Logger, p.Metrics, 0)

	moviesFile, err := os.Open(moviesPath)
	if err != nil {
		return res, fmt.Errorf("error opening movies file: %w", err)
	}
	defer moviesFile.Close()

	movies, err := load.NewCSVMovieSource(moviesFile)
	if err != nil {
		return res, fmt.Errorf("error reading movies file %s: %w", moviesPath, err)
	}
	if res.Movies, err = loader.LoadMovies(ctx, movies, limit); err != nil {
		return res, fmt.Errorf("error loading movies: %w", err)
	}

	if ratingsPath == "" {
		return res, nil
	}

	ratingsFile, err := os.Open(ratingsPath)
	if err != nil {
		return res, fmt.Errorf("error opening ratings file: %w", err)
	}
	defer ratingsFile.Close()

	ratings, err := load.NewCSVRatingSource(ratingsFile)
	if err != nil {
		return res, fmt.Errorf("error reading ratings file %s: %w", ratingsPath, err)
	}
	if res.Ratings, err = loader.LoadRatings(ctx, ratings, 0); err != nil {
		return res, fmt.Errorf("error loading ratings: %w", err)
	}

	return res, nil
}

// PlanEnrichment lists the pending movies a pass with opts would look up. It
// makes no lookups and changes no enrichment state.
func (p *Pipeline) PlanEnrichment(ctx context.Context, opts RunOptions) ([]model.Candidate, error) {
	if err := p.Store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	opts = p.enrichDefaults(opts)
	return p.Store.SelectCandidates(ctx, load.CandidateFilter{Limit: opts.BatchSize, OnlyRated: opts.OnlyRated})
}

func (p *Pipeline) enrichDefaults(opts RunOptions) RunOptions {
	if opts.BatchSize == 0 {
		opts.BatchSize = p.config.Enrich.BatchSize
	}
	opts.OnlyRated = opts.OnlyRated || p.config.Enrich.OnlyRated
	return opts
}

// EnrichMissing runs one enrichment pass against client. Options left at
// their zero value fall back to the configuration.
func (p *Pipeline) EnrichMissing(ctx context.Context, client Lookuper, opts RunOptions) (EnrichSummary, error) {
	if err := p.Store.EnsureSchema(ctx); err != nil {
		return EnrichSummary{}, err
	}

	opts = p.enrichDefaults(opts)

	lookupCache, err := cache.New(p.config.Cache.Path)
	if err != nil {
		return EnrichSummary{}, fmt.Errorf("error opening lookup cache: %w", err)
	}
	defer func() {
		if err := lookupCache.Close(); err != nil {
			p.Logger.Error("Failed to close lookup cache", "error", err)
		}
	}()

	enricher := NewEnricher(p.Store, client, lookupCache, NewEnricherConfig(p.config), p.Logger, p.Metrics, p.timeProvider)
	return enricher.Run(ctx, opts)
}
