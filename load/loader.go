package load

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rasnes/movielens-etl/metrics"
)

var errUnknownMovie = errors.New("movie is not in the catalog")

// LoadSummary counts what happened to each source record. Every record read
// lands in exactly one bucket.
type LoadSummary struct {
	Inserted         int
	Updated          int
	SkippedDuplicate int
	Rejected         int
}

func (s LoadSummary) Total() int {
	return s.Inserted + s.Updated + s.SkippedDuplicate + s.Rejected
}

func (s *LoadSummary) count(o WriteOutcome) {
	switch o {
	case OutcomeInserted:
		s.Inserted++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeUnchanged:
		s.SkippedDuplicate++
	}
}

func (o WriteOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "skipped_duplicate"
	}
	return "unknown"
}

// Loader streams source records into the store. Malformed records are
// rejected and counted; the first storage failure aborts the load.
type Loader struct {
	store         *Store
	logger        *slog.Logger
	metrics       *metrics.Registry
	progressEvery int
}

func NewLoader(store *Store, logger *slog.Logger, m *metrics.Registry, progressEvery int) *Loader {
	if progressEvery <= 0 {
		progressEvery = 10000
	}
	return &Loader{store: store, logger: logger, metrics: m, progressEvery: progressEvery}
}

// LoadMovies upserts every movie from src. A positive limit caps the number
// of records read. New movies get a pending enrichment record.
func (l *Loader) LoadMovies(ctx context.Context, src MovieSource, limit int) (LoadSummary, error) {
	var summary LoadSummary
	for limit <= 0 || summary.Total() < limit {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		movie, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if l.reject("movies", err, &summary) {
				continue
			}
			return summary, err
		}

		outcome, err := l.store.UpsertMovie(ctx, movie)
		if err != nil {
			return summary, err
		}
		summary.count(outcome)
		l.metrics.RowLoaded("movies", outcome.String())
		l.progress("movies", summary)
	}

	seeded, err := l.store.SeedPending(ctx)
	if err != nil {
		return summary, err
	}

	l.logger.Info("Loaded movies",
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped_duplicate", summary.SkippedDuplicate,
		"rejected", summary.Rejected,
		"enrichment_seeded", seeded,
	)
	return summary, nil
}

// LoadRatings upserts every rating from src. Ratings that reference a movie
// missing from the catalog are rejected.
func (l *Loader) LoadRatings(ctx context.Context, src RatingSource, limit int) (LoadSummary, error) {
	known, err := l.store.MovieIDs(ctx)
	if err != nil {
		return LoadSummary{}, err
	}

	var summary LoadSummary
	for limit <= 0 || summary.Total() < limit {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		rating, err := src.Next()
		if err == io.EOF {
			break
		}
		if err == nil {
			if _, ok := known[rating.MovieID]; !ok {
				err = &ParseError{Field: "movieId", Value: fmt.Sprint(rating.MovieID), Err: errUnknownMovie}
			}
		}
		if err != nil {
			if l.reject("ratings", err, &summary) {
				continue
			}
			return summary, err
		}

		outcome, err := l.store.UpsertRating(ctx, rating)
		if err != nil {
			return summary, err
		}
		summary.count(outcome)
		l.metrics.RowLoaded("ratings", outcome.String())
		l.progress("ratings", summary)
	}

	l.logger.Info("Loaded ratings",
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped_duplicate", summary.SkippedDuplicate,
		"rejected", summary.Rejected,
	)
	return summary, nil
}

// reject counts err as a rejected record if it is a *ParseError and reports
// whether it did.
func (l *Loader) reject(table string, err error, summary *LoadSummary) bool {
	var pe *ParseError
	if !errors.As(err, &pe) {
		return false
	}
	summary.Rejected++
	l.metrics.RowLoaded(table, "rejected")
	l.logger.Warn("Rejected source record", "table", table, "error", pe.Error())
	return true
}

func (l *Loader) progress(table string, summary LoadSummary) {
	if n := summary.Total(); n%l.progressEvery == 0 {
		l.logger.Info("Load progress", "table", table, "records", n)
	}
}
