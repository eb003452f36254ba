package load

import (
	"context"
	"fmt"

	"github.com/rasnes/movielens-etl/model"
	"github.com/rasnes/movielens-etl/queries"
	"github.com/rasnes/movielens-etl/template"
)

// CandidateFilter narrows the pending rows picked for an enrichment pass.
type CandidateFilter struct {
	Limit     int
	OnlyRated bool
}

// SeedPending creates a pending enrichment record for every movie that has none.
func (s *Store) SeedPending(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment (movie_id, status, retry_count, updated_at)
		SELECT m.id, 'pending', 0, ?
		FROM movies m
		WHERE NOT EXISTS (SELECT 1 FROM enrichment e WHERE e.movie_id = m.id)`,
		s.clock.Now().UTC(),
	)
	if err != nil {
		return 0, storageErr("seed enrichment", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecoverInProgress returns rows abandoned by an interrupted run to pending.
func (s *Store) RecoverInProgress(ctx context.Context) (int64, error) {
	return s.transitionAll(ctx, "recover in_progress", model.StatusInProgress, model.StatusPending, false)
}

// ResetFailed makes failed rows eligible again and clears their retry counter.
func (s *Store) ResetFailed(ctx context.Context) (int64, error) {
	return s.transitionAll(ctx, "reset failed", model.StatusFailed, model.StatusPending, true)
}

func (s *Store) transitionAll(ctx context.Context, op string, from, to model.Status, resetRetries bool) (int64, error) {
	query := "UPDATE enrichment SET status = ?, updated_at = ? WHERE status = ?"
	if resetRetries {
		query = "UPDATE enrichment SET status = ?, updated_at = ?, retry_count = 0 WHERE status = ?"
	}
	res, err := s.db.ExecContext(ctx, query, string(to), s.clock.Now().UTC(), string(from))
	if err != nil {
		return 0, storageErr(op, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SelectCandidates lists pending movies, most rated first.
func (s *Store) SelectCandidates(ctx context.Context, filter CandidateFilter) ([]model.Candidate, error) {
	query, err := template.ExecuteSqlTemplate(queries.FS, queries.EnrichmentCandidate, map[string]any{
		"Limit":     filter.Limit,
		"OnlyRated": filter.OnlyRated,
	})
	if err != nil {
		return nil, fmt.Errorf("error rendering candidate query: %w", err)
	}

	var candidates []model.Candidate
	if err := s.db.SelectContext(ctx, &candidates, query); err != nil {
		return nil, storageErr("select candidates", err)
	}
	return candidates, nil
}

// Claim moves a pending row to in_progress. It reports false when the row
// was not pending, e.g. because another worker already holds it.
func (s *Store) Claim(ctx context.Context, movieID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE enrichment SET status = 'in_progress', updated_at = ? WHERE movie_id = ? AND status = 'pending'",
		s.clock.Now().UTC(), movieID,
	)
	if err != nil {
		return false, storageErr("claim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("claim", err)
	}
	return n == 1, nil
}

// Release hands an in_progress row back to pending without touching its retry counter.
func (s *Store) Release(ctx context.Context, movieID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE enrichment SET status = 'pending', updated_at = ? WHERE movie_id = ? AND status = 'in_progress'",
		s.clock.Now().UTC(), movieID,
	)
	return storageErr("release", err)
}

// MarkEnriched overwrites the enriched fields and sets the terminal status in one statement.
func (s *Store) MarkEnriched(ctx context.Context, movieID int64, r model.EnrichmentResult) error {
	var released any
	if r.ReleaseDate != nil {
		released = r.ReleaseDate.Format("2006-01-02")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment SET
			imdb_id = ?,
			director = ?,
			plot = ?,
			runtime = ?,
			box_office = ?,
			release_date = CAST(? AS DATE),
			status = 'enriched',
			last_error = NULL,
			updated_at = ?
		WHERE movie_id = ?`,
		nullable(r.IMDbID), nullable(r.Director), nullable(r.Plot), nullable(r.RuntimeMinutes),
		nullable(r.BoxOffice), released, s.clock.Now().UTC(), movieID,
	)
	if err != nil {
		return storageErr("mark enriched", err)
	}
	return expectOneRow(res, "mark enriched", movieID)
}

func (s *Store) MarkNotFound(ctx context.Context, movieID int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE enrichment SET status = 'not_found', last_error = ?, updated_at = ? WHERE movie_id = ?",
		reason, s.clock.Now().UTC(), movieID,
	)
	if err != nil {
		return storageErr("mark not_found", err)
	}
	return expectOneRow(res, "mark not_found", movieID)
}

// RecordTransient increments the retry counter of a row and, once the
// counter reaches retryMax, moves the row to failed. The new counter and
// status are returned.
func (s *Store) RecordTransient(ctx context.Context, movieID int64, retryMax int, reason string) (int, model.Status, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment SET
			retry_count = retry_count + 1,
			last_error = ?,
			updated_at = ?,
			status = CASE WHEN retry_count + 1 >= ? THEN 'failed' ELSE status END
		WHERE movie_id = ?`,
		reason, s.clock.Now().UTC(), retryMax, movieID,
	)
	if err != nil {
		return 0, "", storageErr("record transient failure", err)
	}
	if err := expectOneRow(res, "record transient failure", movieID); err != nil {
		return 0, "", err
	}

	var row struct {
		RetryCount int          `db:"retry_count"`
		Status     model.Status `db:"status"`
	}
	if err := s.db.GetContext(ctx, &row, "SELECT retry_count, status FROM enrichment WHERE movie_id = ?", movieID); err != nil {
		return 0, "", storageErr("read retry count", err)
	}
	return row.RetryCount, row.Status, nil
}

func (s *Store) GetEnrichment(ctx context.Context, movieID int64) (model.EnrichmentRecord, error) {
	var rec model.EnrichmentRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT movie_id, imdb_id, director, plot, runtime, box_office, release_date,
		       status, retry_count, last_error, updated_at
		FROM enrichment
		WHERE movie_id = ?`, movieID)
	if err != nil {
		return model.EnrichmentRecord{}, storageErr("read enrichment", err)
	}
	return rec, nil
}

// StatusCounts returns the number of enrichment records per status.
func (s *Store) StatusCounts(ctx context.Context) (map[model.Status]int, error) {
	var rows []struct {
		Status model.Status `db:"status"`
		N      int          `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT status, count(*) AS n FROM enrichment GROUP BY status"); err != nil {
		return nil, storageErr("count statuses", err)
	}

	counts := make(map[model.Status]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (s *Store) StartRun(ctx context.Context, runID string) error {
	_, err := s.db.NamedExecContext(ctx,
		"INSERT INTO enrichment_runs (run_id, started_at) VALUES (:run_id, :started_at)",
		map[string]any{"run_id": runID, "started_at": s.clock.Now().UTC()},
	)
	return storageErr("start run", err)
}

func (s *Store) FinishRun(ctx context.Context, audit model.RunAudit) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE enrichment_runs SET
			finished_at = :finished_at,
			selected = :selected,
			enriched = :enriched,
			not_found = :not_found,
			failed = :failed,
			error_message = :error_message
		WHERE run_id = :run_id`,
		map[string]any{
			"run_id":        audit.RunID,
			"finished_at":   s.clock.Now().UTC(),
			"selected":      audit.Selected,
			"enriched":      audit.Enriched,
			"not_found":     audit.NotFound,
			"failed":        audit.Failed,
			"error_message": nullable(audit.Error),
		},
	)
	return storageErr("finish run", err)
}

func (s *Store) GetRun(ctx context.Context, runID string) (model.RunAudit, error) {
	var audit model.RunAudit
	err := s.db.GetContext(ctx, &audit, `
		SELECT run_id, started_at, finished_at, selected, enriched, not_found, failed, error_message
		FROM enrichment_runs
		WHERE run_id = ?`, runID)
	if err != nil {
		return model.RunAudit{}, storageErr("read run", err)
	}
	return audit, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func expectOneRow(res rowsAffecter, op string, movieID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n != 1 {
		return storageErr(op, fmt.Errorf("no enrichment record for movie %d", movieID))
	}
	return nil
}
