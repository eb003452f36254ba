package load

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rasnes/movielens-etl/model"
	"github.com/rasnes/movielens-etl/queries"
	"github.com/rasnes/movielens-etl/template"
	"github.com/rasnes/movielens-etl/utils"
)

func init() {
	sqlx.BindDriver("duckdb", sqlx.QUESTION)
}

// Store is the relational persistence layer for movies, ratings and
// enrichment state. Every method issues single-statement writes so that a
// row is never left half-applied.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	clock  utils.TimeProvider
}

func NewStore(db *sqlx.DB, logger *slog.Logger, clock utils.TimeProvider) *Store {
	if clock == nil {
		clock = utils.RealTimeProvider{}
	}
	return &Store{db: db, logger: logger, clock: clock}
}

// WriteOutcome tells what an upsert did to the destination row.
type WriteOutcome int

const (
	OutcomeInserted WriteOutcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

// EnsureSchema creates all tables and indices if they are absent.
// It never drops or alters existing objects and can be called any number of times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema, err := template.ReadSqlTemplate(queries.FS, queries.Schema)
	if err != nil {
		return &SchemaError{Err: err}
	}

	for _, stmt := range splitStatements(schema) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &SchemaError{Statement: stmt, Err: err}
		}
	}
	s.logger.Debug("Schema ensured")
	return nil
}

func splitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

type movieRow struct {
	ID     int64  `db:"id"`
	Title  string `db:"title"`
	Year   *int   `db:"year"`
	Genres string `db:"genres"`
}

func (r movieRow) toModel() model.Movie {
	m := model.Movie{ID: r.ID, Title: r.Title, Year: r.Year, Genres: []string{}}
	if r.Genres != "" {
		m.Genres = strings.Split(r.Genres, "|")
	}
	return m
}

func joinGenres(genres []string) string {
	return strings.Join(utils.UniqueSorted(genres), "|")
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// UpsertMovie writes m keyed by its catalog id. Attributes of an existing
// row are overwritten with the new values.
func (s *Store) UpsertMovie(ctx context.Context, m model.Movie) (WriteOutcome, error) {
	genres := joinGenres(m.Genres)

	var existing movieRow
	err := s.db.GetContext(ctx, &existing, "SELECT id, title, year, genres FROM movies WHERE id = ?", m.ID)
	outcome := OutcomeUpdated
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = OutcomeInserted
	case err != nil:
		return 0, storageErr("read movie", err)
	case existing.Title == m.Title && sameInt(existing.Year, m.Year) && existing.Genres == genres:
		return OutcomeUnchanged, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO movies (id, title, year, genres)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			year = excluded.year,
			genres = excluded.genres`,
		m.ID, m.Title, nullable(m.Year), genres,
	)
	if err != nil {
		return 0, storageErr("upsert movie", err)
	}
	return outcome, nil
}

func (s *Store) GetMovie(ctx context.Context, id int64) (model.Movie, error) {
	var row movieRow
	if err := s.db.GetContext(ctx, &row, "SELECT id, title, year, genres FROM movies WHERE id = ?", id); err != nil {
		return model.Movie{}, storageErr("read movie", err)
	}
	return row.toModel(), nil
}

// MovieIDs returns the set of all catalog ids currently stored.
func (s *Store) MovieIDs(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, "SELECT id FROM movies"); err != nil {
		return nil, storageErr("list movie ids", err)
	}

	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

type ratingRow struct {
	Score float64 `db:"score"`
	Ts    *int64  `db:"ts"`
}

// UpsertRating writes r keyed by (user id, movie id).
func (s *Store) UpsertRating(ctx context.Context, r model.Rating) (WriteOutcome, error) {
	var existing ratingRow
	err := s.db.GetContext(ctx, &existing,
		"SELECT score, ts FROM ratings WHERE user_id = ? AND movie_id = ?", r.UserID, r.MovieID)
	outcome := OutcomeUpdated
	switch {
	case errors.Is(err, sql.ErrNoRows):
		outcome = OutcomeInserted
	case err != nil:
		return 0, storageErr("read rating", err)
	case existing.Score == r.Score && sameInt64(existing.Ts, r.Timestamp):
		return OutcomeUnchanged, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ratings (user_id, movie_id, score, ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, movie_id) DO UPDATE SET
			score = excluded.score,
			ts = excluded.ts`,
		r.UserID, r.MovieID, r.Score, nullable(r.Timestamp),
	)
	if err != nil {
		return 0, storageErr("upsert rating", err)
	}
	return outcome, nil
}

// TableCounts returns the number of rows in each destination table.
func (s *Store) TableCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range []string{"movies", "ratings", "enrichment"} {
		var n int
		if err := s.db.GetContext(ctx, &n, fmt.Sprintf("SELECT count(*) FROM %s", table)); err != nil {
			return nil, storageErr("count "+table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
