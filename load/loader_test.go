package load

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rasnes/movielens-etl/metrics"
	"github.com/rasnes/movielens-etl/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const moviesCSV = `movieId,title,genres
1,Toy Story (1995),Adventure|Animation|Children|Comedy|Fantasy
2,Jumanji (1995),Adventure|Children|Fantasy
3,Grumpier Old Men (1995),Comedy|Romance
`

const ratingsCSV = `userId,movieId,rating,timestamp
1,1,4.0,964982703
1,3,4.0,964981247
2,1,5.0,964982224
2,99,3.0,964982224
`

func movieSource(t *testing.T, data string) MovieSource {
	t.Helper()
	src, err := NewCSVMovieSource(strings.NewReader(data))
	require.NoError(t, err)
	return src
}

func ratingSource(t *testing.T, data string) RatingSource {
	t.Helper()
	src, err := NewCSVRatingSource(strings.NewReader(data))
	require.NoError(t, err)
	return src
}

func TestLoadMoviesRejectsMalformedYear(t *testing.T) {
	store, _ := setupStore(t)
	loader := NewLoader(store, testLogger(), nil, 0)

	data := `movieId,title,year,genres
1,Toy Story,1995,Animation
2,Jumanji,nineteen ninety-five,Adventure
3,Heat,1995,Action
`
	summary, err := loader.LoadMovies(context.Background(), movieSource(t, data), 0)
	require.NoError(t, err)
	assert.Equal(t, LoadSummary{Inserted: 2, Rejected: 1}, summary)

	counts, err := store.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[model.Status]int{model.StatusPending: 2}, counts)
}

func TestLoadIsIdempotent(t *testing.T) {
	store, db := setupStore(t)
	reg := metrics.NewRegistry()
	loader := NewLoader(store, testLogger(), reg, 1)
	ctx := context.Background()

	first, err := loader.LoadMovies(ctx, movieSource(t, moviesCSV), 0)
	require.NoError(t, err)
	assert.Equal(t, LoadSummary{Inserted: 3}, first)

	firstRatings, err := loader.LoadRatings(ctx, ratingSource(t, ratingsCSV), 0)
	require.NoError(t, err)
	assert.Equal(t, LoadSummary{Inserted: 3, Rejected: 1}, firstRatings)

	before, err := db.GetQueryResults(ctx, "SELECT * FROM movies ORDER BY id")
	require.NoError(t, err)

	second, err := loader.LoadMovies(ctx, movieSource(t, moviesCSV), 0)
	require.NoError(t, err)
	assert.Equal(t, LoadSummary{SkippedDuplicate: 3}, second)

	secondRatings, err := loader.LoadRatings(ctx, ratingSource(t, ratingsCSV), 0)
	require.NoError(t, err)
	assert.Equal(t, LoadSummary{SkippedDuplicate: 3, Rejected: 1}, secondRatings)

	after, err := db.GetQueryResults(ctx, "SELECT * FROM movies ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	counts, err := store.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"movies": 3, "ratings": 3, "enrichment": 3}, counts)

	assert.Equal(t, 3.0, testutil.ToFloat64(reg.RowsLoaded.WithLabelValues("movies", "inserted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.RowsLoaded.WithLabelValues("movies", "skipped_duplicate")))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.RowsLoaded.WithLabelValues("ratings", "rejected")))
}

func TestLoadMoviesUpdatesChangedRows(t *testing.T) {
	store, _ := setupStore(t)
	loader := NewLoader(store, testLogger(), nil, 0)
	ctx := context.Background()

	_, err := loader.LoadMovies(ctx, movieSource(t, moviesCSV), 0)
	require.NoError(t, err)

	changed := strings.Replace(moviesCSV, "Comedy|Romance", "Comedy", 1)
	summary, err := loader.LoadMovies(ctx, movieSource(t, changed), 0)
	require.NoError(t, err)
	assert.Equal(t, LoadSummary{Updated: 1, SkippedDuplicate: 2}, summary)

	m, err := store.GetMovie(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Comedy"}, m.Genres)
}

func TestLoadMoviesLimit(t *testing.T) {
	store, _ := setupStore(t)
	loader := NewLoader(store, testLogger(), nil, 0)

	summary, err := loader.LoadMovies(context.Background(), movieSource(t, moviesCSV), 2)
	require.NoError(t, err)
	assert.Equal(t, LoadSummary{Inserted: 2}, summary)
}

type failingMovieSource struct {
	err error
}

func (s failingMovieSource) Next() (model.Movie, error) { return model.Movie{}, s.err }

func TestLoadMoviesAbortsOnSourceFailure(t *testing.T) {
	store, _ := setupStore(t)
	loader := NewLoader(store, testLogger(), nil, 0)

	boom := errors.New("unexpected EOF in gzip stream")
	_, err := loader.LoadMovies(context.Background(), failingMovieSource{err: boom}, 0)
	assert.ErrorIs(t, err, boom)
}

func TestLoadMoviesEmptySource(t *testing.T) {
	store, _ := setupStore(t)
	loader := NewLoader(store, testLogger(), nil, 0)

	summary, err := loader.LoadMovies(context.Background(), failingMovieSource{err: io.EOF}, 0)
	require.NoError(t, err)
	assert.Equal(t, LoadSummary{}, summary)
}

func TestLoadMoviesCanceled(t *testing.T) {
	store, _ := setupStore(t)
	loader := NewLoader(store, testLogger(), nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loader.LoadMovies(ctx, movieSource(t, moviesCSV), 0)
	assert.ErrorIs(t, err, context.Canceled)
}
