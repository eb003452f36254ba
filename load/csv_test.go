package load

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/rasnes/movielens-etl/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func readMovies(t *testing.T, data string) ([]model.Movie, []*ParseError) {
	t.Helper()
	src, err := NewCSVMovieSource(strings.NewReader(data))
	require.NoError(t, err)

	var movies []model.Movie
	var rejected []*ParseError
	for {
		m, err := src.Next()
		if err == io.EOF {
			return movies, rejected
		}
		var pe *ParseError
		require.True(t, errors.As(err, &pe) || err == nil, "unexpected error: %v", err)
		if pe != nil {
			rejected = append(rejected, pe)
			continue
		}
		movies = append(movies, m)
	}
}

func TestCSVMovieSource(t *testing.T) {
	tests := []struct {
		name         string
		data         string
		wantMovies   []model.Movie
		wantRejected []string // "line:field"
	}{
		{
			name: "MovieLens format with year in title",
			data: `movieId,title,genres
1,Toy Story (1995),Adventure|Animation|Children|Comedy|Fantasy
2,"American President, The (1995)",Comedy|Drama|Romance
3,(500) Days of Summer (2009),Comedy|Drama|Romance
4,Unknown Year,(no genres listed)
`,
			wantMovies: []model.Movie{
				{ID: 1, Title: "Toy Story", Year: intPtr(1995), Genres: []string{"Adventure", "Animation", "Children", "Comedy", "Fantasy"}},
				{ID: 2, Title: "American President, The", Year: intPtr(1995), Genres: []string{"Comedy", "Drama", "Romance"}},
				{ID: 3, Title: "(500) Days of Summer", Year: intPtr(2009), Genres: []string{"Comedy", "Drama", "Romance"}},
				{ID: 4, Title: "Unknown Year", Genres: []string{}},
			},
		},
		{
			name: "explicit year column wins and is validated",
			data: `movieId,title,year,genres
10,Heat (1995),1995,Action|Crime
11,Broken,19x5,Drama
12,Future,2999,Drama
13,Sabrina (1995),1995.0,Comedy|Comedy
`,
			wantMovies: []model.Movie{
				{ID: 10, Title: "Heat", Year: intPtr(1995), Genres: []string{"Action", "Crime"}},
				{ID: 13, Title: "Sabrina", Year: intPtr(1995), Genres: []string{"Comedy"}},
			},
			wantRejected: []string{"3:year", "4:year"},
		},
		{
			name: "bad ids and titles",
			data: `movieId,title,genres
abc,Foo (2000),Drama
-1,Bar (2000),Drama
5, ,Drama
6,Good (2001),Drama
`,
			wantMovies: []model.Movie{
				{ID: 6, Title: "Good", Year: intPtr(2001), Genres: []string{"Drama"}},
			},
			wantRejected: []string{"2:movieId", "3:movieId", "4:title"},
		},
		{
			name: "wrong field count is rejected without stopping",
			data: `movieId,title,genres
1,Alpha (1990),Drama,extra
2,Beta (1991),Drama
`,
			wantMovies: []model.Movie{
				{ID: 2, Title: "Beta", Year: intPtr(1991), Genres: []string{"Drama"}},
			},
			wantRejected: []string{"2:"},
		},
		{
			name: "header only",
			data: "movieId,title,genres\n",
		},
		{
			name: "empty input",
			data: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			movies, rejected := readMovies(t, tt.data)
			assert.Equal(t, tt.wantMovies, movies)

			var got []string
			for _, pe := range rejected {
				got = append(got, fmt.Sprintf("%d:%s", pe.Line, pe.Field))
			}
			assert.Equal(t, tt.wantRejected, got)
		})
	}
}

func TestCSVMovieSourceMissingColumn(t *testing.T) {
	_, err := NewCSVMovieSource(strings.NewReader("id,name\n1,Foo\n"))
	assert.ErrorContains(t, err, `missing required column "movieId"`)
}

func TestCSVMovieSourceReaderFailure(t *testing.T) {
	boom := errors.New("disk gone")
	r := io.MultiReader(strings.NewReader("movieId,title,genres\n1,Foo (2000),Drama\n"), iotest.ErrReader(boom))

	src, err := NewCSVMovieSource(r)
	require.NoError(t, err)

	m, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID)

	_, err = src.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var pe *ParseError
	assert.False(t, errors.As(err, &pe))
}

func TestCSVRatingSource(t *testing.T) {
	data := `userId,movieId,rating,timestamp
1,1,4.0,964982703
1,3,4.5,
2,x,3.0,964982224
2,4,-1,964982224
3,5,2.5,yesterday
`
	src, err := NewCSVRatingSource(strings.NewReader(data))
	require.NoError(t, err)

	var ratings []model.Rating
	var fields []string
	for {
		r, err := src.Next()
		if err == io.EOF {
			break
		}
		var pe *ParseError
		if errors.As(err, &pe) {
			fields = append(fields, pe.Field)
			continue
		}
		require.NoError(t, err)
		ratings = append(ratings, r)
	}

	assert.Equal(t, []model.Rating{
		{UserID: 1, MovieID: 1, Score: 4.0, Timestamp: int64Ptr(964982703)},
		{UserID: 1, MovieID: 3, Score: 4.5},
	}, ratings)
	assert.Equal(t, []string{"movieId", "rating", "timestamp"}, fields)
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		raw       string
		wantTitle string
		wantYear  string
	}{
		{"Toy Story (1995)", "Toy Story", "1995"},
		{"  Heat (1995)  ", "Heat", "1995"},
		{"Babylon 5", "Babylon 5", ""},
		{"Cosmos (1980-1981)", "Cosmos (1980-1981)", ""},
		{"(1995)", "", "1995"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			title, year := splitTitle(tt.raw)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantYear, year)
		})
	}
}
