package load

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rasnes/movielens-etl/model"
	"github.com/rasnes/movielens-etl/utils"
)

const noGenres = "(no genres listed)"

const (
	minYear = 1870
	maxYear = 2100
)

var titleYear = regexp.MustCompile(`^(.*?)\s*\((\d{4})\)\s*$`)

// MovieSource yields catalog records one at a time. Next returns io.EOF when
// the source is exhausted and a *ParseError for a record that should be
// skipped. Any other error is fatal for the load.
type MovieSource interface {
	Next() (model.Movie, error)
}

// RatingSource yields rating records with the same error contract as MovieSource.
type RatingSource interface {
	Next() (model.Rating, error)
}

type movieRecord struct {
	MovieID string `csv:"movieId"`
	Title   string `csv:"title"`
	Genres  string `csv:"genres,omitempty"`
	Year    string `csv:"year,omitempty"`
}

type ratingRecord struct {
	UserID    string `csv:"userId"`
	MovieID   string `csv:"movieId"`
	Rating    string `csv:"rating"`
	Timestamp string `csv:"timestamp,omitempty"`
}

// recordReader keeps track of the current line and separates malformed
// records from failures of the underlying reader.
type recordReader struct {
	r     *csv.Reader
	line  int
	fatal error
}

func (rr *recordReader) Read() ([]string, error) {
	record, err := rr.r.Read()
	if err != nil {
		var pe *csv.ParseError
		switch {
		case errors.As(err, &pe):
			rr.line = pe.StartLine
		case err != io.EOF:
			rr.fatal = err
		}
		return record, err
	}
	rr.line, _ = rr.r.FieldPos(0)
	return record, nil
}

type csvSource struct {
	rr  *recordReader
	dec *csvutil.Decoder
}

func newCSVSource(r io.Reader, required ...string) (*csvSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rr := &recordReader{r: cr}

	dec, err := csvutil.NewDecoder(rr)
	if err == io.EOF {
		return &csvSource{rr: rr}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]bool)
	for _, h := range dec.Header() {
		columns[h] = true
	}
	for _, col := range required {
		if !columns[col] {
			return nil, fmt.Errorf("CSV header is missing required column %q", col)
		}
	}
	return &csvSource{rr: rr, dec: dec}, nil
}

// decode reads the next record into v. Errors are classified the same way as
// MovieSource.Next.
func (s *csvSource) decode(v any) error {
	if s.dec == nil {
		return io.EOF
	}
	err := s.dec.Decode(v)
	if err == nil || err == io.EOF {
		return err
	}
	if s.rr.fatal != nil {
		return fmt.Errorf("failed to read CSV data: %w", s.rr.fatal)
	}
	return &ParseError{Line: s.rr.line, Err: err}
}

type CSVMovieSource struct {
	src *csvSource
}

// NewCSVMovieSource reads a MovieLens movies file. The header must name
// movieId and title; genres and year are optional.
func NewCSVMovieSource(r io.Reader) (*CSVMovieSource, error) {
	src, err := newCSVSource(r, "movieId", "title")
	if err != nil {
		return nil, err
	}
	return &CSVMovieSource{src: src}, nil
}

func (s *CSVMovieSource) Next() (model.Movie, error) {
	var rec movieRecord
	if err := s.src.decode(&rec); err != nil {
		return model.Movie{}, err
	}
	return parseMovie(rec, s.src.rr.line)
}

func parseMovie(rec movieRecord, line int) (model.Movie, error) {
	id, err := parseID(rec.MovieID)
	if err != nil {
		return model.Movie{}, &ParseError{Line: line, Field: "movieId", Value: rec.MovieID, Err: err}
	}

	title, titleYearValue := splitTitle(rec.Title)
	if title == "" {
		return model.Movie{}, &ParseError{Line: line, Field: "title", Value: rec.Title, Err: errors.New("empty title")}
	}

	movie := model.Movie{ID: id, Title: title}

	if raw := strings.TrimSpace(rec.Year); raw != "" {
		year, err := parseYear(raw)
		if err != nil {
			return model.Movie{}, &ParseError{Line: line, Field: "year", Value: rec.Year, Err: err}
		}
		movie.Year = &year
	} else if titleYearValue != "" {
		if year, err := parseYear(titleYearValue); err == nil {
			movie.Year = &year
		}
	}

	movie.Genres = utils.UniqueSorted(strings.Split(rec.Genres, "|"), noGenres)
	return movie, nil
}

// splitTitle strips a trailing "(YYYY)" from a MovieLens title and returns the
// bare title together with the year text, if any.
func splitTitle(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	m := titleYear.FindStringSubmatch(raw)
	if m == nil {
		return raw, ""
	}
	return strings.TrimSpace(m[1]), m[2]
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}

func parseYear(raw string) (int, error) {
	year, err := strconv.Atoi(raw)
	if err != nil {
		// Some exports write years as floats, e.g. "1994.0".
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, err
		}
		year = int(f)
	}
	if year < minYear || year > maxYear {
		return 0, fmt.Errorf("year out of range [%d, %d]", minYear, maxYear)
	}
	return year, nil
}

type CSVRatingSource struct {
	src *csvSource
}

// NewCSVRatingSource reads a MovieLens ratings file with columns userId,
// movieId, rating and an optional timestamp.
func NewCSVRatingSource(r io.Reader) (*CSVRatingSource, error) {
	src, err := newCSVSource(r, "userId", "movieId", "rating")
	if err != nil {
		return nil, err
	}
	return &CSVRatingSource{src: src}, nil
}

func (s *CSVRatingSource) Next() (model.Rating, error) {
	var rec ratingRecord
	if err := s.src.decode(&rec); err != nil {
		return model.Rating{}, err
	}
	return parseRating(rec, s.src.rr.line)
}

func parseRating(rec ratingRecord, line int) (model.Rating, error) {
	userID, err := parseID(rec.UserID)
	if err != nil {
		return model.Rating{}, &ParseError{Line: line, Field: "userId", Value: rec.UserID, Err: err}
	}
	movieID, err := parseID(rec.MovieID)
	if err != nil {
		return model.Rating{}, &ParseError{Line: line, Field: "movieId", Value: rec.MovieID, Err: err}
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(rec.Rating), 64)
	if err == nil && score < 0 {
		err = errors.New("rating must not be negative")
	}
	if err != nil {
		return model.Rating{}, &ParseError{Line: line, Field: "rating", Value: rec.Rating, Err: err}
	}

	rating := model.Rating{UserID: userID, MovieID: movieID, Score: score}
	if raw := strings.TrimSpace(rec.Timestamp); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return model.Rating{}, &ParseError{Line: line, Field: "timestamp", Value: rec.Timestamp, Err: err}
		}
		rating.Timestamp = &ts
	}
	return rating, nil
}
