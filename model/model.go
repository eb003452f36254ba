package model

import "time"

// Status is the lookup status of a movie's enrichment record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusEnriched   Status = "enriched"
	StatusNotFound   Status = "not_found"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further automatic transition happens from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnriched, StatusNotFound, StatusFailed:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusEnriched, StatusNotFound, StatusFailed:
		return true
	}
	return false
}

// Movie is keyed by its source catalog id. Genres is a set; order carries no meaning.
type Movie struct {
	ID     int64
	Title  string
	Year   *int
	Genres []string
}

type Rating struct {
	UserID    int64
	MovieID   int64
	Score     float64
	Timestamp *int64
}

// EnrichmentResult holds the normalized metadata returned by a lookup.
// Nil fields were absent (or "N/A") in the upstream response.
type EnrichmentResult struct {
	IMDbID         *string    `db:"imdb_id" json:"imdb_id,omitempty"`
	Director       *string    `db:"director" json:"director,omitempty"`
	Plot           *string    `db:"plot" json:"plot,omitempty"`
	RuntimeMinutes *int       `db:"runtime" json:"runtime_minutes,omitempty"`
	BoxOffice      *int64     `db:"box_office" json:"box_office,omitempty"`
	ReleaseDate    *time.Time `db:"release_date" json:"release_date,omitempty"`
}

type EnrichmentRecord struct {
	MovieID int64 `db:"movie_id"`
	EnrichmentResult
	Status     Status     `db:"status"`
	RetryCount int        `db:"retry_count"`
	LastError  *string    `db:"last_error"`
	UpdatedAt  *time.Time `db:"updated_at"`
}

// Candidate is a movie selected for an enrichment attempt.
type Candidate struct {
	MovieID    int64  `db:"movie_id"`
	Title      string `db:"title"`
	Year       *int   `db:"year"`
	RetryCount int    `db:"retry_count"`
}

// RunAudit is the persisted outcome of one enrichment pass.
type RunAudit struct {
	RunID      string     `db:"run_id"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	Selected   int        `db:"selected"`
	Enriched   int        `db:"enriched"`
	NotFound   int        `db:"not_found"`
	Failed     int        `db:"failed"`
	Error      *string    `db:"error_message"`
}
