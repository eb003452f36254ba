package extract

import (
	"strconv"
	"strings"
	"time"

	"github.com/rasnes/movielens-etl/model"
)

const notAvailable = "N/A"

var releaseLayouts = []string{"2 Jan 2006", "2006-01-02", "2 January 2006"}

// omdbResponse is the subset of the title endpoint payload that is kept.
type omdbResponse struct {
	Response  string `json:"Response"`
	Error     string `json:"Error"`
	Title     string `json:"Title"`
	IMDbID    string `json:"imdbID"`
	Director  string `json:"Director"`
	Plot      string `json:"Plot"`
	Runtime   string `json:"Runtime"`
	BoxOffice string `json:"BoxOffice"`
	Released  string `json:"Released"`
}

func (r omdbResponse) normalize() model.EnrichmentResult {
	return model.EnrichmentResult{
		IMDbID:         optional(r.IMDbID),
		Director:       optional(r.Director),
		Plot:           optional(r.Plot),
		RuntimeMinutes: parseRuntime(r.Runtime),
		BoxOffice:      parseBoxOffice(r.BoxOffice),
		ReleaseDate:    parseReleased(r.Released),
	}
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == notAvailable {
		return nil
	}
	return &s
}

// parseRuntime turns "142 min" into 142.
func parseRuntime(s string) *int {
	fields := strings.Fields(s)
	if len(fields) != 2 || fields[1] != "min" {
		return nil
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

// parseBoxOffice turns "$28,341,469" into 28341469.
func parseBoxOffice(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == notAvailable {
		return nil
	}
	digits := strings.NewReplacer("$", "", ",", "").Replace(s)
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

func parseReleased(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || s == notAvailable {
		return nil
	}
	for _, layout := range releaseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
