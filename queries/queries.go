// Package queries embeds the SQL executed against the movie store:
// the schema, the enrichment candidate selection template and the
// read-only reports (files named report__<name>.sql).
package queries

import "embed"

//go:embed *.sql
var FS embed.FS

const (
	Schema              = "schema.sql"
	EnrichmentCandidate = "select__enrichment_candidates.sql"
	ReportPrefix        = "report__"
)
