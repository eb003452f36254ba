package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/rasnes/movielens-etl/load"
	"github.com/rasnes/movielens-etl/queries"
	"github.com/rasnes/movielens-etl/template"
)

type ReportParams struct {
	Limit      int
	MinRatings int
}

type Report struct {
	Name        string
	Description string
}

// ListReports returns the embedded reports sorted by name. The description
// is taken from a leading "--" comment line.
func ListReports() ([]Report, error) {
	files, err := fs.Glob(queries.FS, queries.ReportPrefix+"*.sql")
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(files))
	for _, f := range files {
		content, err := template.ReadSqlTemplate(queries.FS, f)
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(strings.TrimPrefix(f, queries.ReportPrefix), ".sql")
		reports = append(reports, Report{Name: name, Description: leadingComment(content)})
	}
	return reports, nil
}

func leadingComment(sql string) string {
	line, _, _ := strings.Cut(sql, "\n")
	if !strings.HasPrefix(line, "--") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "--"))
}

// RunReport renders the named report and writes its result to w as an aligned table.
func (p *Pipeline) RunReport(ctx context.Context, name string, params ReportParams, w io.Writer) error {
	query, err := template.ExecuteSqlTemplate(queries.FS, queries.ReportPrefix+name+".sql", map[string]any{
		"Limit":      max(params.Limit, 1),
		"MinRatings": max(params.MinRatings, 0),
	})
	if err != nil {
		return fmt.Errorf("error rendering report %s: %w", name, err)
	}

	res, err := p.DuckDB.GetQueryResults(ctx, query)
	if err != nil {
		return fmt.Errorf("error running report %s: %w", name, err)
	}
	return writeTable(w, res)
}

// RunQueryFile executes an ad-hoc read query from path and writes the result to w.
func (p *Pipeline) RunQueryFile(ctx context.Context, path string, w io.Writer) error {
	res, err := p.DuckDB.GetQueryResultsFromFile(ctx, path)
	if err != nil {
		return fmt.Errorf("error running query file %s: %w", path, err)
	}
	return writeTable(w, res)
}

func writeTable(w io.Writer, res load.QueryResult) error {
	bw := bufio.NewWriter(w)
	tw := tabwriter.NewWriter(bw, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(bw, "(%d rows)\n", len(res.Rows))
	return bw.Flush()
}
