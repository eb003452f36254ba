package cmd

import (
	"fmt"

	"github.com/rasnes/movielens-etl/pipeline"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var params pipeline.ReportParams
	var list bool
	var queryFile string

	cmd := &cobra.Command{
		Use:   "report [names]",
		Short: "Runs the built-in analytical reports, or an ad-hoc query file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			reports, err := pipeline.ListReports()
			if err != nil {
				return fmt.Errorf("error listing reports: %w", err)
			}
			if list {
				for _, r := range reports {
					fmt.Fprintf(out, "%-20s %s\n", r.Name, r.Description)
				}
				return nil
			}

			names := args
			if len(names) == 0 && queryFile == "" {
				for _, r := range reports {
					names = append(names, r.Name)
				}
			}

			p, err := newPipeline()
			if err != nil {
				return err
			}
			defer closePipeline(p)

			ctx := cmd.Context()
			if err := p.Store.EnsureSchema(ctx); err != nil {
				return err
			}

			if queryFile != "" {
				if err := p.RunQueryFile(ctx, queryFile, out); err != nil {
					return err
				}
			}
			for _, name := range names {
				fmt.Fprintf(out, "\n== %s ==\n", name)
				if err := p.RunReport(ctx, name, params, out); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "list the available reports and exit")
	cmd.Flags().StringVar(&queryFile, "file", "", "path to a SQL file to run instead of the built-in reports")
	cmd.Flags().IntVar(&params.Limit, "limit", 10, "maximum number of rows per report")
	cmd.Flags().IntVar(&params.MinRatings, "min-ratings", 50, "minimum number of ratings for score based reports")

	return cmd
}
