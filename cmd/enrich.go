package cmd

import (
	"fmt"

	"github.com/rasnes/movielens-etl/extract"
	"github.com/rasnes/movielens-etl/pipeline"
	"github.com/spf13/cobra"
)

func newEnrichCmd() *cobra.Command {
	var opts pipeline.RunOptions
	var workers int
	var fast bool

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Fetches OMDb metadata for movies that are not yet enriched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := initializeConfigAndLogger()
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Enrich.Workers = workers
			}

			if fast {
				p, err := pipeline.NewPipeline(cfg, log, nil)
				if err != nil {
					return err
				}
				defer closePipeline(p)

				candidates, err := p.PlanEnrichment(cmd.Context(), opts)
				if err != nil {
					return fmt.Errorf("error selecting candidates: %w", err)
				}
				for _, c := range candidates {
					year := ""
					if c.Year != nil {
						year = fmt.Sprint(*c.Year)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", c.MovieID, c.Title, year)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d movies would be looked up\n", len(candidates))
				return nil
			}

			client, err := extract.NewOMDbClient(cfg, log)
			if err != nil {
				return fmt.Errorf("error creating HTTP client: %w", err)
			}

			p, err := pipeline.NewPipeline(cfg, log, nil)
			if err != nil {
				return err
			}
			defer closePipeline(p)

			summary, err := p.EnrichMissing(cmd.Context(), client, opts)
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d selected, %d enriched, %d not found, %d failed, %d retries, %d cache hits\n",
				summary.RunID, summary.Selected, summary.Enriched, summary.NotFound, summary.Failed, summary.Retries, summary.CacheHits)
			if err != nil {
				return fmt.Errorf("error enriching movies: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.BatchSize, "batch", 0, "maximum number of movies to process (0 uses enrich.batch_size)")
	cmd.Flags().BoolVar(&opts.Reprocess, "reprocess", false, "reset failed movies to pending before selecting")
	cmd.Flags().BoolVar(&opts.OnlyRated, "only-rated", false, "only consider movies with at least one rating")
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent lookups (0 uses enrich.workers)")
	cmd.Flags().BoolVar(&fast, "fast", false, "list the pending movies without calling OMDb or changing any state")

	return cmd
}
