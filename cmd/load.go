package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLoadCmd() *cobra.Command {
	var moviesPath, ratingsPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Loads the MovieLens movies and ratings files into DuckDB",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline()
			if err != nil {
				return err
			}
			defer closePipeline(p)

			res, err := p.Load(cmd.Context(), moviesPath, ratingsPath, limit)
			if err != nil {
				return fmt.Errorf("error loading data: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "movies:  %d inserted, %d updated, %d unchanged, %d rejected\n",
				res.Movies.Inserted, res.Movies.Updated, res.Movies.SkippedDuplicate, res.Movies.Rejected)
			if ratingsPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "ratings: %d inserted, %d updated, %d unchanged, %d rejected\n",
					res.Ratings.Inserted, res.Ratings.Updated, res.Ratings.SkippedDuplicate, res.Ratings.Rejected)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&moviesPath, "movies", "data/movies.csv", "path to the movies CSV file")
	cmd.Flags().StringVar(&ratingsPath, "ratings", "", "path to the ratings CSV file")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of movie records to read (0 reads all); ratings of loaded movies are always kept")

	return cmd
}
