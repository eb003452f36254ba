package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/rasnes/movielens-etl/config"
	"github.com/rasnes/movielens-etl/logger"
	"github.com/rasnes/movielens-etl/pipeline"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "movielens",
	Short:         "etl cli for loading, enriching and reporting on MovieLens data",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the command context so
// that an enrichment pass can hand its current row back before exiting.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newLoadCmd())
	rootCmd.AddCommand(newEnrichCmd())
	rootCmd.AddCommand(newReportCmd())
}

func isRunningOnGitHubActions() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

func initializeConfigAndLogger() (*config.Config, *slog.Logger, error) {
	log := logger.NewLogger("info")
	if !isRunningOnGitHubActions() {
		// A missing .env is fine; the variables may come from the environment.
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Error("Error loading .env file", "error", err)
			return nil, nil, err
		}
	}

	baseConfigFile, err := os.Open("config.base.yaml")
	if err != nil {
		log.Error(fmt.Sprintf("Error opening base config file: %v", err))
		return nil, nil, err
	}
	defer baseConfigFile.Close()

	env := os.Getenv("APP_ENV")
	// envConfig stays a nil interface when there is no environment file.
	var envConfig io.Reader
	envConfigFilename := fmt.Sprintf("config.%s.yaml", env)
	if _, err := os.Stat(envConfigFilename); err == nil {
		envConfigFile, err := os.Open(envConfigFilename)
		if err != nil {
			log.Error(fmt.Sprintf("Error opening environment config file: %v", err))
			return nil, nil, err
		}
		defer envConfigFile.Close()
		envConfig = envConfigFile
	}

	cfg, err := config.NewConfig(baseConfigFile, envConfig, env)
	if err != nil {
		log.Error(fmt.Sprintf("Error reading config: %v", err))
		return nil, nil, err
	}

	return cfg, logger.NewLogger(cfg.Log.Level), nil
}

func newPipeline() (*pipeline.Pipeline, error) {
	cfg, log, err := initializeConfigAndLogger()
	if err != nil {
		return nil, err
	}
	return pipeline.NewPipeline(cfg, log, nil)
}

func closePipeline(p *pipeline.Pipeline) {
	if err := p.Close(); err != nil {
		p.Logger.Error("Error closing pipeline", "error", err)
	}
}
