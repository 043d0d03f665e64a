// Command sitesearch builds and serves the site search index.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/logger"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sitesearch",
	Short: "Offline-capable full-text search for a static site",
	Long: `sitesearch fetches a site's search corpus, builds per-section inverted
indexes, caches them across restarts and answers queries over HTTP, MCP or
the command line.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (SS_* env vars override it)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the config and sets up the default logger. MCP over stdio
// owns stdout, so callers in that mode log to stderr.
func loadConfig(stderrLogs bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if stderrLogs {
		logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	} else {
		logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	}
	return cfg, nil
}
