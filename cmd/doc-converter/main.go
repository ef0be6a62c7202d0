// Package main provides the doc-converter CLI entrypoint.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/spherical/doc-converter/internal/config"
	"github.com/spherical/doc-converter/internal/observability"
)

const version = "1.0.0"

var (
	// Global flags
	cfgFile    string
	outputJSON bool
	verbose    bool

	// Configuration and logger
	cfg    *config.Config
	logger zerolog.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "doc-converter",
	Short: "Convert documents to markdown through a remote conversion service",
	Long: `doc-converter uploads a document (PDF, Word, PowerPoint or image) to the
MinerU batch API, waits for the job to finish and unpacks the result into
markdown plus extracted images.

Environment Variables:
  MINERU_API_TOKEN      API token (required)
  MINERU_BASE_URL       Override the API base URL (optional)
  LOG_LEVEL             trace, debug, info, warn, error (optional)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}
		logFormat := cfg.Observability.LogFormat
		if outputJSON {
			logFormat = "json"
		}

		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      logFormat,
			ServiceName: "doc-converter",
		})

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newConvertCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				_ = json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"version": version,
					"go":      runtime.Version(),
				})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "doc-converter version %s\n", version)
		},
	}
}
