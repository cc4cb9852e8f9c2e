package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dams-sync/internal/models"
)

const version = "1.0.0"

// Exit codes
const (
	exitOK            = 0
	exitFailure       = 1
	exitConfiguration = 2
	exitInvariant     = 3
)

var (
	settingsFile string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "damsync",
	Short: "Synchronize reservoir observations into tabular and structured files",
	Long: `damsync reads dam observations from the source database, caches the raw
payload of every variable and timestep in an ancillary file, reduces it to one
row per dam and writes CSV (and optionally JSON) destination files.

Runs are idempotent: a timestep whose destination file exists is not fetched
again, and the ancillary cache is cleared after every run when
flags.clean_ancillary is set.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&settingsFile, "settings", "s", "damsync.json", "Settings file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level from the settings file")
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps an error to the process exit status
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		configErr     *models.ConfigurationError
		configErrs    models.ConfigurationErrors
		credentialErr *models.CredentialResolutionError
		invariantErr  *models.PipelineInvariantError
	)
	switch {
	case errors.As(err, &invariantErr):
		return exitInvariant
	case errors.As(err, &configErrs), errors.As(err, &configErr), errors.As(err, &credentialErr):
		return exitConfiguration
	default:
		return exitFailure
	}
}
