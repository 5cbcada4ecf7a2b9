package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/pkg/config"
)

// Exit codes. A scripted caller branches on these instead of parsing stderr:
// usage mistakes, validation failures, pipeline failures, and backend
// unavailability are distinct conditions with different retry semantics.
const (
	ExitSuccess            = 0
	ExitGeneralError       = 1
	ExitUsage              = 2
	ExitValidationFailed   = 3
	ExitPipelineFailed     = 4
	ExitBackendUnavailable = 5
)

// errUsage marks an argument or flag mistake the caller can fix without any
// backend round-trip, kept distinct from a validation failure the backend
// itself rejected.
var errUsage = errors.New("docctl: usage error")

// errPipelineFailed marks a run that executed to a terminal failed state, as
// opposed to a request the backend refused outright.
var errPipelineFailed = errors.New("docctl: pipeline run failed")

var cfgFlags = config.New()

var rootCmd = &cobra.Command{
	Use:           "docctl",
	Short:         "Operate the document processing backbone",
	Long:          "docctl drives uploads, pipeline runs, and dataset export against the backbone's storage and Neo4j backends.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.BindFlags(cfgFlags, rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().String("state-db", "./data/state.db", "bolt-backed state database path")
	rootCmd.PersistentFlags().String("pipeline-spec-dir", "./specs", "pipeline spec directory")
	cfgFlags.BindPFlag("state_db_path", rootCmd.PersistentFlags().Lookup("state-db"))
	cfgFlags.BindPFlag("pipeline_spec_dir", rootCmd.PersistentFlags().Lookup("pipeline-spec-dir"))

	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCancelCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newExportCmd())
}

func loadConfig() (config.Config, error) {
	if err := config.Load(cfgFlags, ""); err != nil {
		return config.Config{}, err
	}
	return config.Unmarshal(cfgFlags)
}

// Execute runs the root command and exits with the code getExitCode derives
// from whatever error (if any) surfaces.
func Execute() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "docctl:", err)
	}
	os.Exit(getExitCode(err))
}

func getExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch {
	case errors.Is(err, errUsage):
		return ExitUsage
	case errors.Is(err, domain.ErrValidationFailed):
		return ExitValidationFailed
	case errors.Is(err, errPipelineFailed):
		return ExitPipelineFailed
	case errors.Is(err, domain.ErrStorageUnavailable), errors.Is(err, domain.ErrBackendDown):
		return ExitBackendUnavailable
	default:
		return ExitGeneralError
	}
}
