package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

func newRunCmd() *cobra.Command {
	var specName, documentID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create and execute a pipeline run for a document, blocking until it reaches a terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if specName == "" || documentID == "" {
				return fmt.Errorf("%w: run requires --spec and --document", errUsage)
			}
			docID, err := uuid.Parse(documentID)
			if err != nil {
				return fmt.Errorf("%w: --document %q: %v", domain.ErrValidationFailed, documentID, err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			deps, err := openDeps(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			runID, err := deps.pipeline.CreateRun(cmd.Context(), specName, docID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s created\n", runID)

			execErr := deps.pipeline.Execute(cmd.Context(), runID)
			run, getErr := deps.runs.Get(cmd.Context(), runID)
			if getErr != nil {
				if execErr != nil {
					return execErr
				}
				return getErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s ended in state %s\n", run.ID, run.State)
			if run.State == domain.RunFailed {
				return fmt.Errorf("%w: run %s: %v", errPipelineFailed, run.ID, execErr)
			}
			return execErr
		},
	}
	cmd.Flags().StringVar(&specName, "spec", "", "registered pipeline spec name")
	cmd.Flags().StringVar(&documentID, "document", "", "document id to run the pipeline against")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run_id>",
		Short: "Print a pipeline run's current state and per-stage states",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: status requires exactly one run id", errUsage)
			}
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: run id %q: %v", domain.ErrValidationFailed, args[0], err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			deps, err := openDeps(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			run, err := deps.runs.Get(cmd.Context(), runID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", run.ID, run.State)
			for id, st := range run.StageStates {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", id, st)
			}
			for _, w := range run.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "  warning: %s\n", w)
			}
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run_id>",
		Short: "Request cooperative cancellation of a running pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: cancel requires exactly one run id", errUsage)
			}
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: run id %q: %v", domain.ErrValidationFailed, args[0], err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			deps, err := openDeps(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.pipeline.Cancel(cmd.Context(), runID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s cancellation requested\n", runID)
			return nil
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run_id>",
		Short: "Resume a non-terminal or failed pipeline run, blocking until it reaches a terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: resume requires exactly one run id", errUsage)
			}
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("%w: run id %q: %v", domain.ErrValidationFailed, args[0], err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			deps, err := openDeps(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			execErr := deps.pipeline.Resume(cmd.Context(), runID)
			run, getErr := deps.runs.Get(cmd.Context(), runID)
			if getErr != nil {
				if execErr != nil {
					return execErr
				}
				return getErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s ended in state %s\n", run.ID, run.State)
			if run.State == domain.RunFailed {
				return fmt.Errorf("%w: run %s: %v", errPipelineFailed, run.ID, execErr)
			}
			return execErr
		},
	}
}
