package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/r3e-labs/docbackbone/engine/domain"
	"github.com/r3e-labs/docbackbone/engine/export"
)

func newExportCmd() *cobra.Command {
	var format string
	var documents []string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one or more documents' finalized elements to stdout in the requested format",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(documents) == 0 {
				return fmt.Errorf("%w: export requires --documents", errUsage)
			}
			f := export.Format(strings.ToLower(format))
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			deps, err := openDeps(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			reg := export.NewRegistry()
			for _, raw := range documents {
				docID, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("%w: --documents %q: %v", domain.ErrValidationFailed, raw, err)
				}
				elements, err := deps.graph.FindByDocument(cmd.Context(), raw)
				if err != nil {
					return err
				}
				doc := export.Document{ID: docID, Elements: elements}
				if err := reg.Write(cmd.Context(), f, cmd.OutOrStdout(), doc); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "jsonl", "export format: jsonl|markdown|chatml|alpaca|sharegpt")
	cmd.Flags().StringSliceVar(&documents, "documents", nil, "document ids to export")
	return cmd
}
