package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/r3e-labs/docbackbone/engine/domain"
)

func newIngestCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Open an upload session, stage one or more local files, and finalize it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("%w: ingest requires at least one file path", errUsage)
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

			sessionID, err := deps.uploads.OpenSession(cmd.Context(), owner, cfg.UploadSessionTTL)
			if err != nil {
				return err
			}

			var rejected int
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("%w: open %s: %v", domain.ErrValidationFailed, path, err)
				}
				declaredMIME := mime.TypeByExtension(filepath.Ext(path))
				file, uploadErr := deps.uploads.Upload(cmd.Context(), sessionID, filepath.Base(path), declaredMIME, f)
				f.Close()
				if uploadErr != nil {
					if file.Status == domain.FileRejected {
						rejected++
						var reasons []string
						if file.Validation != nil {
							reasons = file.Validation.Reasons
						}
						fmt.Fprintf(cmd.ErrOrStderr(), "rejected %s: %v\n", path, reasons)
						continue
					}
					return uploadErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", file.ID, path)
			}

			summary, err := deps.uploads.Finalize(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s finalized: %d file(s) accepted, %d rejected\n", summary.SessionID, summary.FileCount, rejected)
			if summary.FileCount == 0 {
				return fmt.Errorf("%w: no files accepted", domain.ErrValidationFailed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "docctl", "upload session owner")
	return cmd
}
