package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"riskaudit/internal/fileutil"
	"riskaudit/internal/importer"
	"riskaudit/internal/services"
	"riskaudit/internal/store"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upload and import county files",
	}
	importCmd.AddCommand(newImportFileCommand(ctx, store.FileCVR, "cvr <county> <file>", "Import a cast vote record export (JSON lines)"))
	importCmd.AddCommand(newImportFileCommand(ctx, store.FileManifest, "manifest <county> <file>", "Import a ballot manifest (JSON lines)"))
	return importCmd
}

func newImportFileCommand(ctx *commandContext, kind store.FileKind, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}

			return ctx.withEngine(cmd, func(s *session) error {
				county, err := s.engine.LookupCounty(s.ctx, args[0])
				if err != nil {
					return err
				}
				archived, err := fileutil.ArchiveUpload(path, uploadDir(s, county.ID))
				if err != nil {
					return fmt.Errorf("archive %s: %w", path, err)
				}
				file, err := os.Open(archived.Path)
				if err != nil {
					return fmt.Errorf("open %s: %w", archived.Path, err)
				}
				defer file.Close()

				runCtx := services.WithCountyID(s.ctx, county.ID)
				upload, err := s.engine.RegisterUpload(runCtx, county.ID, kind, filepath.Base(path), archived.Digest)
				if err != nil {
					return err
				}

				var task *importer.Task
				switch kind {
				case store.FileCVR:
					src, err := importer.NewCVRReader(file)
					if err != nil {
						return err
					}
					task, err = s.engine.ImportCVRs(runCtx, upload.ID, src)
					if err != nil {
						return err
					}
				default:
					task, err = s.engine.ImportManifest(runCtx, upload.ID, importer.NewManifestReader(file))
					if err != nil {
						return err
					}
				}

				result, err := task.Wait(runCtx)
				if err != nil {
					return err
				}
				if result.Err != nil {
					return fmt.Errorf("import %s (file %d): %w", filepath.Base(path), upload.ID, result.Err)
				}
				if ctx.wantJSON() {
					return writeJSON(cmd, map[string]any{
						"file_id":     upload.ID,
						"import_id":   task.ImportID,
						"rows":        result.Rows,
						"ballots":     result.Ballots,
						"duration_ms": result.Duration.Milliseconds(),
					})
				}
				noun := "CVRs"
				if kind == store.FileManifest {
					noun = "manifest batches"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s %s (%s ballots, %s) from %s as file %d\n",
					humanize.Comma(int64(result.Rows)), noun,
					humanize.Comma(int64(result.Ballots)), humanize.Bytes(uint64(archived.Size)),
					filepath.Base(path), upload.ID)
				return nil
			})
		},
	}
}

// uploadDir is where a county's uploads are archived before import.
func uploadDir(s *session, countyID int64) string {
	return filepath.Join(s.cfg.Paths.DataDir, "uploads", strconv.FormatInt(countyID, 10))
}

func newFileCommand(ctx *commandContext) *cobra.Command {
	fileCmd := &cobra.Command{
		Use:   "file",
		Short: "Manage uploaded files",
	}
	fileCmd.AddCommand(&cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete an uploaded file and the rows it imported",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid file id %q", args[0])
			}
			return ctx.withEngine(cmd, func(s *session) error {
				if err := s.engine.DeleteFile(s.ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted file %d\n", id)
				return nil
			})
		},
	})
	return fileCmd
}
