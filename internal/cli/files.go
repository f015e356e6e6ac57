package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/storagex/pkg/app"
	"github.com/matzehuels/storagex/pkg/config"
	serrors "github.com/matzehuels/storagex/pkg/errors"
	"github.com/matzehuels/storagex/pkg/manager"
	"github.com/matzehuels/storagex/pkg/metadata"
	"github.com/matzehuels/storagex/pkg/storage"
)

// uploadCommand creates the "upload" command.
func (c *CLI) uploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Split files into chunks and store them on the configured backends",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBundle(ctx, func(_ *config.Config, b *app.Bundle) error {
				for i, path := range args {
					spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Uploading %s...", filepath.Base(path)))
					spinner.Start()
					f, err := b.Storage.UploadFile(ctx, path)
					if err != nil {
						spinner.StopWithError(fmt.Sprintf("%s: %s", path, serrors.UserMessage(err)))
						return err
					}
					spinner.StopWithSuccess("Uploaded " + f.FileName)

					backends := 0
					if info, err := b.Storage.Stat(ctx, f.FileName); err == nil {
						backends = countBackends(info.Chunks)
					}
					printFileStats(f.TotalSize, f.ChunkCount, backends)
					if i == len(args)-1 {
						printNextStep("Download it again", appName+" download "+f.FileName)
					}
				}
				return nil
			})
		},
	}
}

// downloadCommand creates the "download" command.
func (c *CLI) downloadCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <name>",
		Short: "Reassemble a stored file",
		Long: `Download fetches every chunk of a file, checks each checksum and the
whole-file hash, and only then writes the result. Nothing is written when
any check fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]
			if output == "" {
				output = name
			}
			return c.withBundle(ctx, func(_ *config.Config, b *app.Bundle) error {
				spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Downloading %s...", name))
				spinner.Start()
				n, err := b.Storage.DownloadFile(ctx, name, output)
				if err != nil {
					spinner.StopWithError(serrors.UserMessage(err))
					return err
				}
				spinner.StopWithSuccess(fmt.Sprintf("Downloaded %s (%s)", name, formatSize(n)))
				printFile(output)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: the file name)")
	return cmd
}

// rmCommand creates the "rm" command.
func (c *CLI) rmCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>...",
		Aliases: []string{"delete"},
		Short:   "Delete stored files and their chunks",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBundle(ctx, func(_ *config.Config, b *app.Bundle) error {
				var errs []error
				for _, name := range args {
					if err := b.Storage.Delete(ctx, name); err != nil {
						printError("%s: %s", name, serrors.UserMessage(err))
						errs = append(errs, err)
						continue
					}
					printSuccess("Deleted %s", name)
				}
				return errors.Join(errs...)
			})
		},
	}
}

// lsCommand creates the "ls" command.
func (c *CLI) lsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List stored files",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBundle(ctx, func(_ *config.Config, b *app.Bundle) error {
				files, err := b.Storage.List(ctx)
				if err != nil {
					return err
				}
				if len(files) == 0 {
					printInfo("No files stored")
					printNextStep("Store one", appName+" upload <file>")
					return nil
				}
				fmt.Println(filesTable(files))
				return nil
			})
		},
	}
}

// infoCommand creates the "info" command.
func (c *CLI) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show a file record and where its chunks are stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBundle(ctx, func(_ *config.Config, b *app.Bundle) error {
				info, err := b.Storage.Stat(ctx, args[0])
				if err != nil {
					return err
				}
				printFileInfo(info)
				return nil
			})
		},
	}
}

// verifyCommand creates the "verify" command.
func (c *CLI) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <name>...",
		Short: "Fetch files and check every chunk checksum without writing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)
			return c.withBundle(ctx, func(_ *config.Config, b *app.Bundle) error {
				var errs []error
				for _, name := range args {
					prog := newProgress(logger)
					n, err := b.Storage.Verify(ctx, name)
					if err != nil {
						printError("%s: %s", name, serrors.UserMessage(err))
						errs = append(errs, err)
						continue
					}
					prog.done("Verified "+name, n)
					printSuccess("%s is intact (%s)", name, formatSize(n))
				}
				return errors.Join(errs...)
			})
		},
	}
}

// backendsCommand creates the "backends" command.
func (c *CLI) backendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Show the configured backends and their free space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withBundle(ctx, func(cfg *config.Config, b *app.Bundle) error {
				printKeyValue("Placement", cfg.Placement)
				printKeyValue("Metadata", cfg.Metadata.Driver)
				printNewline()
				fmt.Println(backendsTable(b.Storage.Status(ctx)))
				return nil
			})
		},
	}
}

// =============================================================================
// Rendering
// =============================================================================

var headerStyle = lipgloss.NewStyle().Foreground(colorGray).Bold(true)

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func filesTable(files []metadata.FileMetadata) string {
	t := newTable().Headers("Name", "Size", "Chunks", "Status", "Created")
	for _, f := range files {
		t.Row(f.FileName, formatSize(f.TotalSize), strconv.Itoa(f.ChunkCount), formatStatus(f.Status), formatAge(f.CreatedAt))
	}
	return t.Render()
}

func chunksTable(chunks []metadata.ChunkMetadata) string {
	t := newTable().Headers("#", "Chunk", "Size", "Backend")
	for _, ch := range chunks {
		t.Row(strconv.FormatUint(ch.Index, 10), ch.ChunkName, formatSize(ch.Size), ch.StorageID)
	}
	return t.Render()
}

func backendsTable(status []manager.BackendStatus) string {
	t := newTable().Headers("Backend", "Provider", "Free", "Status")
	for _, s := range status {
		state := StyleSuccess.Render("ok")
		if s.Error != "" {
			state = StyleWarning.Render(s.Error)
		}
		t.Row(s.ID, s.Provider, formatFree(s.Free), state)
	}
	return t.Render()
}

func printFileInfo(info *storage.FileInfo) {
	f := info.File
	printKeyValue("File", f.FileName)
	printKeyValue("Size", formatSize(f.TotalSize))
	printKeyValue("Chunks", strconv.Itoa(f.ChunkCount))
	printKeyValue("Status", formatStatus(f.Status))
	printKeyValue("Created", formatAge(f.CreatedAt))
	if f.Checksum != "" {
		printKeyValue("SHA-256", f.Checksum)
	}
	if len(info.Chunks) > 0 {
		printNewline()
		fmt.Println(chunksTable(info.Chunks))
	}
}

// countBackends returns the number of distinct backends holding chunks.
func countBackends(chunks []metadata.ChunkMetadata) int {
	seen := make(map[string]struct{}, len(chunks))
	for _, ch := range chunks {
		seen[ch.StorageID] = struct{}{}
	}
	return len(seen)
}
