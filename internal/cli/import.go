package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/framelapse/framelapse-agent/internal/export"
)

func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <project.json>",
		Short: "Import a project from a structural export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, args[0], cmd)
		},
	}
}

func runImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := export.ParseDocument(data)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.svc.ImportProject(ctx, doc.Title, doc.Settings(), doc.Frames)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported project %d: %q (%d frames)\n", p.ID, p.Title, len(p.FrameIDs))
	return nil
}
