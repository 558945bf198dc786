package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/framelapse/framelapse-agent/internal/export"
)

type exportOptions struct {
	Format string
	OutDir string
}

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Export a project to a file",
		Long: `Export a stored project as a structural JSON document, an animated GIF or an
mp4 video. Video exports need ffmpeg.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "gif", "export format (json|gif|video)")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "", "output directory (default: the exports dir)")

	return cmd
}

func runExport(rootOpts *RootOptions, opts *exportOptions, arg string, cmd *cobra.Command) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid project id %q", arg)
	}
	format, err := export.ParseFormat(opts.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	dir := opts.OutDir
	if dir == "" {
		dir = a.cfg.ExportsDir()
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create exports dir: %w", err)
		}
	} else if err := export.ValidateOutputDir(dir); err != nil {
		return err
	}

	p, err := a.svc.GetProject(ctx, id)
	if err != nil {
		return fmt.Errorf("project %d: %w", id, err)
	}
	frames, err := a.svc.LoadFrames(ctx, p)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return export.ErrNoFrames
	}

	pipeline, _ := a.newPipeline(dir)
	art, err := pipeline.Export(ctx, format, p, frames, func(percent float64) {
		a.logger.Debug("export progress", "project_id", id, "percent", percent)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", art.Path, humanize.Bytes(uint64(art.Size)))
	return nil
}
