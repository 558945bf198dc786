package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func NewProjectsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List stored projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjects(rootOpts, cmd)
		},
	}
}

func runProjects(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	a, err := openApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	projects, err := a.svc.ListProjects(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tFRAMES\tFPS\tSIZE\tUPDATED")
	for _, p := range projects {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\n",
			p.ID, p.Title, len(p.FrameIDs), p.FrameRate, p.Size, humanize.Time(p.UpdatedAt))
	}
	return tw.Flush()
}
