package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantuminterface/qicode/internal/qicode"
	"github.com/quantuminterface/qicode/internal/store"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Database string // archive path
	Limit    int    // newest builds to show, non-positive shows all
}

// ListReport is the JSON form of the archive listing.
type ListReport struct {
	Builds []buildEntry `json:"builds"`
}

type buildEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	Cells     int    `json:"cells"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List archived builds",
		Long:          `List the builds in the archive, newest first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "build archive path")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "newest builds to show (0 shows all)")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	if opts.Database == "" {
		return outputCommandError(formatter, string(qicode.CodeStoreFailed), "--db is required")
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return outputCommandError(formatter, string(qicode.CodeStoreFailed), err.Error())
	}
	defer st.Close()

	builds, err := st.ListBuilds(cmd.Context(), opts.Limit)
	if err != nil {
		return outputCommandError(formatter, string(qicode.CodeStoreFailed), err.Error())
	}
	formatter.VerboseLog("Archive %s holds %d build(s) within the limit", opts.Database, len(builds))

	return outputList(formatter, opts.Database, builds)
}

// outputList outputs the archive listing.
func outputList(formatter *OutputFormatter, path string, builds []store.BuildSummary) error {
	if formatter.Format == "json" {
		report := &ListReport{Builds: []buildEntry{}}
		for _, b := range builds {
			report.Builds = append(report.Builds, buildEntry{
				ID:        b.ID,
				Name:      b.Name,
				CreatedAt: b.CreatedAt.Format(time.RFC3339Nano),
				Cells:     b.CellCount,
			})
		}
		return formatter.Success(report)
	}

	// Human-readable text output
	if len(builds) == 0 {
		fmt.Fprintf(formatter.Writer, "no builds archived in %s\n", path)
		return nil
	}

	fmt.Fprintf(formatter.Writer, "✓ %d build(s) archived\n\n", len(builds))
	for _, b := range builds {
		fmt.Fprintf(formatter.Writer, "  %s  %s  %d cell(s)  %s\n",
			b.ID, b.CreatedAt.Format(time.RFC3339), b.CellCount, b.Name)
	}

	return nil
}
