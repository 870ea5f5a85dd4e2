package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmin1219/voku/internal/app"
	"github.com/jmin1219/voku/internal/buildconfig"
	"github.com/jmin1219/voku/internal/config"
	"github.com/jmin1219/voku/internal/service"
)

// appOpener is swapped in tests to run commands against a prepared App.
var appOpener = func(ctx context.Context) (*app.App, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}
	logger, err := config.NewLogger()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, logger)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vokuctl",
		Short:         "Operate a voku belief ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newIngestCmd(),
		newProcessCmd(),
		newRebuildThreadsCmd(),
		newRetrieveCmd(),
		newTimelineCmd(),
		newThreadsCmd(),
		newVersionCmd(),
	)
	return root
}

// withApp opens the ledger for the duration of one command.
func withApp(fn func(ctx context.Context, a *app.App, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := appOpener(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, cmd.OutOrStdout(), args)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE",
		Short: "Ingest a JSON file of propositions and/or messages",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var file service.DropFile
			if err := json.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			r, err := a.Ingest.IngestFile(ctx, file, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			return printJSON(out, r)
		}),
	}
}

func newProcessCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Classify new propositions against the ledger",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			var (
				r   *service.RunResult
				err error
			)
			if from == "" && to == "" {
				r, err = a.Engine.Run(ctx)
			} else {
				r, err = runWindow(ctx, a.Engine, from, to)
			}
			if err != nil {
				return err
			}
			return printJSON(out, r)
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "reprocess from this RFC 3339 time (leaves the watermark alone)")
	cmd.Flags().StringVar(&to, "to", "", "end of the reprocessing window")
	return cmd
}

func newRebuildThreadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-threads",
		Short: "Recompute every thread surface",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			threads, err := a.Threads.RebuildAll(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "rebuilt %d threads\n", len(threads))
			return err
		}),
	}
}

func newRetrieveCmd() *cobra.Command {
	var (
		limit   int
		history bool
		weight  float64
	)
	cmd := &cobra.Command{
		Use:   "retrieve QUERY",
		Short: "Rank propositions for a query",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			results, err := a.Retrieval.Retrieve(ctx, service.RetrieveOpts{
				Query:          args[0],
				Limit:          limit,
				TemporalWeight: &weight,
				IncludeHistory: history,
			})
			if err != nil {
				return err
			}
			return printJSON(out, results)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", service.DefaultRetrieveLimit, "maximum results")
	cmd.Flags().BoolVar(&history, "history", false, "include superseded and archived statements without penalty")
	cmd.Flags().Float64Var(&weight, "weight", service.DefaultTemporalWeight, "temporal weight in [0,1]")
	return cmd
}

func newTimelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline TOPIC",
		Short: "Show how beliefs on a topic evolved",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, args []string) error {
			tl, err := a.Retrieval.Timeline(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(out, tl)
		}),
	}
}

func newThreadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List thread surfaces",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, out io.Writer, _ []string) error {
			threads, err := a.Retrieval.ThreadSurfaces(ctx)
			if err != nil {
				return err
			}
			return printJSON(out, threads)
		}),
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "vokuctl", buildconfig.String())
			return err
		},
	}
}

func runWindow(ctx context.Context, engine *service.ProcessEngine, from, to string) (*service.RunResult, error) {
	start, err := parseFlagTime("from", from)
	if err != nil {
		return nil, err
	}
	end, err := parseFlagTime("to", to)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = timeNow().UTC()
	}
	return engine.RunWindow(ctx, start, end)
}

var timeNow = time.Now

func parseFlagTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}
