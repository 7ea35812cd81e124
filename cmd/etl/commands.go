package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/humanitarian-data-etl/internal/adapter/http"
	"github.com/couchcryptid/humanitarian-data-etl/internal/gazetteer"
	"github.com/couchcryptid/humanitarian-data-etl/internal/pipeline"
	"github.com/couchcryptid/humanitarian-data-etl/internal/source"
	"github.com/couchcryptid/humanitarian-data-etl/internal/unmatched"
)

type runFlags struct {
	force   bool
	jsonOut bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.force, "force", false, "ignore stored dates and provider refresh cadence")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the run report as JSON")
}

func newRunCmd(c *cli) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Retrieve and process every (source, variable) unit once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runOnce(cmd, f, func(ctx context.Context, o *pipeline.Orchestrator) (pipeline.RunReport, error) {
				return o.Run(ctx)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newRetrieveCmd(c *cli) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Fetch raw provider data into the raw data directory without processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runOnce(cmd, f, func(ctx context.Context, o *pipeline.Orchestrator) (pipeline.RunReport, error) {
				return o.RetrieveOnly(ctx)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newProcessCmd(c *cli) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process the newest stored raw data for every unit without network calls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runOnce(cmd, f, func(ctx context.Context, o *pipeline.Orchestrator) (pipeline.RunReport, error) {
				return o.ProcessLatest(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the run report as JSON")
	return cmd
}

func (c *cli) runOnce(cmd *cobra.Command, f runFlags, run func(context.Context, *pipeline.Orchestrator) (pipeline.RunReport, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.Error("close sinks", "error", err)
		}
	}()

	report, err := run(ctx, a.orchestrator(f.force))
	if err != nil {
		return err
	}
	if f.jsonOut {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), report)
	}
	if n := report.Count(pipeline.StatusFailed); n > 0 {
		return fmt.Errorf("%d of %d units failed", n, len(report.Units))
	}
	return nil
}

func newServeCmd(c *cli) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on a schedule and expose health, metrics, and unmatched endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				interval = c.cfg.RunInterval
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					c.logger.Error("close sinks", "error", err)
				}
			}()

			o := a.orchestrator(false)
			srv := httpadapter.NewServer(c.cfg.HTTPAddr, o, a.recorder, o, a.clock, c.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				return o.Serve(gctx, interval)
			})
			g.Go(func() error {
				<-gctx.Done()
				c.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			err = g.Wait()
			c.logger.Info("shutdown complete")
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between runs (default: RUN_INTERVAL)")
	return cmd
}

func newCheckCmd(c *cli) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe connectivity, authentication, and data retrieval for each source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // nothing was written

			results := make([]source.CheckResult, len(a.adapters))
			g, gctx := errgroup.WithContext(ctx)
			for i, ad := range a.adapters {
				g.Go(func() error {
					results[i] = source.Check(gctx, ad, a.clock)
					return nil
				})
			}
			_ = g.Wait()

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tCONNECTIVITY\tAUTH\tDATA\tOVERALL\tBYTES\tERROR")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.Source, r.Connectivity, r.Authentication, r.DataRetrieval, r.Overall, r.Bytes, source.Clip(r.Error, 80))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print results as JSON")
	return cmd
}

func newUnmatchedCmd(c *cli) *cobra.Command {
	var since time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "unmatched",
		Short: "Summarize provider locations the gazetteer could not resolve",
		Long: `
Lists unmatched locations recorded in PostgreSQL (DATABASE_URL). Without a
database the registry only lives for one process, so use the /unmatched
endpoint of "etl serve" instead.
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck // read only

			locs, err := a.recorder.Summary(cmd.Context(), a.clock.Now().Add(-since), limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), unmatched.Message(locs))
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "only locations seen within this window")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum locations to list")
	return cmd
}

func newGazetteerCmd(_ *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gazetteer",
		Short: "Gazetteer seed tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Load a gazetteer seed file and report its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := gazetteer.LoadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d locations\n", args[0], ix.Len())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tENTRIES")
			for _, s := range ix.Sources() {
				fmt.Fprintf(tw, "%s\t%d\n", s, len(ix.Entries(s)))
			}
			return tw.Flush()
		},
	})
	return cmd
}

func printReport(w io.Writer, r pipeline.RunReport) {
	fmt.Fprintf(w, "run %s (%s): %d units, %d failed, %d skipped, %d observations\n",
		r.ID, r.Mode, len(r.Units), r.Count(pipeline.StatusFailed), r.Count(pipeline.StatusSkipped), r.Observations())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tVARIABLE\tSTATUS\tPROCESSED\tSKIPPED\tERRORS\tSAVED\tERROR")
	for _, u := range r.Units {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			u.Source, u.Variable, u.Status, u.Processed, u.Skipped, u.Errors, u.Saved, source.Clip(u.Error, 80))
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
