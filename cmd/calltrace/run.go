package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aretw0/calltrace/internal/presentation/graph"
	"github.com/aretw0/calltrace/internal/presentation/tui"
	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/threads"
	"github.com/aretw0/calltrace/pkg/trace"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <program>",
	Short: "Execute a program and show its trace",
	Long: `Executes a YAML or JSON program, printing every run state update as it
happens and the final execution tree. With --serve the HTTP API stays up
during and after the run so viewers can drill into the trace.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if cmd.Flags().Changed("listen") {
			a.cfg.Listen, _ = cmd.Flags().GetString("listen")
		}
		report, _ := cmd.Flags().GetBool("report")
		mermaid, _ := cmd.Flags().GetBool("mermaid")
		serve, _ := cmd.Flags().GetBool("serve")
		quiet, _ := cmd.Flags().GetBool("quiet")
		noBanner, _ := cmd.Flags().GetBool("no-banner")

		out := cmd.OutOrStdout()
		profile := termenv.ColorProfile()
		if !noBanner {
			tui.PrintBanner(out)
		}

		// Hooks run on the producer and the multiplexer goroutines.
		var mu sync.Mutex
		// The tree shows stored entries only, so keep every one of them.
		extra := []threads.Option{threads.WithTraceOptions(trace.WithCompaction(false))}
		if !quiet {
			extra = append(extra, threads.WithHooks(domain.TraceHooks{
				OnUpdate: func(_ context.Context, u domain.Update) {
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintln(out, tui.UpdateLine(profile, u))
				},
			}))
		}
		m := a.newManager(extra...)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		if serve {
			g.Go(func() error {
				return serveHTTP(gctx, a.logger, a.cfg.Listen, newHandler(a.logger, m, nil), m.Close)
			})
		}

		g.Go(func() error {
			th, err := execute(gctx, m, args[0], a.logger)
			if err != nil {
				return err
			}
			snap := th.Snapshot()

			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(out)
			fmt.Fprint(out, tui.RenderTree(profile, snap))

			if mermaid {
				fmt.Fprintln(out)
				fmt.Fprint(out, graph.GenerateMermaid(snap))
			}
			if report {
				md := tui.Report("Trace of "+th.Name(), snap)
				rendered, err := tui.NewRenderer()(md)
				if err != nil {
					rendered = md
				}
				fmt.Fprint(out, rendered)
			}
			if serve {
				a.logger.Info("Run complete, still serving; press Ctrl+C to stop", "addr", a.cfg.Listen)
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("report", false, "Render a markdown summary after the run")
	runCmd.Flags().Bool("mermaid", false, "Print the execution tree as a Mermaid flowchart")
	runCmd.Flags().Bool("serve", false, "Serve the HTTP API during and after the run")
	runCmd.Flags().StringP("listen", "l", ":8080", "Address to listen on with --serve (overrides config)")
	runCmd.Flags().BoolP("quiet", "q", false, "Do not print updates as they happen")
	runCmd.Flags().Bool("no-banner", false, "Do not print the banner")
}
