package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/internal/demo"
	"github.com/baxromumarov/taskflow/internal/scenario"
)

// maxParallelLoads bounds concurrent scenario file reads.
const maxParallelLoads = 4

func newRunCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run [scenario.yaml...]",
		Short: "Run stream scenarios",
		Long: `Run every scenario in the given YAML files concurrently and print what
each collector observed. Without files the built-in scenarios run.

A scenario with an expect list fails the command when the observed values
differ.

Examples:
  # Run the built-in scenarios
  taskflow run

  # Run your own, with metrics exposed while they run
  taskflow run --metrics-addr :9090 conflate.yaml latest.yaml`,
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			scenarios, err := loadScenarios(cmd.Context(), args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			runner := scenario.NewRunner(a.sched, a.logger).WithBufferStrategy(a.cfg.Strategy())
			reports, err := runner.RunAll(ctx, scenarios)
			if err != nil {
				return err
			}

			var mismatched []string
			for i, rep := range reports {
				fmt.Fprintln(cmd.OutOrStdout(), rep)
				if !rep.Matches(scenarios[i]) {
					mismatched = append(mismatched, rep.Name)
				}
			}
			if len(mismatched) > 0 {
				return fmt.Errorf("unexpected values in: %s", strings.Join(mismatched, ", "))
			}
			return nil
		}),
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "cancel every scenario after this long (0 disables)")
	return cmd
}

// loadScenarios reads the files concurrently and keeps their order.
func loadScenarios(ctx context.Context, paths []string) ([]scenario.Scenario, error) {
	if len(paths) == 0 {
		return scenario.Builtin(), nil
	}

	loaded := make([][]scenario.Scenario, len(paths))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)
	for i, path := range paths {
		g.Go(func() error {
			s, err := scenario.LoadFile(path)
			if err != nil {
				return err
			}
			loaded[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []scenario.Scenario
	for _, s := range loaded {
		out = append(out, s...)
	}
	return out, nil
}

func newDemoCmd(a *app) *cobra.Command {
	var (
		latency time.Duration
		rps     float64
		fail    bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Refresh a view from a slow repository",
		Long: `Fetch categories on the IO dispatcher, then save each one to a store and
render it on the single-threaded main dispatcher, all inside one scope.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			src := &demo.StaticSource{
				Items: []demo.Category{
					{ID: 1, Title: "books"},
					{ID: 2, Title: "music"},
					{ID: 3, Title: "games"},
				},
				Latency: latency,
				Fail:    fail,
			}
			repo := demo.NewRepository(src, a.sched.IO(), rps, a.logger)
			view := demo.NewView(a.sched.Main(), a.logger)
			store := demo.NewStore()

			err := a.sched.Run(cmd.Context(), func(ctx context.Context, _ *taskflow.Scope) error {
				return demo.Refresh(ctx, repo, view, store)
			}, taskflow.WithName("demo"))
			if err != nil {
				return fmt.Errorf("demo: %w", err)
			}

			for _, line := range view.Rendered() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d categories\n", store.Len())
			return nil
		}),
	}
	cmd.Flags().DurationVar(&latency, "latency", 200*time.Millisecond, "simulated repository latency")
	cmd.Flags().Float64Var(&rps, "rps", 0, "repository request rate limit (0 disables)")
	cmd.Flags().BoolVar(&fail, "fail", false, "make the repository fail")
	return cmd
}

func newScenariosCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "Print the built-in scenarios as YAML",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			return scenario.Encode(cmd.OutOrStdout(), scenario.Builtin()...)
		}),
	}
}
