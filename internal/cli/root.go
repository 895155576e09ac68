// Package cli implements the taskflow command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/config"
	"github.com/baxromumarov/taskflow/logging"
	"github.com/baxromumarov/taskflow/metrics"
)

// Execute runs the root command. Cancelling ctx cancels every running task.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// app is the runtime shared by every subcommand. It is built before the
// subcommand runs and torn down after it.
type app struct {
	cfg       *config.Config
	logger    logging.Logger
	sched     *taskflow.Scheduler
	collector *metrics.Collector
	registry  *prometheus.Registry

	server      *http.Server
	metricsAddr string
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "taskflow",
		Short: "Structured concurrency and cold streams",
		Long: `taskflow runs stream scenarios and demos on a structured-concurrency
scheduler. Every task belongs to a scope, failures propagate to the parent
and cancellation reaches every descendant.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/taskflow/taskflow.yaml)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(newRunCmd(a), newDemoCmd(a), newScenariosCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	v := config.New(path)
	_ = v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	if flags.Changed("log-level") {
		_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	}
	if err := config.Read(v, path != ""); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = cfg.LoggerTo(cmd.ErrOrStderr())
	a.collector = metrics.New(cfg.Metrics.Namespace)
	a.registry = prometheus.NewRegistry()
	if err := a.registry.Register(a.collector); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	opts := append(cfg.SchedulerOptions(a.logger), taskflow.WithObserver(a.collector.Observe))
	a.sched = taskflow.NewScheduler(opts...)
	a.collector.Watch(a.sched)

	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr); err != nil {
			return errors.Join(err, a.teardown(cmd.Context()))
		}
	}
	return nil
}

// run wraps a subcommand so the runtime built by setup is torn down
// whether or not the subcommand succeeds.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			err = errors.Join(err, a.teardown(cmd.Context()))
		}()
		return fn(cmd, args)
	}
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen: %w", err)
	}
	a.metricsAddr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.metricsAddr)
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.sched != nil {
		errs = append(errs, a.sched.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
