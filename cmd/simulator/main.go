package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/infrastructure-simulator/core"
	"github.com/signalsfoundry/infrastructure-simulator/internal/config"
	"github.com/signalsfoundry/infrastructure-simulator/internal/federation"
	"github.com/signalsfoundry/infrastructure-simulator/internal/logging"
	"github.com/signalsfoundry/infrastructure-simulator/internal/observability"
	"github.com/signalsfoundry/infrastructure-simulator/internal/sim"
	"github.com/signalsfoundry/infrastructure-simulator/kb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

// run loads the configured scenario, simulates it and logs a summary to out.
func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	cfg, err := config.ParseConfig(fs, args)
	if err != nil {
		return err
	}

	base := logging.NewWithWriter(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, out)
	ctx, log := logging.WithRunLogger(ctx, base)
	ctx = logging.ContextWithLogger(ctx, log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		return err
	}
	if metricsSrv := serveMetrics(ctx, cfg.MetricsAddr, collector, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	loaded, err := kb.LoadScenarioFile(cfg.Scenario)
	if err != nil {
		log.Error(ctx, "failed to load scenario", logging.String("path", cfg.Scenario), logging.Err(err))
		return err
	}
	log.Info(ctx, "starting simulation",
		logging.String("scenario", loaded.Scenario.Name()),
		logging.Int("steps", cfg.Steps),
		logging.Duration("step", cfg.Step),
		logging.Int("rounds", cfg.Rounds),
		logging.Int("federates", cfg.Federates),
		logging.String("mode", cfg.TimeMode().String()),
	)

	summary, runErr := simulate(ctx, loaded.Scenario, cfg, collector)
	logSummary(ctx, log, summary)
	if runErr != nil {
		log.Error(ctx, "simulation aborted", logging.Err(runErr))
	}
	return runErr
}

func simConfig(cfg config.Config) sim.Config {
	return sim.Config{
		Rounds: cfg.Rounds,
		Step:   cfg.Step,
		Verify: cfg.Verify,
		Strict: cfg.Strict,
		Tolerances: sim.Tolerances{
			Absolute: cfg.Epsilon,
			Relative: cfg.RelEpsilon,
		},
		Mode: cfg.TimeMode(),
	}
}

// simulate runs scenario locally, or split across cfg.Federates in-process
// federates of which only the first verifies and records metrics.
func simulate(ctx context.Context, scenario *core.Scenario, cfg config.Config, metrics sim.MetricsRecorder) (sim.Summary, error) {
	log := logging.LoggerFromContext(ctx)
	progress := sim.WithObserver(func(e sim.TimeAdvancedEvent) {
		log.Debug(ctx, "time advanced", logging.Int("step", e.Step), logging.Time("time", e.Time))
	})

	if cfg.Federates == 1 {
		amb := federation.NewLocal(
			federation.WithParallelism(cfg.Parallelism),
			federation.WithLogger(log),
		)
		s, err := sim.New(scenario, amb, simConfig(cfg),
			sim.WithLogger(log),
			sim.WithMetricsRecorder(metrics),
			progress,
		)
		if err != nil {
			return sim.Summary{}, err
		}
		err = runFederate(ctx, s, cfg.Federation, federation.FederateName(cfg.Federation, 0), cfg.Steps)
		return s.Summary(), err
	}

	parts, err := federation.Partition(scenario, cfg.Federates)
	if err != nil {
		return sim.Summary{}, err
	}
	bus, err := federation.NewBus(cfg.Federation, len(parts))
	if err != nil {
		return sim.Summary{}, err
	}

	sims := make([]*sim.Simulator, len(parts))
	for i, owned := range parts {
		name := federation.FederateName(cfg.Federation, i)
		fedLog := log.With(logging.String("federate", name))
		simCfg := simConfig(cfg)
		opts := []sim.Option{sim.WithLogger(fedLog)}
		if i == 0 {
			opts = append(opts, sim.WithMetricsRecorder(metrics), progress)
		} else {
			simCfg.Verify, simCfg.Strict = false, false
		}
		amb := bus.Federate(owned,
			federation.WithParallelism(cfg.Parallelism),
			federation.WithLogger(fedLog),
		)
		fedLog.Info(ctx, "federate configured",
			logging.String("owns", strings.Join(amb.Owned(), ",")),
			logging.Bool("verify", simCfg.Verify),
		)
		s, err := sim.New(scenario, amb, simCfg, opts...)
		if err != nil {
			return sim.Summary{}, err
		}
		sims[i] = s
	}

	errs := make([]error, len(sims))
	var g errgroup.Group
	for i, s := range sims {
		g.Go(func() error {
			errs[i] = runFederate(ctx, s, bus.Name(), federation.FederateName(bus.Name(), i), cfg.Steps)
			return errs[i]
		})
	}
	_ = g.Wait()
	return sims[0].Summary(), rootCause(errs)
}

func runFederate(ctx context.Context, s *sim.Simulator, federationName, federate string, steps int) error {
	if err := s.Connect(ctx, federationName, federate); err != nil {
		return err
	}
	defer func() { _ = s.Disconnect(ctx, federationName) }()

	if err := s.Initialize(ctx); err != nil {
		return err
	}
	return s.Run(ctx, steps)
}

// rootCause prefers the error that closed the bus over the ErrBusClosed
// seen by the federates it stopped.
func rootCause(errs []error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, federation.ErrBusClosed) {
			return err
		}
		if first == nil {
			first = err
		}
	}
	return first
}

func logSummary(ctx context.Context, log logging.Logger, summary sim.Summary) {
	names := make([]string, 0, len(summary.Inventories))
	for name := range summary.Inventories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		log.Info(ctx, "final inventory",
			logging.String("element", name),
			logging.String("contents", summary.Inventories[name].String()),
		)
	}
	log.Info(ctx, "run complete",
		logging.Int("steps", summary.Steps),
		logging.Time("time", summary.Time),
		logging.Int("violations", summary.Violations),
	)
	if summary.Violations > 0 {
		log.Warn(ctx, "conservation warnings during run", logging.Int("count", summary.Violations))
	}
}

func serveMetrics(ctx context.Context, addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
