package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/epidemic-simulator/core"
	"github.com/signalsfoundry/epidemic-simulator/internal/logging"
	"github.com/signalsfoundry/epidemic-simulator/internal/observability"
)

func main() {
	var opts options
	flag.StringVar(&opts.ConfigDir, "config-dir", "configurations/example", "directory holding core.json and demographic.csv")
	flag.StringVar(&opts.ConfigPath, "config", "", "path to a core.json file, overrides -config-dir")
	flag.StringVar(&opts.Script, "policy", "", "path to a Lua script defining survival_chance and/or infection_chance")
	flag.IntVar(&opts.Workers, "workers", 0, "number of worker partitions (0 uses all CPUs)")
	flag.Int64Var(&opts.Seed, "seed", 0, "random seed, overrides the configuration seed")
	flag.BoolVar(&opts.RealTime, "realtime", false, "pace ticks with a wall-clock ticker instead of running accelerated")
	flag.DurationVar(&opts.Interval, "interval", 100*time.Millisecond, "wall-clock time per tick in real-time mode")
	flag.BoolVar(&opts.Progress, "progress", true, "print a progress bar")
	flag.BoolVar(&opts.Debug, "debug", false, "print the data frame and age histogram when done")
	flag.BoolVar(&opts.Export, "export", true, "write the run's statistics to the export directory")
	flag.StringVar(&opts.ExportDir, "export-dir", "export", "directory receiving exported runs")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (disabled when empty)")
	flag.Parse()

	log := logging.NewFromEnv()
	if err := opts.validate(); err != nil {
		log.Error(context.Background(), "invalid flags", logging.Error(err))
		flag.Usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Error(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	var collector *observability.SimulationCollector
	if *metricsAddr != "" {
		collector, err = observability.NewSimulationCollector(nil)
		if err != nil {
			log.Error(ctx, "failed to initialise metrics collector", logging.Error(err))
			os.Exit(1)
		}
	}
	metricsSrv := serveMetrics(*metricsAddr, collector, log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	if err := execute(ctx, opts, collector, log); err != nil {
		log.Error(ctx, "simulation failed", logging.Error(err))
		stop()
		os.Exit(1)
	}
}

// execute runs one simulation, exports it when requested and prints the
// summary to stdout.
func execute(ctx context.Context, opts options, collector *observability.SimulationCollector, log logging.Logger) error {
	var metrics core.MetricsRecorder
	if collector != nil {
		metrics = collector
	}
	res, err := run(ctx, opts, metrics, log, os.Stdout)
	if err != nil {
		return err
	}
	if opts.Export {
		dir, err := export(opts.ExportDir, res)
		if err != nil {
			return err
		}
		log.Info(ctx, "exported run", logging.String("dir", dir))
	}
	fmt.Println()
	writeSummary(os.Stdout, res)
	return nil
}

func serveMetrics(addr string, collector *observability.SimulationCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Error(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
