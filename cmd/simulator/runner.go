package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/signalsfoundry/epidemic-simulator/core"
	"github.com/signalsfoundry/epidemic-simulator/internal/config"
	"github.com/signalsfoundry/epidemic-simulator/internal/demographics"
	"github.com/signalsfoundry/epidemic-simulator/internal/logging"
	"github.com/signalsfoundry/epidemic-simulator/internal/policy"
	"github.com/signalsfoundry/epidemic-simulator/internal/statistics"
	"github.com/signalsfoundry/epidemic-simulator/model"
	"github.com/signalsfoundry/epidemic-simulator/timectrl"
)

// options collects everything the runner needs from the command line.
type options struct {
	ConfigDir  string
	ConfigPath string
	Script     string

	Workers  int
	Seed     int64
	RealTime bool
	Interval time.Duration

	Progress  bool
	Debug     bool
	Export    bool
	ExportDir string
}

// result is what a finished run hands to the exporter and the summary.
type result struct {
	RunID    string
	Name     string
	Config   model.Config
	Seed     int64
	Workers  int
	Started  time.Time
	Finished time.Time

	Frame        *statistics.DataFrame
	Demographics *statistics.Demographics
}

// ErrInvalidOptions indicates unusable command-line options.
var ErrInvalidOptions = errors.New("invalid options")

// validate rejects option combinations the runner cannot honour.
func (o options) validate() error {
	if o.RealTime && o.Interval <= 0 {
		return fmt.Errorf("%w: -interval must be positive in real-time mode, got %s", ErrInvalidOptions, o.Interval)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: -workers must not be negative, got %d", ErrInvalidOptions, o.Workers)
	}
	return nil
}

// run loads the configuration, simulates until the time limit and returns
// the recorded statistics.
func run(ctx context.Context, opts options, metrics core.MetricsRecorder, log logging.Logger, out io.Writer) (*result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	ctx, log = logging.WithRunLogger(ctx, log)
	runID := logging.RunIDFromContext(ctx)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if opts.Seed != 0 {
		cfg.Seed = opts.Seed
	}

	simOpts := []core.Option{
		core.WithLogger(log),
		core.WithSurvivalPolicy(policy.AgeLinearSurvival),
		core.WithInfectionPolicy(policy.InverseDistanceInfection),
	}
	if opts.Workers > 0 {
		simOpts = append(simOpts, core.WithWorkers(opts.Workers))
	}
	if metrics != nil {
		simOpts = append(simOpts, core.WithMetrics(metrics))
	}

	ages, err := loadDemographics(opts)
	if err != nil {
		return nil, err
	}
	if ages != nil {
		simOpts = append(simOpts, core.WithAgeSampler(ages))
		log.Info(ctx, "loaded age distribution", logging.Float64("mean_age", ages.Mean()))
	}

	if opts.Script != "" {
		states := opts.Workers
		if states <= 0 {
			states = runtime.NumCPU()
		}
		script, err := policy.LoadScript(opts.Script, states)
		if err != nil {
			return nil, err
		}
		if p := script.Survival(); p != nil {
			simOpts = append(simOpts, core.WithSurvivalPolicy(p))
		}
		if p := script.Infection(); p != nil {
			simOpts = append(simOpts, core.WithInfectionPolicy(p))
		}
		log.Info(ctx, "loaded policy script", logging.String("script", script.Name()))
	}

	sim, err := core.NewSimulator(cfg, simOpts...)
	if err != nil {
		return nil, err
	}
	if c, ok := metrics.(interface{ SetCapacity(int) }); ok {
		c.SetCapacity(cfg.HospitalCapacity)
	}

	res := &result{
		RunID:   runID,
		Config:  sim.Config(),
		Seed:    sim.Seed(),
		Workers: sim.Workers(),
		Started: time.Now().UTC(),
		Frame:   statistics.NewDataFrame(cfg.TimeLimit + 1),
	}
	res.Name = fmt.Sprintf("%s_%s", cfg.Name, res.Started.Format("20060102T150405"))
	res.Frame.PushSimulator(sim)

	mode := timectrl.Accelerated
	if opts.RealTime {
		mode = timectrl.RealTime
	}
	tc := timectrl.NewTickController(res.Started, 24*time.Hour, mode)
	tc.Interval = opts.Interval
	tc.AddListener(func(tick int, _ time.Time) {
		res.Frame.PushSimulator(sim)
		if opts.Progress {
			printProgress(out, tick, cfg.TimeLimit)
		}
	})

	log.Info(ctx, "starting simulation",
		logging.String("name", res.Name),
		logging.Int("population", cfg.PopulationSize),
		logging.Int("time_limit", cfg.TimeLimit),
		logging.Int("workers", sim.Workers()),
	)
	if err := tc.Run(ctx, sim); err != nil {
		return nil, fmt.Errorf("run %s: %w", res.Name, err)
	}
	if opts.Progress {
		fmt.Fprintln(out)
	}

	res.Finished = time.Now().UTC()
	res.Demographics = statistics.DemographicsFromSimulator(sim)
	if opts.Debug {
		fmt.Fprint(out, res.Frame)
		fmt.Fprint(out, res.Demographics)
	}
	log.Info(ctx, "simulation finished",
		logging.Int("ticks", sim.CurrentTime()),
		logging.String("elapsed", res.Finished.Sub(res.Started).String()),
	)
	return res, nil
}

func loadConfig(opts options) (model.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(opts.ConfigPath)
	}
	if opts.ConfigDir != "" {
		return config.LoadDir(opts.ConfigDir)
	}
	return config.Load("")
}

// configDir is the directory holding the run's configuration set: the
// directory of -config when given, -config-dir otherwise.
func configDir(opts options) string {
	if opts.ConfigPath != "" {
		return filepath.Dir(opts.ConfigPath)
	}
	return opts.ConfigDir
}

// loadDemographics returns nil when the configuration directory carries no
// population table, in which case ages are uniform.
func loadDemographics(opts options) (*demographics.Distribution, error) {
	dir := configDir(opts)
	if dir == "" {
		return nil, nil
	}
	path := filepath.Join(dir, config.DemographicFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return demographics.Load(path)
}

func printProgress(w io.Writer, tick, limit int) {
	const width = 10
	if limit <= 0 {
		return
	}
	progress := float64(tick) / float64(limit) * 100
	filled := min(int(progress/width), width)

	bar := make([]byte, width)
	for i := range bar {
		bar[i] = ' '
		if i < filled {
			bar[i] = '='
		}
	}
	fmt.Fprintf(w, "\r[%s] %.2f %% (%s/%s)", bar, progress, humanize.Comma(int64(tick)), humanize.Comma(int64(limit)))
}

// writeSummary prints a short human-readable report of the run.
func writeSummary(w io.Writer, res *result) {
	last := res.Frame.Points()[res.Frame.Len()-1]
	fmt.Fprintf(w, "run %s (%s)\n", res.Name, res.RunID)
	fmt.Fprintf(w, "  population   %s agents over %s ticks on %d workers\n",
		humanize.Comma(int64(res.Config.PopulationSize)), humanize.Comma(int64(last.Tick)), res.Workers)
	if peak, ok := res.Frame.Peak(); ok {
		fmt.Fprintf(w, "  peak         %s infected at tick %d\n", humanize.Comma(int64(peak.Infected)), peak.Tick)
	}
	fmt.Fprintf(w, "  final        %s susceptible, %s infected, %s recovered, %s dead\n",
		humanize.Comma(int64(last.Susceptible)), humanize.Comma(int64(last.Infected)),
		humanize.Comma(int64(last.Recovered)), humanize.Comma(int64(last.Dead)))
	fmt.Fprintf(w, "  started      %s, took %s\n", humanize.Time(res.Started), res.Finished.Sub(res.Started).Round(time.Millisecond))
}
