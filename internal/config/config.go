// Package config parses simulator command configuration from the
// environment and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/signalsfoundry/infrastructure-simulator/timectrl"
)

// Config holds simulator command configuration. Environment variables set
// the defaults; flags override them.
type Config struct {
	Scenario   string        `env:"SIM_SCENARIO" envDefault:"configs/two-node.yaml"`
	Steps      int           `env:"SIM_STEPS" envDefault:"96"`
	Step       time.Duration `env:"SIM_STEP" envDefault:"15m"`
	Rounds     int           `env:"SIM_ROUNDS" envDefault:"2"`
	Verify     bool          `env:"SIM_VERIFY" envDefault:"true"`
	Strict     bool          `env:"SIM_STRICT" envDefault:"false"`
	Epsilon    float64       `env:"SIM_EPSILON" envDefault:"1e-6"`
	RelEpsilon float64       `env:"SIM_REL_EPSILON" envDefault:"1e-6"`

	Parallelism int    `env:"SIM_PARALLELISM" envDefault:"1"`
	Federates   int    `env:"SIM_FEDERATES" envDefault:"1"`
	Federation  string `env:"SIM_FEDERATION" envDefault:"infrastructure"`
	Mode        string `env:"SIM_MODE" envDefault:"accelerated"`

	MetricsAddr string `env:"SIM_METRICS_ADDR"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseConfig parses environment and flags into Config and validates it.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	if fs == nil {
		return Config{}, errors.New("flag parser is required")
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "Path to the YAML scenario file")
	fs.IntVar(&cfg.Steps, "steps", cfg.Steps, "Number of steps to simulate")
	fs.DurationVar(&cfg.Step, "step", cfg.Step, "Simulated duration of one step")
	fs.IntVar(&cfg.Rounds, "rounds", cfg.Rounds, "Relaxation rounds per step (1 lags cyclic exchanges by one step)")
	fs.BoolVar(&cfg.Verify, "verify", cfg.Verify, "Run conservation checks after every step")
	fs.BoolVar(&cfg.Strict, "strict", cfg.Strict, "Abort on the first conservation violation")
	fs.Float64Var(&cfg.Epsilon, "epsilon", cfg.Epsilon, "Absolute tolerance for net flow checks")
	fs.Float64Var(&cfg.RelEpsilon, "rel-epsilon", cfg.RelEpsilon, "Relative tolerance for exchange balance checks")
	fs.IntVar(&cfg.Parallelism, "parallelism", cfg.Parallelism, "Concurrent element computations per relaxation round")
	fs.IntVar(&cfg.Federates, "federates", cfg.Federates, "Number of in-process federates sharing the scenario")
	fs.StringVar(&cfg.Federation, "federation", cfg.Federation, "Federation name")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "Pacing mode: accelerated or realtime")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address (disabled when empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")

	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no run can use.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Scenario) == "" {
		errs = append(errs, errors.New("scenario path is required"))
	}
	if c.Steps < 1 {
		errs = append(errs, fmt.Errorf("steps must be at least 1, got %d", c.Steps))
	}
	if c.Step <= 0 {
		errs = append(errs, fmt.Errorf("step must be positive, got %s", c.Step))
	}
	if c.Rounds < 1 {
		errs = append(errs, fmt.Errorf("rounds must be at least 1, got %d", c.Rounds))
	}
	if c.Epsilon < 0 || c.RelEpsilon < 0 {
		errs = append(errs, errors.New("epsilons must be non-negative"))
	}
	if c.Federates < 1 {
		errs = append(errs, fmt.Errorf("federates must be at least 1, got %d", c.Federates))
	}
	if _, err := timectrl.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TimeMode returns the parsed pacing mode. Call after Validate.
func (c Config) TimeMode() timectrl.Mode {
	m, _ := timectrl.ParseMode(c.Mode)
	return m
}
