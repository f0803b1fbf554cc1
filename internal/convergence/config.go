package convergence

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/Dicklesworthstone/accord/internal/oracle"
	"github.com/Dicklesworthstone/accord/internal/response"
)

// Config controls a run.
type Config struct {
	MaxRounds            int     `json:"max_rounds" toml:"max_rounds" yaml:"max_rounds"`
	AcceptanceThreshold  float64 `json:"acceptance_threshold" toml:"acceptance_threshold" yaml:"acceptance_threshold"`
	MaxOptOuts           int     `json:"max_opt_outs" toml:"max_opt_outs" yaml:"max_opt_outs"`
	AllowForking         bool    `json:"allow_forking" toml:"allow_forking" yaml:"allow_forking"`
	FlexibilityThreshold float64 `json:"flexibility_threshold" toml:"flexibility_threshold" yaml:"flexibility_threshold"`
	// Patience is the number of consecutive non-improving rounds with
	// unsatisfied non-negotiables before a participant opts out.
	Patience int `json:"patience" toml:"patience" yaml:"patience"`
	// ForkAfterRounds is how many consecutive rounds a hard value conflict
	// must persist before the run forks.
	ForkAfterRounds int           `json:"fork_after_rounds" toml:"fork_after_rounds" yaml:"fork_after_rounds"`
	MaxForkDepth    int           `json:"max_fork_depth" toml:"max_fork_depth" yaml:"max_fork_depth"`
	RunTimeout      time.Duration `json:"run_timeout" toml:"run_timeout" yaml:"run_timeout"`
	// EvalWorkers bounds concurrent participant evaluations. Zero uses the
	// logical CPU count.
	EvalWorkers    int           `json:"eval_workers" toml:"eval_workers" yaml:"eval_workers"`
	OracleAttempts int           `json:"oracle_attempts" toml:"oracle_attempts" yaml:"oracle_attempts"`
	OracleTimeout  time.Duration `json:"oracle_timeout" toml:"oracle_timeout" yaml:"oracle_timeout"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:            5,
		AcceptanceThreshold:  0.7,
		MaxOptOuts:           1,
		AllowForking:         false,
		FlexibilityThreshold: 0.5,
		Patience:             2,
		ForkAfterRounds:      2,
		MaxForkDepth:         1,
		RunTimeout:           10 * time.Minute,
		OracleAttempts:       oracle.DefaultMaxAttempts,
		OracleTimeout:        60 * time.Second,
	}
}

// Validate checks the configured ranges.
func (c Config) Validate() error {
	if c.MaxRounds <= 0 {
		return fmt.Errorf("max_rounds must be positive, got %d", c.MaxRounds)
	}
	if c.AcceptanceThreshold < 0 || c.AcceptanceThreshold > 1 {
		return fmt.Errorf("acceptance_threshold must be in [0,1], got %.2f", c.AcceptanceThreshold)
	}
	if c.MaxOptOuts < 0 {
		return fmt.Errorf("max_opt_outs must be >= 0, got %d", c.MaxOptOuts)
	}
	if err := c.Policy().Validate(); err != nil {
		return err
	}
	if c.ForkAfterRounds < 1 {
		return fmt.Errorf("fork_after_rounds must be >= 1, got %d", c.ForkAfterRounds)
	}
	if c.MaxForkDepth < 0 {
		return fmt.Errorf("max_fork_depth must be >= 0, got %d", c.MaxForkDepth)
	}
	if c.RunTimeout < 0 || c.OracleTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.EvalWorkers < 0 {
		return fmt.Errorf("eval_workers must be >= 0, got %d", c.EvalWorkers)
	}
	if c.OracleAttempts < 0 {
		return fmt.Errorf("oracle_attempts must be >= 0, got %d", c.OracleAttempts)
	}
	return nil
}

// Policy returns the response policy derived from the config.
func (c Config) Policy() response.Policy {
	return response.Policy{
		FlexibilityThreshold: c.FlexibilityThreshold,
		Patience:             c.Patience,
	}
}

func (c Config) workers() int {
	if c.EvalWorkers > 0 {
		return c.EvalWorkers
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func (c Config) attempts() int {
	if c.OracleAttempts > 0 {
		return c.OracleAttempts
	}
	return oracle.DefaultMaxAttempts
}
