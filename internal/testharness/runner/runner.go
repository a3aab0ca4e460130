// Package runner executes pairing scenarios between two simulated devices
// joined by a loopback link.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mash-protocol/blesmp/internal/testharness/engine"
	"github.com/mash-protocol/blesmp/internal/testharness/loader"
	"github.com/mash-protocol/blesmp/internal/testharness/reporter"
	"github.com/mash-protocol/blesmp/pkg/log"
)

// Runner loads scenarios and runs them.
type Runner struct {
	config       *Config
	engine       *engine.Engine
	engineConfig *engine.EngineConfig
	reporter     reporter.Reporter
}

// Config configures the runner.
type Config struct {
	// TestDir is the directory holding scenario files.
	TestDir string

	// Pattern filters scenarios by ID, name or tag.
	Pattern string

	// Timeout is the default scenario timeout.
	Timeout time.Duration

	// Verbose reports step details.
	Verbose bool

	// Output receives the report. Defaults to stdout.
	Output io.Writer

	// OutputFormat is "text", "json" or "junit".
	OutputFormat string

	// BondDir keeps each scenario's bond files under BondDir/<id>. A
	// temporary directory is used and removed when empty.
	BondDir string

	// ProtocolLogger captures the PDUs and state changes of both devices.
	ProtocolLogger log.Logger

	// Logger receives engine debug output.
	Logger *slog.Logger
}

// New creates a runner.
func New(config *Config) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	engineConfig := engine.DefaultConfig()
	if config.Timeout > 0 {
		engineConfig.DefaultTimeout = config.Timeout
	}

	r := &Runner{
		config:       config,
		engine:       engine.NewWithConfig(engineConfig),
		engineConfig: engineConfig,
	}
	engineConfig.Setup = r.setup
	engineConfig.Teardown = r.teardown

	switch config.OutputFormat {
	case "json":
		r.reporter = reporter.NewJSONReporter(config.Output, true)
	case "junit":
		r.reporter = reporter.NewJUnitReporter(config.Output)
	default:
		r.reporter = reporter.NewTextReporter(config.Output, config.Verbose)
	}

	r.registerHandlers()
	return r
}

// Run loads the scenarios, runs them and reports the suite.
func (r *Runner) Run(ctx context.Context) (*engine.SuiteResult, error) {
	scenarios, err := loader.LoadDirectory(r.config.TestDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios: %w", err)
	}
	if r.config.Pattern != "" {
		scenarios, err = loader.Filter(scenarios, r.config.Pattern)
		if err != nil {
			return nil, err
		}
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s matching %q", r.config.TestDir, r.config.Pattern)
	}

	result := r.engine.RunSuite(ctx, r.config.TestDir, scenarios)
	r.reporter.ReportSuite(result)
	return result, nil
}

// RunScenario runs a single scenario without reporting it.
func (r *Runner) RunScenario(ctx context.Context, sc *loader.Scenario) *engine.TestResult {
	return r.engine.Run(ctx, sc)
}
