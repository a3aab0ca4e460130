// Package engine executes pairing scenarios step by step and checks their
// expectations.
package engine

import (
	"context"
	"time"

	"github.com/mash-protocol/blesmp/internal/testharness/loader"
)

// TestResult represents the outcome of a single scenario.
type TestResult struct {
	// Scenario is the scenario that was executed.
	Scenario *loader.Scenario

	// Passed indicates if all steps passed.
	Passed bool

	// Error is the error that caused failure, if any.
	Error error

	// StepResults contains results for each step.
	StepResults []*StepResult

	// Duration is how long the scenario took.
	Duration time.Duration

	// Skipped indicates if the scenario was skipped.
	Skipped bool

	// SkipReason explains why the scenario was skipped.
	SkipReason string
}

// StepResult represents the outcome of a single step.
type StepResult struct {
	Step      *loader.Step
	StepIndex int
	Passed    bool
	Error     error

	// ExpectResults maps expectation keys to their results.
	ExpectResults map[string]*ExpectResult

	Duration time.Duration

	// Output contains the outputs the step produced.
	Output map[string]interface{}
}

// ExpectResult represents the result of checking an expectation.
type ExpectResult struct {
	Key      string
	Expected interface{}
	Actual   interface{}
	Passed   bool
	Message  string
}

// SuiteResult represents the outcome of running several scenarios.
type SuiteResult struct {
	SuiteName string
	Results   []*TestResult
	PassCount int
	FailCount int
	SkipCount int
	Duration  time.Duration
}

// ActionHandler processes a step action. It returns outputs to make
// available to expectations and later steps.
type ActionHandler func(ctx context.Context, step *loader.Step, state *ExecutionState) (map[string]interface{}, error)

// ExpectChecker checks an expectation against the execution state.
type ExpectChecker func(key string, expected interface{}, state *ExecutionState) *ExpectResult

// ExecutionState holds state during scenario execution.
type ExecutionState struct {
	// Outputs accumulated from previous steps.
	Outputs map[string]interface{}

	// Scenario being executed.
	Scenario *loader.Scenario

	// Fixture is set up by EngineConfig.Setup and torn down after the
	// scenario.
	Fixture interface{}

	// Context for cancellation.
	Context context.Context
}

// NewExecutionState creates a new execution state.
func NewExecutionState(ctx context.Context, sc *loader.Scenario) *ExecutionState {
	return &ExecutionState{
		Outputs:  make(map[string]interface{}),
		Scenario: sc,
		Context:  ctx,
	}
}

// Get retrieves a value from outputs.
func (s *ExecutionState) Get(key string) (interface{}, bool) {
	v, ok := s.Outputs[key]
	return v, ok
}

// Set stores a value in outputs.
func (s *ExecutionState) Set(key string, value interface{}) {
	s.Outputs[key] = value
}

// EngineConfig configures the engine.
type EngineConfig struct {
	// DefaultTimeout is the default timeout for scenarios.
	DefaultTimeout time.Duration

	// StepTimeout is the default timeout for individual steps.
	StepTimeout time.Duration

	// StopOnFirstFailure stops a suite after the first failed scenario.
	StopOnFirstFailure bool

	// Setup prepares the fixture before the first step.
	Setup func(ctx context.Context, state *ExecutionState) error

	// Teardown releases the fixture after the last step.
	Teardown func(state *ExecutionState)

	// OnTestComplete is called after each scenario of a suite.
	OnTestComplete func(result *TestResult)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		DefaultTimeout: 30 * time.Second,
		StepTimeout:    10 * time.Second,
	}
}
