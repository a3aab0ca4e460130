package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mash-protocol/blesmp/internal/testharness/loader"
)

// Engine executes scenarios.
type Engine struct {
	config   *EngineConfig
	handlers map[string]ActionHandler
	checkers map[string]ExpectChecker
	mu       sync.RWMutex
}

// New creates an engine with the default configuration.
func New() *Engine {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an engine with the given configuration.
func NewWithConfig(config *EngineConfig) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		config:   config,
		handlers: make(map[string]ActionHandler),
		checkers: make(map[string]ExpectChecker),
	}
}

// RegisterHandler registers an action handler.
func (e *Engine) RegisterHandler(action string, handler ActionHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[action] = handler
}

// RegisterChecker registers an expectation checker for key.
func (e *Engine) RegisterChecker(key string, checker ExpectChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkers[key] = checker
}

// Run executes a single scenario.
func (e *Engine) Run(ctx context.Context, sc *loader.Scenario) *TestResult {
	result := &TestResult{Scenario: sc}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	if sc.Skip {
		result.Skipped = true
		result.SkipReason = sc.SkipReason
		if result.SkipReason == "" {
			result.SkipReason = "skipped by scenario definition"
		}
		return result
	}

	timeout := e.config.DefaultTimeout
	if sc.Timeout != "" {
		if d, err := time.ParseDuration(sc.Timeout); err == nil {
			timeout = d
		}
	}
	testCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	state := NewExecutionState(testCtx, sc)

	if e.config.Setup != nil {
		if err := e.config.Setup(testCtx, state); err != nil {
			result.Error = fmt.Errorf("setup failed: %w", err)
			return result
		}
	}
	if e.config.Teardown != nil {
		defer e.config.Teardown(state)
	}

	result.Passed = true
	for i := range sc.Steps {
		sr := e.executeStep(testCtx, &sc.Steps[i], i, state)
		result.StepResults = append(result.StepResults, sr)
		if !sr.Passed {
			result.Passed = false
			result.Error = sr.Error
			break
		}
	}

	return result
}

func (e *Engine) executeStep(ctx context.Context, step *loader.Step, index int, state *ExecutionState) *StepResult {
	result := &StepResult{
		Step:          step,
		StepIndex:     index,
		ExpectResults: make(map[string]*ExpectResult),
		Output:        make(map[string]interface{}),
	}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	timeout := e.config.StepTimeout
	if step.Timeout != "" {
		if d, err := time.ParseDuration(step.Timeout); err == nil {
			timeout = d
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.mu.RLock()
	handler, exists := e.handlers[step.Action]
	e.mu.RUnlock()
	if !exists {
		result.Error = fmt.Errorf("unknown action: %s", step.Action)
		return result
	}

	outputs, err := handler(stepCtx, step, state)
	if err != nil {
		result.Error = fmt.Errorf("step %d (%s): %w", index+1, step.Action, err)
		return result
	}
	for k, v := range outputs {
		state.Set(k, v)
		result.Output[k] = v
	}

	result.Passed = true
	for key, expected := range step.Expect {
		er := e.checkExpectation(key, expected, state)
		result.ExpectResults[key] = er
		if !er.Passed {
			result.Passed = false
			result.Error = fmt.Errorf("step %d (%s): expectation failed: %s - %s", index+1, step.Action, key, er.Message)
		}
	}
	return result
}

func (e *Engine) checkExpectation(key string, expected interface{}, state *ExecutionState) *ExpectResult {
	e.mu.RLock()
	checker, exists := e.checkers[key]
	e.mu.RUnlock()
	if !exists {
		checker = defaultChecker
	}
	return checker(key, expected, state)
}

// defaultChecker compares the output named key with expected by their
// printed form, so YAML lists match string slices and YAML integers match
// any integer type. "present" matches any value.
func defaultChecker(key string, expected interface{}, state *ExecutionState) *ExpectResult {
	actual, exists := state.Get(key)
	result := &ExpectResult{Key: key, Expected: expected, Actual: actual}

	if !exists {
		result.Message = fmt.Sprintf("key %q not found in outputs", key)
		return result
	}

	if s, ok := expected.(string); ok && s == "present" {
		result.Passed = true
		result.Message = fmt.Sprintf("%s = %v", key, actual)
		return result
	}

	result.Passed = fmt.Sprintf("%v", expected) == fmt.Sprintf("%v", actual)
	if result.Passed {
		result.Message = fmt.Sprintf("%s = %v", key, expected)
	} else {
		result.Message = fmt.Sprintf("expected %v, got %v", expected, actual)
	}
	return result
}

// RunSuite executes scenarios in order.
func (e *Engine) RunSuite(ctx context.Context, name string, scenarios []*loader.Scenario) *SuiteResult {
	result := &SuiteResult{SuiteName: name}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	for _, sc := range scenarios {
		select {
		case <-ctx.Done():
			return result
		default:
		}

		tr := e.Run(ctx, sc)
		result.Results = append(result.Results, tr)

		switch {
		case tr.Skipped:
			result.SkipCount++
		case tr.Passed:
			result.PassCount++
		default:
			result.FailCount++
		}

		if e.config.OnTestComplete != nil {
			e.config.OnTestComplete(tr)
		}
		if !tr.Passed && !tr.Skipped && e.config.StopOnFirstFailure {
			break
		}
	}
	return result
}
