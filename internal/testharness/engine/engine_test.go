package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mash-protocol/blesmp/internal/testharness/engine"
	"github.com/mash-protocol/blesmp/internal/testharness/loader"
)

func outcomeHandler(outputs map[string]interface{}) engine.ActionHandler {
	return func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
		return outputs, nil
	}
}

func TestEngineBasic(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("wait_outcome", outcomeHandler(map[string]interface{}{
		"central.result":   "success",
		"central.key_size": 16,
		"central.bonded":   true,
		"central.keys":     []string{"local:CSRK", "peer:IRK"},
	}))

	sc := &loader.Scenario{
		ID: "SC-001",
		Steps: []loader.Step{{
			Action: "wait_outcome",
			Expect: map[string]interface{}{
				"central.result":   "success",
				"central.key_size": 16,
				"central.bonded":   true,
				"central.keys":     []interface{}{"local:CSRK", "peer:IRK"},
			},
		}},
	}

	result := e.Run(context.Background(), sc)
	if !result.Passed {
		t.Fatalf("scenario should pass, error: %v", result.Error)
	}
	if len(result.StepResults) != 1 {
		t.Fatalf("got %d step results, want 1", len(result.StepResults))
	}
	if got := len(result.StepResults[0].ExpectResults); got != 4 {
		t.Errorf("got %d expectation results, want 4", got)
	}
}

func TestEngineStepsShareOutputs(t *testing.T) {
	e := engine.New()

	var order []string
	e.RegisterHandler("pair", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
		order = append(order, "pair")
		return map[string]interface{}{"started": true}, nil
	})
	e.RegisterHandler("wait_outcome", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
		order = append(order, "wait_outcome")
		if v, ok := state.Get("started"); !ok || v != true {
			return nil, errors.New("pair output missing")
		}
		return nil, nil
	})

	sc := &loader.Scenario{
		ID:    "SC-002",
		Steps: []loader.Step{{Action: "pair"}, {Action: "wait_outcome"}},
	}
	result := e.Run(context.Background(), sc)
	if !result.Passed {
		t.Fatalf("scenario should pass, error: %v", result.Error)
	}
	if strings.Join(order, ",") != "pair,wait_outcome" {
		t.Errorf("order = %v", order)
	}
}

func TestEngineFailures(t *testing.T) {
	t.Run("UnknownAction", func(t *testing.T) {
		result := engine.New().Run(context.Background(), &loader.Scenario{
			ID:    "F-001",
			Steps: []loader.Step{{Action: "teleport"}},
		})
		if result.Passed || result.Error == nil || !strings.Contains(result.Error.Error(), "unknown action") {
			t.Errorf("result = %v, %v", result.Passed, result.Error)
		}
	})

	t.Run("HandlerError", func(t *testing.T) {
		e := engine.New()
		e.RegisterHandler("pair", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
			return nil, errors.New("busy")
		})
		e.RegisterHandler("never", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
			t.Error("step after a failure was executed")
			return nil, nil
		})
		result := e.Run(context.Background(), &loader.Scenario{
			ID:    "F-002",
			Steps: []loader.Step{{Action: "pair"}, {Action: "never"}},
		})
		if result.Passed {
			t.Fatal("scenario should fail")
		}
		if result.Error.Error() != "step 1 (pair): busy" {
			t.Errorf("error = %q", result.Error)
		}
	})

	t.Run("ExpectationMismatch", func(t *testing.T) {
		e := engine.New()
		e.RegisterHandler("wait_outcome", outcomeHandler(map[string]interface{}{"central.result": "timeout"}))
		result := e.Run(context.Background(), &loader.Scenario{
			ID: "F-003",
			Steps: []loader.Step{{
				Action: "wait_outcome",
				Expect: map[string]interface{}{"central.result": "success", "central.model": "present"},
			}},
		})
		if result.Passed {
			t.Fatal("scenario should fail")
		}
		er := result.StepResults[0].ExpectResults["central.result"]
		if er.Passed || er.Message != "expected success, got timeout" {
			t.Errorf("central.result = %+v", er)
		}
		if er := result.StepResults[0].ExpectResults["central.model"]; er.Passed {
			t.Errorf("missing key passed: %+v", er)
		}
	})
}

func TestEngineCustomChecker(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("read_state", outcomeHandler(map[string]interface{}{"central.attempts": 3}))
	e.RegisterChecker("central.attempts", func(key string, expected interface{}, state *engine.ExecutionState) *engine.ExpectResult {
		actual, _ := state.Get(key)
		return &engine.ExpectResult{Key: key, Expected: expected, Actual: actual, Passed: actual.(int) >= expected.(int)}
	})

	result := e.Run(context.Background(), &loader.Scenario{
		ID:    "C-001",
		Steps: []loader.Step{{Action: "read_state", Expect: map[string]interface{}{"central.attempts": 2}}},
	})
	if !result.Passed {
		t.Errorf("scenario should pass, error: %v", result.Error)
	}
}

func TestEngineSetupTeardown(t *testing.T) {
	var tornDown bool
	cfg := engine.DefaultConfig()
	cfg.Setup = func(ctx context.Context, state *engine.ExecutionState) error {
		state.Fixture = "devices"
		return nil
	}
	cfg.Teardown = func(state *engine.ExecutionState) {
		tornDown = state.Fixture == "devices"
	}

	e := engine.NewWithConfig(cfg)
	e.RegisterHandler("check", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
		if state.Fixture != "devices" {
			return nil, errors.New("fixture not set")
		}
		return nil, nil
	})

	result := e.Run(context.Background(), &loader.Scenario{ID: "S-001", Steps: []loader.Step{{Action: "check"}}})
	if !result.Passed {
		t.Fatalf("scenario should pass, error: %v", result.Error)
	}
	if !tornDown {
		t.Error("teardown not called")
	}

	cfg.Setup = func(ctx context.Context, state *engine.ExecutionState) error { return errors.New("no radio") }
	tornDown = false
	result = e.Run(context.Background(), &loader.Scenario{ID: "S-002", Steps: []loader.Step{{Action: "check"}}})
	if result.Passed || !strings.Contains(result.Error.Error(), "setup failed") {
		t.Errorf("result = %v, %v", result.Passed, result.Error)
	}
	if tornDown {
		t.Error("teardown called after failed setup")
	}
}

func TestEngineStepTimeout(t *testing.T) {
	e := engine.New()
	e.RegisterHandler("wait_outcome", func(ctx context.Context, step *loader.Step, state *engine.ExecutionState) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	result := e.Run(context.Background(), &loader.Scenario{
		ID:    "T-001",
		Steps: []loader.Step{{Action: "wait_outcome", Timeout: "50ms"}},
	})
	if result.Passed {
		t.Fatal("scenario should fail")
	}
	if !errors.Is(result.Error, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", result.Error)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("step ran for %v", elapsed)
	}
}

func TestRunSuite(t *testing.T) {
	var completed []string
	cfg := engine.DefaultConfig()
	cfg.OnTestComplete = func(r *engine.TestResult) { completed = append(completed, r.Scenario.ID) }
	e := engine.NewWithConfig(cfg)
	e.RegisterHandler("ok", outcomeHandler(nil))

	scenarios := []*loader.Scenario{
		{ID: "A", Steps: []loader.Step{{Action: "ok"}}},
		{ID: "B", Steps: []loader.Step{{Action: "missing"}}},
		{ID: "C", Skip: true, Steps: []loader.Step{{Action: "ok"}}},
	}
	suite := e.RunSuite(context.Background(), "suite", scenarios)
	if suite.PassCount != 1 || suite.FailCount != 1 || suite.SkipCount != 1 {
		t.Errorf("counts = %d/%d/%d", suite.PassCount, suite.FailCount, suite.SkipCount)
	}
	if strings.Join(completed, ",") != "A,B,C" {
		t.Errorf("completed = %v", completed)
	}
	if suite.Results[2].SkipReason == "" {
		t.Error("skip reason not set")
	}

	cfg.StopOnFirstFailure = true
	suite = e.RunSuite(context.Background(), "suite", scenarios)
	if len(suite.Results) != 2 {
		t.Errorf("ran %d scenarios after a failure with StopOnFirstFailure", len(suite.Results))
	}
}
