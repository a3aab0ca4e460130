// Package loader reads pairing scenarios from YAML for the scenario runner.
package loader

import "github.com/mash-protocol/blesmp/pkg/smp"

// Scenario is one pairing test loaded from YAML.
type Scenario struct {
	// ID is the unique scenario identifier (e.g., "SC-NC-001").
	ID string `yaml:"id"`

	// Name is a human-readable name for the scenario.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Central is the device that initiates pairing.
	Central Device `yaml:"central"`

	// Peripheral is the device that responds.
	Peripheral Device `yaml:"peripheral"`

	// Steps are the actions to execute in order.
	Steps []Step `yaml:"steps"`

	// Timeout is the maximum duration for the scenario (e.g., "30s").
	Timeout string `yaml:"timeout,omitempty"`

	// Tags for categorizing scenarios.
	Tags []string `yaml:"tags,omitempty"`

	// Skip excludes the scenario from runs.
	Skip       bool   `yaml:"skip,omitempty"`
	SkipReason string `yaml:"skip_reason,omitempty"`
}

// Device describes one side of a scenario: its Security Manager
// configuration and how its simulated user answers prompts.
type Device struct {
	// Config uses the same keys as an smp configuration file.
	Config smp.FileConfig `yaml:"config"`

	// Passkey answers passkey requests: "auto" (the default) enters the
	// passkey the other side displays, "wrong" enters a different one,
	// "reject" declines, "ignore" never answers, and a decimal number is
	// entered as given.
	Passkey string `yaml:"passkey,omitempty"`

	// Confirm answers numeric comparison. Defaults to true.
	Confirm *bool `yaml:"confirm,omitempty"`

	// OOB answers out-of-band requests: "exchange" hands over the other
	// side's generated data, "corrupt" hands over altered data, anything
	// else declines.
	OOB string `yaml:"oob,omitempty"`

	// TK is the legacy out-of-band temporary key in hex.
	TK string `yaml:"tk,omitempty"`

	// LinkKey is a BR/EDR link key this device already shares with the
	// other side, in hex. It is stored before the first step.
	LinkKey string `yaml:"link_key,omitempty"`

	// LinkKeyType is the type of LinkKey (e.g., 8 for authenticated P-256).
	LinkKeyType uint8 `yaml:"link_key_type,omitempty"`
}

// Step represents a single action in a scenario.
type Step struct {
	// Action is the action to perform (e.g., "pair", "wait_outcome").
	Action string `yaml:"action"`

	// Params are parameters for the action.
	Params map[string]interface{} `yaml:"params,omitempty"`

	// Expect defines expected outputs after the action.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Timeout overrides the scenario-level timeout for this step.
	Timeout string `yaml:"timeout,omitempty"`

	// Description explains what this step does.
	Description string `yaml:"description,omitempty"`
}

// LoadError provides details about a scenario loading error.
type LoadError struct {
	// File is the path to the file that failed to load.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.File != "" {
		return e.File + ": " + msg
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
