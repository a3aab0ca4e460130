package loader

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseScenario parses a scenario from YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, &LoadError{
			Message: "failed to parse YAML",
			Cause:   err,
		}
	}

	if sc.ID == "" {
		return nil, &LoadError{
			Message: "scenario ID is required",
		}
	}

	if len(sc.Steps) == 0 {
		return nil, &LoadError{
			Message: "scenario must have at least one step",
		}
	}

	for i, st := range sc.Steps {
		if st.Action == "" {
			return nil, &LoadError{
				Message: "step " + strconv.Itoa(i+1) + " has no action",
			}
		}
	}

	// Device configs are validated here so a bad file fails at load time.
	for name, d := range map[string]*Device{"central": &sc.Central, "peripheral": &sc.Peripheral} {
		if _, err := d.Config.Config(); err != nil {
			return nil, &LoadError{
				Message: name + " config",
				Cause:   err,
			}
		}
	}

	return &sc, nil
}

// LoadScenario loads a scenario from a file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	sc, err := ParseScenario(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}

	return sc, nil
}

// LoadDirectory loads all scenarios from a directory and its
// subdirectories. Only files with .yaml or .yml extensions are loaded.
// Scenarios are returned in ID order and IDs must be unique.
func LoadDirectory(dir string) ([]*Scenario, error) {
	var scenarios []*Scenario
	seen := make(map[string]string)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		sc, err := LoadScenario(path)
		if err != nil {
			return err
		}
		if prev, dup := seen[sc.ID]; dup {
			return &LoadError{File: path, Message: "duplicate scenario ID " + sc.ID + " (also in " + prev + ")"}
		}
		seen[sc.ID] = path

		scenarios = append(scenarios, sc)
		return nil
	})
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			return nil, err
		}
		return nil, &LoadError{File: dir, Message: "failed to read directory", Cause: err}
	}

	sort.Slice(scenarios, func(i, j int) bool { return scenarios[i].ID < scenarios[j].ID })
	return scenarios, nil
}

// Filter returns the scenarios whose ID or name matches pattern, or whose
// tags include it. An empty pattern matches everything.
func Filter(scenarios []*Scenario, pattern string) ([]*Scenario, error) {
	if pattern == "" {
		return scenarios, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &LoadError{Message: "invalid pattern", Cause: err}
	}

	var out []*Scenario
	for _, sc := range scenarios {
		if re.MatchString(sc.ID) || re.MatchString(sc.Name) || hasTag(sc, pattern) {
			out = append(out, sc)
		}
	}
	return out, nil
}

func hasTag(sc *Scenario, tag string) bool {
	for _, t := range sc.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
