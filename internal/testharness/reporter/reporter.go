// Package reporter formats scenario results.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/mash-protocol/blesmp/internal/testharness/engine"
)

// Reporter formats and outputs scenario results.
type Reporter interface {
	// ReportSuite reports results for a suite.
	ReportSuite(result *engine.SuiteResult)

	// ReportTest reports results for a single scenario.
	ReportTest(result *engine.TestResult)
}

func status(result *engine.TestResult) string {
	switch {
	case result.Skipped:
		return "SKIP"
	case result.Passed:
		return "PASS"
	default:
		return "FAIL"
	}
}

// outcomes collects the "<device>.result" outputs of a scenario.
func outcomes(result *engine.TestResult) map[string]string {
	out := make(map[string]string)
	for _, sr := range result.StepResults {
		for k, v := range sr.Output {
			if dev, ok := strings.CutSuffix(k, ".result"); ok {
				out[dev] = fmt.Sprintf("%v", v)
			}
		}
	}
	return out
}

// TextReporter outputs human-readable text reports.
type TextReporter struct {
	writer  io.Writer
	verbose bool
}

// NewTextReporter creates a new text reporter.
func NewTextReporter(w io.Writer, verbose bool) *TextReporter {
	return &TextReporter{writer: w, verbose: verbose}
}

// ReportSuite reports suite results in text format.
func (r *TextReporter) ReportSuite(result *engine.SuiteResult) {
	fmt.Fprintf(r.writer, "\n=== Suite: %s ===\n", result.SuiteName)
	fmt.Fprintf(r.writer, "Duration: %s\n\n", result.Duration.Round(time.Millisecond))

	for _, tr := range result.Results {
		r.ReportTest(tr)
	}

	fmt.Fprintf(r.writer, "\n--- Summary ---\n")
	fmt.Fprintf(r.writer, "Total:   %d\n", len(result.Results))
	fmt.Fprintf(r.writer, "Passed:  %d\n", result.PassCount)
	fmt.Fprintf(r.writer, "Failed:  %d\n", result.FailCount)
	fmt.Fprintf(r.writer, "Skipped: %d\n", result.SkipCount)

	total := result.PassCount + result.FailCount
	if total > 0 {
		rate := float64(result.PassCount) / float64(total) * 100
		fmt.Fprintf(r.writer, "Pass Rate: %.1f%%\n", rate)
	}
}

// ReportTest reports a single scenario result in text format.
func (r *TextReporter) ReportTest(result *engine.TestResult) {
	sc := result.Scenario
	fmt.Fprintf(r.writer, "[%s] %s - %s (%s)\n",
		status(result), sc.ID, sc.Name, result.Duration.Round(time.Millisecond))

	if result.Skipped && result.SkipReason != "" {
		fmt.Fprintf(r.writer, "       Skip reason: %s\n", result.SkipReason)
	}
	if !result.Passed && result.Error != nil {
		fmt.Fprintf(r.writer, "       Error: %v\n", result.Error)
	}

	devs := outcomes(result)
	names := make([]string, 0, len(devs))
	for name := range devs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(r.writer, "       %s: %s\n", name, devs[name])
	}

	if !r.verbose {
		return
	}
	for _, sr := range result.StepResults {
		stepStatus := "PASS"
		if !sr.Passed {
			stepStatus = "FAIL"
		}
		fmt.Fprintf(r.writer, "    [%s] Step %d: %s (%s)\n",
			stepStatus, sr.StepIndex+1, sr.Step.Action, sr.Duration.Round(time.Millisecond))

		if !sr.Passed && sr.Error != nil {
			fmt.Fprintf(r.writer, "           Error: %v\n", sr.Error)
		}

		keys := make([]string, 0, len(sr.ExpectResults))
		for key := range sr.ExpectResults {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			er := sr.ExpectResults[key]
			expStatus := "OK"
			if !er.Passed {
				expStatus = "FAILED"
			}
			fmt.Fprintf(r.writer, "           [%s] %s: %s\n", expStatus, key, er.Message)
		}
	}
}

// JSONReporter outputs JSON-formatted reports.
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a new JSON reporter.
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{writer: w, pretty: pretty}
}

// JSONSuiteResult is the JSON representation of suite results.
type JSONSuiteResult struct {
	SuiteName string           `json:"suite_name"`
	Duration  string           `json:"duration"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	PassRate  float64          `json:"pass_rate"`
	Tests     []JSONTestResult `json:"tests"`
}

// JSONTestResult is the JSON representation of a scenario result.
type JSONTestResult struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	Duration   string            `json:"duration"`
	Error      string            `json:"error,omitempty"`
	SkipReason string            `json:"skip_reason,omitempty"`
	Outcomes   map[string]string `json:"outcomes,omitempty"`
	Steps      []JSONStepResult  `json:"steps,omitempty"`
}

// JSONStepResult is the JSON representation of a step result.
type JSONStepResult struct {
	Index    int                    `json:"index"`
	Action   string                 `json:"action"`
	Status   string                 `json:"status"`
	Duration string                 `json:"duration"`
	Error    string                 `json:"error,omitempty"`
	Expects  map[string]JSONExpect  `json:"expects,omitempty"`
	Outputs  map[string]interface{} `json:"outputs,omitempty"`
}

// JSONExpect is the JSON representation of an expectation result.
type JSONExpect struct {
	Passed   bool        `json:"passed"`
	Expected interface{} `json:"expected"`
	Actual   interface{} `json:"actual"`
	Message  string      `json:"message"`
}

// ReportSuite reports suite results in JSON format.
func (r *JSONReporter) ReportSuite(result *engine.SuiteResult) {
	total := result.PassCount + result.FailCount
	var passRate float64
	if total > 0 {
		passRate = float64(result.PassCount) / float64(total) * 100
	}

	jr := JSONSuiteResult{
		SuiteName: result.SuiteName,
		Duration:  result.Duration.Round(time.Millisecond).String(),
		Total:     len(result.Results),
		Passed:    result.PassCount,
		Failed:    result.FailCount,
		Skipped:   result.SkipCount,
		PassRate:  passRate,
		Tests:     make([]JSONTestResult, 0, len(result.Results)),
	}
	for _, tr := range result.Results {
		jr.Tests = append(jr.Tests, r.testToJSON(tr))
	}
	r.writeJSON(jr)
}

// ReportTest reports a single scenario result in JSON format.
func (r *JSONReporter) ReportTest(result *engine.TestResult) {
	r.writeJSON(r.testToJSON(result))
}

func (r *JSONReporter) testToJSON(result *engine.TestResult) JSONTestResult {
	jr := JSONTestResult{
		ID:       result.Scenario.ID,
		Name:     result.Scenario.Name,
		Status:   strings.ToLower(status(result)),
		Duration: result.Duration.Round(time.Millisecond).String(),
	}
	if result.Error != nil {
		jr.Error = result.Error.Error()
	}
	if result.SkipReason != "" {
		jr.SkipReason = result.SkipReason
	}
	if devs := outcomes(result); len(devs) > 0 {
		jr.Outcomes = devs
	}

	for _, sr := range result.StepResults {
		stepStatus := "pass"
		if !sr.Passed {
			stepStatus = "fail"
		}
		jsr := JSONStepResult{
			Index:    sr.StepIndex,
			Action:   sr.Step.Action,
			Status:   stepStatus,
			Duration: sr.Duration.Round(time.Millisecond).String(),
			Outputs:  sr.Output,
		}
		if sr.Error != nil {
			jsr.Error = sr.Error.Error()
		}
		if len(sr.ExpectResults) > 0 {
			jsr.Expects = make(map[string]JSONExpect, len(sr.ExpectResults))
			for key, er := range sr.ExpectResults {
				jsr.Expects[key] = JSONExpect{
					Passed:   er.Passed,
					Expected: er.Expected,
					Actual:   er.Actual,
					Message:  er.Message,
				}
			}
		}
		jr.Steps = append(jr.Steps, jsr)
	}
	return jr
}

func (r *JSONReporter) writeJSON(v interface{}) {
	var data []byte
	var err error
	if r.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		fmt.Fprintf(r.writer, `{"error": "failed to marshal: %s"}`+"\n", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
}

// JUnitReporter outputs JUnit XML for CI integration.
type JUnitReporter struct {
	writer io.Writer
}

// NewJUnitReporter creates a new JUnit reporter.
func NewJUnitReporter(w io.Writer) *JUnitReporter {
	return &JUnitReporter{writer: w}
}

// ReportSuite reports suite results in JUnit XML format.
func (r *JUnitReporter) ReportSuite(result *engine.SuiteResult) {
	var b strings.Builder

	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<testsuite name="%s" tests="%d" failures="%d" skipped="%d" time="%.3f">`+"\n",
		escapeXML(result.SuiteName), len(result.Results), result.FailCount, result.SkipCount,
		result.Duration.Seconds())

	for _, tr := range result.Results {
		fmt.Fprintf(&b, `  <testcase name="%s" classname="%s" time="%.3f">`+"\n",
			escapeXML(tr.Scenario.Name), escapeXML(tr.Scenario.ID), tr.Duration.Seconds())

		switch {
		case tr.Skipped:
			fmt.Fprintf(&b, `    <skipped message="%s"/>`+"\n", escapeXML(tr.SkipReason))
		case !tr.Passed && tr.Error != nil:
			fmt.Fprintf(&b, `    <failure message="%s">`+"\n", escapeXML(tr.Error.Error()))
			b.WriteString("      <![CDATA[")
			for _, sr := range tr.StepResults {
				if !sr.Passed {
					fmt.Fprintf(&b, "Step %d (%s): %v\n", sr.StepIndex+1, sr.Step.Action, sr.Error)
				}
			}
			b.WriteString("]]>\n    </failure>\n")
		}
		b.WriteString("  </testcase>\n")
	}
	b.WriteString("</testsuite>\n")

	fmt.Fprint(r.writer, b.String())
}

// ReportTest reports a single scenario wrapped in a suite.
func (r *JUnitReporter) ReportTest(result *engine.TestResult) {
	suite := &engine.SuiteResult{
		SuiteName: result.Scenario.ID,
		Results:   []*engine.TestResult{result},
		Duration:  result.Duration,
	}
	switch {
	case result.Skipped:
		suite.SkipCount = 1
	case result.Passed:
		suite.PassCount = 1
	default:
		suite.FailCount = 1
	}
	r.ReportSuite(suite)
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
