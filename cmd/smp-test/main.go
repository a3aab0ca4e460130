// Command smp-test runs pairing scenarios between two simulated devices.
//
// Each scenario configures a central and a peripheral Security Manager,
// joins them with a loopback link and drives them through YAML steps.
//
// Usage:
//
//	smp-test [flags] [scenario-pattern]
//
// Flags:
//
//	-tests string         Path to the scenario directory
//	-timeout duration     Scenario timeout (default 30s)
//	-verbose              Show step details and engine debug output
//	-json                 Output results as JSON
//	-junit                Output results as JUnit XML
//	-bonds string         Keep bond files under this directory
//	-protocol-log string  File path for protocol event logging (CBOR format)
//
// Examples:
//
//	# Run every scenario
//	smp-test -tests ./internal/testharness/testdata/scenarios
//
//	# Run the secure connections scenarios and capture the PDUs
//	smp-test -protocol-log pairing.cbor "^SC-"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/mash-protocol/blesmp/internal/testharness/runner"
	smplog "github.com/mash-protocol/blesmp/pkg/log"
)

var (
	tests       = flag.String("tests", "./internal/testharness/testdata/scenarios", "Path to the scenario directory")
	timeout     = flag.Duration("timeout", 30*time.Second, "Scenario timeout")
	verbose     = flag.Bool("verbose", false, "Show step details and engine debug output")
	jsonOut     = flag.Bool("json", false, "Output results as JSON")
	junitOut    = flag.Bool("junit", false, "Output results as JUnit XML")
	bonds       = flag.String("bonds", "", "Keep bond files under this directory")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
)

func main() {
	flag.Parse()

	pattern := ""
	if flag.NArg() > 0 {
		pattern = flag.Arg(0)
	}

	outputFormat := "text"
	if *jsonOut {
		outputFormat = "json"
	} else if *junitOut {
		outputFormat = "junit"
	}

	if outputFormat == "text" {
		log.SetFlags(log.Ltime)
		if *verbose {
			log.SetFlags(log.Ltime | log.Lmicroseconds)
		}
		log.Printf("Scenarios: %s", *tests)
		if pattern != "" {
			log.Printf("Pattern: %s", pattern)
		}
	}

	var protocolLogger *smplog.FileLogger
	if *protocolLog != "" {
		var err error
		protocolLogger, err = smplog.NewFileLogger(*protocolLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create protocol logger: %v\n", err)
			os.Exit(1)
		}
		if outputFormat == "text" {
			log.Printf("Protocol logging to: %s", *protocolLog)
		}
	}

	config := &runner.Config{
		TestDir:      *tests,
		Pattern:      pattern,
		Timeout:      *timeout,
		Verbose:      *verbose,
		Output:       os.Stdout,
		OutputFormat: outputFormat,
		BondDir:      *bonds,
	}
	var sinks []smplog.Logger
	if protocolLogger != nil {
		sinks = append(sinks, protocolLogger)
	}
	if *verbose {
		config.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		sinks = append(sinks, smplog.NewSlogAdapter(config.Logger.With("source", "protocol")))
	}
	if len(sinks) > 0 {
		config.ProtocolLogger = smplog.NewMultiLogger(sinks...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	result, err := runner.New(config).Run(ctx)
	cancel()

	if protocolLogger != nil {
		if cerr := protocolLogger.Close(); cerr != nil {
			log.Printf("Error closing protocol log: %v", cerr)
		}
		if n := protocolLogger.Dropped(); n > 0 {
			log.Printf("Protocol log dropped %d events", n)
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if result.FailCount > 0 {
		os.Exit(1)
	}
}
