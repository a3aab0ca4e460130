// Command smp-log is a tool for viewing and analyzing Security Manager
// protocol captures.
//
// Capture files are written by log.FileLogger when a Manager is configured
// with a ProtocolLogger, for example by smp-pair with the -protocol-log flag.
// Key-bearing PDUs are redacted in captures.
//
// Usage:
//
//	smp-log <command> [flags] <file.smplog>
//
// Commands:
//
//	view     View capture in human-readable format
//	export   Export capture to JSON or CSV format
//	filter   Filter capture and write to new file
//	stats    Show per-attempt statistics
//
// Examples:
//
//	# View all events
//	smp-log view central.smplog
//
//	# View only received PDUs
//	smp-log view --category pdu --direction in central.smplog
//
//	# Export to JSONL
//	smp-log export --format jsonl central.smplog
//
//	# Keep one attempt and save to new file
//	smp-log filter --attempt 5f0c8e2a-... -o attempt.smplog central.smplog
//
//	# Show statistics
//	smp-log stats central.smplog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mash-protocol/blesmp/cmd/smp-log/commands"
)

const usage = `smp-log - Security Manager Protocol Log Analyzer

Usage:
  smp-log <command> [flags] <file.smplog>

Commands:
  view     View capture in human-readable format
  export   Export capture to JSON or CSV format
  filter   Filter capture and write to new file
  stats    Show per-attempt statistics

Use "smp-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func requirePath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `smp-log view - View capture in human-readable format

Usage:
  smp-log view [flags] <file.smplog>

Flags:
`)
		fs.PrintDefaults()
	}

	attempt := fs.String("attempt", "", "Filter by attempt ID")
	peer := fs.String("peer", "", "Filter by peer address (type/aa:bb:cc:dd:ee:ff)")
	layer := fs.String("layer", "", "Filter by layer (channel, engine, keydist)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (pdu, state, key, error)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	filter := commands.ViewFilter{AttemptID: *attempt, PeerAddr: *peer}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fatal(err)
		}
		filter.Layer = &l
	}

	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fatal(err)
		}
		filter.Direction = &d
	}

	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fatal(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fatal(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `smp-log export - Export capture to JSON or CSV format

Usage:
  smp-log export [flags] <file.smplog>

Flags:
`)
		fs.PrintDefaults()
	}

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fatal(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `smp-log filter - Filter capture and write to new file

Usage:
  smp-log filter [flags] <file.smplog>

Flags:
`)
		fs.PrintDefaults()
	}

	output := fs.String("o", "", "Output file (required)")
	attempt := fs.String("attempt", "", "Filter by attempt ID")
	peer := fs.String("peer", "", "Filter by peer address")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339)")
	layer := fs.String("layer", "", "Filter by layer (channel, engine, keydist)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (pdu, state, key, error)")
	opcode := fs.String("opcode", "", "Filter PDUs by opcode (e.g. 0x03)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	opts := commands.FilterOptions{
		Output:    *output,
		AttemptID: *attempt,
		PeerAddr:  *peer,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Direction: *direction,
		Category:  *category,
		Opcode:    *opcode,
	}

	n, err := commands.RunFilter(path, opts)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `smp-log stats - Show per-attempt statistics

Usage:
  smp-log stats <file.smplog>

`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	path := requirePath(fs)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fatal(err)
	}
}
