// Command gridpulse-log views and analyzes protocol capture files.
//
// Capture files are written by gridpulse-publisher and gridpulse-subscriber
// when started with -protocol-log.
//
// Usage:
//
//	gridpulse-log <command> [flags] <file.glog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL or CSV
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View only wire-layer events
//	gridpulse-log view -layer wire publisher.glog
//
//	# Export cipher key events to CSV
//	gridpulse-log export -format csv publisher.glog
//
//	# Keep one connection
//	gridpulse-log filter -conn-id abc12345-... -o one.glog publisher.glog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gridpulse/gridpulse-go/cmd/gridpulse-log/commands"
	"github.com/gridpulse/gridpulse-go/pkg/log"
)

const usage = `gridpulse-log - GridPulse Protocol Log Analyzer

Usage:
  gridpulse-log <command> [flags] <file.glog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL or CSV
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "gridpulse-log <command> -help" for more information about a command.
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

// filterFlags registers the event selection flags shared by view and filter.
type filterFlags struct {
	connID       *string
	subscriberID *string
	layer        *string
	direction    *string
	category     *string
	timeStart    *string
	timeEnd      *string
}

func addFilterFlags(fs *flag.FlagSet) *filterFlags {
	return &filterFlags{
		connID:       fs.String("conn-id", "", "Filter by connection ID"),
		subscriberID: fs.String("subscriber-id", "", "Filter by subscriber ID"),
		layer:        fs.String("layer", "", "Filter by layer (transport, wire, session)"),
		direction:    fs.String("direction", "", "Filter by direction (in, out)"),
		category:     fs.String("category", "", "Filter by category (message, control, state, cipher, error)"),
		timeStart:    fs.String("time-start", "", "Filter by start time (RFC3339)"),
		timeEnd:      fs.String("time-end", "", "Filter by end time (RFC3339)"),
	}
}

func (f *filterFlags) build() (log.Filter, error) {
	filter := log.Filter{ConnectionID: *f.connID, SubscriberID: *f.subscriberID}

	if *f.layer != "" {
		l, err := commands.ParseLayerFlag(*f.layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if *f.direction != "" {
		d, err := commands.ParseDirectionFlag(*f.direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if *f.category != "" {
		c, err := commands.ParseCategoryFlag(*f.category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}

	var err error
	if filter.TimeStart, err = commands.ParseTimeFlag(*f.timeStart); err != nil {
		return filter, err
	}
	if filter.TimeEnd, err = commands.ParseTimeFlag(*f.timeEnd); err != nil {
		return filter, err
	}
	return filter, nil
}

func newFlagSet(name, summary, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "gridpulse-log %s - %s\n\nUsage:\n  gridpulse-log %s %s\n\nFlags:\n", name, summary, name, args)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses args and returns the log file path.
func parse(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "View log file in human-readable format", "[flags] <file.glog>")
	ff := addFilterFlags(fs)
	path := parse(fs, args)

	filter, err := ff.build()
	if err != nil {
		fail(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export log file to JSONL or CSV", "[flags] <file.glog>")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := parse(fs, args)

	w := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fail(fmt.Errorf("failed to create output file: %w", err))
		}
		defer f.Close()
		w = f
	}
	if err := commands.RunExport(path, *format, w); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter log file and write to new file", "[flags] -o <out.glog> <file.glog>")
	output := fs.String("o", "", "Output file (required)")
	ff := addFilterFlags(fs)
	path := parse(fs, args)

	filter, err := ff.build()
	if err != nil {
		fail(err)
	}
	n, err := commands.RunFilter(path, *output, filter)
	if err != nil {
		fail(err)
	}
	fmt.Fprintf(os.Stderr, "%d events written to %s\n", n, *output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the log file", "<file.glog>")
	path := parse(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
