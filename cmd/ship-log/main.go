// Command ship-log reads protocol capture files written by ship-node
// -protocol-log.
//
// Usage:
//
//	ship-log <command> [flags] <file.shiplog>
//
// Examples:
//
//	# Only the trust exchange
//	ship-log view -layer hello node.shiplog
//
//	# Everything one peer sent or received, into a new capture
//	ship-log filter -peer-id 0a:1b:... -o peer.shiplog node.shiplog
//
//	# Per-connection summary
//	ship-log stats node.shiplog
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shipproto/ship-go/cmd/ship-log/commands"
	"github.com/shipproto/ship-go/pkg/log"
)

// command is one ship-log subcommand. run receives a flag set named after
// the command and the arguments following the command name.
type command struct {
	name     string
	synopsis string
	run      func(fs *flag.FlagSet, args []string) error
}

var commandList = []command{
	{"view", "View log file in human-readable format", runView},
	{"export", "Export log file to JSONL or CSV format", runExport},
	{"filter", "Filter log file and write to new file", runFilter},
	{"stats", "Show statistics about the log file", runStats},
}

// errUsage reports bad arguments after the usage text was printed.
var errUsage = errors.New("invalid arguments")

func main() {
	os.Exit(dispatch(os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 1
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		printUsage(stdout)
		return 0
	}

	for _, cmd := range commandList {
		if cmd.name != args[0] {
			continue
		}
		fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.Usage = func() {
			fmt.Fprintf(stderr, "ship-log %s - %s\n\nUsage:\n  ship-log %s [flags] <file.shiplog>\n\nFlags:\n",
				cmd.name, cmd.synopsis, cmd.name)
			fs.PrintDefaults()
		}
		err := cmd.run(fs, args[1:])
		switch {
		case err == nil:
			return 0
		case errors.Is(err, flag.ErrHelp):
			return 0
		case !errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}

	fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
	printUsage(stderr)
	return 1
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, "ship-log - SHIP Protocol Log Analyzer\n\nUsage:\n  ship-log <command> [flags] <file.shiplog>\n\nCommands:\n")
	for _, cmd := range commandList {
		fmt.Fprintf(w, "  %-8s %s\n", cmd.name, cmd.synopsis)
	}
	fmt.Fprint(w, "\nUse \"ship-log <command> -help\" for more information about a command.\n")
}

// logPath parses args and returns the single positional argument.
func logPath(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		// The flag set already reported it.
		return "", fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(fs.Output(), "Error: exactly one log file path required")
		fs.Usage()
		return "", errUsage
	}
	return fs.Arg(0), nil
}

// enumFlag registers a flag that parses into *dst on first use.
func enumFlag[T any](fs *flag.FlagSet, name string, names []string, parse func(string) (T, error), dst **T) {
	usage := fmt.Sprintf("Filter by %s (%s)", name, strings.Join(names, ", "))
	fs.Func(name, usage, func(s string) error {
		v, err := parse(s)
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	})
}

func viewFlags(fs *flag.FlagSet, f *commands.ViewFilter) {
	enumFlag(fs, "layer", []string{"transport", "mode-init", "hello", "handshake", "gate", "data"}, log.ParseLayer, &f.Layer)
	enumFlag(fs, "direction", []string{"in", "out"}, log.ParseDirection, &f.Direction)
	enumFlag(fs, "category", []string{"message", "control", "state", "error"}, log.ParseCategory, &f.Category)
}

func runView(fs *flag.FlagSet, args []string) error {
	var filter commands.ViewFilter
	viewFlags(fs, &filter)
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunView(path, filter, os.Stdout)
}

func runExport(fs *flag.FlagSet, args []string) error {
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output)
}

func runFilter(fs *flag.FlagSet, args []string) error {
	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.PeerID, "peer-id", "", "Filter by peer SKI (any case, colons allowed)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339, inclusive)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339, exclusive)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, mode-init, hello, handshake, gate, data)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	if opts.Output == "" {
		fmt.Fprintln(fs.Output(), "Error: output file (-o) required")
		fs.Usage()
		return errUsage
	}

	n, err := commands.RunFilter(path, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Filtered %d events to %s\n", n, opts.Output)
	return nil
}

func runStats(fs *flag.FlagSet, args []string) error {
	path, err := logPath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
