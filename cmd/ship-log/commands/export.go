package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shipproto/ship-go/pkg/log"
)

// exporter writes events in one output format.
type exporter interface {
	write(event log.Event) error
	flush() error
}

func newExporter(format string, w io.Writer) (exporter, error) {
	switch format {
	case "jsonl":
		return jsonlExporter{json.NewEncoder(w)}, nil
	case "csv":
		cw := csv.NewWriter(w)
		return &csvExporter{w: cw}, nil
	default:
		return nil, fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

// RunExport converts the capture at path to format, writing to output or
// to stdout when output is empty.
func RunExport(path, format, output string) error {
	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	exp, err := newExporter(format, w)
	if err != nil {
		return err
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := exp.write(event); err != nil {
			return fmt.Errorf("failed to export event: %w", err)
		}
	}
	return exp.flush()
}

type jsonlExporter struct {
	enc *json.Encoder
}

func (e jsonlExporter) write(event log.Event) error { return e.enc.Encode(event) }
func (e jsonlExporter) flush() error                { return nil }

var csvHeader = []string{"timestamp", "connection_id", "direction", "layer", "category", "role", "peer_id", "type", "detail"}

type csvExporter struct {
	w             *csv.Writer
	headerWritten bool
}

func (e *csvExporter) write(event log.Event) error {
	if !e.headerWritten {
		if err := e.w.Write(csvHeader); err != nil {
			return err
		}
		e.headerWritten = true
	}
	kind, detail := summarize(event)
	return e.w.Write([]string{
		event.Timestamp.UTC().Format(timestampLayout),
		event.ConnectionID,
		event.Direction.String(),
		event.Layer.String(),
		event.Category.String(),
		event.LocalRole.String(),
		event.PeerID,
		kind,
		detail,
	})
}

func (e *csvExporter) flush() error {
	if !e.headerWritten {
		if err := e.w.Write(csvHeader); err != nil {
			return err
		}
	}
	e.w.Flush()
	return e.w.Error()
}
