// Package commands implements the ship-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/shipproto/ship-go/pkg/log"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
}

// summarize returns a short label for the event payload and its most
// telling value, shared by view and the CSV export.
func summarize(event log.Event) (kind, detail string) {
	switch {
	case event.Frame != nil:
		return "Frame", strconv.Itoa(event.Frame.Size)
	case event.Message != nil:
		return event.Message.Type.String(), event.Message.Summary
	case event.StateChange != nil:
		return "State", event.StateChange.NewState
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String(), ""
	case event.Error != nil:
		return "Error", event.Error.Kind
	}
	return "Unknown", ""
}

// details returns the indented body lines printed under an event header.
func details(event log.Event) []string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	addIf := func(cond bool, format string, args ...any) {
		if cond {
			add(format, args...)
		}
	}

	if event.PeerID != "" || event.LocalRole != log.RoleUnknown {
		add("Peer: %s (local %s)", shortenPeerID(event.PeerID), event.LocalRole)
	}

	switch {
	case event.Frame != nil:
		f := event.Frame
		add("Size: %d bytes", f.Size)
		if len(f.Data) > 0 {
			suffix := ""
			if f.Truncated {
				suffix = " (truncated)"
			}
			add("Data: %s%s", hex.EncodeToString(f.Data), suffix)
		}
	case event.Message != nil:
		m := event.Message
		addIf(m.Summary != "", "%s", m.Summary)
		addIf(m.PayloadSize > 0, "Payload: %d bytes", m.PayloadSize)
	case event.StateChange != nil:
		sc := event.StateChange
		add("Entity: %s", sc.Entity)
		add("%s -> %s", sc.OldState, sc.NewState)
		addIf(sc.Reason != "", "Reason: %s", sc.Reason)
	case event.ControlMsg != nil:
		addIf(event.ControlMsg.CloseCode != nil, "Code: %d", derefInt(event.ControlMsg.CloseCode))
	case event.Error != nil:
		e := event.Error
		add("Layer: %s", e.Layer)
		add("Message: %s", e.Message)
		addIf(e.Kind != "", "Kind: %s", e.Kind)
		addIf(e.Context != "", "Context: %s", e.Context)
	}
	return lines
}

// formatEvent writes a header line
//
//	timestamp [conn:id] DIR LAYER Kind
//
// followed by the indented details and a blank line.
func formatEvent(w io.Writer, event log.Event) {
	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}
	kind, _ := summarize(event)

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n",
		event.Timestamp.UTC().Format(timestampLayout), shortenConnID(event.ConnectionID),
		event.Direction, layer, kind)
	for _, line := range details(event) {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintln(w)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

// shortenPeerID keeps the first and last 4 hex digits of an SKI.
func shortenPeerID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:4] + ".." + id[len(id)-4:]
}

// RunView prints the matching events of the capture at path.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, log.Filter{
		Layer:     filter.Layer,
		Direction: filter.Direction,
		Category:  filter.Category,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
