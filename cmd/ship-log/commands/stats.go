package commands

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/shipproto/ship-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Errors            int

	// Truncated is set when the capture ends inside an event.
	Truncated bool
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	PeerID    string
	Role      log.Role

	// Phase is the last connection state recorded.
	Phase string

	// ErrorKind is the kind of the last error, if any.
	ErrorKind string
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
	}
}

// collectStats reads every event of the capture. A truncated tail ends
// the scan without failing it.
func collectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for event, err := range reader.All() {
		switch {
		case errors.Is(err, log.ErrTruncated):
			stats.Truncated = true
		case err != nil:
			return nil, fmt.Errorf("failed to read event: %w", err)
		default:
			stats.add(event)
		}
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	if event.Category == log.CategoryMessage || event.Category == log.CategoryControl {
		s.EventsByDirection[event.Direction]++
	}
	if event.Error != nil {
		s.Errors++
	}

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	conn.add(event)
}

func (c *ConnectionStats) add(event log.Event) {
	c.Events++
	if event.Timestamp.After(c.LastSeen) {
		c.LastSeen = event.Timestamp
	}
	if c.PeerID == "" {
		c.PeerID = event.PeerID
	}
	if event.LocalRole != log.RoleUnknown {
		c.Role = event.LocalRole
	}
	if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntityConnection {
		c.Phase = sc.NewState
	}
	if event.Error != nil {
		c.ErrorKind = event.Error.Kind
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := collectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

// printCounts prints the non-zero counts in enum order.
func printCounts[K interface {
	~uint8
	fmt.Stringer
}](w io.Writer, title string, counts map[K]int) {
	fmt.Fprintf(w, "Events by %s:\n", title)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		if n := counts[k]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", k.String()+":", n)
		}
	}
	fmt.Fprintln(w)
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== SHIP Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		start, end := stats.TimeRange.Start, stats.TimeRange.End
		fmt.Fprintf(w, "Time Range: %s to %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n\n", end.Sub(start).Round(time.Second))
	}
	fmt.Fprintf(w, "Total Events: %d\n\n", stats.TotalEvents)

	printCounts(w, "Layer", stats.EventsByLayer)
	printCounts(w, "Category", stats.EventsByCategory)
	printCounts(w, "Direction", stats.EventsByDirection)

	ids := slices.SortedFunc(maps.Keys(stats.Connections), func(a, b string) int {
		return stats.Connections[a].FirstSeen.Compare(stats.Connections[b].FirstSeen)
	})
	fmt.Fprintf(w, "Connections: %d\n", len(ids))
	if len(ids) > 0 {
		fmt.Fprintln(w)
	}
	for _, id := range ids {
		c := stats.Connections[id]
		const indent = "           "
		fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(id), c.Events, c.LastSeen.Sub(c.FirstSeen).Round(time.Millisecond))
		if c.PeerID != "" {
			fmt.Fprintf(w, "%sPeer: %s (local %s)\n", indent, c.PeerID, c.Role)
		}
		if c.Phase != "" {
			fmt.Fprintf(w, "%sLast phase: %s\n", indent, c.Phase)
		}
		if c.ErrorKind != "" {
			fmt.Fprintf(w, "%sError: %s\n", indent, c.ErrorKind)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", stats.Errors)
	}
	if stats.Truncated {
		fmt.Fprintln(w, "\nWarning: capture ends inside an event")
	}
}
