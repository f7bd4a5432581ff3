package commands

import (
	"fmt"
	"time"

	"github.com/shipproto/ship-go/pkg/log"
	"github.com/shipproto/ship-go/pkg/trust"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output    string
	ConnID    string
	PeerID    string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

// RunFilter filters the log file and writes matching events to a new file.
// It returns the number of events written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		PeerID:       trust.NormalizeID(opts.PeerID),
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return 0, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return 0, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if opts.Layer != "" {
		l, err := log.ParseLayer(opts.Layer)
		if err != nil {
			return 0, err
		}
		filter.Layer = &l
	}

	if opts.Direction != "" {
		d, err := log.ParseDirection(opts.Direction)
		if err != nil {
			return 0, err
		}
		filter.Direction = &d
	}

	if opts.Category != "" {
		c, err := log.ParseCategory(opts.Category)
		if err != nil {
			return 0, err
		}
		filter.Category = &c
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	for event, err := range reader.All() {
		if err != nil {
			return logger.Count(), fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
	}
	if err := logger.Err(); err != nil {
		return logger.Count(), fmt.Errorf("failed to write event: %w", err)
	}

	return logger.Count(), nil
}
