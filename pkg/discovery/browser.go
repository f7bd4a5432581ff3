package discovery

import (
	"context"
	"time"
)

// Browser provides mDNS service browsing capabilities.
type Browser interface {
	// Browse searches for SHIP nodes. The channel is closed when the
	// context is cancelled or Stop is called.
	Browse(ctx context.Context) (<-chan ServiceEvent, error)

	// FindBySKI searches for the node advertising ski.
	// Returns when found or when the context is done.
	FindBySKI(ctx context.Context, ski string) (*NodeService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for browse operations.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// Filter drops services it returns false for. Nil keeps all.
	Filter FilterFunc
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// EventKind classifies a browse result.
type EventKind int

const (
	// ServiceAdded is reported the first time an instance is seen.
	ServiceAdded EventKind = iota
	// ServiceUpdated is reported when an instance gains addresses.
	ServiceUpdated
	// ServiceRemoved is reported when the last address of an instance is gone.
	ServiceRemoved
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case ServiceAdded:
		return "added"
	case ServiceUpdated:
		return "updated"
	case ServiceRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ServiceEvent is a browse result.
type ServiceEvent struct {
	Kind    EventKind
	Service *NodeService
}
