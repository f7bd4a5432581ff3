package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of SHIP nodes.
	ServiceType = "_ship._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default SHIP port.
	DefaultPort = 4712

	// DefaultPath is the default websocket path advertised in TXT records.
	DefaultPath = "/ship/"

	// TXTVersion is the TXT record format version.
	TXTVersion = "1"
)

// TXT record key constants.
const (
	TXTKeyVersion  = "txtvers"
	TXTKeyID       = "id"
	TXTKeyPath     = "path"
	TXTKeySKI      = "ski"
	TXTKeyRegister = "register"
	TXTKeyBrand    = "brand"
	TXTKeyModel    = "model"
	TXTKeyType     = "type"
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400

	// SKILength is the length of a hex encoded SHA-1 Subject Key Identifier.
	SKILength = 40
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInvalidSKI          = errors.New("invalid SKI")
	ErrUnsupportedVersion  = errors.New("unsupported TXT record version")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrTXTRecordTooLarge   = errors.New("TXT records exceed 400 bytes")
	ErrNotFound            = errors.New("service not found")
)

// NodeInfo is what a node advertises about itself.
type NodeInfo struct {
	// InstanceName is the DNS-SD instance label. Defaults to the ID.
	InstanceName string

	// ID is the node identifier.
	ID string

	// SKI is the Subject Key Identifier of the node certificate.
	SKI string

	// Path is the websocket path. Empty for raw TLS stream transport.
	Path string

	// Register reports whether the node accepts automatic registration.
	Register bool

	Brand string
	Model string
	Type  string

	// Port is the listening port.
	Port uint16
}

// Validate checks that the info can be advertised.
func (i *NodeInfo) Validate() error {
	if i.ID == "" {
		return ErrMissingRequired
	}
	if !isSKI(i.SKI) {
		return ErrInvalidSKI
	}
	if len(i.instanceName()) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	size := 0
	for k, v := range EncodeNodeTXT(i) {
		size += 1 + len(k) + 1 + len(v)
	}
	if size > MaxTXTRecordSize {
		return ErrTXTRecordTooLarge
	}
	return nil
}

func (i *NodeInfo) instanceName() string {
	if i.InstanceName != "" {
		return i.InstanceName
	}
	return i.ID
}

// NodeService is a discovered SHIP node.
type NodeService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	ID       string
	SKI      string
	Path     string
	Register bool
	Brand    string
	Model    string
	Type     string
}

// Address returns a dialable host:port, preferring a resolved address over
// the host name.
func (s *NodeService) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}

// FilterFunc selects discovered services.
type FilterFunc func(*NodeService) bool

// FilterBySKI matches services advertising the given SKI.
func FilterBySKI(ski string) FilterFunc {
	want := normalizeSKI(ski)
	return func(s *NodeService) bool {
		return s.SKI == want
	}
}
