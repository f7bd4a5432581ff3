// Package version provides protocol version parsing, format strings and ALPN helpers.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shipproto/ship-go/pkg/wire"
)

// Current is the protocol version implemented by this library.
const Current = "1.0"

// alpnPrefix is the ALPN protocol prefix, followed by the major version.
const alpnPrefix = "ship/"

// Version represents a parsed "major.minor" version.
type Version struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return Version{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return Version{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return Version{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// ParseFormat parses "name/major.minor" into a handshake format.
func ParseFormat(s string) (wire.Format, error) {
	name, ver, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || name == "" {
		return wire.Format{}, fmt.Errorf("invalid format %q: expected name/major.minor", s)
	}
	v, err := Parse(ver)
	if err != nil {
		return wire.Format{}, fmt.Errorf("invalid format %q: %w", s, err)
	}
	f := wire.Format{Name: name, Major: v.Major, Minor: v.Minor}
	if err := f.Validate(); err != nil {
		return wire.Format{}, fmt.Errorf("invalid format %q: %w", s, err)
	}
	return f, nil
}

// ParseFormats parses a list of format strings, keeping order.
func ParseFormats(list []string) ([]wire.Format, error) {
	out := make([]wire.Format, 0, len(list))
	for _, s := range list {
		f, err := ParseFormat(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// DefaultFormats returns the formats offered when none are configured,
// most preferred first.
func DefaultFormats() []wire.Format {
	v, _ := Parse(Current)
	return []wire.Format{
		{Name: "cbor", Major: v.Major, Minor: v.Minor},
		{Name: "json-utf8", Major: v.Major, Minor: v.Minor},
	}
}

// ALPNProtocol returns the ALPN protocol string for a major version: "ship/N".
func ALPNProtocol(major uint16) string {
	return fmt.Sprintf("%s%d", alpnPrefix, major)
}

// MajorFromALPN extracts the major version from an ALPN protocol string.
func MajorFromALPN(alpn string) (uint16, error) {
	if !strings.HasPrefix(alpn, alpnPrefix) {
		return 0, fmt.Errorf("not a SHIP ALPN protocol: %q", alpn)
	}

	suffix := alpn[len(alpnPrefix):]
	if suffix == "" {
		return 0, fmt.Errorf("empty major version in ALPN: %q", alpn)
	}

	major, err := strconv.ParseUint(suffix, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid major version in ALPN %q: %w", alpn, err)
	}

	return uint16(major), nil
}

// SupportedALPNProtocols returns the ALPN protocol strings for all supported
// major versions. Currently only major version 1.
func SupportedALPNProtocols() []string {
	current, _ := Parse(Current)
	return []string{ALPNProtocol(current.Major)}
}
