// Package origin implements the Origin Table: the in-memory source of
// truth for prefixes this node originates, arbitrated across the
// clients that contribute them.
package origin

import (
	"bytes"
	"fmt"
	"net/netip"
)

// Prefix is an IP network (address + prefix length), IPv4 or IPv6.
type Prefix = netip.Prefix

// PrefixType identifies the client contributing a PrefixEntry. Lower
// values win: a prefix's winning entry is the one whose client has the
// lowest PrefixType among present contributors.
type PrefixType int

const (
	LOOPBACK PrefixType = iota
	DEFAULT
	BGP
	PREFIX_ALLOCATOR
)

func (t PrefixType) String() string {
	switch t {
	case LOOPBACK:
		return "LOOPBACK"
	case DEFAULT:
		return "DEFAULT"
	case BGP:
		return "BGP"
	case PREFIX_ALLOCATOR:
		return "PREFIX_ALLOCATOR"
	default:
		return fmt.Sprintf("PrefixType(%d)", int(t))
	}
}

// MarshalText renders the type the way it travels on the wire, so
// snapshots and published records read as named clients rather than
// bare integers.
func (t PrefixType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (t *PrefixType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "LOOPBACK":
		*t = LOOPBACK
	case "DEFAULT":
		*t = DEFAULT
	case "BGP":
		*t = BGP
	case "PREFIX_ALLOCATOR":
		*t = PREFIX_ALLOCATOR
	default:
		return fmt.Errorf("origin: unknown prefix type %q", b)
	}
	return nil
}

// ForwardingType is how the prefix should be resolved into a forwarding
// decision once routed. The Prefix Manager does not interpret it, only
// carries it through unchanged.
type ForwardingType int

const (
	FORWARDING_TYPE_IP ForwardingType = iota
	FORWARDING_TYPE_SR_MPLS
)

func (f ForwardingType) String() string {
	if f == FORWARDING_TYPE_SR_MPLS {
		return "SR_MPLS"
	}
	return "IP"
}

func (f ForwardingType) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *ForwardingType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "IP":
		*f = FORWARDING_TYPE_IP
	case "SR_MPLS":
		*f = FORWARDING_TYPE_SR_MPLS
	default:
		return fmt.Errorf("origin: unknown forwarding type %q", b)
	}
	return nil
}

// ForwardingAlgorithm picks the ECMP strategy carried alongside a
// forwarding type.
type ForwardingAlgorithm int

const (
	SP_ECMP ForwardingAlgorithm = iota
	KSP2_ED_ECMP
)

func (a ForwardingAlgorithm) String() string {
	if a == KSP2_ED_ECMP {
		return "KSP2_ED_ECMP"
	}
	return "SP_ECMP"
}

func (a ForwardingAlgorithm) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *ForwardingAlgorithm) UnmarshalText(b []byte) error {
	switch string(b) {
	case "SP_ECMP":
		*a = SP_ECMP
	case "KSP2_ED_ECMP":
		*a = KSP2_ED_ECMP
	default:
		return fmt.Errorf("origin: unknown forwarding algorithm %q", b)
	}
	return nil
}

// PrefixEntry is one client's contribution of a prefix. Ephemeral
// entries are never persisted across a restart.
type PrefixEntry struct {
	Prefix              Prefix              `json:"prefix"`
	Type                PrefixType          `json:"type"`
	ForwardingType      ForwardingType      `json:"forwardingType"`
	ForwardingAlgorithm ForwardingAlgorithm `json:"forwardingAlgorithm"`
	Ephemeral           bool                `json:"ephemeral"`
	Metadata            []byte              `json:"metadata,omitempty"`
}

// Equal reports whether two entries carry identical content. Used to
// detect no-op advertises and dirty-free snapshot writes.
func (e PrefixEntry) Equal(other PrefixEntry) bool {
	return e.Prefix == other.Prefix &&
		e.Type == other.Type &&
		e.ForwardingType == other.ForwardingType &&
		e.ForwardingAlgorithm == other.ForwardingAlgorithm &&
		e.Ephemeral == other.Ephemeral &&
		bytes.Equal(e.Metadata, other.Metadata)
}
