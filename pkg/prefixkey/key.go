// Package prefixkey encodes and decodes the string keys under which
// prefixes are published to the key-value store.
package prefixkey

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/ryandielhenn/prefixmgr/pkg/prefixerr"
)

const perPrefixMarker = "prefix"

// Encode renders the per-prefix-key form: "prefix:<area>:<node>:<cidr>".
// The CIDR is written last and un-split so that an IPv6 address's own
// colons are never mistaken for field delimiters.
func Encode(area, node string, prefix netip.Prefix) string {
	return strings.Join([]string{perPrefixMarker, area, node, prefix.String()}, ":")
}

// Decode is the inverse of Encode. It rejects any key that is not a
// well-formed per-prefix key.
func Decode(key string) (area, node string, prefix netip.Prefix, err error) {
	rest, ok := strings.CutPrefix(key, perPrefixMarker+":")
	if !ok {
		return "", "", netip.Prefix{}, fmt.Errorf("%w: not a prefix key: %q", prefixerr.ErrMalformedKey, key)
	}

	areaNodeCIDR := strings.SplitN(rest, ":", 3)
	if len(areaNodeCIDR) != 3 {
		return "", "", netip.Prefix{}, fmt.Errorf("%w: malformed prefix key: %q", prefixerr.ErrMalformedKey, key)
	}

	p, err := netip.ParsePrefix(areaNodeCIDR[2])
	if err != nil {
		return "", "", netip.Prefix{}, fmt.Errorf("%w: bad prefix in key %q: %v", prefixerr.ErrMalformedKey, key, err)
	}
	return areaNodeCIDR[0], areaNodeCIDR[1], p, nil
}

// LegacyNodeKey renders the single-key-per-node form used by the
// legacy (non per-prefix-key) publication mode: "prefix:<node>". All of
// a node's prefixes are packed into the one record published under
// this key; unlike Encode, no area or CIDR is carried in the key
// itself.
func LegacyNodeKey(node string) string {
	return perPrefixMarker + ":" + node
}

// DecodeLegacyNodeKey is the inverse of LegacyNodeKey. It rejects any
// key carrying further colon-delimited fields, since those belong to
// the per-prefix key form instead.
func DecodeLegacyNodeKey(key string) (node string, err error) {
	rest, ok := strings.CutPrefix(key, perPrefixMarker+":")
	if !ok {
		return "", fmt.Errorf("%w: not a node key: %q", prefixerr.ErrMalformedKey, key)
	}
	if strings.Contains(rest, ":") {
		return "", fmt.Errorf("%w: not a legacy node key: %q", prefixerr.ErrMalformedKey, key)
	}
	return rest, nil
}
