package manager

import "time"

// DefaultThrottleTimeout is kPrefixMgrKvThrottleTimeout: the coalescing
// interval between publication bursts.
const DefaultThrottleTimeout = 250 * time.Millisecond

// DefaultKeyTTL is kKvStoreDbTtl: the TTL applied to published keys
// when Config.KeyTTL is unset.
const DefaultKeyTTL = 5 * time.Minute

// Config carries every knob the Prefix Manager needs. It is
// constructed once, by the process entrypoint, and never mutated —
// there is no global mutable configuration singleton.
type Config struct {
	// Node is this node's name, embedded in published records and
	// per-prefix keys.
	Node string
	// Area is the default announcement keyspace. Defaults to "0" if
	// empty.
	Area string

	// PerPrefixKeys selects per-prefix-key publication (true) or the
	// legacy single-key-per-node mode (false).
	PerPrefixKeys bool
	// HoldTime is the initial delay before the first publication.
	// Zero means no hold.
	HoldTime time.Duration
	// PerfMeasurement attaches perf-events to each publication when
	// true.
	PerfMeasurement bool
	// KeyTTL is the TTL applied to published keys. Defaults to
	// DefaultKeyTTL when zero.
	KeyTTL time.Duration
	// SyncInterval is an informational lower bound between replicated
	// store sync bursts; the throttle timer is independent of it.
	SyncInterval time.Duration
	// ThrottleTimeout is kPrefixMgrKvThrottleTimeout. Defaults to
	// DefaultThrottleTimeout when zero.
	ThrottleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Area == "" {
		c.Area = "0"
	}
	if c.KeyTTL == 0 {
		c.KeyTTL = DefaultKeyTTL
	}
	if c.ThrottleTimeout == 0 {
		c.ThrottleTimeout = DefaultThrottleTimeout
	}
	return c
}
