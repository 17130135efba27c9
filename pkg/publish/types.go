// Package publish implements the Publication Engine: the throttled
// diff-and-publish loop that reconciles the Origin Table's winning
// state into the external replicated store.
package publish

import "github.com/ryandielhenn/prefixmgr/pkg/origin"

// PerfEventUpdateKvstoreThrottled is the perf-event tag attached to the
// last entry of a publication's perf-events vector when perf
// measurement is enabled.
const PerfEventUpdateKvstoreThrottled = "UPDATE_KVSTORE_THROTTLED"

// PerfEvent is one timestamped marker in a publication's perf trace.
type PerfEvent struct {
	NodeName  string `json:"nodeName"`
	EventType string `json:"eventType"`
	UnixTs    int64  `json:"unixTs"`
}

// PerfEvents is the perf trace attached to a publication.
type PerfEvents struct {
	Events []PerfEvent `json:"events"`
}

// PrefixDatabase is the record published under a key, JSON-encoded
// into the opaque bytes the kvstore.Client traffics in. In per-prefix
// mode PrefixEntries carries exactly one entry (or, for a withdraw,
// the last-known entry with DeletePrefix true). In legacy mode one key
// per node carries every entry the node currently originates.
type PrefixDatabase struct {
	ThisNodeName  string               `json:"thisNodeName"`
	PrefixEntries []origin.PrefixEntry `json:"prefixEntries"`
	DeletePrefix  bool                 `json:"deletePrefix"`
	PerfEvents    *PerfEvents          `json:"perfEvents,omitempty"`
	Area          string               `json:"area"`
}
