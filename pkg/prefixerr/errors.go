// Package prefixerr holds the sentinel errors shared across the
// Prefix Manager's components. None of these are fatal to the core
// loop; callers log and continue.
package prefixerr

import "errors"

var (
	// ErrMalformedKey is returned by prefixkey.Decode for any string
	// not produced by Encode at the current schema.
	ErrMalformedKey = errors.New("prefixmgr: malformed key")

	// ErrDeserializationFailure is returned when a durable snapshot
	// record cannot be parsed. Treated as equivalent to first boot.
	ErrDeserializationFailure = errors.New("prefixmgr: deserialization failure")

	// ErrStoreWriteRejected is returned when the replicated store
	// refuses a publication write (e.g. version too low).
	ErrStoreWriteRejected = errors.New("prefixmgr: store write rejected")

	// ErrSnapshotWriteFailure is returned when a durable snapshot
	// write fails. Logged; does not fail the triggering mutation.
	ErrSnapshotWriteFailure = errors.New("prefixmgr: snapshot write failure")

	// ErrInvalidRequest marks a request that cannot be applied as given
	// (e.g. a withdraw naming the wrong client for a prefix another
	// client owns). Wrapped with request-specific detail by the
	// component that rejected it.
	ErrInvalidRequest = errors.New("prefixmgr: invalid request")

	// ErrShuttingDown is returned for requests that arrive after Stop
	// has been called.
	ErrShuttingDown = errors.New("prefixmgr: shutting down")
)
