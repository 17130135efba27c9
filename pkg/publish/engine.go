package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/ryandielhenn/prefixmgr/internal/telemetry"
	"github.com/ryandielhenn/prefixmgr/pkg/kvstore"
	"github.com/ryandielhenn/prefixmgr/pkg/origin"
	"github.com/ryandielhenn/prefixmgr/pkg/prefixerr"
	"github.com/ryandielhenn/prefixmgr/pkg/prefixkey"
)

// Config carries the knobs that shape how the engine projects the
// Origin Table's winning state onto the replicated store.
type Config struct {
	Node            string
	Area            string
	PerPrefixKeys   bool
	PerfMeasurement bool
	KeyTTL          time.Duration
}

type perPrefixRecord struct {
	entry   origin.PrefixEntry
	version int64
}

// Engine is the Publication Engine. It is owned exclusively by the
// manager's core loop — no internal locking — the same single-loop
// discipline the Origin Table is held under.
type Engine struct {
	kv  kvstore.Client
	cfg Config

	perPrefix map[origin.Prefix]perPrefixRecord

	legacyEntries []origin.PrefixEntry
	legacyVersion int64
	legacyOwned   bool
}

func New(kv kvstore.Client, cfg Config) *Engine {
	return &Engine{
		kv:        kv,
		cfg:       cfg,
		perPrefix: make(map[origin.Prefix]perPrefixRecord),
	}
}

// Publish diffs current (the Origin Table's winning entries) against
// what was last published and writes upserts and delete-markers to
// close the gap. It returns a combined error if any individual write
// failed; callers should treat a non-nil error as "try again next
// throttle window", not as fatal.
func (e *Engine) Publish(ctx context.Context, current []origin.PrefixEntry) error {
	if e.cfg.PerPrefixKeys {
		return e.publishPerPrefix(ctx, current)
	}
	return e.publishLegacy(ctx, current)
}

func (e *Engine) publishPerPrefix(ctx context.Context, current []origin.PrefixEntry) error {
	byPrefix := make(map[origin.Prefix]origin.PrefixEntry, len(current))
	for _, e2 := range current {
		byPrefix[e2.Prefix] = e2
	}

	var errs error

	for prefix, entry := range byPrefix {
		prev, existed := e.perPrefix[prefix]
		if existed && prev.entry.Equal(entry) {
			continue
		}
		key := prefixkey.Encode(e.cfg.Area, e.cfg.Node, prefix)
		version, err := e.nextVersion(ctx, key, prev.version)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish: version for %q: %w", key, err))
			continue
		}
		db := PrefixDatabase{
			ThisNodeName:  e.cfg.Node,
			PrefixEntries: []origin.PrefixEntry{entry},
			DeletePrefix:  false,
			Area:          e.cfg.Area,
			PerfEvents:    e.perfEvents(),
		}
		if err := e.writeKey(ctx, key, db, version); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		e.perPrefix[prefix] = perPrefixRecord{entry: entry, version: version}
	}

	for prefix, prev := range e.perPrefix {
		if _, stillWinning := byPrefix[prefix]; stillWinning {
			continue
		}
		key := prefixkey.Encode(e.cfg.Area, e.cfg.Node, prefix)
		version, err := e.nextVersion(ctx, key, prev.version)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish: version for delete-marker %q: %w", key, err))
			continue
		}
		db := PrefixDatabase{
			ThisNodeName:  e.cfg.Node,
			PrefixEntries: []origin.PrefixEntry{prev.entry},
			DeletePrefix:  true,
			Area:          e.cfg.Area,
			PerfEvents:    e.perfEvents(),
		}
		if err := e.writeKey(ctx, key, db, version); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		delete(e.perPrefix, prefix)
	}

	return errs
}

func (e *Engine) publishLegacy(ctx context.Context, current []origin.PrefixEntry) error {
	if e.legacyOwned && entrySetsEqual(e.legacyEntries, current) {
		return nil
	}

	key := prefixkey.LegacyNodeKey(e.cfg.Node)
	base := int64(0)
	if e.legacyOwned {
		base = e.legacyVersion
	}
	version, err := e.nextVersion(ctx, key, base)
	if err != nil {
		return fmt.Errorf("publish: version for %q: %w", key, err)
	}

	db := PrefixDatabase{
		ThisNodeName:  e.cfg.Node,
		PrefixEntries: current,
		DeletePrefix:  false,
		Area:          e.cfg.Area,
		PerfEvents:    e.perfEvents(),
	}
	if err := e.writeKey(ctx, key, db, version); err != nil {
		return err
	}
	e.legacyEntries = append([]origin.PrefixEntry(nil), current...)
	e.legacyVersion = version
	e.legacyOwned = true
	return nil
}

// HandleKeyChanged reacts to a subscription notification for a
// per-prefix key this node owns. ourEntry is the Origin Table's
// current winning entry for prefix, as observed by the core loop at
// the moment the notification is handled (nil if this node no longer
// owns the prefix). The republish is unconditional once a foreign
// write is observed — it does not matter whether the foreign content
// happens to match what we'd publish anyway.
func (e *Engine) HandleKeyChanged(ctx context.Context, prefix origin.Prefix, ourEntry *origin.PrefixEntry) error {
	key := prefixkey.Encode(e.cfg.Area, e.cfg.Node, prefix)
	_, observedVersion, ok, err := e.kv.GetKey(ctx, key)
	if err != nil {
		return fmt.Errorf("publish: observe %q: %w", key, err)
	}
	if !ok {
		return nil
	}
	if prev, tracked := e.perPrefix[prefix]; tracked && prev.version == observedVersion {
		// This is an echo of our own last write, not a foreign one.
		return nil
	}
	version := observedVersion + 1

	if ourEntry != nil {
		db := PrefixDatabase{
			ThisNodeName:  e.cfg.Node,
			PrefixEntries: []origin.PrefixEntry{*ourEntry},
			DeletePrefix:  false,
			Area:          e.cfg.Area,
			PerfEvents:    e.perfEvents(),
		}
		if err := e.writeKey(ctx, key, db, version); err != nil {
			return err
		}
		e.perPrefix[prefix] = perPrefixRecord{entry: *ourEntry, version: version}
		return nil
	}

	prev := e.perPrefix[prefix]
	db := PrefixDatabase{
		ThisNodeName:  e.cfg.Node,
		PrefixEntries: []origin.PrefixEntry{prev.entry},
		DeletePrefix:  true,
		Area:          e.cfg.Area,
		PerfEvents:    e.perfEvents(),
	}
	if err := e.writeKey(ctx, key, db, version); err != nil {
		return err
	}
	delete(e.perPrefix, prefix)
	return nil
}

// HandleLegacyKeyChanged is the legacy-mode counterpart of
// HandleKeyChanged: the whole node-key was overwritten by a foreign
// actor, so the engine republishes its full current view.
func (e *Engine) HandleLegacyKeyChanged(ctx context.Context, current []origin.PrefixEntry) error {
	key := prefixkey.LegacyNodeKey(e.cfg.Node)
	_, observedVersion, ok, err := e.kv.GetKey(ctx, key)
	if err != nil {
		return fmt.Errorf("publish: observe %q: %w", key, err)
	}
	if !ok {
		return nil
	}
	if e.legacyOwned && e.legacyVersion == observedVersion {
		return nil
	}
	version := observedVersion + 1

	db := PrefixDatabase{
		ThisNodeName:  e.cfg.Node,
		PrefixEntries: current,
		DeletePrefix:  false,
		Area:          e.cfg.Area,
		PerfEvents:    e.perfEvents(),
	}
	if err := e.writeKey(ctx, key, db, version); err != nil {
		return err
	}
	e.legacyEntries = append([]origin.PrefixEntry(nil), current...)
	e.legacyVersion = version
	e.legacyOwned = true
	return nil
}

// Drain publishes delete-markers for every key this node currently
// owns, used during shutdown. It does not wait for TTL expiry; once
// the store acknowledges the write, ownership bookkeeping is cleared.
func (e *Engine) Drain(ctx context.Context) error {
	if e.cfg.PerPrefixKeys {
		var errs error
		for prefix, prev := range e.perPrefix {
			key := prefixkey.Encode(e.cfg.Area, e.cfg.Node, prefix)
			version, err := e.nextVersion(ctx, key, prev.version)
			if err == nil {
				db := PrefixDatabase{ThisNodeName: e.cfg.Node, PrefixEntries: []origin.PrefixEntry{prev.entry},
					DeletePrefix: true, Area: e.cfg.Area, PerfEvents: e.perfEvents()}
				err = e.writeKey(ctx, key, db, version)
			}
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			delete(e.perPrefix, prefix)
		}
		return errs
	}

	if !e.legacyOwned {
		return nil
	}
	key := prefixkey.LegacyNodeKey(e.cfg.Node)
	version, err := e.nextVersion(ctx, key, e.legacyVersion)
	if err != nil {
		return fmt.Errorf("publish: version for drain %q: %w", key, err)
	}
	db := PrefixDatabase{
		ThisNodeName:  e.cfg.Node,
		PrefixEntries: e.legacyEntries,
		DeletePrefix:  true,
		Area:          e.cfg.Area,
		PerfEvents:    e.perfEvents(),
	}
	if err := e.writeKey(ctx, key, db, version); err != nil {
		return err
	}
	e.legacyOwned = false
	return nil
}

// OwnedKeys returns the keys currently tracked as published by this
// node, for admin/debug inspection.
func (e *Engine) OwnedKeys() []string {
	if e.cfg.PerPrefixKeys {
		out := make([]string, 0, len(e.perPrefix))
		for prefix := range e.perPrefix {
			out = append(out, prefixkey.Encode(e.cfg.Area, e.cfg.Node, prefix))
		}
		return out
	}
	if !e.legacyOwned {
		return nil
	}
	return []string{prefixkey.LegacyNodeKey(e.cfg.Node)}
}

func (e *Engine) nextVersion(ctx context.Context, key string, localVersion int64) (int64, error) {
	_, observedVersion, ok, err := e.kv.GetKey(ctx, key)
	if err != nil {
		return 0, err
	}
	base := localVersion
	if ok && observedVersion > base {
		base = observedVersion
	}
	return base + 1, nil
}

func (e *Engine) writeKey(ctx context.Context, key string, db PrefixDatabase, version int64) error {
	raw, err := json.Marshal(db)
	if err != nil {
		return fmt.Errorf("publish: encode %q: %w", key, err)
	}
	if err := e.kv.SetKey(ctx, key, raw, version, e.cfg.KeyTTL); err != nil {
		telemetry.StoreWriteRejectedTotal.Inc()
		return fmt.Errorf("publish: %s: %w", key, errors.Join(prefixerr.ErrStoreWriteRejected, err))
	}
	return nil
}

func (e *Engine) perfEvents() *PerfEvents {
	if !e.cfg.PerfMeasurement {
		return nil
	}
	return &PerfEvents{Events: []PerfEvent{{
		NodeName:  e.cfg.Node,
		EventType: PerfEventUpdateKvstoreThrottled,
		UnixTs:    time.Now().Unix(),
	}}}
}

func entrySetsEqual(a, b []origin.PrefixEntry) bool {
	if len(a) != len(b) {
		return false
	}
	type key struct {
		prefix origin.Prefix
		client origin.PrefixType
	}
	am := make(map[key]origin.PrefixEntry, len(a))
	for _, e := range a {
		am[key{e.Prefix, e.Type}] = e
	}
	for _, e := range b {
		prev, ok := am[key{e.Prefix, e.Type}]
		if !ok || !prev.Equal(e) {
			return false
		}
	}
	return true
}
