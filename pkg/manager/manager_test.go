package manager

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/prefixmgr/pkg/configstore"
	"github.com/ryandielhenn/prefixmgr/pkg/kvstore"
	"github.com/ryandielhenn/prefixmgr/pkg/origin"
	"github.com/ryandielhenn/prefixmgr/pkg/snapshot"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *kvstore.FakeClient, *configstore.FakeClient) {
	t.Helper()
	kv := kvstore.NewFakeClient()
	cs := configstore.NewFakeClient()
	snap := snapshot.New(cs)

	cfg.Node = "node-1"
	cfg.Area = "0"
	if cfg.ThrottleTimeout == 0 {
		cfg.ThrottleTimeout = 20 * time.Millisecond
	}
	m := New(cfg, kv, snap, zap.NewNop())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m, kv, cs
}

func mustEntry(t *testing.T, cidr string, client origin.PrefixType) origin.PrefixEntry {
	t.Helper()
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		t.Fatalf("parse prefix: %v", err)
	}
	return origin.PrefixEntry{Prefix: p, Type: client}
}

func TestAdvertiseThenGetPrefixesObservesIt(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()
	e1 := mustEntry(t, "10.0.0.0/24", origin.DEFAULT)

	changed, err := m.Advertise(ctx, []origin.PrefixEntry{e1})
	if err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	if !changed {
		t.Fatalf("expected Advertise to report changed")
	}

	got, err := m.GetPrefixes(ctx)
	if err != nil {
		t.Fatalf("GetPrefixes: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(e1) {
		t.Fatalf("expected the advertised entry to be observable, got %+v", got)
	}
}

// TestPublicationFollowsThrottleWindow mirrors S1: after one throttle
// window the store holds the published record for the advertised prefix.
func TestPublicationFollowsThrottleWindow(t *testing.T) {
	m, kv, _ := newTestManager(t, Config{PerPrefixKeys: true})
	ctx := context.Background()
	e1 := mustEntry(t, "10.1.1.1/32", origin.DEFAULT)

	if _, err := m.Advertise(ctx, []origin.PrefixEntry{e1}); err != nil {
		t.Fatalf("Advertise: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if all, err := kv.DumpAllWithPrefix(ctx, "prefix:"); err == nil && len(all) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for publication")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestHoldDefersPublication mirrors HoldTimeout: no publication occurs
// before hold_time elapses, even though the mutation applies
// immediately.
func TestHoldDefersPublication(t *testing.T) {
	m, kv, _ := newTestManager(t, Config{PerPrefixKeys: true, HoldTime: 150 * time.Millisecond})
	ctx := context.Background()
	e1 := mustEntry(t, "10.1.1.1/32", origin.DEFAULT)

	start := time.Now()
	if _, err := m.Advertise(ctx, []origin.PrefixEntry{e1}); err != nil {
		t.Fatalf("Advertise: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if all, err := kv.DumpAllWithPrefix(ctx, "prefix:"); err == nil && len(all) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for publication")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("expected publication no sooner than hold_time, took %v", elapsed)
	}
}

func TestWithdrawByTypeRemovesOnlyThatType(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	entries := []origin.PrefixEntry{
		mustEntry(t, "10.0.0.1/32", origin.DEFAULT),
		mustEntry(t, "10.0.0.2/32", origin.DEFAULT),
		mustEntry(t, "10.0.0.3/32", origin.PREFIX_ALLOCATOR),
		mustEntry(t, "10.0.0.4/32", origin.PREFIX_ALLOCATOR),
	}
	if _, err := m.Advertise(ctx, entries); err != nil {
		t.Fatalf("Advertise: %v", err)
	}

	changed, err := m.WithdrawByType(ctx, origin.DEFAULT)
	if err != nil || !changed {
		t.Fatalf("WithdrawByType: changed=%v err=%v", changed, err)
	}

	got, err := m.GetPrefixesByType(ctx, origin.PREFIX_ALLOCATOR)
	if err != nil {
		t.Fatalf("GetPrefixesByType: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected PREFIX_ALLOCATOR entries untouched, got %d", len(got))
	}

	again, err := m.WithdrawByType(ctx, origin.DEFAULT)
	if err != nil || again {
		t.Fatalf("expected second WithdrawByType to report no change, got %v (err=%v)", again, err)
	}
}

func TestSubmitDropsMalformedRequest(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	m.Submit(UpdateRequest{Cmd: WithdrawPrefixesByType, Type: nil})

	got, err := m.GetPrefixes(context.Background())
	if err != nil {
		t.Fatalf("GetPrefixes: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected malformed request to be dropped with no effect, got %+v", got)
	}
}

func TestSubmitAppliesValidRequest(t *testing.T) {
	m, _, _ := newTestManager(t, Config{})
	e1 := mustEntry(t, "10.0.0.0/24", origin.DEFAULT)
	m.Submit(UpdateRequest{Cmd: AddPrefixes, Prefixes: []origin.PrefixEntry{e1}})

	var got []origin.PrefixEntry
	deadline := time.After(time.Second)
	for {
		var err error
		got, err = m.GetPrefixes(context.Background())
		if err != nil {
			t.Fatalf("GetPrefixes: %v", err)
		}
		if len(got) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for queued request to apply")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestStopWithdrawsOwnedKeys mirrors the on-stop contract: delete
// markers are published for every currently owned key before the loop
// exits.
func TestStopWithdrawsOwnedKeys(t *testing.T) {
	kv := kvstore.NewFakeClient()
	cs := configstore.NewFakeClient()
	snap := snapshot.New(cs)
	m := New(Config{Node: "node-1", Area: "0", PerPrefixKeys: true, ThrottleTimeout: 10 * time.Millisecond}, kv, snap, zap.NewNop())

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	e1 := mustEntry(t, "10.1.1.1/32", origin.DEFAULT)
	if _, err := m.Advertise(ctx, []origin.PrefixEntry{e1}); err != nil {
		t.Fatalf("Advertise: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		if all, err := kv.DumpAllWithPrefix(ctx, "prefix:"); err == nil && len(all) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for initial publication")
		case <-time.After(5 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	all, err := kv.DumpAllWithPrefix(ctx, "prefix:")
	if err != nil {
		t.Fatalf("DumpAllWithPrefix: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected the delete-marker to remain until TTL expiry, got %d keys", len(all))
	}
}
