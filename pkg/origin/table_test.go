package origin

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/ryandielhenn/prefixmgr/pkg/prefixerr"
)

func mustPrefix(t *testing.T, s string) Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("parse prefix %q: %v", s, err)
	}
	return p
}

func TestAdvertiseAndWithdraw(t *testing.T) {
	tbl := New()
	p := mustPrefix(t, "10.0.0.0/24")

	changed := tbl.Advertise([]PrefixEntry{{Prefix: p, Type: DEFAULT}})
	if !changed {
		t.Fatalf("expected Advertise of a new prefix to report changed")
	}
	got := tbl.GetAll()
	if len(got) != 1 || got[0].Prefix != p {
		t.Fatalf("unexpected table contents after advertise: %+v", got)
	}

	changed, err := tbl.Withdraw([]PrefixEntry{{Prefix: p, Type: DEFAULT}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatalf("expected Withdraw to report changed")
	}
	if len(tbl.GetAll()) != 0 {
		t.Fatalf("expected table to be empty after withdraw")
	}
}

// TestWithdrawUpdatesWinner mirrors RemoveUpdateType: withdrawing the
// current winner's contribution must promote the next-best client, and
// report a change even though the prefix row itself is not empty.
func TestWithdrawUpdatesWinner(t *testing.T) {
	tbl := New()
	p := mustPrefix(t, "10.0.0.0/24")

	tbl.Advertise([]PrefixEntry{
		{Prefix: p, Type: LOOPBACK},
		{Prefix: p, Type: BGP},
	})

	changed, err := tbl.Withdraw([]PrefixEntry{{Prefix: p, Type: LOOPBACK}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatalf("expected withdrawing the winner to report changed")
	}
	got := tbl.GetAll()
	if len(got) != 1 || got[0].Type != BGP {
		t.Fatalf("expected BGP to become the new winner, got %+v", got)
	}
}

// TestWithdrawRejectsMismatchedTypeAsBatch mirrors RemoveInvalidType: a
// batch containing an entry whose prefix exists under a different
// client must reject the whole batch, leaving every row untouched.
func TestWithdrawRejectsMismatchedTypeAsBatch(t *testing.T) {
	tbl := New()
	p1 := mustPrefix(t, "10.0.0.0/24")
	p2 := mustPrefix(t, "10.0.1.0/24")

	tbl.Advertise([]PrefixEntry{
		{Prefix: p1, Type: BGP},
		{Prefix: p2, Type: DEFAULT},
	})

	// p1 actually belongs to BGP, not DEFAULT: this entry is invalid.
	changed, err := tbl.Withdraw([]PrefixEntry{
		{Prefix: p1, Type: DEFAULT},
		{Prefix: p2, Type: DEFAULT},
	})
	if changed {
		t.Fatalf("expected batch withdraw to be rejected wholesale")
	}
	if err == nil || !errors.Is(err, prefixerr.ErrInvalidRequest) {
		t.Fatalf("expected error wrapping ErrInvalidRequest, got %v", err)
	}
	if len(tbl.GetAll()) != 2 {
		t.Fatalf("expected no rows removed from a rejected batch, got %+v", tbl.GetAll())
	}

	// A withdraw naming a prefix with no row at all for that type is
	// just a no-op entry, not a batch-voiding condition.
	p3 := mustPrefix(t, "10.0.2.0/24")
	changed, err = tbl.Withdraw([]PrefixEntry{
		{Prefix: p2, Type: DEFAULT},
		{Prefix: p3, Type: BGP},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatalf("expected the valid entry in the batch to apply")
	}
	if len(tbl.GetAll()) != 1 {
		t.Fatalf("expected p2 removed and p1 to remain, got %+v", tbl.GetAll())
	}
}

func TestWinnerPriorityOrder(t *testing.T) {
	tbl := New()
	p := mustPrefix(t, "10.0.0.0/24")

	tbl.Advertise([]PrefixEntry{{Prefix: p, Type: BGP}})
	got := tbl.GetAll()
	if got[0].Type != BGP {
		t.Fatalf("expected BGP to win as sole contributor")
	}

	tbl.Advertise([]PrefixEntry{{Prefix: p, Type: LOOPBACK}})
	got = tbl.GetAll()
	if got[0].Type != LOOPBACK {
		t.Fatalf("expected LOOPBACK (lower PrefixType) to win over BGP, got %v", got[0].Type)
	}
}

// TestAdvertiseIsPerKeyIndependent mirrors PrefixKeyUpdates: advertising
// a second prefix must not disturb the first prefix's winning entry.
func TestAdvertiseIsPerKeyIndependent(t *testing.T) {
	tbl := New()
	p1 := mustPrefix(t, "10.0.0.0/24")
	p2 := mustPrefix(t, "10.0.1.0/24")

	tbl.Advertise([]PrefixEntry{{Prefix: p1, Type: BGP}})
	changed := tbl.Advertise([]PrefixEntry{{Prefix: p2, Type: BGP}})
	if !changed {
		t.Fatalf("expected advertising a new prefix to report changed")
	}

	again := tbl.Advertise([]PrefixEntry{{Prefix: p1, Type: BGP}})
	if again {
		t.Fatalf("re-advertising identical content must not report changed")
	}
}

func TestSyncByClientReplacesSet(t *testing.T) {
	tbl := New()
	p1 := mustPrefix(t, "10.0.0.0/24")
	p2 := mustPrefix(t, "10.0.1.0/24")
	p3 := mustPrefix(t, "10.0.2.0/24")

	tbl.SyncByClient(BGP, []PrefixEntry{{Prefix: p1}, {Prefix: p2}})
	if len(tbl.GetByClient(BGP)) != 2 {
		t.Fatalf("expected two BGP entries after initial sync")
	}

	changed := tbl.SyncByClient(BGP, []PrefixEntry{{Prefix: p2}, {Prefix: p3}})
	if !changed {
		t.Fatalf("expected sync with a different set to report changed")
	}
	byClient := tbl.GetByClient(BGP)
	if len(byClient) != 2 {
		t.Fatalf("expected exactly two BGP entries after resync, got %d", len(byClient))
	}
	for _, e := range byClient {
		if e.Prefix == p1 {
			t.Fatalf("expected p1 to have been dropped by resync")
		}
	}
}

func TestWithdrawByClient(t *testing.T) {
	tbl := New()
	p1 := mustPrefix(t, "10.0.0.0/24")
	p2 := mustPrefix(t, "10.0.1.0/24")

	tbl.Advertise([]PrefixEntry{
		{Prefix: p1, Type: BGP},
		{Prefix: p2, Type: LOOPBACK},
	})

	changed := tbl.WithdrawByClient(BGP)
	if !changed {
		t.Fatalf("expected WithdrawByClient to report changed")
	}
	if len(tbl.GetByClient(BGP)) != 0 {
		t.Fatalf("expected no BGP entries left")
	}
	if len(tbl.GetAll()) != 1 {
		t.Fatalf("expected the LOOPBACK prefix to remain untouched")
	}
}
