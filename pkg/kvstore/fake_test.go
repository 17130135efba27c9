package kvstore

import (
	"context"
	"testing"
	"time"
)

func TestFakeClientSetGet(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()

	if err := c.SetKey(ctx, "k1", []byte("v1"), 1, 0); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	value, version, ok, err := c.GetKey(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("GetKey: value=%s version=%d ok=%v err=%v", value, version, ok, err)
	}
	if string(value) != "v1" || version != 1 {
		t.Fatalf("unexpected GetKey result: value=%s version=%d", value, version)
	}
}

func TestFakeClientTTLExpiry(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()

	if err := c.SetKey(ctx, "k1", []byte("v1"), 1, 20*time.Millisecond); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	_, _, ok, err := c.GetKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if ok {
		t.Fatalf("expected key to have expired")
	}
}

func TestFakeClientDumpAllWithPrefix(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()

	c.SetKey(ctx, "prefix:a:n:10.0.0.0/24", []byte("v1"), 1, 0)
	c.SetKey(ctx, "prefix:a:n:10.0.1.0/24", []byte("v2"), 1, 0)
	c.SetKey(ctx, "other:key", []byte("v3"), 1, 0)

	all, err := c.DumpAllWithPrefix(ctx, "prefix:a:n:")
	if err != nil {
		t.Fatalf("DumpAllWithPrefix: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(all), all)
	}
}

func TestFakeClientSubscribeNotifiesOnSet(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()

	notified := make(chan []byte, 1)
	cancel, err := c.SubscribeKey(ctx, "k1", func(newValue []byte, ok bool) {
		if ok {
			notified <- newValue
		}
	})
	if err != nil {
		t.Fatalf("SubscribeKey: %v", err)
	}
	defer cancel()

	c.SetKey(ctx, "k1", []byte("foreign-write"), 7, 0)

	select {
	case got := <-notified:
		if string(got) != "foreign-write" {
			t.Fatalf("unexpected notification payload: %s", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for subscription notification")
	}
}

func TestFakeClientCancelStopsNotifications(t *testing.T) {
	c := NewFakeClient()
	ctx := context.Background()

	calls := 0
	cancel, err := c.SubscribeKey(ctx, "k1", func(newValue []byte, ok bool) {
		calls++
	})
	if err != nil {
		t.Fatalf("SubscribeKey: %v", err)
	}
	cancel()

	c.SetKey(ctx, "k1", []byte("v1"), 1, 0)
	time.Sleep(10 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("expected no calls after cancel, got %d", calls)
	}
}
