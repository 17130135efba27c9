package kvstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

type fakeEntry struct {
	value    []byte
	version  int64
	expireAt time.Time
}

func (e *fakeEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// FakeClient is an in-memory Client used by tests in place of a live
// etcd cluster, generalized from an in-memory key-value cache into one
// that also tracks a per-key version and fans out change notifications
// to subscribers — the two responsibilities a real replicated store
// provides that a plain cache does not.
type FakeClient struct {
	mu   sync.Mutex
	data map[string]*fakeEntry
	subs map[string][]func(value []byte, ok bool)
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		data: make(map[string]*fakeEntry),
		subs: make(map[string][]func(value []byte, ok bool)),
	}
}

func (c *FakeClient) SetKey(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) error {
	c.mu.Lock()
	var expireAt time.Time
	if ttl > 0 {
		expireAt = time.Now().Add(ttl)
	}
	c.data[key] = &fakeEntry{value: append([]byte(nil), value...), version: version, expireAt: expireAt}
	subs := append([]func([]byte, bool){}, c.subs[key]...)
	c.mu.Unlock()

	for _, fn := range subs {
		if fn == nil {
			continue
		}
		fn(append([]byte(nil), value...), true)
	}
	return nil
}

func (c *FakeClient) GetKey(ctx context.Context, key string) ([]byte, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return nil, 0, false, nil
	}
	if e.expired(time.Now()) {
		delete(c.data, key)
		return nil, 0, false, nil
	}
	return append([]byte(nil), e.value...), e.version, true, nil
}

func (c *FakeClient) DumpAllWithPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	out := make(map[string][]byte)
	for k, e := range c.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if e.expired(now) {
			delete(c.data, k)
			continue
		}
		out[k] = append([]byte(nil), e.value...)
	}
	return out, nil
}

func (c *FakeClient) SubscribeKey(ctx context.Context, key string, onChange func(newValue []byte, ok bool)) (func(), error) {
	c.mu.Lock()
	c.subs[key] = append(c.subs[key], onChange)
	idx := len(c.subs[key]) - 1
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subs[key]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}
	return cancel, nil
}

// Close drops every subscription. Stored keys are kept until their TTL
// expires, as they would be on a live store after a client disconnects.
func (c *FakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = make(map[string][]func([]byte, bool))
	return nil
}
