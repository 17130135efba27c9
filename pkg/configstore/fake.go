package configstore

import (
	"context"
	"sync"
	"sync/atomic"
)

// FakeClient is an in-memory Client used by tests in place of a live
// bbolt file.
type FakeClient struct {
	mu     sync.Mutex
	data   map[string][]byte
	writes atomic.Uint64
}

var _ Client = (*FakeClient)(nil)

func NewFakeClient() *FakeClient {
	return &FakeClient{data: make(map[string][]byte)}
}

func (c *FakeClient) Load(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *FakeClient) Store(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.data[key] = append([]byte(nil), value...)
	c.mu.Unlock()
	c.writes.Add(1)
	return nil
}

func (c *FakeClient) Erase(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *FakeClient) NumWritesToDisk() uint64 {
	return c.writes.Load()
}
