// Package kvstore defines the collaborator interface the Publication
// Engine uses to talk to the external replicated key-value store, plus
// a production adapter (etcd) and an in-memory test fake.
package kvstore

import (
	"context"
	"time"
)

// Client is the replicated-store collaborator consumed by the
// Publication Engine. Values are opaque bytes; the engine encodes a
// PrefixDatabase record inside them. Version is the one the writer
// passed to SetKey, returned unchanged by GetKey; the engine compares it
// with its own record of the key (see pkg/publish).
type Client interface {
	SetKey(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) error
	GetKey(ctx context.Context, key string) (value []byte, version int64, ok bool, err error)
	DumpAllWithPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
	SubscribeKey(ctx context.Context, key string, onChange func(newValue []byte, ok bool)) (cancel func(), err error)
	Close() error
}
