package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// wireEnvelope wraps the engine's opaque value together with the
// version the engine assigned it. etcd's own mod-revision is a
// store-wide counter, not a per-key one starting at 1, so it cannot
// stand in for the version the Publication Engine hands this client;
// the envelope lets this adapter round-trip exactly the version the
// caller supplied.
type wireEnvelope struct {
	Version int64  `json:"version"`
	Value   []byte `json:"value"`
}

// EtcdClient is the production Client, backed by go.etcd.io/etcd/client/v3.
// Each SetKey grants a fresh lease scoped to ttl and starts a KeepAlive
// goroutine so the key survives past the lease's own TTL for as long as
// this client stays open — the same lease/KeepAlive
// idiom used for peer registration, generalized here to per-key TTLs
// instead of one lease per node.
type EtcdClient struct {
	cli *clientv3.Client
}

var _ Client = (*EtcdClient)(nil)

// NewEtcdClient dials the given endpoints.
func NewEtcdClient(endpoints []string, dialTimeout time.Duration) (*EtcdClient, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: dial etcd: %w", err)
	}
	return &EtcdClient{cli: cli}, nil
}

func (c *EtcdClient) SetKey(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) error {
	raw, err := json.Marshal(wireEnvelope{Version: version, Value: value})
	if err != nil {
		return fmt.Errorf("kvstore: encode envelope for %q: %w", key, err)
	}

	if ttl <= 0 {
		_, err := c.cli.Put(ctx, key, string(raw))
		if err != nil {
			return fmt.Errorf("kvstore: put %q: %w", key, err)
		}
		return nil
	}

	lease, err := c.cli.Grant(ctx, int64(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("kvstore: grant lease for %q: %w", key, err)
	}
	if _, err := c.cli.Put(ctx, key, string(raw), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("kvstore: put %q: %w", key, err)
	}

	keepAlive, err := c.cli.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("kvstore: keepalive for %q: %w", key, err)
	}
	go func() {
		for range keepAlive {
		}
	}()
	return nil
}

func (c *EtcdClient) GetKey(ctx context.Context, key string) ([]byte, int64, bool, error) {
	resp, err := c.cli.Get(ctx, key)
	if err != nil {
		return nil, 0, false, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, false, nil
	}
	var env wireEnvelope
	if err := json.Unmarshal(resp.Kvs[0].Value, &env); err != nil {
		return nil, 0, false, fmt.Errorf("kvstore: decode envelope for %q: %w", key, err)
	}
	return env.Value, env.Version, true, nil
}

func (c *EtcdClient) DumpAllWithPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	resp, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("kvstore: get prefix %q: %w", prefix, err)
	}
	out := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var env wireEnvelope
		if err := json.Unmarshal(kv.Value, &env); err != nil {
			continue
		}
		out[string(kv.Key)] = env.Value
	}
	return out, nil
}

func (c *EtcdClient) SubscribeKey(ctx context.Context, key string, onChange func(newValue []byte, ok bool)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)
	watchCh := c.cli.Watch(watchCtx, key)

	go func() {
		for resp := range watchCh {
			for _, ev := range resp.Events {
				if ev.Type == clientv3.EventTypeDelete {
					onChange(nil, false)
					continue
				}
				var env wireEnvelope
				if err := json.Unmarshal(ev.Kv.Value, &env); err != nil {
					continue
				}
				onChange(env.Value, true)
			}
		}
	}()

	return cancel, nil
}

func (c *EtcdClient) Close() error {
	return c.cli.Close()
}
