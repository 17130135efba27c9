// Package manager implements Request Intake and Lifecycle & Hold
// Timer: the single core-loop goroutine that owns the Origin Table,
// the Publication Engine, and every timer, and the two intake surfaces
// (direct methods and an asynchronous request stream) that feed it.
package manager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/prefixmgr/pkg/kvstore"
	"github.com/ryandielhenn/prefixmgr/pkg/origin"
	"github.com/ryandielhenn/prefixmgr/pkg/prefixerr"
	"github.com/ryandielhenn/prefixmgr/pkg/prefixkey"
	"github.com/ryandielhenn/prefixmgr/pkg/publish"
	"github.com/ryandielhenn/prefixmgr/pkg/snapshot"
)

type state int

const (
	stateInit state = iota
	stateHolding
	stateActive
	stateDraining
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateInit:
		return "INIT"
	case stateHolding:
		return "HOLDING"
	case stateActive:
		return "ACTIVE"
	case stateDraining:
		return "DRAINING"
	case stateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Manager is the Prefix Manager. All exported methods are safe to call
// from any goroutine; every direct method hands work to the single core
// loop and waits for it to run, so callers never observe partial
// mutation. Submit only enqueues its request and does not wait.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	table  *origin.Table
	engine *publish.Engine
	kv     kvstore.Client
	snap   *snapshot.Store

	reqCh    chan func() bool
	notifyCh chan func()
	stopCh   chan struct{}
	doneCh   chan struct{}

	subs map[string]func()

	prevSnapshotEntries []origin.PrefixEntry

	// stopErr is written once, by the loop goroutine, before doneCh is
	// closed; reading it after <-doneCh is safe without extra
	// synchronization.
	stopErr error
}

// New constructs a Manager. Call Start to begin serving.
func New(cfg Config, kv kvstore.Client, snap *snapshot.Store, logger *zap.Logger) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:    cfg,
		logger: logger,
		table:  origin.New(),
		engine: publish.New(kv, publish.Config{
			Node:            cfg.Node,
			Area:            cfg.Area,
			PerPrefixKeys:   cfg.PerPrefixKeys,
			PerfMeasurement: cfg.PerfMeasurement,
			KeyTTL:          cfg.KeyTTL,
		}),
		kv:       kv,
		snap:     snap,
		reqCh:    make(chan func() bool, 64),
		notifyCh: make(chan func(), 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		subs:     make(map[string]func()),
	}
}

// Start loads the durable snapshot, seeds the Origin Table, and
// launches the core loop.
func (m *Manager) Start(ctx context.Context) error {
	entries, err := m.snap.Load(ctx)
	if err != nil {
		m.logger.Warn("snapshot load failed, starting from empty table", zap.Error(err))
		entries = nil
	}
	if len(entries) > 0 {
		m.table.Advertise(entries)
	}
	m.prevSnapshotEntries = entries

	st := stateActive
	var holdTimer *time.Timer
	if m.cfg.HoldTime > 0 {
		st = stateHolding
		holdTimer = time.NewTimer(m.cfg.HoldTime)
	}
	throttleTimer := time.NewTimer(m.cfg.ThrottleTimeout)

	loop := &loopState{
		m:             m,
		state:         st,
		dirty:         true,
		holdTimer:     holdTimer,
		throttleTimer: throttleTimer,
		throttleArmed: true,
	}

	go loop.run(ctx)
	return nil
}

// Stop drains the core loop: it stops accepting new mutation, publishes
// delete-markers for every key this node owns, and waits for the loop
// to exit. The returned error aggregates any failures encountered
// while draining and closing collaborators; it is never fatal, only
// diagnostic.
func (m *Manager) Stop(ctx context.Context) error {
	close(m.stopCh)
	select {
	case <-m.doneCh:
		return m.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- Direct method API ---

func (m *Manager) Advertise(ctx context.Context, entries []origin.PrefixEntry) (bool, error) {
	return m.submitSync(ctx, func() (bool, error) {
		return m.table.Advertise(entries), nil
	})
}

func (m *Manager) Withdraw(ctx context.Context, entries []origin.PrefixEntry) (bool, error) {
	return m.submitSync(ctx, func() (bool, error) {
		return m.table.Withdraw(entries)
	})
}

func (m *Manager) WithdrawByType(ctx context.Context, client origin.PrefixType) (bool, error) {
	return m.submitSync(ctx, func() (bool, error) {
		return m.table.WithdrawByClient(client), nil
	})
}

func (m *Manager) SyncByType(ctx context.Context, client origin.PrefixType, entries []origin.PrefixEntry) (bool, error) {
	return m.submitSync(ctx, func() (bool, error) {
		return m.table.SyncByClient(client, entries), nil
	})
}

func (m *Manager) GetPrefixes(ctx context.Context) ([]origin.PrefixEntry, error) {
	var out []origin.PrefixEntry
	_, err := m.submitSync(ctx, func() (bool, error) {
		out = m.table.GetAll()
		return false, nil
	})
	return out, err
}

func (m *Manager) GetPrefixesByType(ctx context.Context, client origin.PrefixType) ([]origin.PrefixEntry, error) {
	var out []origin.PrefixEntry
	_, err := m.submitSync(ctx, func() (bool, error) {
		out = m.table.GetByClient(client)
		return false, nil
	})
	return out, err
}

// Submit enqueues a request from the asynchronous request stream.
// Malformed requests are logged and dropped, never returned as an
// error: there is no caller on this path to return one to.
func (m *Manager) Submit(req UpdateRequest) {
	if !req.valid() {
		m.logger.Warn("dropping malformed update request", zap.String("cmd", req.Cmd.String()))
		return
	}
	apply := func() bool {
		switch req.Cmd {
		case AddPrefixes:
			return m.table.Advertise(req.Prefixes)
		case WithdrawPrefixes:
			changed, err := m.table.Withdraw(req.Prefixes)
			if err != nil {
				m.logger.Warn("withdraw request rejected", zap.Error(err))
			}
			return changed
		case WithdrawPrefixesByType:
			return m.table.WithdrawByClient(*req.Type)
		case SyncPrefixesByType:
			return m.table.SyncByClient(*req.Type, req.Prefixes)
		default:
			return false
		}
	}
	select {
	case m.reqCh <- apply:
	case <-m.stopCh:
		m.logger.Warn("dropping update request received after shutdown", zap.String("cmd", req.Cmd.String()))
	}
}

// submitSync posts fn to the core loop and blocks for its result.
func (m *Manager) submitSync(ctx context.Context, fn func() (bool, error)) (bool, error) {
	type result struct {
		changed bool
		err     error
	}
	respCh := make(chan result, 1)
	posted := func() bool {
		changed, err := fn()
		respCh <- result{changed, err}
		return changed
	}

	select {
	case m.reqCh <- posted:
	case <-m.stopCh:
		return false, prefixerr.ErrShuttingDown
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case r := <-respCh:
		return r.changed, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// keyToPrefix decodes a per-prefix key back to its prefix, used by the
// notification path to look up the current winning entry.
func keyToPrefix(area, node, key string) (origin.Prefix, bool) {
	decArea, decNode, prefix, err := prefixkey.Decode(key)
	if err != nil || decArea != area || decNode != node {
		return origin.Prefix{}, false
	}
	return prefix, true
}
