package manager

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/prefixmgr/internal/telemetry"
	"github.com/ryandielhenn/prefixmgr/pkg/origin"
)

// loopState is the mutable state owned exclusively by the core loop
// goroutine: the Origin Table and Publication Engine the Manager holds
// are only ever touched from inside run(), enforcing single-writer
// access to both.
type loopState struct {
	m *Manager

	state state
	dirty bool

	holdTimer     *time.Timer
	throttleTimer *time.Timer
	throttleArmed bool
}

func (l *loopState) run(ctx context.Context) {
	m := l.m
	defer close(m.doneCh)

	for {
		var holdC <-chan time.Time
		if l.holdTimer != nil {
			holdC = l.holdTimer.C
		}

		select {
		case fn := <-m.reqCh:
			if fn() {
				l.markDirty()
			}

		case notify := <-m.notifyCh:
			notify()

		case <-holdC:
			l.holdTimer = nil
			l.handleHoldExpiry(ctx)

		case <-l.throttleTimer.C:
			l.throttleArmed = false
			l.handleThrottleFire(ctx)

		case <-m.stopCh:
			l.shutdown(ctx)
			return
		}
	}
}

func (l *loopState) markDirty() {
	l.dirty = true
	telemetry.DirtyTotal.Inc()
	l.scheduleThrottle(l.m.cfg.ThrottleTimeout)
}

// scheduleThrottle arms the throttle timer if it is not already armed,
// the coalescing behavior that collapses many mutations inside one
// throttle window into a single scheduled fire.
func (l *loopState) scheduleThrottle(d time.Duration) {
	if l.throttleArmed {
		return
	}
	l.throttleArmed = true
	l.throttleTimer.Reset(d)
}

func (l *loopState) handleHoldExpiry(ctx context.Context) {
	l.state = stateActive
	if l.dirty {
		l.scheduleThrottle(0)
	}
}

func (l *loopState) handleThrottleFire(ctx context.Context) {
	if l.state == stateHolding {
		// Hold is still active: the timer consumed itself but
		// publication stays deferred. dirty remains set so hold
		// expiry knows to re-arm.
		return
	}
	if !l.dirty {
		return
	}
	l.publish(ctx)
}

func (l *loopState) publish(ctx context.Context) {
	m := l.m
	current := m.table.GetAll()

	start := time.Now()
	if err := m.engine.Publish(ctx, current); err != nil {
		m.logger.Warn("publication encountered errors, will retry", zap.Error(err))
		l.scheduleThrottle(m.cfg.ThrottleTimeout)
	} else {
		l.dirty = false
	}
	telemetry.PublishLatency.Observe(time.Since(start).Seconds())
	telemetry.PublishedKeys.Set(float64(len(m.engine.OwnedKeys())))

	all := m.table.AllEntries()
	next, wrote, err := m.snap.SaveIfDirty(ctx, m.prevSnapshotEntries, all)
	if err != nil {
		m.logger.Warn("snapshot write failed", zap.Error(err))
	} else {
		m.prevSnapshotEntries = next
		if wrote {
			telemetry.SnapshotWritesTotal.Inc()
		}
	}

	l.syncSubscriptions(ctx)
}

// syncSubscriptions keeps the set of watched keys in step with what the
// Publication Engine currently owns: a new key gets a watch, a key the
// engine no longer owns (withdrawn and acknowledged) has its watch
// canceled.
func (l *loopState) syncSubscriptions(ctx context.Context) {
	m := l.m
	desired := make(map[string]bool)
	for _, key := range m.engine.OwnedKeys() {
		desired[key] = true
		if _, ok := m.subs[key]; ok {
			continue
		}
		key := key
		cancel, err := m.kv.SubscribeKey(ctx, key, func(newValue []byte, ok bool) {
			l.notifyForeignChange(key)
		})
		if err != nil {
			m.logger.Warn("failed to subscribe to owned key", zap.String("key", key), zap.Error(err))
			continue
		}
		m.subs[key] = cancel
	}

	for key, cancel := range m.subs {
		if desired[key] {
			continue
		}
		cancel()
		delete(m.subs, key)
	}
}

// notifyForeignChange is the SubscribeKey callback. It must not block
// the collaborator's own delivery goroutine (a fake or production
// client may invoke it synchronously from inside SetKey), so it hands
// the actual handling back to the core loop via notifyCh on a
// short-lived goroutine.
func (l *loopState) notifyForeignChange(key string) {
	m := l.m
	go func() {
		select {
		case m.notifyCh <- func() { l.handleForeignNotification(context.Background(), key) }:
		case <-m.stopCh:
		}
	}()
}

func (l *loopState) handleForeignNotification(ctx context.Context, key string) {
	m := l.m

	if m.cfg.PerPrefixKeys {
		prefix, ok := keyToPrefix(m.cfg.Area, m.cfg.Node, key)
		if !ok {
			return
		}
		var ourEntry *origin.PrefixEntry
		for _, e := range m.table.GetAll() {
			if e.Prefix == prefix {
				entry := e
				ourEntry = &entry
				break
			}
		}
		if err := m.engine.HandleKeyChanged(ctx, prefix, ourEntry); err != nil {
			m.logger.Warn("failed to react to foreign key change", zap.String("key", key), zap.Error(err))
		}
	} else {
		if err := m.engine.HandleLegacyKeyChanged(ctx, m.table.GetAll()); err != nil {
			m.logger.Warn("failed to react to foreign key change", zap.String("key", key), zap.Error(err))
		}
	}

	l.syncSubscriptions(ctx)
}

// shutdown runs once, on the loop goroutine, when Stop is called: it
// publishes delete-markers for every owned key, cancels subscriptions,
// and closes the kv store client.
func (l *loopState) shutdown(ctx context.Context) {
	m := l.m
	l.state = stateDraining

	drainErr := m.engine.Drain(ctx)

	for key, cancel := range m.subs {
		cancel()
		delete(m.subs, key)
	}

	closeErr := m.kv.Close()

	l.state = stateStopped
	m.stopErr = multierr.Combine(drainErr, closeErr)
}
