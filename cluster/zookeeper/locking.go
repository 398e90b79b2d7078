package zookeeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-zookeeper/zk"
)

var (
	acquiredTotal       = metrics.NewCounter("zklocks_acquired_total")
	acquireTimeoutTotal = metrics.NewCounter("zklocks_acquire_timeouts_total")
	acquireBusyTotal    = metrics.NewCounter("zklocks_acquire_busy_total")
	connLostTotal       = metrics.NewCounter("zklocks_connection_lost_total")
)

// Acquire claims the lock, blocking until it's held. The context bounds the
// wait: a deadline turns the call into a timed acquisition failing with
// ErrLockingTimedOut, any other cancellation propagates ctx.Err(). In both
// cases the attempt's claim znode is removed before returning. Params bind the
// lock name's placeholders; pass nil for a non-templated name.
func (z *ZooKeeperLock) Acquire(ctx context.Context, params Params) (*Handle, error) {
	return z.acquire(ctx, params, true)
}

// TryAcquire claims the lock only if no other contender holds it, failing
// immediately with ErrLocked otherwise.
func (z *ZooKeeperLock) TryAcquire(ctx context.Context, params Params) (*Handle, error) {
	return z.acquire(ctx, params, false)
}

func (z *ZooKeeperLock) acquire(ctx context.Context, params Params, blocking bool) (*Handle, error) {
	key, err := z.name.Resolve(params)
	if err != nil {
		return nil, err
	}

	lockPath := fmt.Sprintf("%s/%s", z.Path, key)
	if err := z.ensurePath(lockPath); err != nil {
		return nil, err
	}

	z.log.Info("acquiring lock", "path", lockPath, "blocking", blocking)

	// Enter the claim into ZooKeeper. The claim znode is ephemeral; if our
	// session dies without an explicit release, ZooKeeper removes it and the
	// next contender in line is woken.
	node, err := z.c.CreateProtectedEphemeralSequential(lockPath+"/lock-", nil, zk.WorldACL(31))
	if err != nil {
		if isConnectionError(err) {
			connLostTotal.Inc()
			return nil, connectionLostError(err)
		}
		return nil, ErrLockingFailed{message: err.Error()}
	}

	// Get our claim ID.
	thisID, err := idFromZnode(node)
	if err != nil {
		z.removeClaim(node)
		return nil, ErrLockingFailed{message: err.Error()}
	}

	for {
		// Get all current claims.
		locks, err := lockEntries(z.c, lockPath)
		if err != nil {
			return nil, z.failClaim(node, err)
		}

		// Check if we have the first claim.
		firstClaim, err := locks.First()
		if err != nil {
			return nil, z.failClaim(node, err)
		}
		if thisID == firstClaim {
			// We have the lock.
			z.log.Info("lock acquired", "path", lockPath, "znode", node)
			acquiredTotal.Inc()
			return newHandle(z.c, node, z.log), nil
		}

		// We don't have the lock; a non-blocking attempt ends here.
		if !blocking {
			z.removeClaim(node)
			acquireBusyTotal.Inc()
			return nil, ErrLocked
		}

		// Enqueue our wait position by watching the claim immediately ahead
		// of ours. Each contender watches only its predecessor, so a release
		// wakes exactly one waiter.
		lockAhead, err := locks.LockAhead(thisID)
		if err != nil {
			return nil, z.failClaim(node, err)
		}

		lockAheadPath, err := locks.LockPath(lockAhead)
		if err != nil {
			return nil, z.failClaim(node, err)
		}

		_, _, blockingLockReleased, err := z.c.GetW(lockAheadPath)
		if errors.Is(err, zk.ErrNoNode) {
			// The predecessor vanished between listing and watching; re-list.
			continue
		}
		if err != nil {
			return nil, z.failClaim(node, err)
		}

		// Race the watch event against the context.
		select {
		case <-ctx.Done():
			z.removeClaim(node)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				acquireTimeoutTotal.Inc()
				return nil, ErrLockingTimedOut
			}
			return nil, ctx.Err()
		case e := <-blockingLockReleased:
			if e.Err != nil || e.Type == zk.EventNotWatching {
				// The watch was lost along with the session; our ephemeral
				// claim is gone server-side as well.
				connLostTotal.Inc()
				return nil, connectionLostError(zk.ErrSessionExpired)
			}
			// The predecessor's claim was released; see if it's our turn. We
			// re-list rather than assume: the listing may be stale by now.
			continue
		}
	}
}

// failClaim removes the attempt's claim znode and maps err onto the lock
// error taxonomy.
func (z *ZooKeeperLock) failClaim(node string, err error) error {
	z.removeClaim(node)
	if isConnectionError(err) {
		connLostTotal.Inc()
		return connectionLostError(err)
	}
	return ErrLockingFailed{message: err.Error()}
}

// removeClaim deletes a claim znode, tolerating it being gone already (e.g.
// removed by session expiry).
func (z *ZooKeeperLock) removeClaim(node string) {
	if err := z.c.Delete(node, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		z.log.Error("failed to remove lock claim", "znode", node, "error", err)
	}
}

// Lock claims the lock, implementing cluster.Lock. The lock name must be
// non-templated. If the context carries an owner identity under OwnerKey and
// that owner already holds this lock, ErrAlreadyOwnLock is returned.
func (z *ZooKeeperLock) Lock(ctx context.Context) error {
	return z.lock(ctx, true)
}

// TryLock is the non-blocking form of Lock.
func (z *ZooKeeperLock) TryLock(ctx context.Context) error {
	return z.lock(ctx, false)
}

func (z *ZooKeeperLock) lock(ctx context.Context, blocking bool) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	owner := ctx.Value(OwnerKey)
	if z.handle != nil && owner != nil && owner == z.owner {
		return ErrAlreadyOwnLock
	}

	handle, err := z.acquire(ctx, nil, blocking)
	if err != nil {
		return err
	}

	z.handle = handle
	z.owner = owner

	return nil
}

// Unlock releases the lock. Releasing a lock that isn't held is a no-op.
func (z *ZooKeeperLock) Unlock(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.handle == nil {
		return nil
	}

	err := z.handle.Release(ctx)
	z.handle, z.owner = nil, nil

	return err
}
