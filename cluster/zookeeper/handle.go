package zookeeper

import (
	"context"
	"errors"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-zookeeper/zk"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

var releasedTotal = metrics.NewCounter("zklocks_released_total")

// Handle represents one held acquisition of a lock. It's returned once the
// attempt's claim is first in line and is the only way to release that claim.
type Handle struct {
	c     ZooKeeperClient
	znode string
	owner string
	log   hclog.Logger

	once sync.Once
	err  error
}

func newHandle(c ZooKeeperClient, znode string, log hclog.Logger) *Handle {
	return &Handle{
		c:     c,
		znode: znode,
		owner: uuid.NewString(),
		log:   log,
	}
}

// Znode returns the full path of the claim znode backing this handle.
func (h *Handle) Znode() string {
	return h.znode
}

// Owner returns the handle's owner identity.
func (h *Handle) Owner() string {
	return h.owner
}

// Release deletes the claim znode, passing the lock to the next contender in
// line. It's idempotent: only the first call performs the delete, and later
// calls return its result. A claim that's already gone (e.g. removed by
// session expiry) counts as released.
func (h *Handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		err := h.c.Delete(h.znode, -1)
		switch {
		case err == nil, errors.Is(err, zk.ErrNoNode):
			h.log.Info("lock released", "znode", h.znode)
			releasedTotal.Inc()
		case isConnectionError(err):
			h.err = connectionLostError(err)
		default:
			h.err = ErrLockingFailed{message: err.Error()}
		}
	})

	return h.err
}

// WithLock runs fn while holding the lock, releasing it on every exit path.
// fn's error is propagated after the release has happened; a release failure
// is logged rather than masking fn's error.
func (z *ZooKeeperLock) WithLock(ctx context.Context, params Params, fn func(context.Context) error) error {
	handle, err := z.acquire(ctx, params, true)
	if err != nil {
		return err
	}

	defer func() {
		// The release context is detached so that fn's cancellation can't
		// leave the claim behind.
		if err := handle.Release(context.Background()); err != nil {
			z.log.Error("failed to release lock", "znode", handle.Znode(), "error", err)
		}
	}()

	return fn(ctx)
}

// TryWithLock runs fn while holding the lock if it's immediately claimable.
// It reports whether fn ran; an already-held lock returns (false, nil) rather
// than an error.
func (z *ZooKeeperLock) TryWithLock(ctx context.Context, params Params, fn func(context.Context) error) (bool, error) {
	handle, err := z.acquire(ctx, params, false)
	if errors.Is(err, ErrLocked) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	defer func() {
		if err := handle.Release(context.Background()); err != nil {
			z.log.Error("failed to release lock", "znode", handle.Znode(), "error", err)
		}
	}()

	return true, fn(ctx)
}
