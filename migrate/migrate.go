// Package migrate guards a one-time migration step with a distributed lock so
// that it runs exactly once per cluster, even when many hosts start at the
// same time.
package migrate

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/clusterkit/zklocks/cluster"
	"github.com/clusterkit/zklocks/cluster/zookeeper"
)

// LockName is the well-known lock name shared by every host applying
// migrations for the same application.
const LockName = "migrations"

// Applier applies pending migrations.
type Applier interface {
	Apply(ctx context.Context) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context) error

// Apply calls f.
func (f ApplierFunc) Apply(ctx context.Context) error {
	return f(ctx)
}

// Config holds Guard configuration parameters.
type Config struct {
	// Address is the ZooKeeper connect string. When empty, migrations are
	// applied without a lock; the guard warns rather than failing so that
	// environments without an ensemble (local dev, CI) keep working.
	Address string
	// Namespace scopes the migration lock to this deployment.
	Namespace string
	// LockTimeout bounds the lock wait only, never the migration itself.
	// Zero waits forever: migrations favor correctness over liveness.
	LockTimeout time.Duration
	// Logger is optional; discarded if unset.
	Logger hclog.Logger
}

// Guard wraps a migration step in a distributed lock.
type Guard struct {
	lock        cluster.Lock
	lockTimeout time.Duration
	log         hclog.Logger
}

// New returns a Guard holding a ZooKeeper lock at the well-known migrations
// lock name. With no address configured the returned Guard runs unguarded.
func New(c Config) (*Guard, error) {
	log := c.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}

	if c.Address == "" {
		return &Guard{log: log}, nil
	}

	lock, err := zookeeper.NewZooKeeperLock(zookeeper.ZooKeeperLockConfig{
		Address:   c.Address,
		Namespace: c.Namespace,
		Name:      LockName,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	return &Guard{lock: lock, lockTimeout: c.LockTimeout, log: log}, nil
}

// NewGuard returns a Guard using a caller-provided lock, letting alternate
// lock policies be substituted without changing the guard's control flow.
func NewGuard(lock cluster.Lock, log hclog.Logger) *Guard {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Guard{lock: lock, log: log}
}

// Run applies migrations inside the critical section. The lock is held for
// the whole apply and released on every exit path; an apply failure is
// propagated to the caller after the release, and a release failure is logged
// rather than masking it.
func (g *Guard) Run(ctx context.Context, applier Applier) error {
	if g.lock == nil {
		g.log.Warn("no coordination endpoints configured; applying migrations without a lock")
		return applier.Apply(ctx)
	}

	acquireCtx := ctx
	if g.lockTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, g.lockTimeout)
		defer cancel()
	}

	if err := g.lock.Lock(acquireCtx); err != nil {
		return err
	}
	g.log.Info("migration lock acquired")

	defer func() {
		// Release with a detached context so a canceled apply can't skip it.
		if err := g.lock.Unlock(context.Background()); err != nil {
			g.log.Error("failed to release migration lock", "error", err)
		} else {
			g.log.Info("migration lock released")
		}
	}()

	return applier.Apply(ctx)
}
