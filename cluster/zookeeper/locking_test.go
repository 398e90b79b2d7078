package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func newTestLock(t *testing.T, name string) (*ZooKeeperLock, *Stub) {
	t.Helper()

	stub := NewZooKeeperStub()
	lock, err := NewZooKeeperLockWithClient(stub, ZooKeeperLockConfig{
		Namespace: "testapp",
		Name:      name,
	})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	return lock, stub
}

// waitForClaims polls until the lock path holds n claims.
func waitForClaims(t *testing.T, stub *Stub, path string, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		children, _, err := stub.Children(path)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if len(children) == n {
			return
		}
		time.Sleep(time.Millisecond)
	}

	t.Fatalf("timed out waiting for %d claims under %s", n, path)
}

func TestAcquire(t *testing.T) {
	lock, stub := newTestLock(t, "resource-{id}")
	ctx := context.Background()
	params := Params{"id": "123"}

	// First attempt acquires immediately.
	h1, err := lock.Acquire(ctx, params)
	assert.Nil(t, err)

	// A non-blocking attempt on the held lock fails immediately.
	_, err = lock.TryAcquire(ctx, params)
	assert.Equal(t, ErrLocked, err)

	// After release, a non-blocking attempt succeeds.
	assert.Nil(t, h1.Release(ctx))
	h2, err := lock.TryAcquire(ctx, params)
	assert.Nil(t, err)
	assert.Nil(t, h2.Release(ctx))

	// No residual claims.
	children, _, _ := stub.Children("/locks/testapp/resource-123")
	assert.Empty(t, children)
}

func TestAcquireDistinctParams(t *testing.T) {
	lock, _ := newTestLock(t, "resource-{id}")
	ctx := context.Background()

	// Locks on distinct parameter sets don't contend.
	h1, err := lock.Acquire(ctx, Params{"id": "1"})
	assert.Nil(t, err)
	h2, err := lock.TryAcquire(ctx, Params{"id": "2"})
	assert.Nil(t, err)

	assert.Nil(t, h1.Release(ctx))
	assert.Nil(t, h2.Release(ctx))
}

func TestAcquireTimeout(t *testing.T) {
	lock, stub := newTestLock(t, "resource-{id}")
	params := Params{"id": "123"}

	h1, err := lock.Acquire(context.Background(), params)
	assert.Nil(t, err)

	// This attempt never becomes first and times out.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(ctx, params)
	assert.Equal(t, ErrLockingTimedOut, err)

	// The timed out attempt removed its own claim.
	children, _, _ := stub.Children("/locks/testapp/resource-123")
	assert.Len(t, children, 1)

	assert.Nil(t, h1.Release(context.Background()))
}

func TestAcquireCanceled(t *testing.T) {
	lock, stub := newTestLock(t, "resource-{id}")
	params := Params{"id": "123"}

	h1, err := lock.Acquire(context.Background(), params)
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := lock.Acquire(ctx, params)
		errs <- err
	}()

	waitForClaims(t, stub, "/locks/testapp/resource-123", 2)
	cancel()

	select {
	case err := <-errs:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(2 * time.Second):
		t.Fatal("canceled attempt never returned")
	}

	// Cancellation removed the pending claim.
	waitForClaims(t, stub, "/locks/testapp/resource-123", 1)

	assert.Nil(t, h1.Release(context.Background()))
}

func TestAcquireFIFO(t *testing.T) {
	lock, stub := newTestLock(t, "resource-{id}")
	ctx := context.Background()
	params := Params{"id": "123"}
	path := "/locks/testapp/resource-123"

	type result struct {
		who string
		h   *Handle
	}

	hA, err := lock.Acquire(ctx, params)
	assert.Nil(t, err)

	acquired := make(chan result, 2)
	waiter := func(who string) func() {
		return func() {
			h, err := lock.Acquire(ctx, params)
			assert.Nil(t, err)
			acquired <- result{who: who, h: h}
		}
	}

	// B then C enqueue behind A, in that order.
	go waiter("B")()
	waitForClaims(t, stub, path, 2)
	go waiter("C")()
	waitForClaims(t, stub, path, 3)

	// A releases; B must be served before C.
	assert.Nil(t, hA.Release(ctx))

	var first result
	select {
	case first = <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the next contender")
	}
	assert.Equal(t, "B", first.who)

	// C is still pending.
	select {
	case r := <-acquired:
		t.Fatalf("%s acquired the lock out of turn", r.who)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Nil(t, first.h.Release(ctx))

	var second result
	select {
	case second = <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the last contender")
	}
	assert.Equal(t, "C", second.who)
	assert.Nil(t, second.h.Release(ctx))
}

func TestExclusivity(t *testing.T) {
	lock, _ := newTestLock(t, "resource-{id}")
	ctx := context.Background()
	params := Params{"id": "123"}

	var held int32
	var g errgroup.Group

	for i := 0; i < 5; i++ {
		g.Go(func() error {
			h, err := lock.Acquire(ctx, params)
			if err != nil {
				return err
			}
			if n := atomic.AddInt32(&held, 1); n != 1 {
				return fmt.Errorf("%d concurrent holders", n)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&held, -1)
			return h.Release(ctx)
		})
	}

	assert.Nil(t, g.Wait())
}

func TestCrashSafety(t *testing.T) {
	lock, stub := newTestLock(t, "resource-{id}")
	ctx := context.Background()
	params := Params{"id": "123"}
	path := "/locks/testapp/resource-123"

	hA, err := lock.Acquire(ctx, params)
	assert.Nil(t, err)

	acquired := make(chan *Handle, 1)
	go func() {
		h, err := lock.Acquire(ctx, params)
		assert.Nil(t, err)
		acquired <- h
	}()
	waitForClaims(t, stub, path, 2)

	// The holder's session dies without an explicit release; ZooKeeper
	// removes its ephemeral claim and the waiter is served.
	assert.Nil(t, stub.Delete(hA.Znode(), -1))

	select {
	case h := <-acquired:
		assert.Nil(t, h.Release(ctx))
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock after holder crash")
	}

	// Releasing the crashed holder's handle finds the claim gone; that's not
	// an error.
	assert.Nil(t, hA.Release(ctx))
}

func TestConnectionLost(t *testing.T) {
	lock, stub := newTestLock(t, "resource-{id}")
	ctx := context.Background()
	params := Params{"id": "123"}
	path := "/locks/testapp/resource-123"

	assert.True(t, lock.Ready())

	_, err := lock.Acquire(ctx, params)
	assert.Nil(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := lock.Acquire(ctx, params)
		errs <- err
	}()
	waitForClaims(t, stub, path, 2)

	stub.ExpireSession()

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, ErrConnectionLost), "expected ErrConnectionLost, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter hung after session loss")
	}

	// A new attempt on the dead session fails the same way.
	_, err = lock.TryAcquire(ctx, params)
	assert.True(t, errors.Is(err, ErrConnectionLost))
	assert.False(t, lock.Ready())
}

func TestReleaseIdempotent(t *testing.T) {
	lock, _ := newTestLock(t, "resource-{id}")
	ctx := context.Background()

	h, err := lock.Acquire(ctx, Params{"id": "123"})
	assert.Nil(t, err)

	assert.Nil(t, h.Release(ctx))
	assert.Nil(t, h.Release(ctx))
}

func TestLock(t *testing.T) {
	lock, _ := newTestLock(t, "migrations")
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	// This lock should succeed normally.
	err := lock.Lock(ctx)
	assert.Nil(t, err)

	// This lock should time out.
	err = lock.Lock(ctx)
	assert.Equal(t, ErrLockingTimedOut, err)
}

func TestLockSameOwner(t *testing.T) {
	lock, _ := newTestLock(t, "migrations")
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	ctx = context.WithValue(ctx, OwnerKey, "owner")

	// This lock should succeed normally.
	err := lock.Lock(ctx)
	assert.Nil(t, err)

	// This should also succeed (with a soft error) because we have the same
	// instance, same owner key/value.
	err = lock.Lock(ctx)
	assert.Equal(t, ErrAlreadyOwnLock, err)
}

func TestTryLock(t *testing.T) {
	lock, _ := newTestLock(t, "migrations")
	other, _ := NewZooKeeperLockWithClient(lock.c, ZooKeeperLockConfig{Namespace: "testapp", Name: "migrations"})
	ctx := context.Background()

	assert.Nil(t, lock.Lock(ctx))
	assert.Equal(t, ErrLocked, other.TryLock(ctx))
	assert.Nil(t, lock.Unlock(ctx))
	assert.Nil(t, other.TryLock(ctx))
	assert.Nil(t, other.Unlock(ctx))
}

func TestUnlock(t *testing.T) {
	lock, _ := newTestLock(t, "migrations")
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	// This lock should succeed normally.
	err := lock.Lock(ctx)
	assert.Nil(t, err)

	// Release the first lock.
	err = lock.Unlock(ctx)
	assert.Nil(t, err)

	// Unlocking a lock that isn't held is a no-op.
	err = lock.Unlock(ctx)
	assert.Nil(t, err)

	// This lock should succeed.
	err = lock.Lock(ctx)
	assert.Nil(t, err)
}

func TestWithLock(t *testing.T) {
	lock, stub := newTestLock(t, "resource-{id}")
	ctx := context.Background()
	params := Params{"id": "123"}

	// The section's error propagates after the lock is released.
	wantErr := errors.New("migration failed")
	var ran bool
	err := lock.WithLock(ctx, params, func(ctx context.Context) error {
		ran = true
		return wantErr
	})
	assert.True(t, ran)
	assert.Equal(t, wantErr, err)

	// The claim is gone despite the failure.
	children, _, _ := stub.Children("/locks/testapp/resource-123")
	assert.Empty(t, children)
}

func TestTryWithLock(t *testing.T) {
	lock, _ := newTestLock(t, "resource-{id}")
	ctx := context.Background()
	params := Params{"id": "123"}

	h, err := lock.Acquire(ctx, params)
	assert.Nil(t, err)

	// The lock is held; fn doesn't run and no error is raised.
	ran, err := lock.TryWithLock(ctx, params, func(ctx context.Context) error {
		t.Fatal("should not be executed")
		return nil
	})
	assert.Nil(t, err)
	assert.False(t, ran)

	assert.Nil(t, h.Release(ctx))

	ran, err = lock.TryWithLock(ctx, params, func(ctx context.Context) error {
		return nil
	})
	assert.Nil(t, err)
	assert.True(t, ran)
}

func TestAcquireBadParams(t *testing.T) {
	lock, _ := newTestLock(t, "resource-{id}")
	ctx := context.Background()

	var confErr ErrConfiguration

	_, err := lock.Acquire(ctx, nil)
	assert.ErrorAs(t, err, &confErr)

	_, err = lock.Acquire(ctx, Params{"id": "1", "bogus": "2"})
	assert.ErrorAs(t, err, &confErr)
}
