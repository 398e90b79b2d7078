package zookeeper

import (
	"errors"
)

var (
	// ErrLockingTimedOut is returned when a lock couldn't be acquired by the
	// context deadline.
	ErrLockingTimedOut = errors.New("attempt to acquire lock timed out")
	// ErrLocked is returned by non-blocking acquisitions when the lock is
	// already held by another contender.
	ErrLocked = errors.New("lock is already held")
	// ErrConnectionLost is returned when the ZooKeeper session becomes
	// unavailable mid-protocol. The lock layer never retries on its own;
	// retry policy belongs to the caller.
	ErrConnectionLost = errors.New("zookeeper session unavailable")
	// ErrAlreadyOwnLock is a soft error returned when the requesting owner
	// already holds this lock.
	ErrAlreadyOwnLock = errors.New("requestor already owns the lock")
	// ErrInvalidSeqNode is returned when sequential znodes are being parsed for
	// a trailing integer ID, but one isn't found.
	ErrInvalidSeqNode = errors.New("znode doesn't appear to be a sequential type")
)

// ErrLockingFailed is a general locking failure.
type ErrLockingFailed struct {
	message string
}

// Error returns an error string.
func (e ErrLockingFailed) Error() string {
	return "attempt to acquire lock failed: " + e.message
}

// ErrConfiguration is returned for malformed lock names, parameters, or
// namespaces. It's only possible to hit this at construction or resolution
// time, never mid-protocol.
type ErrConfiguration struct {
	message string
}

// Error returns an error string.
func (e ErrConfiguration) Error() string {
	return "lock configuration error: " + e.message
}
