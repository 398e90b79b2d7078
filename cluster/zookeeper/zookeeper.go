// Package zookeeper implements distributed mutual-exclusion locks on top of a
// ZooKeeper ensemble using ephemeral sequential znodes.
package zookeeper

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/hashicorp/go-hclog"
)

const (
	// lockRoot is the top-level znode under which all lock namespaces live.
	lockRoot = "/locks"
	// sessionTimeout is the ZooKeeper session timeout; it bounds how long a
	// crashed holder's ephemeral claim can linger.
	sessionTimeout = 10 * time.Second
)

// OwnerKey is the context value key checked for an owner identity on the
// coarse Lock/Unlock interface.
const OwnerKey = "owner"

// ZooKeeperClient specifies the ZooKeeper operations the lock depends on. It's
// satisfied by *zk.Conn; a single client/session can safely back many locks
// and concurrent acquisition attempts.
type ZooKeeperClient interface {
	Children(string) ([]string, *zk.Stat, error)
	Create(string, []byte, int32, []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(string, []byte, []zk.ACL) (string, error)
	Delete(string, int32) error
	Get(string) ([]byte, *zk.Stat, error)
	GetW(string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	State() zk.State
	Close()
}

// ZooKeeperLock implements cluster.Lock on ZooKeeper. One ZooKeeperLock is
// bound to a single lock name (possibly parameterized); each acquisition
// attempt enters its own ephemeral sequential claim znode and is served in
// claim ID order.
type ZooKeeperLock struct {
	c    ZooKeeperClient
	name LockName
	log  hclog.Logger
	// Whether we dialed the connection ourselves and should close it.
	ownConn bool

	// Path is the base znode path holding this namespace's locks.
	Path string

	// Coarse Lock/Unlock state.
	mu     sync.Mutex
	handle *Handle
	owner  interface{}
}

// ZooKeeperLockConfig holds ZooKeeperLock configuration parameters.
type ZooKeeperLockConfig struct {
	// Address is the ZooKeeper connect string; multiple endpoints are comma
	// delimited.
	Address string
	// Namespace scopes this deployment's locks so that unrelated applications
	// sharing the ensemble never collide.
	Namespace string
	// Name is the lock name, optionally templated with {placeholder} segments
	// bound at acquisition time.
	Name string
	// Logger is optional; discarded if unset.
	Logger hclog.Logger
}

// NewZooKeeperLock dials ZooKeeper and returns a ZooKeeperLock.
func NewZooKeeperLock(c ZooKeeperLockConfig) (*ZooKeeperLock, error) {
	zkl, err := newLock(c)
	if err != nil {
		return nil, err
	}

	zkl.ownConn = true
	zkl.c, _, err = zk.Connect(strings.Split(c.Address, ","), sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, err
	}

	return zkl, zkl.init()
}

// NewZooKeeperLockWithClient returns a ZooKeeperLock using a caller-provided
// client. The caller retains ownership of the client; Close becomes a no-op.
func NewZooKeeperLockWithClient(client ZooKeeperClient, c ZooKeeperLockConfig) (*ZooKeeperLock, error) {
	zkl, err := newLock(c)
	if err != nil {
		return nil, err
	}

	zkl.c = client

	return zkl, zkl.init()
}

func newLock(c ZooKeeperLockConfig) (*ZooKeeperLock, error) {
	if err := validateNamespace(c.Namespace); err != nil {
		return nil, err
	}

	name, err := NewLockName(c.Name)
	if err != nil {
		return nil, err
	}

	log := c.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &ZooKeeperLock{
		name: name,
		log:  log,
		Path: fmt.Sprintf("%s/%s", lockRoot, c.Namespace),
	}, nil
}

func validateNamespace(ns string) error {
	if ns == "" {
		return ErrConfiguration{message: "namespace must not be empty"}
	}
	if strings.ContainsAny(ns, "/ ") {
		return ErrConfiguration{message: fmt.Sprintf("invalid namespace %q", ns)}
	}
	return nil
}

// init creates the base path hierarchy for the configured namespace.
func (z *ZooKeeperLock) init() error {
	return z.ensurePath(z.Path)
}

// ensurePath creates every node along path that doesn't exist yet. If for
// example we're provided "/locks/app/key", we create, in order: "/locks",
// "/locks/app", "/locks/app/key".
func (z *ZooKeeperLock) ensurePath(path string) error {
	nodes := strings.Split(strings.Trim(path, "/"), "/")

	for i := range nodes {
		nodePath := fmt.Sprintf("/%s", strings.Join(nodes[:i+1], "/"))
		_, err := z.c.Create(nodePath, nil, 0, zk.WorldACL(31))
		switch {
		case err == nil, errors.Is(err, zk.ErrNodeExists):
			continue
		case isConnectionError(err):
			return connectionLostError(err)
		default:
			return ErrLockingFailed{message: err.Error()}
		}
	}

	return nil
}

// Ready returns true when the ZooKeeper session is established and usable.
func (z *ZooKeeperLock) Ready() bool {
	return z.c.State() == zk.StateHasSession
}

// Close closes the underlying ZooKeeper connection if this lock dialed it.
func (z *ZooKeeperLock) Close() {
	if z.ownConn {
		z.c.Close()
	}
}

// idFromZnode parses the trailing sequence integer from an ephemeral
// sequential znode name. Comparison of claims is numeric, so the fixed-width,
// zero-padded suffix ZooKeeper assigns is handled here.
func idFromZnode(node string) (int, error) {
	parts := strings.Split(node, "-")
	if len(parts) < 2 {
		return 0, ErrInvalidSeqNode
	}

	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, ErrInvalidSeqNode
	}

	return id, nil
}

// isConnectionError reports whether a client error means the session is
// unusable, as opposed to a normal protocol response.
func isConnectionError(err error) bool {
	switch {
	case errors.Is(err, zk.ErrConnectionClosed),
		errors.Is(err, zk.ErrSessionExpired),
		errors.Is(err, zk.ErrSessionMoved),
		errors.Is(err, zk.ErrClosing),
		errors.Is(err, zk.ErrNoServer):
		return true
	}
	return false
}

func connectionLostError(err error) error {
	return fmt.Errorf("%w: %s", ErrConnectionLost, err)
}
