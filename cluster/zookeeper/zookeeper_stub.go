// This file is entirely for tests, but isn't defined as a _test file due to
// use of the stub in other packages.

package zookeeper

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-zookeeper/zk"
)

// The stub mimics the protected sequential naming scheme of a real ensemble.
const stubZnodeNameTemplate = "_c_979cb11f40bb3dbc6908edeaac8f2de1-lock-%010d"

// Stub is an in-memory ZooKeeperClient with working sequential naming, watch
// delivery and session-expiry simulation.
type Stub struct {
	mu      sync.Mutex
	znodes  map[string]*stubZnode
	seqs    map[string]int
	watches map[string][]chan zk.Event
	expired bool
}

type stubZnode struct {
	data      []byte
	ephemeral bool
}

// NewZooKeeperStub returns a stub ZooKeeperClient.
func NewZooKeeperStub() *Stub {
	return &Stub{
		znodes:  map[string]*stubZnode{},
		seqs:    map[string]int{},
		watches: map[string][]chan zk.Event{},
	}
}

// Children returns the names of path's direct children.
func (s *Stub) Children(path string) ([]string, *zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired {
		return nil, nil, zk.ErrSessionExpired
	}

	var names []string
	prefix := strings.TrimRight(path, "/") + "/"
	for p := range s.znodes {
		if strings.HasPrefix(p, prefix) && !strings.Contains(p[len(prefix):], "/") {
			names = append(names, p[len(prefix):])
		}
	}
	sort.Strings(names)

	return names, &zk.Stat{}, nil
}

// Create creates a persistent znode.
func (s *Stub) Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired {
		return "", zk.ErrSessionExpired
	}
	if _, exists := s.znodes[path]; exists {
		return "", zk.ErrNodeExists
	}

	s.znodes[path] = &stubZnode{data: data}

	return path, nil
}

// CreateProtectedEphemeralSequential creates an ephemeral znode named with the
// protected prefix and the parent's next sequence number.
func (s *Stub) CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired {
		return "", zk.ErrSessionExpired
	}

	// If path is "/locks/app/key/lock-", claims are sequenced per
	// "/locks/app/key".
	parent := path[:strings.LastIndex(path, "/")]
	s.seqs[parent]++
	node := fmt.Sprintf("%s/%s", parent, fmt.Sprintf(stubZnodeNameTemplate, s.seqs[parent]))
	s.znodes[node] = &stubZnode{data: data, ephemeral: true}

	return node, nil
}

// Delete removes a znode and fires any watches registered on it.
func (s *Stub) Delete(path string, version int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired {
		return zk.ErrSessionExpired
	}
	if _, exists := s.znodes[path]; !exists {
		return zk.ErrNoNode
	}

	s.deleteZnode(path)

	return nil
}

// deleteZnode removes path and notifies watchers; callers hold s.mu.
func (s *Stub) deleteZnode(path string) {
	delete(s.znodes, path)
	for _, ch := range s.watches[path] {
		ch <- zk.Event{Type: zk.EventNodeDeleted, Path: path}
	}
	delete(s.watches, path)
}

// Get fetches a znode's data.
func (s *Stub) Get(path string) ([]byte, *zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired {
		return nil, nil, zk.ErrSessionExpired
	}

	z, exists := s.znodes[path]
	if !exists {
		return nil, nil, zk.ErrNoNode
	}

	return z.data, &zk.Stat{Version: 1}, nil
}

// GetW fetches a znode's data and registers a one-shot deletion watch.
func (s *Stub) GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired {
		return nil, nil, nil, zk.ErrSessionExpired
	}

	z, exists := s.znodes[path]
	if !exists {
		return nil, nil, nil, zk.ErrNoNode
	}

	ch := make(chan zk.Event, 1)
	s.watches[path] = append(s.watches[path], ch)

	return z.data, &zk.Stat{Version: 1}, ch, nil
}

// State returns the stub session state.
func (s *Stub) State() zk.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired {
		return zk.StateExpired
	}
	return zk.StateHasSession
}

// Close is a no-op.
func (s *Stub) Close() {}

// ExpireSession simulates losing the ZooKeeper session: ephemeral znodes are
// removed, pending watches fire a session-expired event, and every later call
// fails with zk.ErrSessionExpired until Restore.
func (s *Stub) ExpireSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expired = true

	for p, z := range s.znodes {
		if z.ephemeral {
			delete(s.znodes, p)
		}
	}
	for p, chans := range s.watches {
		for _, ch := range chans {
			ch <- zk.Event{Type: zk.EventNotWatching, State: zk.StateExpired, Path: p, Err: zk.ErrSessionExpired}
		}
		delete(s.watches, p)
	}
}

// Restore reverses ExpireSession, as if a fresh session were established.
func (s *Stub) Restore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expired = false
}
