package zookeeper

import (
	"fmt"
	"sort"
)

// LockEntries is a container of lock claims under a single lock path.
type LockEntries struct {
	// Map of claim ID integer to the full znode path.
	m map[int]string
	// List of IDs ascending.
	l []int
}

// lockEntries returns a LockEntries of all current claims under path.
func lockEntries(c ZooKeeperClient, path string) (LockEntries, error) {
	var locks = LockEntries{
		m: map[int]string{},
		l: []int{},
	}

	// Get all nodes in the lock path.
	nodes, _, err := c.Children(path)
	if err != nil {
		return locks, err
	}

	// Get the int IDs for all claims.
	for _, n := range nodes {
		id, err := idFromZnode(n)
		// Ignore junk entries.
		if err == ErrInvalidSeqNode {
			continue
		}
		// Append the znode to the map.
		locks.m[id] = fmt.Sprintf("%s/%s", path, n)
		// Append the ID to the list.
		locks.l = append(locks.l, id)
	}

	sort.Ints(locks.l)

	return locks, nil
}

// IDs returns all claim IDs ascending.
func (le LockEntries) IDs() []int {
	return le.l
}

// First returns the ID with the lowest value.
func (le LockEntries) First() (int, error) {
	if len(le.IDs()) == 0 {
		return 0, fmt.Errorf("no active locks")
	}

	return le.IDs()[0], nil
}

// LockPath takes a claim ID and returns the znode path.
func (le LockEntries) LockPath(id int) (string, error) {
	if path, exists := le.m[id]; exists {
		return path, nil
	}
	return "", fmt.Errorf("failed to get lock path; referenced ID doesn't exist")
}

// LockAhead returns the claim immediately ahead of the ID provided.
func (le LockEntries) LockAhead(id int) (int, error) {
	for i, next := range le.l {
		if next == id && i > 0 {
			return le.l[i-1], nil
		}
	}

	return 0, fmt.Errorf("unable to determine which lock to enqueue behind")
}
