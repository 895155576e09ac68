package taskflow

import "sync"

// arena owns every live task of a scheduler. Parents and children refer to
// each other by id; a node leaves the arena as soon as it is terminal.
type arena struct {
	mu    sync.RWMutex
	nodes map[TaskID]*taskNode
}

func newArena() *arena {
	return &arena{nodes: make(map[TaskID]*taskNode)}
}

func (a *arena) put(n *taskNode) {
	a.mu.Lock()
	a.nodes[n.id] = n
	a.mu.Unlock()
}

func (a *arena) get(id TaskID) *taskNode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nodes[id]
}

func (a *arena) release(ids ...TaskID) {
	if len(ids) == 0 {
		return
	}
	a.mu.Lock()
	for _, id := range ids {
		delete(a.nodes, id)
	}
	a.mu.Unlock()
}

func (a *arena) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

// roots returns the live nodes that have no parent.
func (a *arena) roots() []*taskNode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*taskNode
	for _, n := range a.nodes {
		if n.parentID == (TaskID{}) {
			out = append(out, n)
		}
	}
	return out
}
