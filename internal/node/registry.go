package node

import "sync"

// Registry records every node created in an application, in creation order.
// Entries are never removed.
type Registry struct {
	mu    sync.RWMutex
	nodes []Node
}

// NewRegistry creates an empty node registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends a node.
func (r *Registry) Add(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, n)
}

// Nodes returns a snapshot of registered nodes.
func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Node(nil), r.nodes...)
}

// Get finds a node by id.
func (r *Registry) Get(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range r.nodes {
		if n.ID() == id {
			return n, true
		}
	}
	return nil, false
}

// List describes every registered node.
func (r *Registry) List() []Info {
	nodes := r.Nodes()
	infos := make([]Info, 0, len(nodes))
	for _, n := range nodes {
		infos = append(infos, n.Info())
	}
	return infos
}
