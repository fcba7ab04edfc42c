package propagation

import (
	"sort"
	"sync"
	"time"
)

// Peer is an instance this process has heard from.
type Peer struct {
	InstanceID string    `json:"instance_id"`
	Self       bool      `json:"self"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Messages   int       `json:"messages"`
}

// Registry tracks known instances. It is for observability only and never decides
// who receives a message.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Register records the local instance.
func (r *Registry) Register(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if p, ok := r.peers[instanceID]; ok {
		p.Self = true
		p.LastSeen = now
		return
	}
	r.peers[instanceID] = &Peer{InstanceID: instanceID, Self: true, FirstSeen: now, LastSeen: now}
}

// Unregister forgets an instance.
func (r *Registry) Unregister(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, instanceID)
}

// Seen notes a message from instanceID.
func (r *Registry) Seen(instanceID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[instanceID]
	if !ok {
		p = &Peer{InstanceID: instanceID, FirstSeen: at}
		r.peers[instanceID] = p
	}
	if at.After(p.LastSeen) {
		p.LastSeen = at
	}
	p.Messages++
}

// Peers returns a snapshot sorted by instance id.
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}
