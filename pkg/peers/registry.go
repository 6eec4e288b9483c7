package peers

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry caches confirmed peers between discovery calls. Entries are
// refreshed on every successful probe and evicted by a janitor goroutine once
// LastSeen falls outside the staleness window. Insertion order is preserved
// so repeated queries return peers in a stable order.
type Registry struct {
	mu      sync.RWMutex
	byAddr  map[string]*entry // "host:port" -> entry
	order   []string          // insertion order of addr keys
	ttl     time.Duration
	closeCh chan struct{}
	wg      sync.WaitGroup
	nowFn   func() time.Time
}

type entry struct {
	peer Peer
}

// RegistryOptions tune the registry cache.
type RegistryOptions struct {
	// TTL is the staleness window; peers unseen for longer are evicted.
	// Zero disables eviction.
	TTL time.Duration
	// SweepInterval controls how often the janitor scans for stale peers.
	SweepInterval time.Duration
}

func NewRegistry(opts RegistryOptions) *Registry {
	r := &Registry{
		byAddr:  make(map[string]*entry),
		ttl:     opts.TTL,
		closeCh: make(chan struct{}),
		nowFn:   time.Now,
	}
	if r.ttl > 0 {
		ivl := opts.SweepInterval
		if ivl <= 0 {
			ivl = r.ttl / 4
		}
		if ivl < time.Second {
			ivl = time.Second
		}
		r.wg.Add(1)
		go r.janitor(ivl)
	}
	return r
}

// Close stops the janitor. The cache remains readable afterwards.
func (r *Registry) Close() {
	select {
	case <-r.closeCh:
	default:
		close(r.closeCh)
	}
	r.wg.Wait()
}

// Upsert records a confirmed peer. Metadata is last-write-wins; the position
// in the stable output order is first-write-wins.
func (r *Registry) Upsert(p Peer) {
	key := p.Addr()
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byAddr[key]; ok {
		e.peer = p
		return
	}
	r.byAddr[key] = &entry{peer: p}
	r.order = append(r.order, key)
}

// Get returns the cached peer for an address-derived id.
func (r *Registry) Get(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.order {
		if e, ok := r.byAddr[key]; ok && e.peer.ID == id {
			return e.peer, true
		}
	}
	return Peer{}, false
}

// GetAddr returns the cached peer for a host:port key.
func (r *Registry) GetAddr(addr string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byAddr[addr]
	if !ok {
		return Peer{}, false
	}
	return e.peer, true
}

// List returns all cached peers in stable discovery order.
func (r *Registry) List() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.order))
	for _, key := range r.order {
		if e, ok := r.byAddr[key]; ok {
			out = append(out, e.peer)
		}
	}
	return out
}

// ListBySource returns cached peers from one discovery strategy.
func (r *Registry) ListBySource(src Source) []Peer {
	all := r.List()
	out := all[:0]
	for _, p := range all {
		if p.Source == src {
			out = append(out, p)
		}
	}
	return out
}

// MarkSeen refreshes LastSeen for a peer id, if present.
func (r *Registry) MarkSeen(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byAddr {
		if e.peer.ID == id {
			e.peer.LastSeen = r.nowFn()
			return
		}
	}
}

// Remove drops a peer by host:port key.
func (r *Registry) Remove(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(addr)
}

func (r *Registry) removeLocked(addr string) {
	if _, ok := r.byAddr[addr]; !ok {
		return
	}
	delete(r.byAddr, addr)
	for i, key := range r.order {
		if key == addr {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of cached peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAddr)
}

func (r *Registry) janitor(interval time.Duration) {
	defer r.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-r.closeCh:
			return
		case <-t.C:
			r.evictStale()
		}
	}
}

func (r *Registry) evictStale() {
	cutoff := r.nowFn().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []string
	for addr, e := range r.byAddr {
		if e.peer.LastSeen.Before(cutoff) {
			stale = append(stale, addr)
		}
	}
	if len(stale) == 0 {
		return
	}
	sort.Strings(stale)
	for _, addr := range stale {
		r.removeLocked(addr)
	}
	zap.L().Debug("evicted stale peers", zap.Int("count", len(stale)))
}
