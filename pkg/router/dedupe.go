package router

// recencySet is a bounded set of message ids with FIFO eviction. Once the
// capacity is reached the oldest recorded id is forgotten, so a very old
// retransmission can in principle be re-dispatched; the window is sized to
// make that unreachable in practice. Not goroutine-safe; the Router
// serializes access.
type recencySet struct {
	cap  int
	set  map[string]struct{}
	ring []string
	head int
}

func newRecencySet(capacity int) *recencySet {
	if capacity <= 0 {
		capacity = 4096
	}
	return &recencySet{
		cap:  capacity,
		set:  make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

func (s *recencySet) Contains(id string) bool {
	_, ok := s.set[id]
	return ok
}

// Add records an id, evicting the oldest entry at capacity. Adding an id
// already present is a no-op.
func (s *recencySet) Add(id string) {
	if _, ok := s.set[id]; ok {
		return
	}
	if old := s.ring[s.head]; old != "" {
		delete(s.set, old)
	}
	s.ring[s.head] = id
	s.head = (s.head + 1) % s.cap
	s.set[id] = struct{}{}
}

func (s *recencySet) Len() int { return len(s.set) }
