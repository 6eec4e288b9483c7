package transport

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/peers"
)

// DefaultBroadcastLimit caps concurrent outstanding sends during a broadcast.
const DefaultBroadcastLimit = 16

// SendOutcome is one peer's slot in a broadcast result map. Exactly one of
// Err or Result is meaningful.
type SendOutcome struct {
	Peer   peers.Peer
	Result DeliveryResult
	Err    error
}

// Broadcast fans msg out to every target with bounded concurrency. The
// returned map always has exactly one entry per input peer, keyed by peer id;
// one peer's failure never aborts the others. Duplicate peer ids in targets
// collapse to a single entry.
func Broadcast(ctx context.Context, s Sender, targets []peers.Peer, msg *message.Message, limit int) map[string]SendOutcome {
	if limit <= 0 {
		limit = DefaultBroadcastLimit
	}
	out := make(map[string]SendOutcome, len(targets))
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = semaphore.NewWeighted(int64(limit))
	)
	seen := make(map[string]struct{}, len(targets))
	for _, p := range targets {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		wg.Add(1)
		go func(p peers.Peer) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				out[p.ID] = SendOutcome{Peer: p, Err: NewErrorKind("broadcast", p.ID, ErrTimeout, err)}
				mu.Unlock()
				return
			}
			defer sem.Release(1)
			res, err := s.Send(ctx, p, msg)
			mu.Lock()
			out[p.ID] = SendOutcome{Peer: p, Result: res, Err: err}
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return out
}
