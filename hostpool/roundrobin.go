package hostpool

import "sync/atomic"

// roundRobin walks a fixed-size index space in order, wrapping around.
// Adapted from the teacher's loadbalance.RoundRobinBalancer: the same
// atomic-counter technique, but here it cycles through a fixed slice
// index rather than picking among weighted service instances, matching
// spec.md §4.3's "hosts are tried in list order" tie-break rule (no
// randomness or weighting once the list is fixed).
type roundRobin struct {
	size    int
	counter int64
}

func newRoundRobin(size int) *roundRobin {
	return &roundRobin{size: size}
}

// next returns the next index in [0, size), or 0 if size is 0 (callers
// guard against an empty pool before indexing).
func (r *roundRobin) next() int {
	if r.size == 0 {
		return 0
	}
	n := atomic.AddInt64(&r.counter, 1) - 1
	return int(n % int64(r.size))
}
