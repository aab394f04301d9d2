package crawl

// requestQueue is the per-tier bounded scheduler: a FIFO of request
// descriptors plus the count of requests currently in flight. All methods
// must be called from the crawl's event loop goroutine, which makes
// re-entrant flushes from completion handlers safe without locking.
type requestQueue[T any] struct {
	pending []T
	active  int
	limit   int
}

func newRequestQueue[T any](limit int) *requestQueue[T] {
	return &requestQueue[T]{
		pending: nil,
		active:  0,
		limit:   limit,
	}
}

func (q *requestQueue[T]) push(v T) {
	q.pending = append(q.pending, v)
}

// flush dequeues descriptors while capacity remains, invoking issue for each
// one. active never exceeds limit; every descriptor is issued exactly once.
func (q *requestQueue[T]) flush(issue func(T)) {
	for len(q.pending) > 0 && q.active < q.limit {
		v := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		issue(v)
	}
}

// done marks one in-flight request as completed. A double completion is
// absorbed rather than driving active negative, which would make idle
// unreachable and wedge termination detection.
func (q *requestQueue[T]) done() {
	if q.active > 0 {
		q.active--
	}
}

// idle reports whether the queue is fully drained: nothing pending, nothing
// in flight.
func (q *requestQueue[T]) idle() bool {
	return len(q.pending) == 0 && q.active == 0
}
