package importer

// Ring is a fixed-capacity buffer that keeps the most recent values
// written to it. Commit runs use it to bound the memory held for recent
// successes and errors regardless of file size. Not safe for concurrent
// use; callers synchronize.
type Ring[T any] struct {
	buf   []T
	next  int
	count int
}

// NewRing returns a ring holding at most capacity values. Capacity must be
// positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("importer: ring capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends a value, evicting the oldest when full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Len returns how many values the ring currently holds.
func (r *Ring[T]) Len() int {
	return r.count
}

// Values returns the held values oldest-first as a fresh slice.
func (r *Ring[T]) Values() []T {
	out := make([]T, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
