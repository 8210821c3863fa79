package sequence

// Queue is a FIFO backed by a growable ring buffer. Not safe for concurrent use.
type Queue[T any] struct {
	buf  []T
	head int
	size int
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{buf: make([]T, capacity)}
}

func (q *Queue[T]) Len() int {
	return q.size
}

func (q *Queue[T]) Enqueue(value T) {
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = value
	q.size++
}

func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	value := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return value, true
}

func (q *Queue[T]) Peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

// At returns the i-th element from the front without removing it.
func (q *Queue[T]) At(i int) T {
	if i < 0 || i >= q.size {
		panic("sequence: queue index out of range")
	}
	return q.buf[(q.head+i)%len(q.buf)]
}

// DequeueWhile removes elements from the front while pred returns true and
// reports how many were removed.
func (q *Queue[T]) DequeueWhile(pred func(T) bool) int {
	n := 0
	for q.size > 0 && pred(q.buf[q.head]) {
		q.Dequeue()
		n++
	}
	return n
}

func (q *Queue[T]) Clear() {
	var zero T
	for i := 0; i < q.size; i++ {
		q.buf[(q.head+i)%len(q.buf)] = zero
	}
	q.head = 0
	q.size = 0
}

func (q *Queue[T]) grow() {
	next := make([]T, len(q.buf)*2)
	for i := 0; i < q.size; i++ {
		next[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = next
	q.head = 0
}
