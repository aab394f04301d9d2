package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestQueueFlushCapsInFlight(t *testing.T) {
	t.Parallel()

	q := newRequestQueue[int](3)
	for i := range 5 {
		q.push(i)
	}

	var issued []int
	q.flush(func(v int) { issued = append(issued, v) })

	assert.Exactly(t, []int{0, 1, 2}, issued)
	assert.Exactly(t, 3, q.active)
	assert.False(t, q.idle())

	q.done()
	q.flush(func(v int) { issued = append(issued, v) })
	assert.Exactly(t, []int{0, 1, 2, 3}, issued)

	q.done()
	q.done()
	q.done()
	q.flush(func(v int) { issued = append(issued, v) })
	assert.Exactly(t, []int{0, 1, 2, 3, 4}, issued)
	assert.False(t, q.idle())

	q.done()
	assert.True(t, q.idle())
}

func TestRequestQueueDoneNeverGoesNegative(t *testing.T) {
	t.Parallel()

	q := newRequestQueue[int](1)
	q.push(1)
	q.flush(func(int) {})

	q.done()
	q.done()
	assert.Exactly(t, 0, q.active)
	assert.True(t, q.idle())
}

func TestRequestQueuePreservesFIFOOrder(t *testing.T) {
	t.Parallel()

	q := newRequestQueue[string](1)
	q.push("first")
	q.push("second")
	q.push("third")

	var issued []string
	issue := func(v string) { issued = append(issued, v) }

	q.flush(issue)
	q.done()
	q.flush(issue)
	q.done()
	q.flush(issue)
	q.done()

	assert.Exactly(t, []string{"first", "second", "third"}, issued)
	assert.True(t, q.idle())
}

func TestRequestQueueReentrantPushDuringFlush(t *testing.T) {
	t.Parallel()

	q := newRequestQueue[int](2)
	q.push(1)

	var issued []int
	q.flush(func(v int) {
		issued = append(issued, v)
		if v == 1 {
			q.push(2)
		}
	})

	assert.Exactly(t, []int{1, 2}, issued)
	assert.Exactly(t, 2, q.active)
}
