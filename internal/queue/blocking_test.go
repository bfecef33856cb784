package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocking_TakeWaitsForOffer(t *testing.T) {
	q := New[string](0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got := make(chan string, 1)
	go func() {
		v, err := q.Take(ctx)
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Offer("end-wait")

	select {
	case v := <-got:
		assert.Equal(t, "end-wait", v)
	case <-ctx.Done():
		t.Fatalf("Take did not return after Offer")
	}
}

func TestBlocking_TakeHonorsContext(t *testing.T) {
	q := New[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Take(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBlocking_BoundedDropsOldest(t *testing.T) {
	q := New[int](2)
	_, dropped := q.Offer(1)
	assert.False(t, dropped)
	q.Offer(2)
	evicted, dropped := q.Offer(3)
	assert.True(t, dropped)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, []int{2, 3}, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestBlocking_PollAndClear(t *testing.T) {
	q := New[string](0)
	_, ok := q.Poll()
	assert.False(t, ok)

	q.Offer("a")
	q.Offer("b")
	v, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	q.Clear()
	assert.Equal(t, 0, q.Len())
}

func TestBlocking_ManyTakers(t *testing.T) {
	q := New[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const n = 16
	var wg sync.WaitGroup
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := q.Take(ctx)
			if err == nil {
				results <- v
			}
		}()
	}
	for i := 0; i < n; i++ {
		q.Offer(i)
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for v := range results {
		seen[v] = true
	}
	assert.Len(t, seen, n)
}

func TestBlocking_FIFOProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("unbounded queue preserves order", prop.ForAll(
		func(in []string) bool {
			q := New[string](0)
			for _, s := range in {
				q.Offer(s)
			}
			out := q.Drain()
			if len(out) != len(in) {
				return false
			}
			for i := range in {
				if in[i] != out[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("bounded queue keeps the newest elements", prop.ForAll(
		func(in []int, capacity int) bool {
			q := New[int](capacity)
			for _, v := range in {
				q.Offer(v)
			}
			want := in
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}
			out := q.Drain()
			if len(out) != len(want) {
				return false
			}
			for i := range want {
				if want[i] != out[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int()),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
