package sim

import (
	"sync/atomic"
	"testing"
)

func TestForEach_CoversRangeExactlyOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		for _, n := range []int{0, 1, serialThreshold - 1, serialThreshold, 1000} {
			pool := newWorkerPool(workers)

			counts := make([]int32, n)
			pool.forEach(n, func(start, end, worker int) {
				if worker < 0 || worker >= workers {
					t.Errorf("worker id %d out of range", worker)
				}
				for i := start; i < end; i++ {
					atomic.AddInt32(&counts[i], 1)
				}
			})

			for i, c := range counts {
				if c != 1 {
					t.Fatalf("workers=%d n=%d: index %d visited %d times", workers, n, i, c)
				}
			}
			pool.stop()
		}
	}
}

func TestForEach_SequentialPhasesBarrier(t *testing.T) {
	pool := newWorkerPool(4)
	defer pool.stop()

	n := 500
	buf := make([]int, n)

	// Each phase must observe the previous phase's writes.
	pool.forEach(n, func(start, end, _ int) {
		for i := start; i < end; i++ {
			buf[i] = 1
		}
	})
	pool.forEach(n, func(start, end, _ int) {
		for i := start; i < end; i++ {
			buf[i]++
		}
	})

	for i, v := range buf {
		if v != 2 {
			t.Fatalf("index %d = %d, want 2", i, v)
		}
	}
}

func TestStop_Idempotent(t *testing.T) {
	pool := newWorkerPool(2)
	pool.forEach(1000, func(start, end, _ int) {})
	pool.stop()
	pool.stop()
}
