// Package parallel splits per-pixel loops across a bounded set of goroutines.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunk keeps tiny images from being split into goroutines that cost more than they do.
const minChunk = 1024

// Workers resolves a requested worker count; values <= 0 mean one per CPU.
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// For runs fn over contiguous chunks [start, end) covering [0, n), with at most
// workers chunks in flight, and returns the first error.
func For(workers, n int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	workers = Workers(workers)

	chunks := workers * 4
	if limit := (n + minChunk - 1) / minChunk; chunks > limit {
		chunks = limit
	}
	if chunks <= 1 {
		return fn(0, n)
	}
	size := (n + chunks - 1) / chunks

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < n; start += size {
		start, end := start, start+size
		if end > n {
			end = n
		}
		g.Go(func() error {
			return fn(start, end)
		})
	}
	return g.Wait()
}

// Each is For with an infallible body.
func Each(workers, n int, fn func(start, end int)) {
	_ = For(workers, n, func(start, end int) error {
		fn(start, end)
		return nil
	})
}
