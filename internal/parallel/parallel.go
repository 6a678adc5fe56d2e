// Package parallel splits data-parallel loops of the CPU kernels across
// goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config sizes the worker split of a kernel.
type Config struct {
	Enabled      bool
	NumWorkers   int
	MinChunkSize int // smallest range worth a goroutine
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{Enabled: n > 1, NumWorkers: n, MinChunkSize: 256}
}

// Sequential returns a config that never spawns goroutines.
func Sequential() Config {
	return Config{NumWorkers: 1, MinChunkSize: 1}
}

// ForRange calls f on disjoint [start, end) ranges covering [0, n) and
// waits for all of them. Small loops run inline.
func ForRange(n int, f func(start, end int), cfg Config) {
	switch {
	case n <= 0:
		return
	case !cfg.Enabled || cfg.NumWorkers <= 1 || n < 2*cfg.MinChunkSize:
		f(0, n)
		return
	}

	chunk := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Go(func() { f(start, end) })
	}
	wg.Wait()
}

// For calls f(i) for every i in [0, n).
func For(n int, f func(i int), cfg Config) {
	ForRange(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	}, cfg)
}
