package usecase

import "sync"

// runBounded invokes fn once per index in [0, n), using at most concurrency
// goroutines at a time, and waits for all calls to finish. Bounds the
// per-request document worker pool described in spec §4.1 step 8 / §5
// (small, e.g. 4) using a plain semaphore channel rather than an errgroup,
// matching this codebase's existing worker-pool idiom (WaitGroup + channel
// semaphore).
func runBounded(n, concurrency int, fn func(i int)) {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(idx)
		}(i)
	}
	wg.Wait()
}
