package kde

import (
	"math/rand/v2"
	"sync"
)

// BruteForceDensitiesParallel computes BruteForceDensities using multiple
// goroutines. numWorkers controls the degree of parallelism; if <= 1, it
// falls back to single-threaded BruteForceDensities.
//
// The result is bitwise identical to BruteForceDensities.
func BruteForceDensitiesParallel(reference []float64, nRef int, query []float64, nQuery, dims int,
	metric DistanceMetric, kernel Kernel, sameSet bool, numWorkers int) []float64 {
	if numWorkers <= 1 || nQuery <= 1 {
		return BruteForceDensities(reference, nRef, query, nQuery, dims, metric, kernel, sameSet)
	}

	result := make([]float64, nQuery)

	// Each worker owns a contiguous range of query rows; the ranges don't
	// overlap, so no synchronization is needed for writes.
	var wg sync.WaitGroup
	forEachRange(nQuery, numWorkers, func(_, start, end int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bruteForceRows(result, reference, nRef, query, dims, metric, kernel, sameSet, start, end)
		}()
	})
	wg.Wait()
	return result
}

// traversalStats sums the diagnostic counters of several rules.
type traversalStats struct {
	baseCases, scores, prunes, mcPrunes, mcSamples int
}

func (s *traversalStats) add(r *Rules) {
	s.baseCases += r.BaseCases()
	s.scores += r.Scores()
	s.prunes += r.Prunes()
	s.mcPrunes += r.MonteCarloPrunes()
	s.mcSamples += r.MonteCarloSamples()
}

// traverseSingleParallel runs a single-tree traversal for every query point.
// Workers take contiguous query ranges, each with its own Rules over the
// shared density slice; writes are disjoint by query index. progress, if not
// nil, is called once per finished query point from the worker goroutines.
func traverseSingleParallel(base RulesConfig, nQuery, numWorkers int, seed uint64,
	bestFirst bool, progress func(int)) (traversalStats, error) {
	var stats traversalStats
	if nQuery == 0 {
		return stats, nil
	}
	numWorkers = max(1, min(numWorkers, nQuery))
	if bestFirst {
		base.RetainBounds = true
	}

	// Build every worker's rules up front so configuration errors surface
	// before any goroutine starts.
	type job struct {
		rules      *Rules
		start, end int
	}
	var jobs []job
	var err error
	forEachRange(nQuery, numWorkers, func(w, start, end int) {
		if err != nil {
			return
		}
		cfg := base
		cfg.Rand = newRand(seed, uint64(w))
		var r *Rules
		if r, err = NewRules(cfg); err == nil {
			jobs = append(jobs, job{rules: r, start: start, end: end})
		}
	})
	if err != nil {
		return stats, err
	}

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			traverse := NewSingleTreeTraverser(j.rules).Traverse
			if bestFirst {
				traverse = NewBestFirstTraverser(j.rules).Traverse
			}
			for q := j.start; q < j.end; q++ {
				traverse(q)
				if progress != nil {
					progress(1)
				}
			}
		}()
	}
	wg.Wait()

	for _, j := range jobs {
		stats.add(j.rules)
	}
	return stats, nil
}

// forEachRange splits [0, n) into at most numWorkers contiguous ranges.
func forEachRange(n, numWorkers int, fn func(worker, start, end int)) {
	rowsPerWorker := (n + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker
		if end > n {
			end = n
		}
		if start >= n {
			break
		}
		fn(w, start, end)
	}
}

// newRand returns a PCG generator. A zero seed draws a random one.
func newRand(seed, stream uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, stream))
}
