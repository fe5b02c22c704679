// Package probe checks that xray is accepting connections on every enabled
// inbound after an apply.
package probe

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"raydock/internal/storage/models"
)

// Result holds the outcome for a single inbound.
type Result struct {
	Inbound   *models.Inbound
	LatencyMS int
	Err       error
}

// OK reports whether the probe succeeded.
func (r *Result) OK() bool { return r.Err == nil }

// BatchResult holds the outcome of probing multiple inbounds.
type BatchResult struct {
	Results   []*Result
	Probed    int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// ProgressFunc is called each time a single probe completes.
type ProgressFunc func(result *Result, current, total int)

// TesterConfig holds configuration for the Tester.
type TesterConfig struct {
	Workers  int64
	Timeout  time.Duration
	Strategy Strategy
}

// Tester runs probes against inbounds.
type Tester struct {
	config TesterConfig
}

// NewTester creates a new Tester.
func NewTester(cfg TesterConfig) *Tester {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Strategy == nil {
		cfg.Strategy = &TCPStrategy{}
	}
	return &Tester{config: cfg}
}

// ProbeSingle probes one inbound.
func (t *Tester) ProbeSingle(ctx context.Context, inbound *models.Inbound) *Result {
	probeCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	latencyMS, err := t.config.Strategy.Probe(probeCtx, inbound)
	return &Result{Inbound: inbound, LatencyMS: latencyMS, Err: err}
}

// ProbeBatch probes inbounds concurrently using a semaphore-based worker pool.
func (t *Tester) ProbeBatch(ctx context.Context, inbounds []*models.Inbound, progress ProgressFunc) *BatchResult {
	startTime := time.Now()

	batch := &BatchResult{}
	results := make([]*Result, len(inbounds))
	var mu sync.Mutex
	var completed int

	sem := semaphore.NewWeighted(t.config.Workers)
	var wg sync.WaitGroup

	for i, inbound := range inbounds {
		wg.Add(1)
		go func(idx int, in *models.Inbound) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			result := t.ProbeSingle(ctx, in)
			results[idx] = result

			mu.Lock()
			completed++
			current := completed
			if result.OK() {
				batch.Succeeded++
			} else {
				batch.Failed++
			}
			mu.Unlock()

			if progress != nil {
				progress(result, current, len(inbounds))
			}
		}(i, inbound)
	}

	wg.Wait()

	for _, r := range results {
		if r != nil {
			batch.Results = append(batch.Results, r)
			batch.Probed++
		}
	}

	// Failures first: they are what the operator needs to see.
	sort.SliceStable(batch.Results, func(i, j int) bool {
		return !batch.Results[i].OK() && batch.Results[j].OK()
	})

	batch.Duration = time.Since(startTime)
	return batch
}
