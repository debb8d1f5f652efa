package governor

import (
	"sync"
	"time"
)

// BatchOptions control how a batch of tasks is split and paced.
type BatchOptions struct {
	BatchSize           int
	DelayBetweenBatches time.Duration
	Priority            string
	Timeout             time.Duration
}

// BatchResult pairs one task's outcome with its index in the submitted slice.
type BatchResult struct {
	Index int
	Value interface{}
	Err   error
}

// ExecuteBatch submits tasks in groups of BatchSize with a pause between
// groups. Used for large instrument sweeps so the screener never fires
// unthrottled concurrent fetches; every task still goes through Execute and
// counts against the provider quota. Results come back in submission order.
func (g *Governor) ExecuteBatch(provider string, tasks []Task, opts BatchOptions) []BatchResult {
	size := opts.BatchSize
	if size <= 0 {
		size = 10
	}
	delay := opts.DelayBetweenBatches
	if delay < 0 {
		delay = 0
	}

	results := make([]BatchResult, len(tasks))
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				value, err := g.Execute(provider, tasks[idx], ExecuteOptions{
					Priority: opts.Priority,
					Timeout:  opts.Timeout,
				})
				results[idx] = BatchResult{Index: idx, Value: value, Err: err}
			}(i)
		}
		wg.Wait()

		if end < len(tasks) && delay > 0 {
			time.Sleep(delay)
		}
	}
	return results
}
