// Package governor throttles outbound calls to external providers so usage
// never exceeds the configured per-minute and per-day quotas. Calls over
// quota are queued (high priority jumps the line) and drained one at a time
// with a pacing delay between dispatches.
package governor

import (
	"sort"
	"sync"
	"time"

	"github.com/ksred/screener-api/internal/config"
	"github.com/ksred/screener-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// PriorityHigh inserts the task at the head of the queue, behind any
	// high-priority tasks already waiting.
	PriorityHigh = "high"

	defaultQueueTimeout = 2 * time.Minute
	defaultQueueSize    = 500
	defaultPacingDelay  = 200 * time.Millisecond
)

// Task is a single outbound provider call. The returned value is handed back
// to the caller of Execute unchanged.
type Task func() (interface{}, error)

// ExecuteOptions control queue behaviour for one call.
type ExecuteOptions struct {
	Priority string
	// Timeout is the maximum time the task may wait in the queue before
	// being rejected without running. Zero uses the default.
	Timeout time.Duration
}

type taskResult struct {
	value interface{}
	err   error
}

type queuedTask struct {
	task     Task
	high     bool
	deadline time.Time
	done     chan taskResult
}

type providerState struct {
	name         string
	maxPerMinute int
	maxPerDay    int
	queueSize    int
	pacing       time.Duration

	minuteCount int
	minuteStart time.Time
	dayCount    int
	dayStart    time.Time

	queue    []*queuedTask
	draining bool
}

// underQuota reports whether one more call is admissible right now. Limits
// of zero or below mean unlimited for that window.
func (p *providerState) underQuota() bool {
	if p.maxPerMinute > 0 && p.minuteCount >= p.maxPerMinute {
		return false
	}
	if p.maxPerDay > 0 && p.dayCount >= p.maxPerDay {
		return false
	}
	return true
}

// refreshWindows zeroes counters whose window has rolled over. Resets are
// computed from the clock on every admission and drain step, never scheduled.
func (p *providerState) refreshWindows(now time.Time) {
	if p.minuteStart.IsZero() || now.Sub(p.minuteStart) >= time.Minute {
		p.minuteStart = now
		p.minuteCount = 0
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if p.dayStart.IsZero() || midnight.After(p.dayStart) {
		p.dayStart = midnight
		p.dayCount = 0
	}
}

// Governor owns all provider quota state. All access goes through its
// methods; nothing here is a package-level global so tests and multiple
// instances stay isolated.
type Governor struct {
	mu        sync.Mutex
	providers map[string]*providerState
	closed    bool

	// now and pollInterval are swappable for tests.
	now          func() time.Time
	pollInterval time.Duration

	logger zerolog.Logger
}

// New creates a Governor with one queue per configured provider.
func New(providers map[string]config.ProviderConfig) *Governor {
	g := &Governor{
		providers:    make(map[string]*providerState, len(providers)),
		now:          time.Now,
		pollInterval: 250 * time.Millisecond,
		logger:       log.With().Str("component", "governor").Logger(),
	}
	for name, cfg := range providers {
		g.providers[name] = newProviderState(name, cfg)
	}
	return g
}

func newProviderState(name string, cfg config.ProviderConfig) *providerState {
	p := &providerState{
		name:         name,
		maxPerMinute: cfg.RateLimitPerMinute,
		maxPerDay:    cfg.RateLimitPerDay,
		queueSize:    cfg.QueueSize,
		pacing:       time.Duration(cfg.PacingDelayMs) * time.Millisecond,
	}
	if p.queueSize <= 0 {
		p.queueSize = defaultQueueSize
	}
	if p.pacing <= 0 {
		p.pacing = defaultPacingDelay
	}
	return p
}

// Execute runs task immediately when the provider is under quota and nothing
// is queued ahead of it; otherwise the task waits in the provider queue until
// a window opens or its timeout expires.
func (g *Governor) Execute(provider string, task Task, opts ExecuteOptions) (interface{}, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultQueueTimeout
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, types.ErrGovernorShutdown
	}
	p, ok := g.providers[provider]
	if !ok {
		g.mu.Unlock()
		return nil, types.ErrUnknownProvider
	}

	now := g.now()
	p.refreshWindows(now)

	// Fast path: nothing waiting and quota available.
	if len(p.queue) == 0 && p.underQuota() {
		p.minuteCount++
		p.dayCount++
		g.mu.Unlock()
		return task()
	}

	if len(p.queue) >= p.queueSize {
		g.mu.Unlock()
		g.logger.Warn().Str("provider", provider).Msg("request queue full")
		return nil, types.ErrQueueFull
	}

	qt := &queuedTask{
		task:     task,
		high:     opts.Priority == PriorityHigh,
		deadline: now.Add(timeout),
		done:     make(chan taskResult, 1),
	}
	p.enqueue(qt)
	g.ensureDrainLocked(p)
	queued := len(p.queue)
	g.mu.Unlock()

	g.logger.Debug().
		Str("provider", provider).
		Bool("high_priority", qt.high).
		Int("queue_depth", queued).
		Msg("request queued")

	res := <-qt.done
	return res.value, res.err
}

// enqueue preserves submission order within each priority class: high
// priority tasks go ahead of all normal tasks but behind earlier high ones.
func (p *providerState) enqueue(qt *queuedTask) {
	if !qt.high {
		p.queue = append(p.queue, qt)
		return
	}
	insert := 0
	for insert < len(p.queue) && p.queue[insert].high {
		insert++
	}
	p.queue = append(p.queue, nil)
	copy(p.queue[insert+1:], p.queue[insert:])
	p.queue[insert] = qt
}

// ensureDrainLocked starts the drain goroutine for p unless one is already
// running. Callers must hold g.mu.
func (g *Governor) ensureDrainLocked(p *providerState) {
	if p.draining {
		return
	}
	p.draining = true
	go g.drain(p)
}

// drain processes the provider queue one task at a time with a pacing delay
// between dispatches, and exits when the queue empties. Task failures reject
// that caller only; the loop keeps going.
func (g *Governor) drain(p *providerState) {
	for {
		g.mu.Lock()
		now := g.now()
		p.refreshWindows(now)
		g.expireLocked(p, now)

		if len(p.queue) == 0 {
			p.draining = false
			g.mu.Unlock()
			return
		}

		if g.closed {
			for _, qt := range p.queue {
				qt.done <- taskResult{err: types.ErrGovernorShutdown}
			}
			p.queue = nil
			p.draining = false
			g.mu.Unlock()
			return
		}

		if !p.underQuota() {
			g.mu.Unlock()
			time.Sleep(g.pollInterval)
			continue
		}

		qt := p.queue[0]
		p.queue = p.queue[1:]
		p.minuteCount++
		p.dayCount++
		pacing := p.pacing
		g.mu.Unlock()

		value, err := qt.task()
		qt.done <- taskResult{value: value, err: err}

		time.Sleep(pacing)
	}
}

// expireLocked rejects queued tasks past their deadline without running them.
func (g *Governor) expireLocked(p *providerState, now time.Time) {
	kept := p.queue[:0]
	for _, qt := range p.queue {
		if now.After(qt.deadline) {
			qt.done <- taskResult{err: types.ErrRequestTimeout}
			g.logger.Warn().Str("provider", p.name).Msg("queued request expired")
			continue
		}
		kept = append(kept, qt)
	}
	p.queue = kept
}

// UpdateLimits changes a provider's quotas at runtime. Counters and queued
// tasks are left untouched; the new ceilings apply from the next admission
// check.
func (g *Governor) UpdateLimits(provider string, perMinute, perDay int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.providers[provider]
	if !ok {
		return types.ErrUnknownProvider
	}
	p.maxPerMinute = perMinute
	p.maxPerDay = perDay
	g.logger.Info().
		Str("provider", provider).
		Int("per_minute", perMinute).
		Int("per_day", perDay).
		Msg("rate limits updated")
	return nil
}

// Status returns a snapshot of every provider's usage, sorted by provider
// name.
func (g *Governor) Status() []types.ProviderLimitStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	out := make([]types.ProviderLimitStatus, 0, len(g.providers))
	for _, p := range g.providers {
		p.refreshWindows(now)
		resetsIn := p.minuteStart.Add(time.Minute).Sub(now)
		if resetsIn < 0 {
			resetsIn = 0
		}
		out = append(out, types.ProviderLimitStatus{
			Provider:       p.name,
			UsedThisMinute: p.minuteCount,
			MaxPerMinute:   p.maxPerMinute,
			UsedToday:      p.dayCount,
			MaxPerDay:      p.maxPerDay,
			Queued:         len(p.queue),
			ResetsInMs:     resetsIn.Milliseconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Shutdown rejects everything still queued and refuses new work. Tasks
// already dispatched run to completion.
func (g *Governor) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	for _, p := range g.providers {
		for _, qt := range p.queue {
			qt.done <- taskResult{err: types.ErrGovernorShutdown}
		}
		p.queue = nil
	}
}
