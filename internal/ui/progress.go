package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights a fresh ETA estimate against the previous one.
const etaSmoothing = 0.3

// ProgressTracker keeps the state shown by the TUI. Safe for concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	stage      Stage
	current    int
	total      int
	item       string
	started    time.Time
	stageStart time.Time
	lastETA    time.Duration
	errors     []ErrorEvent
	warnings   []ErrorEvent

	// throughput sampling
	sampleAt  time.Time
	sampleCur int
	rate      float64
	peak      float64
	history   *Sparkline
}

// ProgressStats is a point-in-time copy of the tracker.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Progress   float64
	ETA        time.Duration
	Item       string
	Rate       float64
	PeakRate   float64
	ErrorCount int
	WarnCount  int
}

// NewProgressTracker creates a tracker positioned at StageLoading.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageLoading,
		started:    now,
		stageStart: now,
		sampleAt:   now,
		history:    NewSparkline(60),
	}
}

// SetStage moves to stage and resets per-stage counters.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.stage = stage
	p.total = total
	p.current = 0
	p.item = ""
	p.stageStart = now
	p.lastETA = 0
	p.sampleAt = now
	p.sampleCur = 0
	p.rate = 0
	p.peak = 0
	p.history.Clear()
}

// Update records progress within the current stage. Throughput is sampled
// at most twice a second.
func (p *ProgressTracker) Update(current int, item string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if item != "" {
		p.item = item
	}

	now := time.Now()
	elapsed := now.Sub(p.sampleAt)
	if elapsed < 500*time.Millisecond {
		return
	}
	if delta := current - p.sampleCur; delta > 0 {
		p.rate = float64(delta) / elapsed.Seconds()
		if p.rate > p.peak {
			p.peak = p.rate
		}
		p.history.Add(p.rate)
	}
	p.sampleAt = now
	p.sampleCur = current
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
		return
	}
	p.errors = append(p.errors, event)
}

// Stage returns the current stage.
func (p *ProgressTracker) Stage() Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stage
}

// Elapsed returns the time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.started)
}

// Stats returns a snapshot. It takes the write lock because the ETA is smoothed.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		Progress:   p.fraction(),
		ETA:        p.eta(),
		Item:       p.item,
		Rate:       p.rate,
		PeakRate:   p.peak,
		ErrorCount: len(p.errors),
		WarnCount:  len(p.warnings),
	}
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}

// RenderSparkline renders the throughput history in width cells.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.RenderWithWidth(width)
}

func (p *ProgressTracker) fraction() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1)
}

// eta must be called with the lock held.
func (p *ProgressTracker) eta() time.Duration {
	frac := p.fraction()
	if frac <= 0 || frac >= 1 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	remaining := time.Duration(float64(elapsed)/frac) - elapsed
	if remaining < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}

	p.lastETA = time.Duration(etaSmoothing*float64(remaining) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
