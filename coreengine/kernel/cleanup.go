package kernel

import (
	"context"
	"time"
)

// CleanupConfig holds the cleanup cadence and retention.
type CleanupConfig struct {
	// Interval is how often a cycle runs (default: 5 minutes).
	Interval time.Duration
	// DecisionRetention is how long expired, unanswered decisions are kept
	// past their deadline (default: 24 hours).
	DecisionRetention time.Duration
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Interval:          5 * time.Minute,
		DecisionRetention: 24 * time.Hour,
	}
}

// Sweeper drops expired entries and returns how many it removed.
type Sweeper interface {
	Sweep() int
}

// DecisionSweeper expires overdue pending decisions and purges expired ones
// older than retention. It returns how many it expired and purged.
type DecisionSweeper interface {
	SweepDecisions(ctx context.Context, retention time.Duration) (expired, purged int, err error)
}

// CleanupLoop periodically sweeps chairman decisions and process-local caches.
type CleanupLoop struct {
	cfg       CleanupConfig
	decisions DecisionSweeper
	sweepers  map[string]Sweeper
	logger    Logger
}

// NewCleanupLoop creates a CleanupLoop. decisions may be nil.
func NewCleanupLoop(cfg CleanupConfig, decisions DecisionSweeper, logger Logger) *CleanupLoop {
	def := DefaultCleanupConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DecisionRetention <= 0 {
		cfg.DecisionRetention = def.DecisionRetention
	}
	return &CleanupLoop{
		cfg:       cfg,
		decisions: decisions,
		sweepers:  make(map[string]Sweeper),
		logger:    logger,
	}
}

// AddSweeper registers a cache swept on every cycle under name.
func (c *CleanupLoop) AddSweeper(name string, s Sweeper) {
	c.sweepers[name] = s
}

// Start runs cycles in the background until the returned stop function is
// called. Sweepers must be added before Start.
func (c *CleanupLoop) Start() func() {
	ticker := time.NewTicker(c.cfg.Interval)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.RunCycle()
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// RunCycle performs one cleanup cycle. Panics are recovered and logged.
func (c *CleanupLoop) RunCycle() {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Error("cleanup_panic_recovered", "error", r)
		}
	}()

	expired, purged := 0, 0
	if c.decisions != nil {
		// A cycle must finish before the next tick.
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Interval)
		var err error
		expired, purged, err = c.decisions.SweepDecisions(ctx, c.cfg.DecisionRetention)
		cancel()
		if err != nil && c.logger != nil {
			c.logger.Warn("cleanup_decisions_failed", "error", err.Error())
		}
	}

	kv := []any{"decisions_expired", expired, "decisions_purged", purged}
	for name, s := range c.sweepers {
		kv = append(kv, name+"_swept", s.Sweep())
	}

	if c.logger != nil {
		c.logger.Debug("cleanup_cycle_completed", kv...)
	}
}
