package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/terra-clan/assessment-engine/internal/flow"
)

// batchSize bounds how many stale sessions one cycle handles
const batchSize = 100

// Cleaner handles periodic abandonment of stale assessment sessions
type Cleaner struct {
	engine     flow.Engine
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewCleaner creates a new cleanup worker. Sessions in progress with no
// activity for staleAfter are abandoned.
func NewCleaner(engine flow.Engine, interval, staleAfter time.Duration) *Cleaner {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	return &Cleaner{
		engine:     engine,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval, "stale_after", c.staleAfter)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Run immediately on start
	c.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

// cleanup finds and abandons stale sessions, returning how many it abandoned
func (c *Cleaner) cleanup(ctx context.Context) int {
	slog.Debug("running cleanup cycle")

	cutoff := c.now().UTC().Add(-c.staleAfter)
	stale, err := c.engine.GetStale(ctx, cutoff, batchSize)
	if err != nil {
		slog.Error("failed to get stale sessions", "error", err)
		return 0
	}

	if len(stale) == 0 {
		slog.Debug("no stale sessions found")
		return 0
	}

	slog.Info("found stale sessions", "count", len(stale))

	abandoned := 0
	for _, s := range stale {
		expired, err := c.engine.Expire(ctx, s.ID, cutoff)
		if err != nil {
			if errors.Is(err, flow.ErrSessionNotFound) {
				continue
			}
			slog.Error("failed to abandon stale session",
				"error", err,
				"session_id", s.ID,
			)
			continue
		}
		if !expired {
			slog.Debug("session became active again", "session_id", s.ID)
			continue
		}

		abandoned++
		slog.Info("stale session abandoned",
			"session_id", s.ID,
			"subject_id", s.SubjectID,
			"last_activity", s.UpdatedAt,
		)
	}

	return abandoned
}
