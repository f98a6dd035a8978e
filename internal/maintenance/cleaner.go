package maintenance

import (
	"context"
	"fmt"
	"time"

	"cyberfolio/internal/observability"
)

const (
	defaultBatchSize  = 500
	defaultMaxBatches = 20
)

// PurgeFunc deletes at most batchSize rows older than cutoff and reports how many went.
type PurgeFunc func(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)

// Target is one age-based retention rule. A zero Retention purges everything older than now.
type Target struct {
	Name      string
	Retention time.Duration
	Purge     PurgeFunc
}

type Result map[string]int64

type Cleaner struct {
	targets    []Target
	batchSize  int
	maxBatches int
	logger     *observability.Logger
	now        func() time.Time
}

func NewCleaner(logger *observability.Logger, batchSize int, targets ...Target) *Cleaner {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Cleaner{
		targets:    targets,
		batchSize:  batchSize,
		maxBatches: defaultMaxBatches,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run purges every target in batches until a short batch or the batch cap is reached.
// It stops at the first failing target and returns what was deleted so far.
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	now := c.now()
	result := make(Result, len(c.targets))

	for _, target := range c.targets {
		cutoff := now.Add(-target.Retention)
		var total int64
		for batch := 0; batch < c.maxBatches; batch++ {
			deleted, err := target.Purge(ctx, cutoff, c.batchSize)
			if err != nil {
				result[target.Name] = total
				return result, fmt.Errorf("purge %s: %w", target.Name, err)
			}
			total += deleted
			if deleted < int64(c.batchSize) {
				break
			}
		}
		result[target.Name] = total
	}

	return result, nil
}

func (c *Cleaner) RunAndLog(ctx context.Context, trigger string) (Result, error) {
	result, err := c.Run(ctx)
	if err != nil {
		c.logger.Error("retention_cleanup_failed", map[string]any{
			"trigger": trigger,
			"deleted": result,
			"error":   err.Error(),
		})
		observability.CaptureError(err, map[string]string{"component": "maintenance"})
		return result, err
	}

	c.logger.Info("retention_cleanup_completed", map[string]any{
		"trigger": trigger,
		"deleted": result,
	})
	return result, nil
}
