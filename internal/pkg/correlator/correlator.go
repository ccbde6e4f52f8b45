package correlator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aquabase/tanklink/internal/pkg/metrics"
	"github.com/aquabase/tanklink/internal/pkg/model"
	"github.com/aquabase/tanklink/internal/pkg/respstore"
)

type responseStore interface {
	Latest(ctx context.Context, key respstore.Key, freshness time.Duration) (*respstore.Record, error)
}

// Correlator bridges fire-and-forget commands and the reports devices send
// back later, by polling the response store instead of holding a channel per
// request.
type Correlator struct {
	store   responseStore
	poll    time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(store responseStore, pollInterval time.Duration, m *metrics.Metrics) *Correlator {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Correlator{
		store:   store,
		poll:    pollInterval,
		metrics: m,
		logger:  zap.L(),
	}
}

// AwaitResponse polls until a record inside the freshness window turns up or
// the deadline passes. Store read errors count as no-match, so a flaky read
// never cuts a wait short; the only failure mode is ErrTimeout.
func (c *Correlator) AwaitResponse(ctx context.Context, key respstore.Key, freshness, deadline time.Duration) (*respstore.Record, error) {
	start := time.Now()
	deadlineTimer := time.NewTimer(deadline)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		rec, err := c.store.Latest(ctx, key, freshness)
		if err != nil {
			c.logger.Debug("response store read failed, treating as no match",
				zap.String("subject", key.Subject),
				zap.String("kind", key.Kind.String()),
				zap.Error(err))
		} else if rec != nil {
			c.observe(key.Kind, "hit", start)
			return rec, nil
		}

		select {
		case <-deadlineTimer.C:
			c.observe(key.Kind, "timeout", start)
			return nil, fmt.Errorf("%s from %s: %w", key.Kind, key.Subject, model.ErrTimeout)
		case <-ticker.C:
		}
	}
}

func (c *Correlator) observe(kind model.ResponseKind, outcome string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CorrelationOutcomes.WithLabelValues(kind.String(), outcome).Inc()
	c.metrics.CorrelationSeconds.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
}
