package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

const (
	defaultMaxAttempts  = 1000
	defaultPollInterval = time.Second
)

// StatusFetcher reads the current status of a submitted work item.
type StatusFetcher interface {
	GetWorkItemStatus(ctx context.Context, id string) (domain.WorkItemStatus, error)
}

// Poller watches work items until they reach a terminal state or its
// attempt budget runs out.
type Poller struct {
	fetcher  StatusFetcher
	logger   *slog.Logger
	attempts int
	interval time.Duration
}

func NewPoller(fetcher StatusFetcher, attempts int, interval time.Duration, logger *slog.Logger) (*Poller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("status fetcher is required")
	}
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{fetcher: fetcher, logger: logger, attempts: attempts, interval: interval}, nil
}

// WaitForTerminal polls the work item until it reaches a terminal state.
// When the attempt budget is exhausted first, the last observed status is
// returned with a nil error; callers check Status.IsTerminal to tell the
// two outcomes apart.
func (p *Poller) WaitForTerminal(ctx context.Context, id string) (domain.WorkItemStatus, error) {
	var last domain.WorkItemStatus
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(p.interval):
			}
		}

		status, err := p.fetcher.GetWorkItemStatus(ctx, id)
		if err != nil {
			return last, fmt.Errorf("fetch status of %s: %w", id, err)
		}
		last = status
		if status.Status.IsTerminal() {
			return status, nil
		}
	}

	p.logger.Warn("giving up on work item",
		slog.String("work_item_id", id),
		slog.String("last_status", string(last.Status)),
		slog.Int("attempts", p.attempts))
	return last, nil
}
