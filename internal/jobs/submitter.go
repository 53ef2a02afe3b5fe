// Package jobs submits work items to the automation farm and watches them
// to completion.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cadbridge-labs/cadbridge-go/internal/automation"
	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

// onCompleteArg is the reserved argument name the farm calls back on when a
// job reaches a terminal state.
const onCompleteArg = "onComplete"

// Submitter builds and submits work items against aliased activities.
type Submitter struct {
	client automation.Client
	logger *slog.Logger
}

func NewSubmitter(client automation.Client, logger *slog.Logger) (*Submitter, error) {
	if client == nil {
		return nil, errors.New("automation client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{client: client, logger: logger}, nil
}

// Submit sends one work item. When callbackURL is non-empty the farm will
// POST its completion payload there; the submission itself is not retried.
func (s *Submitter) Submit(ctx context.Context, activityFullName string, args map[string]domain.ArgumentReference, callbackURL string) (domain.WorkItemStatus, error) {
	arguments := make(map[string]domain.ArgumentReference, len(args)+1)
	for name, ref := range args {
		arguments[name] = ref
	}
	if callbackURL != "" {
		arguments[onCompleteArg] = domain.ArgumentReference{
			URL:  callbackURL,
			Verb: domain.VerbPost,
		}
	}

	item := automation.WorkItem{
		ActivityID: activityFullName,
		Arguments:  arguments,
	}
	status, err := s.client.SubmitWorkItem(ctx, item)
	if err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("submit against %s: %w", activityFullName, err)
	}

	s.logger.Info("work item submitted",
		slog.String("activity", activityFullName),
		slog.String("work_item_id", status.ID),
		slog.String("status", string(status.Status)))
	return status, nil
}
