// Package repo declares the persistence boundary for job groups.
package repo

import (
	"context"
	"errors"

	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

// ErrNotFound marks a group or group item absent from the store.
var ErrNotFound = errors.New("not found")

// ErrAlreadyCompleted marks an item that has already left the pending
// state. Items never transition twice.
var ErrAlreadyCompleted = errors.New("item already completed")

// GroupRepository persists target-stage fan-out groups so in-flight
// pipelines survive process restarts.
type GroupRepository interface {
	// CreateGroup stores a group and its items in one transaction.
	CreateGroup(ctx context.Context, group domain.JobGroup, items []domain.JobGroupItem) error

	// CompleteItem transitions the pending item keyed by storageID to the
	// given state and returns the owning group plus the number of items
	// still pending. A remaining count of zero means the group just
	// closed. Returns ErrAlreadyCompleted if the item has left the
	// pending state.
	CompleteItem(ctx context.Context, storageID string, state domain.ItemState) (domain.JobGroup, int, error)

	// GetGroup returns a group and its items.
	GetGroup(ctx context.Context, groupID string) (domain.JobGroup, []domain.JobGroupItem, error)
}
