package domain

import (
	"errors"
	"strings"
	"time"
)

// GroupState tracks aggregate completion of one target-stage fan-out.
type GroupState string

const (
	GroupStateOpen     GroupState = "open"
	GroupStateComplete GroupState = "complete"
)

// ItemState tracks one fan-out job within a group.
type ItemState string

const (
	ItemStatePending   ItemState = "pending"
	ItemStateFinalized ItemState = "finalized"
	ItemStateFailed    ItemState = "failed"
)

// JobGroup is the durable join point for a target-stage fan-out: created when
// stage one completes and N stage-two jobs are enqueued, decremented as each
// job's callback lands.
type JobGroup struct {
	ID              string
	UserID          string
	ProjectID       string
	SourceVersionID string
	State           GroupState
	Total           int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobGroupItem is one stage-two job inside a group, keyed by the write-once
// storage slot its result lands in.
type JobGroupItem struct {
	GroupID    string
	ItemID     string
	StorageID  string
	FileName   string
	WorkItemID string
	State      ItemState
	UpdatedAt  time.Time
}

func (g JobGroup) Validate() error {
	if strings.TrimSpace(g.ID) == "" {
		return errors.New("group id is required")
	}
	if strings.TrimSpace(g.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(g.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(g.SourceVersionID) == "" {
		return errors.New("source version id is required")
	}
	if g.Total < 1 {
		return errors.New("group total must be >= 1")
	}
	return nil
}

func (i JobGroupItem) Validate() error {
	if strings.TrimSpace(i.GroupID) == "" {
		return errors.New("group id is required")
	}
	if strings.TrimSpace(i.ItemID) == "" {
		return errors.New("item id is required")
	}
	if strings.TrimSpace(i.StorageID) == "" {
		return errors.New("storage id is required")
	}
	if strings.TrimSpace(i.FileName) == "" {
		return errors.New("file name is required")
	}
	return nil
}
