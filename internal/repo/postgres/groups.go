// Package postgres persists job groups with the stdlib driver interface.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
	"github.com/cadbridge-labs/cadbridge-go/internal/repo"
)

const insertGroupQuery = `INSERT INTO job_groups (
	group_id,
	user_id,
	project_id,
	source_version_id,
	state,
	total,
	created_at,
	updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$7)`

const insertItemQuery = `INSERT INTO job_group_items (
	group_id,
	item_id,
	storage_id,
	file_name,
	work_item_id,
	state,
	updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)`

// Only pending items transition, so a replayed callback cannot mutate an
// item that already reached a terminal state.
const completeItemQuery = `UPDATE job_group_items
SET state = $2, updated_at = $3
WHERE storage_id = $1 AND state = $4
RETURNING group_id`

const selectItemStateQuery = `SELECT state
FROM job_group_items
WHERE storage_id = $1`

const countPendingQuery = `SELECT COUNT(*)
FROM job_group_items
WHERE group_id = $1 AND state = $2`

const closeGroupQuery = `UPDATE job_groups
SET state = $2, updated_at = $3
WHERE group_id = $1`

const selectGroupQuery = `SELECT
	group_id,
	user_id,
	project_id,
	source_version_id,
	state,
	total,
	created_at,
	updated_at
FROM job_groups
WHERE group_id = $1`

// The group row is locked so concurrent callbacks for one group serialize
// on the remaining count and only one of them closes the group.
const selectGroupForUpdateQuery = selectGroupQuery + `
FOR UPDATE`

const selectItemsQuery = `SELECT
	group_id,
	item_id,
	storage_id,
	file_name,
	work_item_id,
	state,
	updated_at
FROM job_group_items
WHERE group_id = $1
ORDER BY file_name`

// GroupStore is the postgres-backed GroupRepository.
type GroupStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewGroupStore(db *sql.DB) *GroupStore {
	if db == nil {
		return nil
	}
	return &GroupStore{db: db, now: time.Now}
}

func (s *GroupStore) CreateGroup(ctx context.Context, group domain.JobGroup, items []domain.JobGroupItem) error {
	if err := group.Validate(); err != nil {
		return err
	}
	if len(items) != group.Total {
		return fmt.Errorf("group %s: %d items for total %d", group.ID, len(items), group.Total)
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("group %s: %w", group.ID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	_, err = tx.ExecContext(ctx, insertGroupQuery,
		group.ID,
		group.UserID,
		group.ProjectID,
		group.SourceVersionID,
		string(domain.GroupStateOpen),
		group.Total,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert group %s: %w", group.ID, err)
	}

	for _, item := range items {
		_, err = tx.ExecContext(ctx, insertItemQuery,
			item.GroupID,
			item.ItemID,
			item.StorageID,
			item.FileName,
			item.WorkItemID,
			string(domain.ItemStatePending),
			now,
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", item.StorageID, err)
		}
	}

	return tx.Commit()
}

func (s *GroupStore) CompleteItem(ctx context.Context, storageID string, state domain.ItemState) (domain.JobGroup, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.JobGroup{}, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()

	var groupID string
	err = tx.QueryRowContext(ctx, completeItemQuery, storageID, string(state), now, string(domain.ItemStatePending)).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		var current string
		stateErr := tx.QueryRowContext(ctx, selectItemStateQuery, storageID).Scan(&current)
		if errors.Is(stateErr, sql.ErrNoRows) {
			return domain.JobGroup{}, 0, fmt.Errorf("item %s: %w", storageID, repo.ErrNotFound)
		}
		if stateErr != nil {
			return domain.JobGroup{}, 0, fmt.Errorf("inspect item %s: %w", storageID, stateErr)
		}
		return domain.JobGroup{}, 0, fmt.Errorf("item %s is %s: %w", storageID, current, repo.ErrAlreadyCompleted)
	}
	if err != nil {
		return domain.JobGroup{}, 0, fmt.Errorf("complete item %s: %w", storageID, err)
	}

	group, err := scanGroup(tx.QueryRowContext(ctx, selectGroupForUpdateQuery, groupID))
	if err != nil {
		return domain.JobGroup{}, 0, fmt.Errorf("load group %s: %w", groupID, err)
	}

	var remaining int
	err = tx.QueryRowContext(ctx, countPendingQuery, groupID, string(domain.ItemStatePending)).Scan(&remaining)
	if err != nil {
		return domain.JobGroup{}, 0, fmt.Errorf("count pending in %s: %w", groupID, err)
	}

	if remaining == 0 && group.State != domain.GroupStateComplete {
		if _, err := tx.ExecContext(ctx, closeGroupQuery, groupID, string(domain.GroupStateComplete), now); err != nil {
			return domain.JobGroup{}, 0, fmt.Errorf("close group %s: %w", groupID, err)
		}
		group.State = domain.GroupStateComplete
		group.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return domain.JobGroup{}, 0, fmt.Errorf("commit: %w", err)
	}
	return group, remaining, nil
}

func (s *GroupStore) GetGroup(ctx context.Context, groupID string) (domain.JobGroup, []domain.JobGroupItem, error) {
	group, err := scanGroup(s.db.QueryRowContext(ctx, selectGroupQuery, groupID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobGroup{}, nil, fmt.Errorf("group %s: %w", groupID, repo.ErrNotFound)
	}
	if err != nil {
		return domain.JobGroup{}, nil, fmt.Errorf("load group %s: %w", groupID, err)
	}

	rows, err := s.db.QueryContext(ctx, selectItemsQuery, groupID)
	if err != nil {
		return domain.JobGroup{}, nil, fmt.Errorf("load items of %s: %w", groupID, err)
	}
	defer func() { _ = rows.Close() }()

	var items []domain.JobGroupItem
	for rows.Next() {
		var (
			item       domain.JobGroupItem
			workItemID sql.NullString
			state      string
		)
		err = rows.Scan(
			&item.GroupID,
			&item.ItemID,
			&item.StorageID,
			&item.FileName,
			&workItemID,
			&state,
			&item.UpdatedAt,
		)
		if err != nil {
			return domain.JobGroup{}, nil, fmt.Errorf("scan item of %s: %w", groupID, err)
		}
		item.WorkItemID = workItemID.String
		item.State = domain.ItemState(state)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.JobGroup{}, nil, fmt.Errorf("iterate items of %s: %w", groupID, err)
	}
	return group, items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (domain.JobGroup, error) {
	var (
		group domain.JobGroup
		state string
	)
	err := row.Scan(
		&group.ID,
		&group.UserID,
		&group.ProjectID,
		&group.SourceVersionID,
		&state,
		&group.Total,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	if err != nil {
		return domain.JobGroup{}, err
	}
	group.State = domain.GroupState(state)
	return group, nil
}
