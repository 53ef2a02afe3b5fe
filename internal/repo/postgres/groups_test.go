package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

func TestGroupQueriesTargetExpectedTables(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  []string
	}{
		{"insert group", insertGroupQuery, []string{"INSERT INTO job_groups", "source_version_id"}},
		{"insert item", insertItemQuery, []string{"INSERT INTO job_group_items", "storage_id", "work_item_id"}},
		{"complete item", completeItemQuery, []string{"UPDATE job_group_items", "WHERE storage_id = $1 AND state = $4", "RETURNING group_id"}},
		{"inspect item", selectItemStateQuery, []string{"SELECT state", "FROM job_group_items", "WHERE storage_id = $1"}},
		{"count pending", countPendingQuery, []string{"FROM job_group_items", "state = $2"}},
		{"close group", closeGroupQuery, []string{"UPDATE job_groups", "WHERE group_id = $1"}},
		{"select group locked", selectGroupForUpdateQuery, []string{"FROM job_groups", "FOR UPDATE"}},
		{"select items", selectItemsQuery, []string{"FROM job_group_items", "ORDER BY file_name"}},
	}
	for _, tc := range cases {
		for _, want := range tc.want {
			if !strings.Contains(tc.query, want) {
				t.Errorf("%s: query missing %q", tc.name, want)
			}
		}
	}
}

func TestCreateGroupRejectsItemCountMismatch(t *testing.T) {
	s := &GroupStore{now: time.Now}
	group := domain.JobGroup{
		ID:              "g-1",
		UserID:          "u-1",
		ProjectID:       "p-1",
		SourceVersionID: "v-1",
		Total:           2,
	}
	items := []domain.JobGroupItem{
		{GroupID: "g-1", ItemID: "i-1", StorageID: "s-1", FileName: "a.rfa"},
	}
	if err := s.CreateGroup(context.Background(), group, items); err == nil {
		t.Fatal("expected item count mismatch error")
	}
}

func TestNewGroupStoreRequiresDB(t *testing.T) {
	if store := NewGroupStore(nil); store != nil {
		t.Fatal("expected nil store for nil db")
	}
}
