package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Verb is the HTTP method the remote engine uses when resolving an argument.
type Verb string

const (
	VerbGet  Verb = "get"
	VerbPut  Verb = "put"
	VerbPost Verb = "post"
)

// ArgumentReference lets the remote engine read or write one file without
// holding backend credentials. References are built fresh per submission and
// are never persisted.
type ArgumentReference struct {
	URL     string            `json:"url"`
	Verb    Verb              `json:"verb"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (a ArgumentReference) Validate() error {
	if strings.TrimSpace(a.URL) == "" {
		return errors.New("argument url is required")
	}
	switch a.Verb {
	case VerbGet, VerbPut, VerbPost:
	default:
		return fmt.Errorf("unsupported argument verb: %q", a.Verb)
	}
	return nil
}

// JobState is the lifecycle state of a submitted work item.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateInProgress JobState = "inprogress"
	JobStateSuccess    JobState = "success"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

// IsTerminal reports whether the farm will make no further transitions.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStatePending, JobStateInProgress:
		return false
	}
	return true
}

// NormalizeJobState maps a raw provider status string onto a JobState.
// Failure variants such as failedLimitProcessingTime or failedInstructions
// all fold into JobStateFailed. Unknown values normalize to the empty
// state.
func NormalizeJobState(raw string) JobState {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "pending":
		return JobStatePending
	case "inprogress":
		return JobStateInProgress
	case "success":
		return JobStateSuccess
	case "cancelled":
		return JobStateCancelled
	}
	if strings.HasPrefix(normalized, "failed") {
		return JobStateFailed
	}
	return JobState("")
}

// WorkItemStatus is the farm's view of one submitted job.
type WorkItemStatus struct {
	ID        string   `json:"id"`
	Status    JobState `json:"status"`
	ReportURL string   `json:"reportUrl,omitempty"`
}

// QualifiedName renders the farm's {nickname}.{name}+{alias} identity for
// bundles and activities.
func QualifiedName(nickname, name, alias string) string {
	return fmt.Sprintf("%s.%s+%s", nickname, name, alias)
}
