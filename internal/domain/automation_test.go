package domain

import "testing"

func TestArgumentReferenceValidate(t *testing.T) {
	ref := ArgumentReference{URL: "https://objects.example.com/buckets/b/objects/o", Verb: VerbGet}
	if err := ref.Validate(); err != nil {
		t.Fatalf("valid reference rejected: %v", err)
	}
	if err := (ArgumentReference{Verb: VerbGet}).Validate(); err == nil {
		t.Fatalf("expected error for missing url")
	}
	if err := (ArgumentReference{URL: "https://x", Verb: Verb("delete")}).Validate(); err == nil {
		t.Fatalf("expected error for unsupported verb")
	}
}

func TestJobStateTerminality(t *testing.T) {
	cases := []struct {
		state    JobState
		terminal bool
	}{
		{JobStatePending, false},
		{JobStateInProgress, false},
		{JobStateSuccess, true},
		{JobStateFailed, true},
		{JobStateCancelled, true},
	}
	for _, tc := range cases {
		if got := tc.state.IsTerminal(); got != tc.terminal {
			t.Fatalf("%s: terminal = %v, want %v", tc.state, got, tc.terminal)
		}
	}
}

func TestNormalizeJobState(t *testing.T) {
	if got := NormalizeJobState("  InProgress "); got != JobStateInProgress {
		t.Fatalf("normalize inprogress: got %q", got)
	}
	if got := NormalizeJobState("failedLimitProcessingTime"); got != JobStateFailed {
		t.Fatalf("NormalizeJobState(failedLimitProcessingTime) = %q", got)
	}
	if got := NormalizeJobState("exploded"); got != JobState("") {
		t.Fatalf("unknown state should normalize to empty, got %q", got)
	}
}

func TestQualifiedName(t *testing.T) {
	if got := QualifiedName("client123", "ExportGeometry", "v1"); got != "client123.ExportGeometry+v1" {
		t.Fatalf("unexpected qualified name: %q", got)
	}
}

func TestJobGroupValidate(t *testing.T) {
	group := JobGroup{ID: "g1", UserID: "u1", ProjectID: "p1", SourceVersionID: "v1", Total: 2}
	if err := group.Validate(); err != nil {
		t.Fatalf("valid group rejected: %v", err)
	}
	group.Total = 0
	if err := group.Validate(); err == nil {
		t.Fatalf("expected error for empty group")
	}
}
