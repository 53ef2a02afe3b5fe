package pipeline

import (
	"fmt"
	"strings"

	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

// CallbackPathPrefix roots the webhook endpoints the farm posts completion
// payloads to.
const CallbackPathPrefix = "/api/callbacks/designautomation"

// SourceStageCallbackURL externalizes a source-stage pipeline context into
// the completion URL for stage one. Every segment is encoded because
// document identifiers contain characters with path semantics.
func SourceStageCallbackURL(baseURL string, pc domain.PipelineContext) string {
	return fmt.Sprintf("%s%s/source-stage/%s/%s/%s",
		strings.TrimRight(baseURL, "/"),
		CallbackPathPrefix,
		domain.EncodeID(pc.UserID),
		domain.EncodeID(pc.ProjectID),
		domain.EncodeID(pc.SourceVersionID),
	)
}

// TargetStageCallbackURL externalizes a target-stage pipeline context into
// the per-item completion URL for stage two.
func TargetStageCallbackURL(baseURL string, pc domain.PipelineContext) string {
	return fmt.Sprintf("%s%s/target-stage/%s/%s/%s/%s/%s",
		strings.TrimRight(baseURL, "/"),
		CallbackPathPrefix,
		domain.EncodeID(pc.UserID),
		domain.EncodeID(pc.ProjectID),
		domain.EncodeID(pc.TargetItemID),
		domain.EncodeID(pc.TargetStorageID),
		domain.EncodeID(pc.TargetFileName),
	)
}
