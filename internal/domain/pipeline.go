package domain

import (
	"errors"
	"strings"
)

// PipelineContext carries the identifiers threaded between the two conversion
// stages. It never survives in memory between stages; it is fully externalized
// into the callback URL and reconstructed when the webhook fires.
type PipelineContext struct {
	UserID          string
	ProjectID       string
	SourceVersionID string
	TargetItemID    string
	TargetStorageID string
	TargetFileName  string
}

func (p PipelineContext) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(p.ProjectID) == "" {
		return errors.New("project id is required")
	}
	return nil
}

// ValidateSourceStage checks the fields a source-stage callback must carry.
func (p PipelineContext) ValidateSourceStage() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.SourceVersionID) == "" {
		return errors.New("source version id is required")
	}
	return nil
}

// ValidateTargetStage checks the fields a target-stage callback must carry.
func (p PipelineContext) ValidateTargetStage() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.TargetItemID) == "" {
		return errors.New("target item id is required")
	}
	if strings.TrimSpace(p.TargetStorageID) == "" {
		return errors.New("target storage id is required")
	}
	if strings.TrimSpace(p.TargetFileName) == "" {
		return errors.New("target file name is required")
	}
	return nil
}
