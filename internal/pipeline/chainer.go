// Package pipeline chains the two conversion stages across webhook
// boundaries: submit the source export, fan out one import job per target
// document when it lands, and register each result as a new document
// version.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cadbridge-labs/cadbridge-go/internal/docstore"
	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
	"github.com/cadbridge-labs/cadbridge-go/internal/platform/eventlog"
	"github.com/cadbridge-labs/cadbridge-go/internal/provision"
	"github.com/cadbridge-labs/cadbridge-go/internal/repo"
)

// Activity argument names. Stage definitions must declare a parameter for
// each name their activity is submitted with.
const (
	sourceDocArg     = "sourceDoc"
	geometryArg      = "geometry"
	targetDocArg     = "targetDoc"
	inputGeometryArg = "inputGeometry"
	templateDocArg   = "templateDoc"
	resultArg        = "result"
)

// ErrNoTargets marks a source folder with no eligible target documents.
var ErrNoTargets = errors.New("no eligible target documents")

// ResourceProvisioner ensures a stage's farm resources exist and names
// aliased activities.
type ResourceProvisioner interface {
	EnsureStage(ctx context.Context, stage provision.Stage) error
	ActivityFullName(name string) string
}

// ReferenceBuilder resolves storage locations into work-item argument
// references.
type ReferenceBuilder interface {
	DocumentDownload(token string, loc docstore.StorageLocator) domain.ArgumentReference
	DocumentUpload(token string, slot docstore.Storage) domain.ArgumentReference
	BlobDownload(ctx context.Context, object string) (domain.ArgumentReference, error)
	BlobUpload(ctx context.Context, object string) (domain.ArgumentReference, error)
	EnsureTemplate(ctx context.Context, object, localPath string) error
}

// Submitter sends one work item with an optional completion callback.
type Submitter interface {
	Submit(ctx context.Context, activityFullName string, args map[string]domain.ArgumentReference, callbackURL string) (domain.WorkItemStatus, error)
}

// Documents is the slice of the document backend the chainer touches.
type Documents interface {
	GetVersionStorage(ctx context.Context, token, projectID, versionID string) (docstore.StorageLocator, error)
	GetVersionItem(ctx context.Context, token, projectID, versionID string) (docstore.Item, error)
	SearchFolder(ctx context.Context, token, projectID, folderID, extension string) ([]string, error)
	CreateStorage(ctx context.Context, token, projectID, folderID, fileName string) (docstore.Storage, error)
	CreateVersion(ctx context.Context, token, projectID, itemID, fileName, storageID string) (string, error)
}

// UserTokenSource resolves the delegated document-backend token for a user.
type UserTokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// EventRecorder persists pipeline occurrences.
type EventRecorder interface {
	Record(ctx context.Context, event eventlog.Event) error
}

type Config struct {
	// CallbackBaseURL is the public origin the farm reaches this service
	// on.
	CallbackBaseURL string

	Stages provision.Config
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.CallbackBaseURL) == "" {
		return errors.New("callback base url is required")
	}
	if err := requireParams(c.Stages.Source.Stage, sourceDocArg, geometryArg); err != nil {
		return fmt.Errorf("source stage: %w", err)
	}
	if err := requireParams(c.Stages.Target.Stage, targetDocArg, inputGeometryArg, templateDocArg, resultArg); err != nil {
		return fmt.Errorf("target stage: %w", err)
	}
	return nil
}

func requireParams(stage provision.Stage, names ...string) error {
	declared := make(map[string]bool, len(stage.Parameters))
	for _, p := range stage.Parameters {
		declared[p.Name] = true
	}
	for _, name := range names {
		if !declared[name] {
			return fmt.Errorf("parameter %s is not declared", name)
		}
	}
	return nil
}

// Chainer drives a conversion through both stages.
type Chainer struct {
	cfg         Config
	provisioner ResourceProvisioner
	refs        ReferenceBuilder
	submitter   Submitter
	docs        Documents
	userTokens  UserTokenSource
	groups      repo.GroupRepository
	events      EventRecorder
	logger      *slog.Logger
	newGroupID  func() string
}

func New(
	cfg Config,
	provisioner ResourceProvisioner,
	refs ReferenceBuilder,
	submitter Submitter,
	docs Documents,
	userTokens UserTokenSource,
	groups repo.GroupRepository,
	events EventRecorder,
	logger *slog.Logger,
) (*Chainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provisioner == nil || refs == nil || submitter == nil || docs == nil || userTokens == nil || groups == nil {
		return nil, errors.New("all collaborators are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chainer{
		cfg:         cfg,
		provisioner: provisioner,
		refs:        refs,
		submitter:   submitter,
		docs:        docs,
		userTokens:  userTokens,
		groups:      groups,
		events:      events,
		logger:      logger,
		newGroupID:  uuid.NewString,
	}, nil
}

// StartConversion provisions stage one and submits the geometry export of
// the given document version. The returned status is the farm's initial
// acknowledgement; completion arrives on the source-stage webhook.
func (c *Chainer) StartConversion(ctx context.Context, pc domain.PipelineContext) (domain.WorkItemStatus, error) {
	if err := pc.ValidateSourceStage(); err != nil {
		return domain.WorkItemStatus{}, err
	}

	token, err := c.userTokens.AccessToken(ctx, pc.UserID)
	if err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("resolve user token: %w", err)
	}

	if err := c.provisioner.EnsureStage(ctx, c.cfg.Stages.Source.Stage); err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("provision source stage: %w", err)
	}

	loc, err := c.docs.GetVersionStorage(ctx, token, pc.ProjectID, pc.SourceVersionID)
	if err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("resolve source storage: %w", err)
	}

	uploadRef, err := c.refs.BlobUpload(ctx, c.intermediateObject(pc.SourceVersionID))
	if err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("prepare intermediate upload: %w", err)
	}

	args := map[string]domain.ArgumentReference{
		sourceDocArg: c.refs.DocumentDownload(token, loc),
		geometryArg:  uploadRef,
	}
	status, err := c.submitter.Submit(ctx,
		c.provisioner.ActivityFullName(c.cfg.Stages.Source.ActivityName),
		args,
		SourceStageCallbackURL(c.cfg.CallbackBaseURL, pc),
	)
	if err != nil {
		return domain.WorkItemStatus{}, err
	}

	c.record(ctx, eventlog.Event{
		Actor:        pc.UserID,
		Action:       "conversion.source_stage.submitted",
		ResourceType: "document_version",
		ResourceID:   pc.SourceVersionID,
		Payload: map[string]any{
			"project_id":   pc.ProjectID,
			"work_item_id": status.ID,
		},
	})
	return status, nil
}

// ContinueToTargetStage is entered from the source-stage webhook. It
// provisions stage two, fans out one import job per eligible document in
// the source's folder, and records the fan-out as a durable job group.
func (c *Chainer) ContinueToTargetStage(ctx context.Context, pc domain.PipelineContext) (string, error) {
	if err := pc.ValidateSourceStage(); err != nil {
		return "", err
	}

	token, err := c.userTokens.AccessToken(ctx, pc.UserID)
	if err != nil {
		return "", fmt.Errorf("resolve user token: %w", err)
	}

	if err := c.provisioner.EnsureStage(ctx, c.cfg.Stages.Target.Stage); err != nil {
		return "", fmt.Errorf("provision target stage: %w", err)
	}
	if err := c.refs.EnsureTemplate(ctx, c.cfg.Stages.Target.TemplateObject, c.cfg.Stages.Target.TemplatePath); err != nil {
		return "", fmt.Errorf("seed template: %w", err)
	}

	sourceItem, err := c.docs.GetVersionItem(ctx, token, pc.ProjectID, pc.SourceVersionID)
	if err != nil {
		return "", fmt.Errorf("resolve source item: %w", err)
	}

	targetVersionIDs, err := c.docs.SearchFolder(ctx, token, pc.ProjectID, sourceItem.FolderID, c.cfg.Stages.Target.TargetExtension)
	if err != nil {
		return "", fmt.Errorf("search folder %s: %w", sourceItem.FolderID, err)
	}
	if len(targetVersionIDs) == 0 {
		return "", fmt.Errorf("folder %s: %w", sourceItem.FolderID, ErrNoTargets)
	}

	intermediateRef, err := c.refs.BlobDownload(ctx, c.intermediateObject(pc.SourceVersionID))
	if err != nil {
		return "", fmt.Errorf("resolve intermediate artifact: %w", err)
	}
	templateRef, err := c.refs.BlobDownload(ctx, c.cfg.Stages.Target.TemplateObject)
	if err != nil {
		return "", fmt.Errorf("resolve template: %w", err)
	}

	groupID := c.newGroupID()

	type fanoutJob struct {
		item        domain.JobGroupItem
		args        map[string]domain.ArgumentReference
		callbackURL string
	}
	jobs := make([]fanoutJob, 0, len(targetVersionIDs))
	for _, targetVersionID := range targetVersionIDs {
		targetItem, err := c.docs.GetVersionItem(ctx, token, pc.ProjectID, targetVersionID)
		if err != nil {
			return "", fmt.Errorf("resolve target item of %s: %w", targetVersionID, err)
		}
		targetLoc, err := c.docs.GetVersionStorage(ctx, token, pc.ProjectID, targetVersionID)
		if err != nil {
			return "", fmt.Errorf("resolve target storage of %s: %w", targetVersionID, err)
		}

		resultName := resultFileName(targetItem.DisplayName, c.cfg.Stages.Target.ResultSuffix)
		slot, err := c.docs.CreateStorage(ctx, token, pc.ProjectID, targetItem.FolderID, resultName)
		if err != nil {
			return "", fmt.Errorf("create storage for %s: %w", resultName, err)
		}

		itemPC := pc
		itemPC.TargetItemID = targetItem.ID
		itemPC.TargetStorageID = slot.ID
		itemPC.TargetFileName = resultName

		jobs = append(jobs, fanoutJob{
			item: domain.JobGroupItem{
				GroupID:   groupID,
				ItemID:    targetItem.ID,
				StorageID: slot.ID,
				FileName:  resultName,
			},
			args: map[string]domain.ArgumentReference{
				targetDocArg:     c.refs.DocumentDownload(token, targetLoc),
				inputGeometryArg: intermediateRef,
				templateDocArg:   templateRef,
				resultArg:        c.refs.DocumentUpload(token, slot),
			},
			callbackURL: TargetStageCallbackURL(c.cfg.CallbackBaseURL, itemPC),
		})
	}

	// The group is stored before anything is submitted so a callback
	// racing the last submissions still finds its item.
	group := domain.JobGroup{
		ID:              groupID,
		UserID:          pc.UserID,
		ProjectID:       pc.ProjectID,
		SourceVersionID: pc.SourceVersionID,
		State:           domain.GroupStateOpen,
		Total:           len(jobs),
		CreatedAt:       time.Now().UTC(),
	}
	items := make([]domain.JobGroupItem, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, job.item)
	}
	if err := c.groups.CreateGroup(ctx, group, items); err != nil {
		return "", fmt.Errorf("create job group: %w", err)
	}

	activity := c.provisioner.ActivityFullName(c.cfg.Stages.Target.ActivityName)
	for _, job := range jobs {
		status, err := c.submitter.Submit(ctx, activity, job.args, job.callbackURL)
		if err != nil {
			// Remaining jobs still run; the failed item is closed out so
			// the group can complete.
			c.logger.Error("fan-out submission failed",
				slog.String("group_id", groupID),
				slog.String("file_name", job.item.FileName),
				slog.String("error", err.Error()))
			if _, _, cerr := c.groups.CompleteItem(ctx, job.item.StorageID, domain.ItemStateFailed); cerr != nil {
				c.logger.Error("failed to mark fan-out item",
					slog.String("storage_id", job.item.StorageID),
					slog.String("error", cerr.Error()))
			}
			continue
		}
		c.logger.Info("fan-out job submitted",
			slog.String("group_id", groupID),
			slog.String("file_name", job.item.FileName),
			slog.String("work_item_id", status.ID))
	}

	c.record(ctx, eventlog.Event{
		Actor:        pc.UserID,
		Action:       "conversion.group.created",
		ResourceType: "job_group",
		ResourceID:   groupID,
		Payload: map[string]any{
			"project_id":        pc.ProjectID,
			"source_version_id": pc.SourceVersionID,
			"total":             len(jobs),
		},
	})
	return groupID, nil
}

// FinalizeTarget is entered from a target-stage webhook. It registers the
// uploaded result as a new document version and closes out the group item.
func (c *Chainer) FinalizeTarget(ctx context.Context, pc domain.PipelineContext) error {
	if err := pc.ValidateTargetStage(); err != nil {
		return err
	}

	group, remaining, err := c.groups.CompleteItem(ctx, pc.TargetStorageID, domain.ItemStateFinalized)
	if errors.Is(err, repo.ErrAlreadyCompleted) {
		// Replayed callback; the version was registered the first time.
		c.logger.Info("duplicate completion ignored",
			slog.String("storage_id", pc.TargetStorageID),
			slog.String("file_name", pc.TargetFileName))
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete group item: %w", err)
	}

	token, err := c.userTokens.AccessToken(ctx, pc.UserID)
	if err != nil {
		return fmt.Errorf("resolve user token: %w", err)
	}

	versionID, err := c.docs.CreateVersion(ctx, token, pc.ProjectID, pc.TargetItemID, pc.TargetFileName, pc.TargetStorageID)
	if err != nil {
		return fmt.Errorf("register version of %s: %w", pc.TargetFileName, err)
	}

	c.record(ctx, eventlog.Event{
		Actor:        pc.UserID,
		Action:       "conversion.item.finalized",
		ResourceType: "job_group",
		ResourceID:   group.ID,
		Payload: map[string]any{
			"file_name":  pc.TargetFileName,
			"version_id": versionID,
			"remaining":  remaining,
		},
	})

	if remaining == 0 {
		c.logger.Info("conversion group complete",
			slog.String("group_id", group.ID),
			slog.Int("total", group.Total))
		c.record(ctx, eventlog.Event{
			Actor:        pc.UserID,
			Action:       "conversion.group.completed",
			ResourceType: "job_group",
			ResourceID:   group.ID,
			Payload: map[string]any{
				"source_version_id": group.SourceVersionID,
				"total":             group.Total,
			},
		})
	}
	return nil
}

// FailTarget closes out a group item whose farm job did not succeed.
func (c *Chainer) FailTarget(ctx context.Context, pc domain.PipelineContext) error {
	if err := pc.ValidateTargetStage(); err != nil {
		return err
	}

	group, remaining, err := c.groups.CompleteItem(ctx, pc.TargetStorageID, domain.ItemStateFailed)
	if errors.Is(err, repo.ErrAlreadyCompleted) {
		c.logger.Info("duplicate completion ignored",
			slog.String("storage_id", pc.TargetStorageID),
			slog.String("file_name", pc.TargetFileName))
		return nil
	}
	if err != nil {
		return fmt.Errorf("fail group item: %w", err)
	}

	c.record(ctx, eventlog.Event{
		Actor:        pc.UserID,
		Action:       "conversion.item.failed",
		ResourceType: "job_group",
		ResourceID:   group.ID,
		Payload: map[string]any{
			"file_name": pc.TargetFileName,
			"remaining": remaining,
		},
	})
	return nil
}

// Group exposes a fan-out's durable state.
func (c *Chainer) Group(ctx context.Context, groupID string) (domain.JobGroup, []domain.JobGroupItem, error) {
	return c.groups.GetGroup(ctx, groupID)
}

func (c *Chainer) intermediateObject(sourceVersionID string) string {
	return domain.EncodeID(sourceVersionID) + c.cfg.Stages.Source.IntermediateSuffix
}

func (c *Chainer) record(ctx context.Context, event eventlog.Event) {
	if c.events == nil {
		return
	}
	event.OccurredAt = time.Now().UTC()
	if err := c.events.Record(ctx, event); err != nil {
		c.logger.Error("event record failed",
			slog.String("action", event.Action),
			slog.String("error", err.Error()))
	}
}

func resultFileName(displayName, suffix string) string {
	base := strings.TrimSuffix(displayName, path.Ext(displayName))
	return base + suffix
}
