package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
	"github.com/cadbridge-labs/cadbridge-go/internal/platform/httpserver"
	"github.com/cadbridge-labs/cadbridge-go/internal/repo"
)

// pipelineRunner is the chainer surface the HTTP layer drives.
type pipelineRunner interface {
	StartConversion(ctx context.Context, pc domain.PipelineContext) (domain.WorkItemStatus, error)
	ContinueToTargetStage(ctx context.Context, pc domain.PipelineContext) (string, error)
	FinalizeTarget(ctx context.Context, pc domain.PipelineContext) error
	FailTarget(ctx context.Context, pc domain.PipelineContext) error
	Group(ctx context.Context, groupID string) (domain.JobGroup, []domain.JobGroupItem, error)
}

type conversionAPI struct {
	logger        *slog.Logger
	runner        pipelineRunner
	continueDelay time.Duration
	taskTimeout   time.Duration

	// schedule defers webhook continuation work; tests swap it for a
	// synchronous version.
	schedule func(delay time.Duration, task func())
}

func newConversionAPI(logger *slog.Logger, runner pipelineRunner, continueDelay, taskTimeout time.Duration) *conversionAPI {
	api := &conversionAPI{
		logger:        logger,
		runner:        runner,
		continueDelay: continueDelay,
		taskTimeout:   taskTimeout,
	}
	api.schedule = func(delay time.Duration, task func()) {
		time.AfterFunc(delay, task)
	}
	return api
}

func (api *conversionAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversions", api.handleStartConversion)
	mux.HandleFunc("GET /api/conversions/groups/{group_id}", api.handleGetGroup)

	mux.HandleFunc("POST /api/callbacks/designautomation/source-stage/{user_id}/{project_id}/{version_id}", api.handleSourceStageCallback)
	mux.HandleFunc("POST /api/callbacks/designautomation/target-stage/{user_id}/{project_id}/{item_id}/{storage_id}/{file_name}", api.handleTargetStageCallback)
}

type startConversionRequest struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	VersionID string `json:"version_id"`
}

type workItemStatusResponse struct {
	WorkItemID string `json:"work_item_id"`
	Status     string `json:"status"`
	ReportURL  string `json:"report_url,omitempty"`
}

func (api *conversionAPI) handleStartConversion(w http.ResponseWriter, r *http.Request) {
	var req startConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_body"})
		return
	}

	pc := domain.PipelineContext{
		UserID:          strings.TrimSpace(req.UserID),
		ProjectID:       strings.TrimSpace(req.ProjectID),
		SourceVersionID: strings.TrimSpace(req.VersionID),
	}
	if err := pc.ValidateSourceStage(); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	status, err := api.runner.StartConversion(r.Context(), pc)
	if err != nil {
		api.logger.Error("start conversion failed",
			slog.String("version_id", pc.SourceVersionID),
			slog.String("error", err.Error()))
		httpserver.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "submission_failed"})
		return
	}

	httpserver.WriteJSON(w, http.StatusAccepted, workItemStatusResponse{
		WorkItemID: status.ID,
		Status:     string(status.Status),
		ReportURL:  status.ReportURL,
	})
}

func (api *conversionAPI) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, items, err := api.runner.Group(r.Context(), r.PathValue("group_id"))
	if errors.Is(err, repo.ErrNotFound) {
		httpserver.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "group_not_found"})
		return
	}
	if err != nil {
		api.logger.Error("load group failed", slog.String("error", err.Error()))
		httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	type itemResponse struct {
		ItemID   string `json:"item_id"`
		FileName string `json:"file_name"`
		State    string `json:"state"`
	}
	resp := struct {
		GroupID         string         `json:"group_id"`
		SourceVersionID string         `json:"source_version_id"`
		State           string         `json:"state"`
		Total           int            `json:"total"`
		Items           []itemResponse `json:"items"`
	}{
		GroupID:         group.ID,
		SourceVersionID: group.SourceVersionID,
		State:           string(group.State),
		Total:           group.Total,
		Items:           make([]itemResponse, 0, len(items)),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, itemResponse{
			ItemID:   item.ItemID,
			FileName: item.FileName,
			State:    string(item.State),
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

// completionPayload is what the farm posts on the onComplete callback.
type completionPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ReportURL string `json:"reportUrl"`
}

// Callbacks always answer 200: a non-2xx response makes the farm retry a
// payload this service has already acted on.
func (api *conversionAPI) handleSourceStageCallback(w http.ResponseWriter, r *http.Request) {
	defer httpserver.WriteJSON(w, http.StatusOK, map[string]string{"result": "accepted"})

	pc, ok := api.sourceContext(r)
	if !ok {
		return
	}
	payload := api.decodePayload(r)
	state := domain.NormalizeJobState(payload.Status)
	if state != domain.JobStateSuccess {
		api.logger.Error("source stage did not succeed",
			slog.String("version_id", pc.SourceVersionID),
			slog.String("work_item_id", payload.ID),
			slog.String("status", string(state)),
			slog.String("report_url", payload.ReportURL))
		return
	}

	api.schedule(api.continueDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), api.taskTimeout)
		defer cancel()
		groupID, err := api.runner.ContinueToTargetStage(ctx, pc)
		if err != nil {
			api.logger.Error("target stage fan-out failed",
				slog.String("version_id", pc.SourceVersionID),
				slog.String("error", err.Error()))
			return
		}
		api.logger.Info("target stage fan-out started",
			slog.String("version_id", pc.SourceVersionID),
			slog.String("group_id", groupID))
	})
}

func (api *conversionAPI) handleTargetStageCallback(w http.ResponseWriter, r *http.Request) {
	defer httpserver.WriteJSON(w, http.StatusOK, map[string]string{"result": "accepted"})

	pc, ok := api.targetContext(r)
	if !ok {
		return
	}
	payload := api.decodePayload(r)
	succeeded := domain.NormalizeJobState(payload.Status) == domain.JobStateSuccess

	api.schedule(api.continueDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), api.taskTimeout)
		defer cancel()
		var err error
		if succeeded {
			err = api.runner.FinalizeTarget(ctx, pc)
		} else {
			api.logger.Error("target stage job failed",
				slog.String("file_name", pc.TargetFileName),
				slog.String("work_item_id", payload.ID),
				slog.String("report_url", payload.ReportURL))
			err = api.runner.FailTarget(ctx, pc)
		}
		if err != nil {
			api.logger.Error("target stage completion failed",
				slog.String("file_name", pc.TargetFileName),
				slog.String("error", err.Error()))
		}
	})
}

func (api *conversionAPI) sourceContext(r *http.Request) (domain.PipelineContext, bool) {
	pc := domain.PipelineContext{}
	var err error
	if pc.UserID, err = domain.DecodeID(r.PathValue("user_id")); err != nil {
		return api.badSegment(r, "user_id", err)
	}
	if pc.ProjectID, err = domain.DecodeID(r.PathValue("project_id")); err != nil {
		return api.badSegment(r, "project_id", err)
	}
	if pc.SourceVersionID, err = domain.DecodeID(r.PathValue("version_id")); err != nil {
		return api.badSegment(r, "version_id", err)
	}
	return pc, true
}

func (api *conversionAPI) targetContext(r *http.Request) (domain.PipelineContext, bool) {
	pc := domain.PipelineContext{}
	var err error
	if pc.UserID, err = domain.DecodeID(r.PathValue("user_id")); err != nil {
		return api.badSegment(r, "user_id", err)
	}
	if pc.ProjectID, err = domain.DecodeID(r.PathValue("project_id")); err != nil {
		return api.badSegment(r, "project_id", err)
	}
	if pc.TargetItemID, err = domain.DecodeID(r.PathValue("item_id")); err != nil {
		return api.badSegment(r, "item_id", err)
	}
	if pc.TargetStorageID, err = domain.DecodeID(r.PathValue("storage_id")); err != nil {
		return api.badSegment(r, "storage_id", err)
	}
	if pc.TargetFileName, err = domain.DecodeID(r.PathValue("file_name")); err != nil {
		return api.badSegment(r, "file_name", err)
	}
	return pc, true
}

func (api *conversionAPI) badSegment(r *http.Request, segment string, err error) (domain.PipelineContext, bool) {
	api.logger.Error("malformed callback segment",
		slog.String("path", r.URL.Path),
		slog.String("segment", segment),
		slog.String("error", err.Error()))
	return domain.PipelineContext{}, false
}

func (api *conversionAPI) decodePayload(r *http.Request) completionPayload {
	var payload completionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.logger.Warn("unreadable callback payload",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	return payload
}
