package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

// ErrSubmissionFailed marks a work item the farm refused to enqueue. The
// caller may resubmit manually; this client never retries.
var ErrSubmissionFailed = errors.New("work item submission failed")

// Client is the remote design-automation farm boundary.
type Client interface {
	ListBundles(ctx context.Context) ([]string, error)
	CreateBundle(ctx context.Context, bundle Bundle) (Bundle, error)
	CreateBundleAlias(ctx context.Context, bundleID string, alias Alias) (Alias, error)
	UploadPackage(ctx context.Context, target UploadTarget, packagePath string) error
	ListActivities(ctx context.Context) ([]string, error)
	CreateActivity(ctx context.Context, activity Activity) (Activity, error)
	CreateActivityAlias(ctx context.Context, activityID string, alias Alias) (Alias, error)
	SubmitWorkItem(ctx context.Context, item WorkItem) (domain.WorkItemStatus, error)
	GetWorkItemStatus(ctx context.Context, id string) (domain.WorkItemStatus, error)
}

// TokenSource supplies the application bearer token attached to every call.
type TokenSource interface {
	AppToken(ctx context.Context) (string, error)
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

func NewHTTPClient(baseURL string, tokens TokenSource) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if tokens == nil {
		return nil, errors.New("token source is required")
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
	}, nil
}

func (c *HTTPClient) ListBundles(ctx context.Context) ([]string, error) {
	return c.listAll(ctx, "/appbundles")
}

func (c *HTTPClient) ListActivities(ctx context.Context) ([]string, error) {
	return c.listAll(ctx, "/activities")
}

func (c *HTTPClient) CreateBundle(ctx context.Context, bundle Bundle) (Bundle, error) {
	if err := bundle.Validate(); err != nil {
		return Bundle{}, err
	}
	var created Bundle
	if err := c.do(ctx, http.MethodPost, "/appbundles", bundle, &created); err != nil {
		return Bundle{}, fmt.Errorf("create bundle %s: %w", bundle.ID, err)
	}
	return created, nil
}

func (c *HTTPClient) CreateBundleAlias(ctx context.Context, bundleID string, alias Alias) (Alias, error) {
	path := fmt.Sprintf("/appbundles/%s/aliases", url.PathEscape(bundleID))
	var created Alias
	if err := c.do(ctx, http.MethodPost, path, alias, &created); err != nil {
		return Alias{}, fmt.Errorf("create bundle alias %s+%s: %w", bundleID, alias.ID, err)
	}
	return created, nil
}

func (c *HTTPClient) CreateActivity(ctx context.Context, activity Activity) (Activity, error) {
	if err := activity.Validate(); err != nil {
		return Activity{}, err
	}
	var created Activity
	if err := c.do(ctx, http.MethodPost, "/activities", activity, &created); err != nil {
		return Activity{}, fmt.Errorf("create activity %s: %w", activity.ID, err)
	}
	return created, nil
}

func (c *HTTPClient) CreateActivityAlias(ctx context.Context, activityID string, alias Alias) (Alias, error) {
	path := fmt.Sprintf("/activities/%s/aliases", url.PathEscape(activityID))
	var created Alias
	if err := c.do(ctx, http.MethodPost, path, alias, &created); err != nil {
		return Alias{}, fmt.Errorf("create activity alias %s+%s: %w", activityID, alias.ID, err)
	}
	return created, nil
}

// UploadPackage posts the bundle archive to the farm-issued upload slot:
// provider form fields first, then the binary payload as the "file" part.
// The slot is pre-signed, so no bearer token is attached.
func (c *HTTPClient) UploadPackage(ctx context.Context, target UploadTarget, packagePath string) error {
	if strings.TrimSpace(target.EndpointURL) == "" {
		return errors.New("upload endpoint is required")
	}

	file, err := os.Open(packagePath)
	if err != nil {
		return fmt.Errorf("open package: %w", err)
	}
	defer func() { _ = file.Close() }()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for key, value := range target.FormData {
		if err := form.WriteField(key, value); err != nil {
			return fmt.Errorf("write form field %s: %w", key, err)
		}
	}
	part, err := form.CreateFormFile("file", filepath.Base(packagePath))
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy package: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.EndpointURL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload package: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload package: %s", responseError(resp))
	}
	return nil
}

func (c *HTTPClient) SubmitWorkItem(ctx context.Context, item WorkItem) (domain.WorkItemStatus, error) {
	if err := item.Validate(); err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	var status workItemStatusPayload
	if err := c.do(ctx, http.MethodPost, "/workitems", item, &status); err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
	return status.toDomain(), nil
}

func (c *HTTPClient) GetWorkItemStatus(ctx context.Context, id string) (domain.WorkItemStatus, error) {
	path := fmt.Sprintf("/workitems/%s", url.PathEscape(id))
	var status workItemStatusPayload
	if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
		return domain.WorkItemStatus{}, fmt.Errorf("work item status %s: %w", id, err)
	}
	return status.toDomain(), nil
}

type workItemStatusPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ReportURL string `json:"reportUrl,omitempty"`
}

func (p workItemStatusPayload) toDomain() domain.WorkItemStatus {
	return domain.WorkItemStatus{
		ID:        p.ID,
		Status:    domain.NormalizeJobState(p.Status),
		ReportURL: p.ReportURL,
	}
}

// maxListPages bounds pagination so a farm that never drains its listing
// cannot hold the caller in the loop.
const maxListPages = 100

// listAll follows pagination tokens until the listing is exhausted.
func (c *HTTPClient) listAll(ctx context.Context, path string) ([]string, error) {
	var names []string
	token := ""
	for pageNum := 0; pageNum < maxListPages; pageNum++ {
		target := path
		if token != "" {
			target = fmt.Sprintf("%s?page=%s", path, url.QueryEscape(token))
		}
		var page Page
		if err := c.do(ctx, http.MethodGet, target, nil, &page); err != nil {
			return nil, fmt.Errorf("list %s: %w", strings.TrimPrefix(path, "/"), err)
		}
		names = append(names, page.Data...)
		if page.PaginationToken == "" {
			return names, nil
		}
		if page.PaginationToken == token {
			return nil, fmt.Errorf("list %s: pagination token %q repeated", strings.TrimPrefix(path, "/"), token)
		}
		token = page.PaginationToken
	}
	return nil, fmt.Errorf("list %s: pagination did not terminate after %d pages", strings.TrimPrefix(path, "/"), maxListPages)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.AppToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New(responseError(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func responseError(resp *http.Response) string {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(snippet))
	if text == "" {
		return fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, text)
}
