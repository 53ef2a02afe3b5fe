package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrVersionNotFound marks a version, item, or folder missing from the
// document backend.
var ErrVersionNotFound = errors.New("document version not found")

// StorageLocator is the object-storage address backing a document version.
type StorageLocator struct {
	ID     string
	Bucket string
	Object string
}

// Item is one document in a project folder.
type Item struct {
	ID          string
	FolderID    string
	DisplayName string
}

// Storage is a freshly created write-once slot: uploads must target a slot
// issued by the backend before a new version can reference it.
type Storage struct {
	ID     string
	Bucket string
	Object string
}

// Client is the document-management backend boundary. All calls run under a
// caller-supplied bearer token because document access is per-user.
type Client interface {
	GetVersionStorage(ctx context.Context, token, projectID, versionID string) (StorageLocator, error)
	GetVersionItem(ctx context.Context, token, projectID, versionID string) (Item, error)
	GetItem(ctx context.Context, token, projectID, itemID string) (Item, error)
	SearchFolder(ctx context.Context, token, projectID, folderID, extension string) ([]string, error)
	CreateStorage(ctx context.Context, token, projectID, folderID, fileName string) (Storage, error)
	CreateVersion(ctx context.Context, token, projectID, itemID, fileName, storageID string) (string, error)
}

// ParseStorageID splits a backend storage identifier of the form
// urn:…:{bucket}/{object} into its bucket and object parts.
func ParseStorageID(id string) (bucket, object string, err error) {
	parts := strings.Split(id, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed storage id: %q", id)
	}
	object = parts[len(parts)-1]
	prefix := strings.Split(parts[len(parts)-2], ":")
	bucket = prefix[len(prefix)-1]
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed storage id: %q", id)
	}
	return bucket, object, nil
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type resourceRef struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id"`
}

type versionPayload struct {
	Data struct {
		ID            string `json:"id"`
		Relationships struct {
			Storage struct {
				Data resourceRef `json:"data"`
			} `json:"storage"`
		} `json:"relationships"`
	} `json:"data"`
}

type itemPayload struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			DisplayName string `json:"displayName"`
		} `json:"attributes"`
		Relationships struct {
			Parent struct {
				Data resourceRef `json:"data"`
			} `json:"parent"`
		} `json:"relationships"`
	} `json:"data"`
}

type folderSearchPayload struct {
	Included []struct {
		Attributes struct {
			Hidden bool `json:"hidden"`
		} `json:"attributes"`
		Relationships struct {
			Tip struct {
				Data resourceRef `json:"data"`
			} `json:"tip"`
		} `json:"relationships"`
	} `json:"included"`
}

type storagePayload struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *HTTPClient) GetVersionStorage(ctx context.Context, token, projectID, versionID string) (StorageLocator, error) {
	path := fmt.Sprintf("/projects/%s/versions/%s", url.PathEscape(projectID), url.PathEscape(versionID))
	var payload versionPayload
	if err := c.do(ctx, token, http.MethodGet, path, nil, &payload); err != nil {
		return StorageLocator{}, fmt.Errorf("get version %s: %w", versionID, err)
	}
	storageID := payload.Data.Relationships.Storage.Data.ID
	if storageID == "" {
		return StorageLocator{}, fmt.Errorf("version %s: %w", versionID, ErrVersionNotFound)
	}
	bucket, object, err := ParseStorageID(storageID)
	if err != nil {
		return StorageLocator{}, err
	}
	return StorageLocator{ID: storageID, Bucket: bucket, Object: object}, nil
}

func (c *HTTPClient) GetVersionItem(ctx context.Context, token, projectID, versionID string) (Item, error) {
	path := fmt.Sprintf("/projects/%s/versions/%s/item", url.PathEscape(projectID), url.PathEscape(versionID))
	var payload itemPayload
	if err := c.do(ctx, token, http.MethodGet, path, nil, &payload); err != nil {
		return Item{}, fmt.Errorf("get version item %s: %w", versionID, err)
	}
	if payload.Data.ID == "" {
		return Item{}, fmt.Errorf("version %s: %w", versionID, ErrVersionNotFound)
	}
	return Item{
		ID:          payload.Data.ID,
		FolderID:    payload.Data.Relationships.Parent.Data.ID,
		DisplayName: payload.Data.Attributes.DisplayName,
	}, nil
}

func (c *HTTPClient) GetItem(ctx context.Context, token, projectID, itemID string) (Item, error) {
	path := fmt.Sprintf("/projects/%s/items/%s", url.PathEscape(projectID), url.PathEscape(itemID))
	var payload itemPayload
	if err := c.do(ctx, token, http.MethodGet, path, nil, &payload); err != nil {
		return Item{}, fmt.Errorf("get item %s: %w", itemID, err)
	}
	if payload.Data.ID == "" {
		return Item{}, fmt.Errorf("item %s: %w", itemID, ErrVersionNotFound)
	}
	return Item{
		ID:          payload.Data.ID,
		FolderID:    payload.Data.Relationships.Parent.Data.ID,
		DisplayName: payload.Data.Attributes.DisplayName,
	}, nil
}

// SearchFolder returns the tip version ids of the non-hidden documents in a
// folder whose file extension matches.
func (c *HTTPClient) SearchFolder(ctx context.Context, token, projectID, folderID, extension string) ([]string, error) {
	path := fmt.Sprintf(
		"/projects/%s/folders/%s/search?extension=%s",
		url.PathEscape(projectID),
		url.PathEscape(folderID),
		url.QueryEscape(extension),
	)
	var payload folderSearchPayload
	if err := c.do(ctx, token, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("search folder %s: %w", folderID, err)
	}
	var versionIDs []string
	for _, included := range payload.Included {
		if included.Attributes.Hidden {
			continue
		}
		tip := included.Relationships.Tip.Data
		if tip.Type != "versions" || tip.ID == "" {
			continue
		}
		versionIDs = append(versionIDs, tip.ID)
	}
	return versionIDs, nil
}

func (c *HTTPClient) CreateStorage(ctx context.Context, token, projectID, folderID, fileName string) (Storage, error) {
	path := fmt.Sprintf("/projects/%s/storage", url.PathEscape(projectID))
	body := map[string]any{
		"data": map[string]any{
			"type": "objects",
			"attributes": map[string]any{
				"name": fileName,
			},
			"relationships": map[string]any{
				"target": map[string]any{
					"data": resourceRef{Type: "folders", ID: folderID},
				},
			},
		},
	}
	var payload storagePayload
	if err := c.do(ctx, token, http.MethodPost, path, body, &payload); err != nil {
		return Storage{}, fmt.Errorf("create storage for %s: %w", fileName, err)
	}
	if payload.Data.ID == "" {
		return Storage{}, fmt.Errorf("create storage for %s: empty storage id", fileName)
	}
	bucket, object, err := ParseStorageID(payload.Data.ID)
	if err != nil {
		return Storage{}, err
	}
	return Storage{ID: payload.Data.ID, Bucket: bucket, Object: object}, nil
}

func (c *HTTPClient) CreateVersion(ctx context.Context, token, projectID, itemID, fileName, storageID string) (string, error) {
	path := fmt.Sprintf("/projects/%s/versions", url.PathEscape(projectID))
	body := map[string]any{
		"data": map[string]any{
			"type": "versions",
			"attributes": map[string]any{
				"name": fileName,
			},
			"relationships": map[string]any{
				"item": map[string]any{
					"data": resourceRef{Type: "items", ID: itemID},
				},
				"storage": map[string]any{
					"data": resourceRef{Type: "objects", ID: storageID},
				},
			},
		},
	}
	var payload versionPayload
	if err := c.do(ctx, token, http.MethodPost, path, body, &payload); err != nil {
		return "", fmt.Errorf("create version of %s: %w", itemID, err)
	}
	if payload.Data.ID == "" {
		return "", fmt.Errorf("create version of %s: empty version id", itemID)
	}
	return payload.Data.ID, nil
}

func (c *HTTPClient) do(ctx context.Context, token, method, path string, in, out any) error {
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
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrVersionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		text := strings.TrimSpace(string(snippet))
		if text == "" {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, text)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
