package automation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

// Page is one page of a listing endpoint.
type Page struct {
	PaginationToken string   `json:"paginationToken,omitempty"`
	Data            []string `json:"data"`
}

// UploadTarget is the short-lived multipart upload slot returned when a
// bundle version is created. It is valid for one upload only.
type UploadTarget struct {
	EndpointURL string            `json:"endpointURL"`
	FormData    map[string]string `json:"formData"`
}

// Bundle describes one execution bundle version on the farm.
type Bundle struct {
	ID               string        `json:"id"`
	Engine           string        `json:"engine"`
	Description      string        `json:"description,omitempty"`
	Package          string        `json:"package,omitempty"`
	Version          int           `json:"version,omitempty"`
	UploadParameters *UploadTarget `json:"uploadParameters,omitempty"`
}

// Alias points a symbolic name at a numbered bundle or activity revision.
// Aliases are created once and never re-pointed.
type Alias struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// Parameter describes one named activity argument.
type Parameter struct {
	Verb        domain.Verb `json:"verb"`
	Description string      `json:"description,omitempty"`
	LocalName   string      `json:"localName"`
	Required    bool        `json:"required"`
}

// Activity is a command template plus its argument contract.
type Activity struct {
	ID          string               `json:"id"`
	CommandLine []string             `json:"commandLine"`
	Parameters  map[string]Parameter `json:"parameters"`
	Engine      string               `json:"engine"`
	AppBundles  []string             `json:"appbundles"`
	Description string               `json:"description,omitempty"`
	Version     int                  `json:"version,omitempty"`
}

// WorkItem is one job submission: an aliased activity plus resolved
// argument references.
type WorkItem struct {
	ActivityID string                               `json:"activityId"`
	Arguments  map[string]domain.ArgumentReference `json:"arguments"`
}

func (b Bundle) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.New("bundle id is required")
	}
	if strings.TrimSpace(b.Engine) == "" {
		return errors.New("bundle engine is required")
	}
	return nil
}

func (a Activity) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("activity id is required")
	}
	if strings.TrimSpace(a.Engine) == "" {
		return errors.New("activity engine is required")
	}
	if len(a.CommandLine) == 0 {
		return errors.New("activity command line is required")
	}
	if len(a.AppBundles) == 0 {
		return errors.New("activity must reference a bundle")
	}
	for name, p := range a.Parameters {
		if strings.TrimSpace(p.LocalName) == "" {
			return fmt.Errorf("parameter %s: local name is required", name)
		}
		switch p.Verb {
		case domain.VerbGet, domain.VerbPut:
		default:
			return fmt.Errorf("parameter %s: verb must be get or put", name)
		}
	}
	return nil
}

func (w WorkItem) Validate() error {
	if strings.TrimSpace(w.ActivityID) == "" {
		return errors.New("work item activity id is required")
	}
	if len(w.Arguments) == 0 {
		return errors.New("work item arguments are required")
	}
	for name, ref := range w.Arguments {
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("argument %s: %w", name, err)
		}
	}
	return nil
}
