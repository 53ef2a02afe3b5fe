// Package bridge resolves document and blob storage locations into the
// signed references that automation work items attach as arguments.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cadbridge-labs/cadbridge-go/internal/docstore"
	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

var (
	// ErrBucketUnavailable marks a blob bucket that does not exist for a
	// read. Reads never create buckets.
	ErrBucketUnavailable = errors.New("blob bucket unavailable")

	// ErrObjectNotFound marks a missing blob object.
	ErrObjectNotFound = errors.New("blob object not found")
)

// BlobStore is the self-hosted object storage backend.
type BlobStore interface {
	BucketExists(ctx context.Context) (bool, error)
	EnsureBucket(ctx context.Context) error
	ObjectExists(ctx context.Context, object string) (bool, error)
	PresignGet(ctx context.Context, object string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, object string, ttl time.Duration) (string, error)
	UploadFile(ctx context.Context, object, path, contentType string) error
}

type Config struct {
	// ObjectBaseURL prefixes plain bucket/object references passed to the
	// automation farm for document storage slots.
	ObjectBaseURL string

	ReadTTL  time.Duration
	WriteTTL time.Duration
}

func (c *Config) Validate() error {
	if c.ObjectBaseURL == "" {
		return errors.New("object base url is required")
	}
	if c.ReadTTL <= 0 {
		c.ReadTTL = 5 * time.Minute
	}
	if c.WriteTTL <= 0 {
		c.WriteTTL = 10 * time.Minute
	}
	return nil
}

// Bridge builds argument references across the three storage backends:
// per-user document storage, the shared blob store, and embedded template
// objects shipped with activity bundles.
type Bridge struct {
	blob          BlobStore
	objectBaseURL string
	readTTL       time.Duration
	writeTTL      time.Duration
}

func New(cfg Config, blob BlobStore) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, errors.New("blob store is required")
	}
	return &Bridge{
		blob:          blob,
		objectBaseURL: cfg.ObjectBaseURL,
		readTTL:       cfg.ReadTTL,
		writeTTL:      cfg.WriteTTL,
	}, nil
}

// DocumentDownload references a document-storage object for reading. The
// farm authenticates with the user's bearer token.
func (b *Bridge) DocumentDownload(token string, loc docstore.StorageLocator) domain.ArgumentReference {
	return domain.ArgumentReference{
		URL:     b.objectURL(loc.Bucket, loc.Object),
		Verb:    domain.VerbGet,
		Headers: bearerHeaders(token),
	}
}

// DocumentUpload references a pre-created document-storage slot for
// writing.
func (b *Bridge) DocumentUpload(token string, slot docstore.Storage) domain.ArgumentReference {
	return domain.ArgumentReference{
		URL:     b.objectURL(slot.Bucket, slot.Object),
		Verb:    domain.VerbPut,
		Headers: bearerHeaders(token),
	}
}

// BlobDownload presigns a read of an existing blob object. The bucket and
// object must both already exist.
func (b *Bridge) BlobDownload(ctx context.Context, object string) (domain.ArgumentReference, error) {
	exists, err := b.blob.BucketExists(ctx)
	if err != nil {
		return domain.ArgumentReference{}, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return domain.ArgumentReference{}, ErrBucketUnavailable
	}
	exists, err = b.blob.ObjectExists(ctx, object)
	if err != nil {
		return domain.ArgumentReference{}, fmt.Errorf("check object %s: %w", object, err)
	}
	if !exists {
		return domain.ArgumentReference{}, fmt.Errorf("object %s: %w", object, ErrObjectNotFound)
	}
	signed, err := b.blob.PresignGet(ctx, object, b.readTTL)
	if err != nil {
		return domain.ArgumentReference{}, fmt.Errorf("presign read of %s: %w", object, err)
	}
	return domain.ArgumentReference{URL: signed, Verb: domain.VerbGet}, nil
}

// BlobUpload presigns a write to a blob object, creating the bucket on
// first use.
func (b *Bridge) BlobUpload(ctx context.Context, object string) (domain.ArgumentReference, error) {
	if err := b.blob.EnsureBucket(ctx); err != nil {
		return domain.ArgumentReference{}, fmt.Errorf("ensure bucket: %w", err)
	}
	signed, err := b.blob.PresignPut(ctx, object, b.writeTTL)
	if err != nil {
		return domain.ArgumentReference{}, fmt.Errorf("presign write of %s: %w", object, err)
	}
	return domain.ArgumentReference{URL: signed, Verb: domain.VerbPut}, nil
}

// EnsureTemplate uploads a shared template asset to the blob store unless
// the object is already present.
func (b *Bridge) EnsureTemplate(ctx context.Context, object, localPath string) error {
	if err := b.blob.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	exists, err := b.blob.ObjectExists(ctx, object)
	if err != nil {
		return fmt.Errorf("check template %s: %w", object, err)
	}
	if exists {
		return nil
	}
	if err := b.blob.UploadFile(ctx, object, localPath, "application/octet-stream"); err != nil {
		return fmt.Errorf("upload template %s: %w", object, err)
	}
	return nil
}

// EmbeddedTemplate references a template object shipped inside the activity
// bundle itself. The farm resolves the path locally, so no URL signing or
// auth applies.
func (b *Bridge) EmbeddedTemplate(path string) domain.ArgumentReference {
	return domain.ArgumentReference{URL: path, Verb: domain.VerbGet}
}

func (b *Bridge) objectURL(bucket, object string) string {
	return fmt.Sprintf("%s/buckets/%s/objects/%s", b.objectBaseURL, url.PathEscape(bucket), url.PathEscape(object))
}

func bearerHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
