// Package provision creates the farm-side bundles, activities, and aliases
// a pipeline stage runs on, idempotently.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/cadbridge-labs/cadbridge-go/internal/automation"
	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

var (
	// ErrPackageNotFound marks a bundle archive missing from local disk.
	ErrPackageNotFound = errors.New("bundle package not found")

	// ErrProvisioningFailed marks a farm response unusable for finishing
	// the provisioning sequence.
	ErrProvisioningFailed = errors.New("provisioning failed")
)

// Provisioner ensures stage resources exist on the automation farm. Each
// resource is guarded by a keyed mutex so concurrent pipelines provision it
// at most once per process; the listing check covers earlier runs.
type Provisioner struct {
	client   automation.Client
	nickname string
	alias    string
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(client automation.Client, nickname, alias string, logger *slog.Logger) (*Provisioner, error) {
	if client == nil {
		return nil, errors.New("automation client is required")
	}
	if strings.TrimSpace(nickname) == "" {
		return nil, errors.New("nickname is required")
	}
	if strings.TrimSpace(alias) == "" {
		return nil, errors.New("alias is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		client:   client,
		nickname: nickname,
		alias:    alias,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// BundleFullName is the aliased identifier work items and activities use to
// reference a bundle.
func (p *Provisioner) BundleFullName(name string) string {
	return domain.QualifiedName(p.nickname, name, p.alias)
}

// ActivityFullName is the aliased identifier work items are submitted
// against.
func (p *Provisioner) ActivityFullName(name string) string {
	return domain.QualifiedName(p.nickname, name, p.alias)
}

// EnsureStage provisions a stage's bundle and then its activity. The
// activity references the bundle alias, so the order is fixed.
func (p *Provisioner) EnsureStage(ctx context.Context, stage Stage) error {
	if err := p.EnsureBundle(ctx, stage); err != nil {
		return err
	}
	return p.EnsureActivity(ctx, stage)
}

// EnsureBundle creates the stage bundle, its alias, and uploads the archive
// unless a bundle with the stage's name is already registered.
func (p *Provisioner) EnsureBundle(ctx context.Context, stage Stage) error {
	unlock := p.lock("bundle:" + stage.BundleName)
	defer unlock()

	ids, err := p.client.ListBundles(ctx)
	if err != nil {
		return fmt.Errorf("list bundles: %w", err)
	}
	if containsQualified(ids, p.BundleFullName(stage.BundleName)) {
		return nil
	}

	if _, err := os.Stat(stage.PackagePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("package %s: %w", stage.PackagePath, ErrPackageNotFound)
		}
		return fmt.Errorf("stat package %s: %w", stage.PackagePath, err)
	}

	created, err := p.client.CreateBundle(ctx, automation.Bundle{
		ID:          stage.BundleName,
		Engine:      stage.Engine,
		Description: stage.Description,
	})
	if err != nil {
		return fmt.Errorf("create bundle %s: %w", stage.BundleName, err)
	}
	if created.UploadParameters == nil {
		return fmt.Errorf("bundle %s: no upload target returned: %w", stage.BundleName, ErrProvisioningFailed)
	}

	version := created.Version
	if version == 0 {
		version = 1
	}
	if _, err := p.client.CreateBundleAlias(ctx, stage.BundleName, automation.Alias{ID: p.alias, Version: version}); err != nil {
		return fmt.Errorf("create bundle alias %s+%s: %w", stage.BundleName, p.alias, err)
	}

	if err := p.client.UploadPackage(ctx, *created.UploadParameters, stage.PackagePath); err != nil {
		return fmt.Errorf("upload package for %s: %w", stage.BundleName, err)
	}

	p.logger.Info("bundle provisioned",
		slog.String("bundle", p.BundleFullName(stage.BundleName)),
		slog.String("engine", stage.Engine))
	return nil
}

// EnsureActivity creates the stage activity and its alias unless an
// activity with the stage's name is already registered. The stage bundle
// alias must exist first.
func (p *Provisioner) EnsureActivity(ctx context.Context, stage Stage) error {
	unlock := p.lock("activity:" + stage.ActivityName)
	defer unlock()

	ids, err := p.client.ListActivities(ctx)
	if err != nil {
		return fmt.Errorf("list activities: %w", err)
	}
	if containsQualified(ids, p.ActivityFullName(stage.ActivityName)) {
		return nil
	}

	created, err := p.client.CreateActivity(ctx, automation.Activity{
		ID:          stage.ActivityName,
		CommandLine: stage.CommandLine,
		Parameters:  stage.ActivityParameters(),
		Engine:      stage.Engine,
		AppBundles:  []string{p.BundleFullName(stage.BundleName)},
		Description: stage.Description,
	})
	if err != nil {
		return fmt.Errorf("create activity %s: %w", stage.ActivityName, err)
	}

	version := created.Version
	if version == 0 {
		version = 1
	}
	if _, err := p.client.CreateActivityAlias(ctx, stage.ActivityName, automation.Alias{ID: p.alias, Version: version}); err != nil {
		return fmt.Errorf("create activity alias %s+%s: %w", stage.ActivityName, p.alias, err)
	}

	p.logger.Info("activity provisioned",
		slog.String("activity", p.ActivityFullName(stage.ActivityName)),
		slog.String("engine", stage.Engine))
	return nil
}

func (p *Provisioner) lock(key string) func() {
	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// containsQualified matches farm listings against the fully qualified
// nickname.Name+alias identifier. A bare-name match would mistake another
// publisher's resource, or the same one under a different alias, for ours.
func containsQualified(ids []string, fullName string) bool {
	for _, id := range ids {
		if strings.Contains(id, fullName) {
			return true
		}
	}
	return false
}
