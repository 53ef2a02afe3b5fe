package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cadbridge-labs/cadbridge-go/internal/automation"
	"github.com/cadbridge-labs/cadbridge-go/internal/domain"
)

type fakeFarm struct {
	mu sync.Mutex

	bundles    []string
	activities []string

	createBundleCalls   int
	createActivityCalls int
	uploadCalls         int
	bundleAliases       []automation.Alias
	activityAliases     []automation.Alias
	lastActivity        automation.Activity

	noUploadTarget bool
}

func (f *fakeFarm) ListBundles(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bundles...), nil
}

func (f *fakeFarm) ListActivities(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.activities...), nil
}

func (f *fakeFarm) CreateBundle(_ context.Context, bundle automation.Bundle) (automation.Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createBundleCalls++
	f.bundles = append(f.bundles, "acme."+bundle.ID+"+prod")
	bundle.Version = 1
	if !f.noUploadTarget {
		bundle.UploadParameters = &automation.UploadTarget{
			EndpointURL: "https://farm.example/upload",
			FormData:    map[string]string{"key": bundle.ID},
		}
	}
	return bundle, nil
}

func (f *fakeFarm) CreateBundleAlias(_ context.Context, _ string, alias automation.Alias) (automation.Alias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundleAliases = append(f.bundleAliases, alias)
	return alias, nil
}

func (f *fakeFarm) UploadPackage(context.Context, automation.UploadTarget, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	return nil
}

func (f *fakeFarm) CreateActivity(_ context.Context, activity automation.Activity) (automation.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createActivityCalls++
	f.activities = append(f.activities, "acme."+activity.ID+"+prod")
	f.lastActivity = activity
	activity.Version = 1
	return activity, nil
}

func (f *fakeFarm) CreateActivityAlias(_ context.Context, _ string, alias automation.Alias) (automation.Alias, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activityAliases = append(f.activityAliases, alias)
	return alias, nil
}

func (f *fakeFarm) SubmitWorkItem(context.Context, automation.WorkItem) (domain.WorkItemStatus, error) {
	return domain.WorkItemStatus{}, errors.New("not implemented")
}

func (f *fakeFarm) GetWorkItemStatus(context.Context, string) (domain.WorkItemStatus, error) {
	return domain.WorkItemStatus{}, errors.New("not implemented")
}

func testStage(t *testing.T) Stage {
	t.Helper()
	packagePath := filepath.Join(t.TempDir(), "ExportBundle.zip")
	if err := os.WriteFile(packagePath, []byte("zip"), 0o600); err != nil {
		t.Fatalf("write package: %v", err)
	}
	return Stage{
		BundleName:   "GeometryExport",
		PackagePath:  packagePath,
		Engine:       "Autodesk.Inventor+2024",
		ActivityName: "GeometryExportActivity",
		CommandLine:  []string{`$(engine.path)\run.exe /i "$(args[sourceDoc].path)"`},
		Parameters: []ParameterDef{
			{Name: "sourceDoc", LocalName: "input.ipt", Verb: "get", Required: true},
			{Name: "geometry", LocalName: "export.sat", Verb: "put", Required: true},
		},
	}
}

func TestEnsureBundleProvisionsOnce(t *testing.T) {
	farm := &fakeFarm{}
	p, err := New(farm, "acme", "prod", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stage := testStage(t)

	for range 2 {
		if err := p.EnsureBundle(context.Background(), stage); err != nil {
			t.Fatalf("EnsureBundle: %v", err)
		}
	}
	if farm.createBundleCalls != 1 {
		t.Fatalf("createBundleCalls = %d, want 1", farm.createBundleCalls)
	}
	if farm.uploadCalls != 1 {
		t.Fatalf("uploadCalls = %d, want 1", farm.uploadCalls)
	}
	if len(farm.bundleAliases) != 1 || farm.bundleAliases[0].ID != "prod" || farm.bundleAliases[0].Version != 1 {
		t.Fatalf("bundleAliases = %+v", farm.bundleAliases)
	}
}

func TestEnsureBundleIgnoresForeignListings(t *testing.T) {
	farm := &fakeFarm{bundles: []string{
		"other.GeometryExportPlus+dev",
		"other.GeometryExport+prod",
		"acme.GeometryExport+dev",
	}}
	p, _ := New(farm, "acme", "prod", nil)

	if err := p.EnsureBundle(context.Background(), testStage(t)); err != nil {
		t.Fatalf("EnsureBundle: %v", err)
	}
	if farm.createBundleCalls != 1 {
		t.Fatalf("createBundleCalls = %d, want 1 (listing holds no acme.GeometryExport+prod)", farm.createBundleCalls)
	}
	if len(farm.bundleAliases) != 1 {
		t.Fatalf("bundleAliases = %+v, want the prod alias created", farm.bundleAliases)
	}
}

func TestEnsureActivityIgnoresForeignListings(t *testing.T) {
	farm := &fakeFarm{activities: []string{
		"other.GeometryExportActivity+prod",
		"acme.GeometryExportActivity+staging",
	}}
	p, _ := New(farm, "acme", "prod", nil)

	if err := p.EnsureActivity(context.Background(), testStage(t)); err != nil {
		t.Fatalf("EnsureActivity: %v", err)
	}
	if farm.createActivityCalls != 1 {
		t.Fatalf("createActivityCalls = %d, want 1", farm.createActivityCalls)
	}
}

func TestEnsureBundleConcurrent(t *testing.T) {
	farm := &fakeFarm{}
	p, _ := New(farm, "acme", "prod", nil)
	stage := testStage(t)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.EnsureBundle(context.Background(), stage); err != nil {
				t.Errorf("EnsureBundle: %v", err)
			}
		}()
	}
	wg.Wait()

	if farm.createBundleCalls != 1 {
		t.Fatalf("createBundleCalls = %d, want 1", farm.createBundleCalls)
	}
}

func TestEnsureBundleMissingPackage(t *testing.T) {
	farm := &fakeFarm{}
	p, _ := New(farm, "acme", "prod", nil)
	stage := testStage(t)
	stage.PackagePath = filepath.Join(t.TempDir(), "missing.zip")

	err := p.EnsureBundle(context.Background(), stage)
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("err = %v, want ErrPackageNotFound", err)
	}
	if farm.createBundleCalls != 0 {
		t.Fatalf("createBundleCalls = %d, want 0", farm.createBundleCalls)
	}
}

func TestEnsureBundleNoUploadTarget(t *testing.T) {
	farm := &fakeFarm{noUploadTarget: true}
	p, _ := New(farm, "acme", "prod", nil)

	err := p.EnsureBundle(context.Background(), testStage(t))
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Fatalf("err = %v, want ErrProvisioningFailed", err)
	}
}

func TestEnsureActivityReferencesAliasedBundle(t *testing.T) {
	farm := &fakeFarm{}
	p, _ := New(farm, "acme", "prod", nil)
	stage := testStage(t)

	if err := p.EnsureStage(context.Background(), stage); err != nil {
		t.Fatalf("EnsureStage: %v", err)
	}
	if farm.createActivityCalls != 1 {
		t.Fatalf("createActivityCalls = %d, want 1", farm.createActivityCalls)
	}
	if got := farm.lastActivity.AppBundles; len(got) != 1 || got[0] != "acme.GeometryExport+prod" {
		t.Fatalf("AppBundles = %v", got)
	}
	if got := farm.lastActivity.Parameters["sourceDoc"]; got.Verb != domain.VerbGet || got.LocalName != "input.ipt" {
		t.Fatalf("sourceDoc parameter = %+v", got)
	}
	if len(farm.activityAliases) != 1 || farm.activityAliases[0].Version != 1 {
		t.Fatalf("activityAliases = %+v", farm.activityAliases)
	}
}

func TestEnsureActivitySkipsExisting(t *testing.T) {
	farm := &fakeFarm{activities: []string{"acme.GeometryExportActivity+prod"}}
	p, _ := New(farm, "acme", "prod", nil)

	if err := p.EnsureActivity(context.Background(), testStage(t)); err != nil {
		t.Fatalf("EnsureActivity: %v", err)
	}
	if farm.createActivityCalls != 0 {
		t.Fatalf("createActivityCalls = %d, want 0", farm.createActivityCalls)
	}
}

func TestActivityFullName(t *testing.T) {
	p, _ := New(&fakeFarm{}, "acme", "prod", nil)
	if got := p.ActivityFullName("GeometryExportActivity"); got != "acme.GeometryExportActivity+prod" {
		t.Fatalf("full name = %q", got)
	}
}
