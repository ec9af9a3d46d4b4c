package pkg

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wharflab/complianceengine/internal/cctx"
	"github.com/wharflab/complianceengine/internal/pkgcache"
	"github.com/wharflab/complianceengine/internal/status"
)

type fakeContext struct {
	*cctx.Default
	runner *cctx.MockRunner
}

func (f *fakeContext) Execute(ctx context.Context, name string, args ...string) status.Result[string] {
	return f.runner.Execute(ctx, name, args...)
}

func seedCache(t *testing.T, age time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache")
	cache := pkgcache.Cache{
		PackageManager: "dpkg",
		LastUpdateTime: time.Now().Add(-age),
		Packages:       map[string]string{"bash": "5.1-6"},
	}
	if err := pkgcache.Save(cache, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFreshCacheSkipsPackageManager(t *testing.T) {
	path := seedCache(t, time.Second)
	ctx := &fakeContext{Default: cctx.New("PackageInstalled"), runner: &cctx.MockRunner{}}

	res := auditPackageInstalled(ctx, map[string]string{
		"packageName":       "bash",
		"minPackageVersion": "5.0",
		"packageManager":    "dpkg",
		"test_cachePath":    path,
	})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant, got %+v", res)
	}
	if len(ctx.runner.Calls) != 0 {
		t.Errorf("fresh cache must not spawn the package manager, got calls %v", ctx.runner.Calls)
	}
}

func TestMinVersionNotSatisfied(t *testing.T) {
	path := seedCache(t, time.Second)
	ctx := &fakeContext{Default: cctx.New("PackageInstalled"), runner: &cctx.MockRunner{}}

	res := auditPackageInstalled(ctx, map[string]string{
		"packageName":       "bash",
		"minPackageVersion": "6.0",
		"packageManager":    "dpkg",
		"test_cachePath":    path,
	})
	if res.IsErr() || res.Value != status.NonCompliant {
		t.Fatalf("expected NonCompliant, got %+v", res)
	}
}

func TestPackageNotInstalled(t *testing.T) {
	path := seedCache(t, time.Second)
	ctx := &fakeContext{Default: cctx.New("PackageInstalled"), runner: &cctx.MockRunner{}}

	res := auditPackageInstalled(ctx, map[string]string{
		"packageName":    "definitely-not-here",
		"packageManager": "dpkg",
		"test_cachePath": path,
	})
	if res.IsErr() || res.Value != status.NonCompliant {
		t.Fatalf("expected NonCompliant, got %+v", res)
	}
}

func TestStaleCacheTriggersBackgroundRefresh(t *testing.T) {
	path := seedCache(t, 4000*time.Second)
	ctx := &fakeContext{Default: cctx.New("PackageInstalled"), runner: &cctx.MockRunner{
		Responses: map[string]status.Result[string]{
			"dpkg -l": status.Ok("+++-===\nii  bash  5.2-1  amd64  GNU Bourne Again SHell\n"),
		},
	}}

	res := auditPackageInstalled(ctx, map[string]string{
		"packageName":    "bash",
		"packageManager": "dpkg",
		"test_cachePath": path,
	})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("stale cache is still served, got %+v", res)
	}

	pkgcache.WaitBackground()
	refreshed, err := pkgcache.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.Packages["bash"] != "5.2-1" {
		t.Errorf("background refresh did not rewrite the cache: %v", refreshed.Packages)
	}
}
