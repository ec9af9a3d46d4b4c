// Package pkg implements the package family. It detects the host's
// package manager, resolves the package inventory through
// internal/pkgcache's TTL-governed cache, and compares the installed
// version against minPackageVersion using RPM EVR ordering.
package pkg

import (
	"context"
	"time"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/pkgcache"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

// DefaultCachePath is the well-known cache location. Only the builtin's
// test_cachePath argument overrides it.
const DefaultCachePath = "/var/lib/GuestConfig/ComplianceEnginePackageCache"

const (
	freshTTLSeconds = 3000
	staleTTLSeconds = 12600
)

func init() {
	registry.Register(registry.Builtin{
		Name:       "PackageInstalled",
		Audit:      auditPackageInstalled,
		FieldNames: []string{"packageName", "minPackageVersion", "packageManager", "test_cachePath"},
		Description: "Checks whether packageName is installed (and, if minPackageVersion is given, at least at " +
			"that version) via a TTL-refreshed on-disk package inventory cache.",
	})
}

type params struct {
	PackageName       bindings.StringValue                                         `param:"packageName"`
	MinPackageVersion bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"minPackageVersion"`
	PackageManager    bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"packageManager"`
	TestCachePath     bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"test_cachePath"`
}

func auditPackageInstalled(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[params](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()

	mgr := ""
	if p.PackageManager.Set {
		mgr = string(p.PackageManager.Value)
	} else {
		mgr = pkgcache.DetectPackageManager(context.Background(), ctx)
	}
	if mgr == "" {
		return status.Fail[status.Status](status.NewCallerError("Could not detect a supported package manager"))
	}

	cachePath := DefaultCachePath
	if p.TestCachePath.Set {
		cachePath = string(p.TestCachePath.Value)
	}

	cache, resolveErr := pkgcache.Resolve(context.Background(), ctx, mgr, cachePath,
		freshTTLSeconds*time.Second, staleTTLSeconds*time.Second, ctx.Now())
	if resolveErr != nil {
		return status.Fail[status.Status](status.NewSystemError("failed to resolve package cache", resolveErr))
	}

	installedVersion, installed := cache.Packages[string(p.PackageName)]
	if !installed {
		return status.Ok(ind.NonCompliant("Package '%s' is not installed", p.PackageName))
	}
	if !p.MinPackageVersion.Set {
		return status.Ok(ind.Compliant("Package '%s' is installed (version %s)", p.PackageName, installedVersion))
	}

	want := string(p.MinPackageVersion.Value)
	if pkgcache.CompareVersions(installedVersion, want) < 0 {
		return status.Ok(ind.NonCompliant("Package '%s' version %s is older than required minimum %s", p.PackageName, installedVersion, want))
	}
	return status.Ok(ind.Compliant("Package '%s' version %s satisfies minimum %s", p.PackageName, installedVersion, want))
}
