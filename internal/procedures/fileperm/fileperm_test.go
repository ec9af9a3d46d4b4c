package fileperm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wharflab/complianceengine/internal/cctx"
	"github.com/wharflab/complianceengine/internal/status"
)

func TestAuditMissingFileIsCompliant(t *testing.T) {
	ctx := cctx.New("EnsureFilePermissions")
	res := AuditEnsureFilePermissions(ctx, map[string]string{"filename": filepath.Join(t.TempDir(), "nope")})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant, got %+v", res)
	}
}

func TestRemediateMissingFileIsNonCompliant(t *testing.T) {
	ctx := cctx.New("EnsureFilePermissions")
	res := RemediateEnsureFilePermissions(ctx, map[string]string{"filename": filepath.Join(t.TempDir(), "nope")})
	if res.IsErr() || res.Value != status.NonCompliant {
		t.Fatalf("expected NonCompliant, got %+v", res)
	}
}

func TestAuditPermissionsHappyPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := cctx.New("EnsureFilePermissions")
	res := AuditEnsureFilePermissions(ctx, map[string]string{"filename": path, "permissions": "0444"})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant, got %+v", res)
	}
}

func TestAuditMaskViolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o666); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	ctx := cctx.New("EnsureFilePermissions")
	res := AuditEnsureFilePermissions(ctx, map[string]string{"filename": path, "mask": "0022"})
	if res.IsErr() || res.Value != status.NonCompliant {
		t.Fatalf("expected NonCompliant, got %+v", res)
	}
}

func TestPermissionsAndMaskOverlapIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := cctx.New("EnsureFilePermissions")
	res := AuditEnsureFilePermissions(ctx, map[string]string{"filename": path, "permissions": "0600", "mask": "0600"})
	if !res.IsErr() {
		t.Fatalf("expected error, got %+v", res)
	}
}

func TestRemediateChangesPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("x"), 0o666); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		t.Fatal(err)
	}
	ctx := cctx.New("EnsureFilePermissions")
	res := RemediateEnsureFilePermissions(ctx, map[string]string{"filename": path, "mask": "0022"})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant, got %+v", res)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o022 != 0 {
		t.Errorf("mask bits still set: %o", info.Mode().Perm())
	}
}

func TestCollectionMissingDirectoryIsCompliant(t *testing.T) {
	ctx := cctx.New("EnsureFilePermissionsCollection")
	res := auditCollection(ctx, map[string]string{"directory": filepath.Join(t.TempDir(), "nope"), "ext": "*.conf"})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant, got %+v", res)
	}
}

func TestCollectionMatchesFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.conf"), []byte("x"), 0o440); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o777); err != nil {
		t.Fatal(err)
	}
	ctx := cctx.New("EnsureFilePermissionsCollection")
	res := auditCollection(ctx, map[string]string{"directory": dir, "ext": "*.conf", "mask": "0077"})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant (b.txt should be ignored), got %+v", res)
	}
}
