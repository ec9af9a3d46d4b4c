package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wharflab/complianceengine/internal/cctx"
	"github.com/wharflab/complianceengine/internal/status"
)

type fakeContext struct {
	*cctx.Default
	runner cctx.CommandRunner
}

func (f *fakeContext) Execute(ctx context.Context, name string, args ...string) status.Result[string] {
	return f.runner.Execute(ctx, name, args...)
}

func newFakeContext(ruleName string, responses map[string]status.Result[string], opts ...cctx.Option) *fakeContext {
	return &fakeContext{
		Default: cctx.New(ruleName, opts...),
		runner:  &cctx.MockRunner{Responses: responses},
	}
}

func TestAuditSshdOptionCompliant(t *testing.T) {
	ctx := newFakeContext("EnsureSshdOption", map[string]status.Result[string]{
		"sshd -T": status.Ok("permitrootlogin no\nx11forwarding yes\n"),
	})
	res := auditSshdOption(ctx, map[string]string{"option": "PermitRootLogin", "value": "no", "op": "equal"})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant, got %+v", res)
	}
}

func TestAuditSshdOptionNonCompliant(t *testing.T) {
	ctx := newFakeContext("EnsureSshdOption", map[string]status.Result[string]{
		"sshd -T": status.Ok("permitrootlogin yes\n"),
	})
	res := auditSshdOption(ctx, map[string]string{"option": "PermitRootLogin", "value": "no", "op": "equal"})
	if res.IsErr() || res.Value != status.NonCompliant {
		t.Fatalf("expected NonCompliant, got %+v", res)
	}
}

func TestAuditSystemdParameterMatchesLastAssignment(t *testing.T) {
	ctx := newFakeContext("SystemdParameter", map[string]status.Result[string]{
		"systemd-analyze cat-config /etc/systemd/journald.conf": status.Ok("RateLimitBurst=1000\nRateLimitBurst=2000\n"),
	})
	res := auditSystemdParameter(ctx, map[string]string{
		"parameter": "RateLimitBurst", "valueRegex": "^2000$", "file": "/etc/systemd/journald.conf",
	})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant, got %+v", res)
	}
}

func TestAuditSystemdUnitState(t *testing.T) {
	ctx := newFakeContext("SystemdUnitState", map[string]status.Result[string]{
		"systemctl show -p ActiveState sshd": status.Ok("ActiveState=active\n"),
	})
	res := auditSystemdUnitState(ctx, map[string]string{"unitName": "sshd", "ActiveState": "active"})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant, got %+v", res)
	}
}

func TestAuditdRulesCheckWithUIDMinSubstitution(t *testing.T) {
	rule := "-a always,exit -F arch=b64 -S execve -F auid>=1000 -k exec\n"
	rulesDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(rulesDir, "exec.rules"), []byte(rule), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := newFakeContext("AuditdRulesCheck", map[string]status.Result[string]{
		"auditctl -l": status.Ok(rule),
	}, cctx.WithSpecialFilePaths(map[string]string{"/etc/audit/rules.d": rulesDir}))
	res := auditAuditdRulesCheck(ctx, map[string]string{
		"searchItem":      "-S execve",
		"requiredOptions": `-F\s+auid>=1000`,
	})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("expected Compliant, got %+v", res)
	}
}
