// Package sysctl implements the kernel-parameter builtin: reads the live
// value via
// `sysctl -n <name>` (falling back to /proc/sys) and writes it back with
// `sysctl -w` plus a drop-in file under /etc/sysctl.d so the setting
// survives reboot.
package sysctl

import (
	"context"
	"os"
	"strings"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:        "EnsureSysctl",
		Audit:       auditSysctl,
		Remediate:   remediateSysctl,
		FieldNames:  []string{"sysctlName", "value"},
		Description: "Checks or enforces a single kernel parameter's runtime value via sysctl(8), persisting it under /etc/sysctl.d on remediation.",
	})
}

type sysctlParams struct {
	SysctlName bindings.StringValue `param:"sysctlName"`
	Value      bindings.StringValue `param:"value"`
}

func procPath(name string) string {
	return "/proc/sys/" + strings.ReplaceAll(name, ".", "/")
}

func readSysctl(ctx registry.Context, name string) (string, *status.Err) {
	res := ctx.Execute(context.Background(), "sysctl", "-n", name)
	if !res.IsErr() {
		return strings.TrimSpace(res.Value), nil
	}
	contents := ctx.GetFileContents(ctx.GetSpecialFilePath(procPath(name)))
	if contents.IsErr() {
		return "", contents.Err
	}
	return strings.TrimSpace(contents.Value), nil
}

func auditSysctl(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[sysctlParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	actual, readErr := readSysctl(ctx, string(p.SysctlName))
	if readErr != nil {
		return status.Fail[status.Status](readErr)
	}
	if actual != string(p.Value) {
		return status.Ok(ind.NonCompliant("sysctl '%s' is '%s', expected '%s'", p.SysctlName, actual, p.Value))
	}
	return status.Ok(ind.Compliant("sysctl '%s' is '%s'", p.SysctlName, p.Value))
}

func remediateSysctl(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[sysctlParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	setting := string(p.SysctlName) + "=" + string(p.Value)
	res := ctx.Execute(context.Background(), "sysctl", "-w", setting)
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	dropIn := "/etc/sysctl.d/60-compliance-" + strings.ReplaceAll(string(p.SysctlName), ".", "-") + ".conf"
	if writeErr := os.WriteFile(dropIn, []byte(setting+"\n"), 0o644); writeErr != nil {
		return status.Fail[status.Status](status.NewSystemError("failed to persist "+dropIn, writeErr))
	}
	return status.Ok(ind.Compliant("Set sysctl '%s' to '%s' and persisted it in '%s'", p.SysctlName, p.Value, dropIn))
}
