// Package session implements the interactive-session hardening builtins:
// shell profile and mail transfer agent settings that apply to every
// interactive login rather than to one resource.
package session

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:        "EnsureDefaultShellTimeoutIsConfigured",
		Audit:       auditShellTimeout,
		Remediate:   remediateShellTimeout,
		FieldNames:  []string{"timeoutSeconds"},
		Description: "Checks or sets TMOUT in /etc/profile.d/tmout.sh so interactive shells auto-lock after idle time.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureDefaultUserUmaskIsConfigured",
		Audit:       auditDefaultUmask,
		Remediate:   remediateDefaultUmask,
		FieldNames:  []string{"umask"},
		Description: "Checks or sets the default UMASK in /etc/login.defs.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureMTAsLocalOnly",
		Audit:       auditMTAsLocalOnly,
		Remediate:   remediateMTAsLocalOnly,
		Description: "Checks or sets Postfix's inet_interfaces to 'loopback-only' so the MTA does not listen on external interfaces.",
	})
}

type timeoutParams struct {
	TimeoutSeconds bindings.IntValue `param:"timeoutSeconds"`
}

const tmoutPath = "/etc/profile.d/tmout.sh"

func auditShellTimeout(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[timeoutParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	contents := ctx.GetFileContents(ctx.GetSpecialFilePath(tmoutPath))
	if contents.IsErr() {
		return status.Ok(ind.NonCompliant("'%s' does not exist", tmoutPath))
	}
	want := int64(p.TimeoutSeconds)
	for _, line := range strings.Split(contents.Value, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "TMOUT=") {
			continue
		}
		value := strings.TrimPrefix(line, "TMOUT=")
		if parsed, convErr := strconv.ParseInt(value, 10, 64); convErr == nil && parsed <= want {
			return status.Ok(ind.Compliant("TMOUT is '%s', within the required %d second bound", value, want))
		}
		return status.Ok(ind.NonCompliant("TMOUT is '%s', expected at most %d", value, want))
	}
	return status.Ok(ind.NonCompliant("'%s' does not set TMOUT", tmoutPath))
}

func remediateShellTimeout(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[timeoutParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	return writeTmout(ctx, ind, int64(p.TimeoutSeconds))
}

type defaultUmaskParams struct {
	Umask bindings.OctalValue `param:"umask"`
}

func auditDefaultUmask(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[defaultUmaskParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	contents := ctx.GetFileContents(ctx.GetSpecialFilePath("/etc/login.defs"))
	if contents.IsErr() {
		return status.Fail[status.Status](contents.Err)
	}
	for _, line := range strings.Split(contents.Value, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "UMASK" {
			continue
		}
		if fields[1] != octalString(uint32(p.Umask)) {
			return status.Ok(ind.NonCompliant("UMASK is '%s', expected '%s'", fields[1], octalString(uint32(p.Umask))))
		}
		return status.Ok(ind.Compliant("UMASK is '%s'", fields[1]))
	}
	return status.Ok(ind.NonCompliant("/etc/login.defs does not set UMASK"))
}

func octalString(v uint32) string {
	if v == 0 {
		return "0"
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%8)}, digits...)
		v /= 8
	}
	return "0" + string(digits)
}

func remediateDefaultUmask(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[defaultUmaskParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	path := ctx.GetSpecialFilePath("/etc/login.defs")
	contents := ctx.GetFileContents(path)
	if contents.IsErr() {
		return status.Fail[status.Status](contents.Err)
	}
	want := octalString(uint32(p.Umask))
	lines := strings.Split(contents.Value, "\n")
	found := false
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "UMASK" {
			lines[i] = "UMASK\t" + want
			found = true
		}
	}
	if !found {
		lines = append(lines, "UMASK\t"+want)
	}
	if writeErr := writeFile(path, strings.Join(lines, "\n")); writeErr != nil {
		return status.Fail[status.Status](status.NewSystemError("failed to write "+path, writeErr))
	}
	return status.Ok(ind.Compliant("Set UMASK to '%s' in /etc/login.defs", want))
}

func auditMTAsLocalOnly(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), "postconf", "inet_interfaces")
	if res.IsErr() {
		return status.Ok(ind.Compliant("Postfix is not installed or not configured"))
	}
	value := strings.TrimSpace(strings.TrimPrefix(res.Value, "inet_interfaces ="))
	value = strings.TrimSpace(strings.TrimPrefix(value, "inet_interfaces="))
	if value == "loopback-only" {
		return status.Ok(ind.Compliant("Postfix inet_interfaces is 'loopback-only'"))
	}
	return status.Ok(ind.NonCompliant("Postfix inet_interfaces is '%s', expected 'loopback-only'", value))
}

func remediateMTAsLocalOnly(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), "postconf", "-e", "inet_interfaces=loopback-only")
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	return status.Ok(ind.Compliant("Set Postfix inet_interfaces to 'loopback-only'"))
}

func writeTmout(ctx registry.Context, ind *indicators.Tree, seconds int64) status.Result[status.Status] {
	path := ctx.GetSpecialFilePath(tmoutPath)
	contents := "TMOUT=" + strconv.FormatInt(seconds, 10) + "\nreadonly TMOUT\nexport TMOUT\n"
	if writeErr := writeFile(path, contents); writeErr != nil {
		return status.Fail[status.Status](status.NewSystemError("failed to write "+path, writeErr))
	}
	return status.Ok(ind.Compliant("Set TMOUT to %d in '%s'", seconds, tmoutPath))
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
