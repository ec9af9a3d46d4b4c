// Package fileops implements the remaining file-inspection builtins that
// are not owner/group/permission checks: existence, logfile access,
// orphaned ownership sweeps, world-writable sweeps, SSH key permission
// checks, and $PATH sanity.
package fileops

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:        "EnsureFileExists",
		Audit:       auditFileExists,
		FieldNames:  []string{"filename"},
		Description: "Checks that filename exists on disk.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureLogfileAccess",
		Audit:       auditLogfileAccess,
		Remediate:   remediateLogfileAccess,
		FieldNames:  []string{"path"},
		Description: "Checks or enforces that every file under path (recursive) is owned by root:root (or root:adm/root:syslog) with mode no looser than 0640.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureNoUnowned",
		Audit:       auditNoUnowned,
		FieldNames:  []string{"path"},
		Description: "Walks path recursively looking for any file whose uid or gid does not resolve to a known account or group.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureNoWritables",
		Audit:       auditNoWritables,
		FieldNames:  []string{"path"},
		Description: "Walks path recursively looking for any regular file that is group or world writable.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureSshKeyPerms",
		Audit:       auditSshKeyPerms,
		Remediate:   remediateSshKeyPerms,
		FieldNames:  []string{"type"},
		Description: "Checks or enforces the mode of /etc/ssh host keys: private keys 0600, public keys 0644; file ownership is not checked.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureRootPath",
		Audit:       auditRootPath,
		Description: "Checks that root's PATH contains no relative or world-writable directory entries.",
	})
}

type fileExistsParams struct {
	Filename bindings.StringValue `param:"filename"`
}

func auditFileExists(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[fileExistsParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	if _, statErr := os.Stat(string(p.Filename)); statErr != nil {
		if os.IsNotExist(statErr) {
			return status.Ok(ind.NonCompliant("File '%s' does not exist", p.Filename))
		}
		return status.Fail[status.Status](status.NewSystemError("stat failed for "+string(p.Filename), statErr))
	}
	return status.Ok(ind.Compliant("File '%s' exists", p.Filename))
}

type pathParams struct {
	Path bindings.StringValue `param:"path"`
}

func walkRegularFiles(root string, fn func(path string, info os.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		return fn(path, info)
	})
}

func auditLogfileAccess(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return logfileAccess(ctx, rawArgs, false)
}

func remediateLogfileAccess(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return logfileAccess(ctx, rawArgs, true)
}

func logfileAccess(ctx registry.Context, rawArgs map[string]string, remediate bool) status.Result[status.Status] {
	p, err := bindings.Bind[pathParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	overall := status.Compliant
	allowedGroups := map[string]bool{"root": true, "adm": true, "syslog": true}

	walkErr := walkRegularFiles(string(p.Path), func(path string, info os.FileInfo) error {
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return nil
		}
		mode := uint32(info.Mode().Perm())
		badOwner := st.Uid != 0
		badGroup := true
		if g, lookupErr := user.LookupGroupId(strconv.FormatUint(uint64(st.Gid), 10)); lookupErr == nil {
			badGroup = !allowedGroups[g.Name]
		}
		badMode := mode&0o137 != 0

		if !badOwner && !badGroup && !badMode {
			return nil
		}
		if remediate {
			gid := int(st.Gid)
			if badGroup {
				gid = 0
			}
			if chownErr := os.Chown(path, 0, gid); chownErr != nil {
				return chownErr
			}
			if chmodErr := os.Chmod(path, os.FileMode(mode&^0o137)); chmodErr != nil {
				return chmodErr
			}
			ind.Compliant("Corrected ownership/permissions on '%s'", path)
			return nil
		}
		ind.NonCompliant("'%s' has incorrect owner, group, or permissions (mode %04o)", path, mode)
		overall = status.NonCompliant
		return nil
	})
	if walkErr != nil {
		return status.Fail[status.Status](status.NewSystemError("walk failed for "+string(p.Path), walkErr))
	}
	if overall == status.Compliant {
		ind.SetStatus(status.Compliant)
		return status.Ok(status.Compliant)
	}
	return status.Ok(overall)
}

func auditNoUnowned(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[pathParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	overall := status.Compliant
	walkErr := walkRegularFiles(string(p.Path), func(path string, info os.FileInfo) error {
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return nil
		}
		if _, lookupErr := user.LookupId(strconv.FormatUint(uint64(st.Uid), 10)); lookupErr != nil {
			ind.NonCompliant("'%s' is owned by unknown uid %d", path, st.Uid)
			overall = status.NonCompliant
			return nil
		}
		if _, lookupErr := user.LookupGroupId(strconv.FormatUint(uint64(st.Gid), 10)); lookupErr != nil {
			ind.NonCompliant("'%s' is owned by unknown gid %d", path, st.Gid)
			overall = status.NonCompliant
		}
		return nil
	})
	if walkErr != nil {
		return status.Fail[status.Status](status.NewSystemError("walk failed for "+string(p.Path), walkErr))
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("No unowned files found under '%s'", p.Path))
	}
	return status.Ok(overall)
}

func auditNoWritables(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[pathParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	overall := status.Compliant
	walkErr := walkRegularFiles(string(p.Path), func(path string, info os.FileInfo) error {
		mode := uint32(info.Mode().Perm())
		if mode&0o022 != 0 {
			ind.NonCompliant("'%s' is group or world writable (mode %04o)", path, mode)
			overall = status.NonCompliant
		}
		return nil
	})
	if walkErr != nil {
		return status.Fail[status.Status](status.NewSystemError("walk failed for "+string(p.Path), walkErr))
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("No group/world writable files found under '%s'", p.Path))
	}
	return status.Ok(overall)
}

type sshKeyPermsParams struct {
	Type bindings.StringValue `param:"type"`
}

func auditSshKeyPerms(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return sshKeyPerms(ctx, rawArgs, false)
}

func remediateSshKeyPerms(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return sshKeyPerms(ctx, rawArgs, true)
}

func sshKeyPerms(ctx registry.Context, rawArgs map[string]string, remediate bool) status.Result[status.Status] {
	p, err := bindings.Bind[sshKeyPermsParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	var wantMode os.FileMode
	var suffixCheck func(name string) bool
	switch string(p.Type) {
	case "private":
		wantMode = 0o600
		suffixCheck = func(name string) bool { return !strings.HasSuffix(name, ".pub") }
	case "public":
		wantMode = 0o644
		suffixCheck = func(name string) bool { return strings.HasSuffix(name, ".pub") }
	default:
		return status.Fail[status.Status](status.NewCallerError("Invalid value '%s' for enumeration parameter", p.Type))
	}

	entries, readErr := os.ReadDir("/etc/ssh")
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return status.Ok(ind.Compliant("No /etc/ssh directory present"))
		}
		return status.Fail[status.Status](status.NewSystemError("failed to read /etc/ssh", readErr))
	}

	overall := status.Compliant
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "ssh_host_") || !suffixCheck(name) {
			continue
		}
		path := filepath.Join("/etc/ssh", name)
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		mode := info.Mode().Perm()
		if mode == wantMode {
			continue
		}
		if remediate {
			if chmodErr := os.Chmod(path, wantMode); chmodErr != nil {
				return status.Fail[status.Status](status.NewSystemError("chmod failed for "+path, chmodErr))
			}
			ind.Compliant("Corrected permissions on '%s' to %04o", path, wantMode)
			continue
		}
		ind.NonCompliant("'%s' has mode %04o, expected %04o", path, mode, wantMode)
		overall = status.NonCompliant
	}
	if overall == status.Compliant {
		ind.SetStatus(status.Compliant)
		return status.Ok(status.Compliant)
	}
	return status.Ok(overall)
}

func auditRootPath(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	ind := ctx.Indicators()
	contents := ctx.GetFileContents(ctx.GetSpecialFilePath("/root/.bash_profile"))
	pathValue := ""
	if !contents.IsErr() {
		for _, line := range strings.Split(contents.Value, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "PATH=") {
				pathValue = strings.TrimPrefix(line, "PATH=")
			}
		}
	}
	if pathValue == "" {
		return status.Ok(ind.Compliant("No explicit PATH override found for root"))
	}
	overall := status.Compliant
	for _, entry := range strings.Split(pathValue, ":") {
		if entry == "" || entry == "." || !strings.HasPrefix(entry, "/") {
			ind.NonCompliant("root PATH contains a relative entry: '%s'", entry)
			overall = status.NonCompliant
			continue
		}
		info, statErr := os.Stat(entry)
		if statErr != nil {
			continue
		}
		if info.Mode().Perm()&0o002 != 0 {
			ind.NonCompliant("root PATH contains a world-writable directory: '%s'", entry)
			overall = status.NonCompliant
		}
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("root PATH contains only safe absolute entries"))
	}
	return status.Ok(overall)
}
