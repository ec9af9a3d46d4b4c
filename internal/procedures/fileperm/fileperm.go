// Package fileperm implements the file-ownership and permission-bit
// builtins. Ownership is resolved through os/user, which gives NSS-backed
// uid/gid lookups without cgo.
package fileperm

import (
	"errors"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sys/unix"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:        "EnsureFilePermissions",
		Audit:       AuditEnsureFilePermissions,
		Remediate:   RemediateEnsureFilePermissions,
		FieldNames:  []string{"filename", "owner", "group", "permissions", "mask"},
		Description: "Checks or enforces owner, group, and octal permission bits on a single file.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureFilePermissionsCollection",
		Audit:       auditCollection,
		Remediate:   remediateCollection,
		FieldNames:  []string{"directory", "ext", "owner", "group", "permissions", "mask"},
		Description: "Applies EnsureFilePermissions to every file in directory (non-recursive) whose name matches the ext glob.",
	})
}

type params struct {
	Filename    bindings.StringValue                                         `param:"filename"`
	Owner       bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"owner"`
	Group       bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"group"`
	Permissions bindings.Optional[bindings.OctalValue, *bindings.OctalValue]   `param:"permissions"`
	Mask        bindings.Optional[bindings.OctalValue, *bindings.OctalValue]   `param:"mask"`
}

// AuditEnsureFilePermissions implements the EnsureFilePermissions audit
// verb. Exported so other procedure families (e.g. interactive-user
// dotfile checks) can reuse it as a subroutine.
func AuditEnsureFilePermissions(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[params](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	return auditFile(ctx, string(p.Filename), p)
}

// RemediateEnsureFilePermissions implements the remediate verb.
func RemediateEnsureFilePermissions(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[params](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	return remediateFile(ctx, string(p.Filename), p)
}

func auditFile(ctx registry.Context, filename string, p params) status.Result[status.Status] {
	ind := ctx.Indicators()
	var st unix.Stat_t
	if statErr := unix.Stat(filename, &st); statErr != nil {
		if errors.Is(statErr, unix.ENOENT) {
			return status.Ok(ind.Compliant("File '%s' does not exist", filename))
		}
		return status.Fail[status.Status](status.NewSystemError("stat failed for "+filename, statErr))
	}

	if p.Owner.Set {
		u, lookupErr := user.LookupId(strconv.FormatUint(uint64(st.Uid), 10))
		if lookupErr != nil {
			return status.Ok(ind.NonCompliant("No user with uid %d", st.Uid))
		}
		if !matchesAlternative(u.Username, string(p.Owner.Value)) {
			return status.Ok(ind.NonCompliant("Invalid owner on '%s' - is '%s' should be '%s'", filename, u.Username, p.Owner.Value))
		}
		ind.Compliant("%s owner matches expected value '%s'", filename, p.Owner.Value)
	}

	if p.Group.Set {
		g, lookupErr := user.LookupGroupId(strconv.FormatUint(uint64(st.Gid), 10))
		if lookupErr != nil {
			return status.Ok(ind.NonCompliant("No group with gid %d", st.Gid))
		}
		if !matchesAlternative(g.Name, string(p.Group.Value)) {
			return status.Ok(ind.NonCompliant("Invalid group on '%s' - is '%s' should be '%s'", filename, g.Name, p.Group.Value))
		}
		ind.Compliant("%s group matches expected value '%s'", filename, p.Group.Value)
	}

	if p.Permissions.Set && p.Mask.Set && (uint32(p.Permissions.Value)&uint32(p.Mask.Value)) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Invalid permissions and mask - same bits set in both"))
	}

	mode := uint32(st.Mode) & 0o7777
	if p.Permissions.Set {
		want := uint32(p.Permissions.Value)
		if mode&want != want {
			return status.Ok(ind.NonCompliant("Invalid permissions on '%s' - are %04o should be at least %04o", filename, mode, want))
		}
		ind.Compliant("%s matches expected permissions %04o", filename, want)
	}
	if p.Mask.Set {
		forbidden := uint32(p.Mask.Value)
		if mode&forbidden != 0 {
			return status.Ok(ind.NonCompliant("Invalid permissions on '%s' - are %04o while %04o should not be set", filename, mode, forbidden))
		}
	}

	return status.Ok(ind.Compliant("%s matches expected ownership and permissions", filename))
}

func remediateFile(ctx registry.Context, filename string, p params) status.Result[status.Status] {
	ind := ctx.Indicators()
	var st unix.Stat_t
	if statErr := unix.Stat(filename, &st); statErr != nil {
		if errors.Is(statErr, unix.ENOENT) {
			return status.Ok(ind.NonCompliant("File '%s' does not exist", filename))
		}
		return status.Fail[status.Status](status.NewSystemError("stat failed for "+filename, statErr))
	}

	uid, gid := int(st.Uid), int(st.Gid)
	ownerChanged := false

	if p.Owner.Set {
		current, currentErr := user.LookupId(strconv.Itoa(uid))
		if currentErr != nil || !matchesAlternative(current.Username, string(p.Owner.Value)) {
			first := strings.Split(string(p.Owner.Value), "|")[0]
			u, lookupErr := user.Lookup(first)
			if lookupErr != nil {
				return status.Ok(ind.NonCompliant("No user with name %s", first))
			}
			newUID, _ := strconv.Atoi(u.Uid)
			if newUID != uid {
				uid = newUID
				ownerChanged = true
			}
		}
	}

	if p.Group.Set {
		alternatives := strings.Split(string(p.Group.Value), "|")
		g, lookupErr := user.LookupGroupId(strconv.FormatUint(uint64(st.Gid), 10))
		matched := lookupErr == nil && matchesAlternative(g.Name, string(p.Group.Value))
		if !matched {
			first, groupErr := user.LookupGroup(alternatives[0])
			if groupErr != nil {
				return status.Ok(ind.NonCompliant("No group with gid %d", st.Gid))
			}
			newGID, _ := strconv.Atoi(first.Gid)
			if newGID != gid {
				gid = newGID
				ownerChanged = true
			}
		}
	}

	if ownerChanged {
		if chownErr := unix.Chown(filename, uid, gid); chownErr != nil {
			return status.Fail[status.Status](status.NewSystemError("chown failed for "+filename, chownErr))
		}
		ind.Compliant("%s owner changed to %d:%d", filename, uid, gid)
	}

	if p.Permissions.Set && p.Mask.Set && (uint32(p.Permissions.Value)&uint32(p.Mask.Value)) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Invalid permissions and mask - same bits set in both"))
	}

	oldMode := uint32(st.Mode) & 0o7777
	newMode := oldMode
	if p.Permissions.Set {
		newMode |= uint32(p.Permissions.Value)
	}
	if p.Mask.Set {
		newMode &^= uint32(p.Mask.Value)
	}
	if newMode != oldMode {
		if chmodErr := unix.Chmod(filename, newMode); chmodErr != nil {
			return status.Fail[status.Status](status.NewSystemError("chmod failed for "+filename, chmodErr))
		}
		ind.Compliant("%s permissions changed to %04o", filename, newMode)
	}

	return status.Ok(status.Compliant)
}

// matchesAlternative reports whether actual equals any of the
// "|"-separated alternatives in spec.
func matchesAlternative(actual, spec string) bool {
	for _, alt := range strings.Split(spec, "|") {
		if actual == alt {
			return true
		}
	}
	return false
}

type collectionParams struct {
	Directory   bindings.StringValue                                         `param:"directory"`
	Ext         bindings.StringValue                                         `param:"ext"`
	Owner       bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"owner"`
	Group       bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"group"`
	Permissions bindings.Optional[bindings.OctalValue, *bindings.OctalValue]   `param:"permissions"`
	Mask        bindings.Optional[bindings.OctalValue, *bindings.OctalValue]   `param:"mask"`
}

func (c collectionParams) toParams(filename string) params {
	return params{
		Filename:    bindings.StringValue(filename),
		Owner:       c.Owner,
		Group:       c.Group,
		Permissions: c.Permissions,
		Mask:        c.Mask,
	}
}

func auditCollection(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return walkCollection(ctx, rawArgs, false)
}

func remediateCollection(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return walkCollection(ctx, rawArgs, true)
}

// walkCollection implements EnsureFilePermissionsCollection: a single,
// non-recursive directory listing matched against the `ext` glob.
func walkCollection(ctx registry.Context, rawArgs map[string]string, remediate bool) status.Result[status.Status] {
	c, err := bindings.Bind[collectionParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	directory := string(c.Directory)

	entries, readErr := os.ReadDir(directory)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return status.Ok(ind.Compliant("Directory '%s' does not exist", directory))
		}
		return status.Fail[status.Status](status.NewSystemError("failed to read directory "+directory, readErr))
	}

	matched := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, matchErr := doublestar.Match(string(c.Ext), entry.Name())
		if matchErr != nil {
			return status.Fail[status.Status](status.NewCallerError("invalid ext pattern '%s': %v", c.Ext, matchErr))
		}
		if !ok {
			continue
		}
		matched++

		filename := directory + "/" + entry.Name()
		fileParams := c.toParams(filename)

		var res status.Result[status.Status]
		if remediate {
			res = remediateFile(ctx, filename, fileParams)
		} else {
			res = auditFile(ctx, filename, fileParams)
		}
		if res.IsErr() {
			return res
		}
		if res.Value != status.Compliant {
			return res
		}
	}

	if matched == 0 {
		return status.Ok(ind.Compliant("No files in '%s' match the pattern '%s'", directory, c.Ext))
	}
	return status.Ok(ind.Compliant("All matching files in '%s' match expected permissions", directory))
}
