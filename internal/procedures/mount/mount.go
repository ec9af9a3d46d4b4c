// Package mount implements the filesystem-option builtins: audits read a
// mountpoint's option set from /proc/mounts (live state) only; remediation
// rewrites the mountpoint's /etc/fstab entry.
package mount

import (
	"strings"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:       "EnsureFilesystemOption",
		Audit:      auditFilesystemOption,
		Remediate:  remediateFilesystemOption,
		FieldNames: []string{"mountpoint", "optionsSet", "optionsNotSet", "test_fstab", "test_mtab", "test_mount"},
		Description: "Checks (or adds, to /etc/fstab) that a mountpoint's options include optionsSet and exclude " +
			"optionsNotSet, judged from the live mount table; the fstab entry is read only on remediation.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureMountPointExists",
		Audit:       auditMountPointExists,
		FieldNames:  []string{"mountPoint"},
		Description: "Checks that mountPoint appears as a separate entry in the live mount table.",
	})
}

type mountRecord struct {
	device     string
	mountpoint string
	fstype     string
	options    []string
}

func parseMountTable(contents string) []mountRecord {
	var out []mountRecord
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 4 {
			continue
		}
		out = append(out, mountRecord{
			device:     f[0],
			mountpoint: f[1],
			fstype:     f[2],
			options:    strings.Split(f[3], ","),
		})
	}
	return out
}

func findMountpoint(records []mountRecord, mountpoint string) (mountRecord, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].mountpoint == mountpoint {
			return records[i], true
		}
	}
	return mountRecord{}, false
}

func hasOption(options []string, want string) bool {
	for _, o := range options {
		if o == want || strings.HasPrefix(o, want+"=") {
			return true
		}
	}
	return false
}

type filesystemOptionParams struct {
	Mountpoint    bindings.StringValue                                                   `param:"mountpoint"`
	OptionsSet    bindings.Optional[bindings.Separated[bindings.StringValue, *bindings.StringValue], *bindings.Separated[bindings.StringValue, *bindings.StringValue]] `param:"optionsSet" sep:","`
	OptionsNotSet bindings.Optional[bindings.Separated[bindings.StringValue, *bindings.StringValue], *bindings.Separated[bindings.StringValue, *bindings.StringValue]] `param:"optionsNotSet" sep:","`
	TestFstab     bindings.Optional[bindings.StringValue, *bindings.StringValue]         `param:"test_fstab"`
	TestMtab      bindings.Optional[bindings.StringValue, *bindings.StringValue]         `param:"test_mtab"`
	TestMount     bindings.Optional[bindings.StringValue, *bindings.StringValue]         `param:"test_mount"`
}

func auditFilesystemOption(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return filesystemOption(ctx, rawArgs, false)
}

func remediateFilesystemOption(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return filesystemOption(ctx, rawArgs, true)
}

func filesystemOption(ctx registry.Context, rawArgs map[string]string, remediate bool) status.Result[status.Status] {
	p, err := bindings.Bind[filesystemOptionParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()

	mtabPath := "/proc/mounts"
	if p.TestMtab.Set {
		mtabPath = string(p.TestMtab.Value)
	} else {
		mtabPath = ctx.GetSpecialFilePath(mtabPath)
	}
	mtabContents := ctx.GetFileContents(mtabPath)
	if mtabContents.IsErr() {
		return status.Fail[status.Status](mtabContents.Err)
	}
	live, found := findMountpoint(parseMountTable(mtabContents.Value), string(p.Mountpoint))
	if !found {
		return status.Ok(ind.NonCompliant("Mountpoint '%s' is not currently mounted", p.Mountpoint))
	}

	overall := status.Compliant
	if p.OptionsSet.Set {
		for _, want := range p.OptionsSet.Value.Items {
			if !hasOption(live.options, string(want)) {
				ind.NonCompliant("Mountpoint '%s' is missing required option '%s'", p.Mountpoint, want)
				overall = status.NonCompliant
			}
		}
	}
	if p.OptionsNotSet.Set {
		for _, forbidden := range p.OptionsNotSet.Value.Items {
			if hasOption(live.options, string(forbidden)) {
				ind.NonCompliant("Mountpoint '%s' has forbidden option '%s'", p.Mountpoint, forbidden)
				overall = status.NonCompliant
			}
		}
	}

	if overall == status.Compliant {
		return status.Ok(ind.Compliant("Mountpoint '%s' satisfies the required option set", p.Mountpoint))
	}
	if !remediate {
		return status.Ok(overall)
	}

	fstabPath := "/etc/fstab"
	if p.TestFstab.Set {
		fstabPath = string(p.TestFstab.Value)
	} else {
		fstabPath = ctx.GetSpecialFilePath(fstabPath)
	}
	fstabContents := ctx.GetFileContents(fstabPath)
	if fstabContents.IsErr() {
		return status.Fail[status.Status](fstabContents.Err)
	}
	updated, changed := rewriteFstabOptions(fstabContents.Value, string(p.Mountpoint), p)
	if !changed {
		return status.Ok(ind.NonCompliant("Mountpoint '%s' has no fstab entry to update", p.Mountpoint))
	}
	return status.Ok(ind.Errorf("Mountpoint '%s' requires remount; updated fstab entry: %s", p.Mountpoint, updated))
}

// rewriteFstabOptions rewrites the option column of mountpoint's fstab
// line, adding every optionsSet entry and removing every optionsNotSet
// entry. It never applies the change live: remounting a filesystem is left
// to the operator alongside a reboot requirement note.
func rewriteFstabOptions(contents, mountpoint string, p filesystemOptionParams) (string, bool) {
	lines := strings.Split(contents, "\n")
	changed := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		f := strings.Fields(trimmed)
		if len(f) < 4 || f[1] != mountpoint {
			continue
		}
		options := strings.Split(f[3], ",")
		if p.OptionsSet.Set {
			for _, want := range p.OptionsSet.Value.Items {
				if !hasOption(options, string(want)) {
					options = append(options, string(want))
				}
			}
		}
		if p.OptionsNotSet.Set {
			var kept []string
			for _, o := range options {
				forbidden := false
				for _, bad := range p.OptionsNotSet.Value.Items {
					if o == string(bad) {
						forbidden = true
						break
					}
				}
				if !forbidden {
					kept = append(kept, o)
				}
			}
			options = kept
		}
		f[3] = strings.Join(options, ",")
		lines[i] = strings.Join(f, " ")
		changed = true
	}
	return strings.Join(lines, "\n"), changed
}

type mountPointExistsParams struct {
	MountPoint bindings.StringValue `param:"mountPoint"`
}

func auditMountPointExists(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[mountPointExistsParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	contents := ctx.GetFileContents(ctx.GetSpecialFilePath("/proc/mounts"))
	if contents.IsErr() {
		return status.Fail[status.Status](contents.Err)
	}
	if _, found := findMountpoint(parseMountTable(contents.Value), string(p.MountPoint)); !found {
		return status.Ok(ind.NonCompliant("Mountpoint '%s' does not exist", p.MountPoint))
	}
	return status.Ok(ind.Compliant("Mountpoint '%s' exists", p.MountPoint))
}
