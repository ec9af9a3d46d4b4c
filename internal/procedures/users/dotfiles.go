package users

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wharflab/complianceengine/internal/procedures/fileperm"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:      "EnsureInteractiveUsersDotFilesAccessIsConfigured",
		Audit:     auditDotFiles,
		Remediate: remediateDotFiles,
		Description: "Walks every interactive user's home directory and checks dotfile ownership/permissions: " +
			".forward/.rhost must not exist, .netrc/.bash_history get mask 0177, all other dotfiles get mask 0133.",
	})
}

type passwdRecord struct {
	username string
	uid      string
	gid      string
	home     string
	shell    string
}

func parsePasswd(contents string) []passwdRecord {
	var out []passwdRecord
	for _, line := range strings.Split(contents, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f := strings.Split(line, ":")
		if len(f) < 7 {
			continue
		}
		out = append(out, passwdRecord{username: f[0], uid: f[2], gid: f[3], home: f[5], shell: f[6]})
	}
	return out
}

func validShells(contents string) map[string]bool {
	out := make(map[string]bool)
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[line] = true
	}
	return out
}

func isInteractive(rec passwdRecord, shells map[string]bool) bool {
	if !shells[rec.shell] {
		return false
	}
	return !strings.Contains(rec.shell, "nologin") && rec.shell != "/bin/false" && rec.shell != ""
}

// interactiveUsers returns every passwd record whose shell is listed in
// /etc/shells and is not a nologin shell
func interactiveUsers(ctx registry.Context) ([]passwdRecord, *status.Err) {
	passwdContents := ctx.GetFileContents(ctx.GetSpecialFilePath("/etc/passwd"))
	if passwdContents.IsErr() {
		return nil, passwdContents.Err
	}
	shellsContents := ctx.GetFileContents(ctx.GetSpecialFilePath("/etc/shells"))
	shells := map[string]bool{}
	if !shellsContents.IsErr() {
		shells = validShells(shellsContents.Value)
	}

	var out []passwdRecord
	for _, rec := range parsePasswd(passwdContents.Value) {
		if isInteractive(rec, shells) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// dotfileRule classifies one dotfile entry: forbidden entries must not
// exist, sensitive entries get the tighter mask, and every other dotfile
// gets the default mask. ".ssh" is a directory, not a dotfile, and is
// skipped entirely.
func dotfileRule(name string) (forbidden bool, sensitive bool) {
	switch name {
	case ".forward", ".rhost":
		return true, false
	case ".netrc", ".bash_history":
		return false, true
	default:
		return false, false
	}
}

func walkUserDotfiles(ctx registry.Context, user passwdRecord, remediate bool) status.Result[status.Status] {
	ind := ctx.Indicators()
	entries, err := os.ReadDir(user.home)
	if err != nil {
		if os.IsNotExist(err) {
			return status.Ok(ind.Compliant("Home directory '%s' for user '%s' does not exist", user.home, user.username))
		}
		return status.Fail[status.Status](status.NewSystemError("failed to read home directory "+user.home, err))
	}

	overall := status.Compliant
	any := false
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, ".") || name == "." || name == ".." {
			continue
		}
		if name == ".ssh" {
			continue
		}
		if entry.IsDir() {
			continue
		}
		any = true
		path := filepath.Join(user.home, name)

		forbidden, sensitive := dotfileRule(name)
		if forbidden {
			if remediate {
				ind.Push(name)
				ind.NonCompliant("'%s' is present and must be removed manually", path)
				ind.Pop()
				overall = status.NonCompliant
				continue
			}
			ind.Push(name)
			ind.NonCompliant("'%s' must not exist", path)
			ind.Pop()
			overall = status.NonCompliant
			continue
		}

		mask := uint32(0o133)
		if sensitive {
			mask = 0o177
		}
		args := map[string]string{
			"filename": path,
			"owner":    user.username,
			"group":    primaryGroupName(ctx, user.gid),
			"mask":     fmt.Sprintf("0%o", mask),
		}
		ind.Push(name)
		var res status.Result[status.Status]
		if remediate {
			res = fileperm.RemediateEnsureFilePermissions(ctx, args)
		} else {
			res = fileperm.AuditEnsureFilePermissions(ctx, args)
		}
		ind.Pop()
		if res.IsErr() {
			return res
		}
		if res.Value != status.Compliant {
			overall = res.Value
		}
	}

	if !any {
		return status.Ok(ind.Compliant("User '%s' has no dotfiles to inspect", user.username))
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("All dotfiles for user '%s' are correctly configured", user.username))
	}
	return status.Ok(ind.NonCompliant("One or more dotfiles for user '%s' are misconfigured", user.username))
}

// primaryGroupName resolves a numeric gid to a name via /etc/group,
// falling back to the numeric string if no entry is found.
func primaryGroupName(ctx registry.Context, gid string) string {
	contents := ctx.GetFileContents(ctx.GetSpecialFilePath("/etc/group"))
	if contents.IsErr() {
		return gid
	}
	for _, line := range strings.Split(contents.Value, "\n") {
		f := strings.Split(line, ":")
		if len(f) < 3 {
			continue
		}
		if f[2] == gid {
			return f[0]
		}
	}
	return gid
}

func auditDotFiles(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	return walkAllUsers(ctx, false)
}

func remediateDotFiles(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	return walkAllUsers(ctx, true)
}

// walkAllUsers accumulates findings across every interactive user without
// short-circuiting: a misconfiguration for one user must
// not hide findings for the next.
func walkAllUsers(ctx registry.Context, remediate bool) status.Result[status.Status] {
	ind := ctx.Indicators()
	users, err := interactiveUsers(ctx)
	if err != nil {
		return status.Fail[status.Status](err)
	}

	overall := status.Compliant
	for _, u := range users {
		ind.Push(u.username)
		res := walkUserDotfiles(ctx, u, remediate)
		ind.Pop()
		if res.IsErr() {
			return res
		}
		if res.Value != status.Compliant {
			overall = res.Value
		}
	}
	if overall == status.Compliant {
		ind.SetStatus(status.Compliant)
	} else {
		ind.SetStatus(overall)
	}
	return status.Ok(overall)
}
