package users

import (
	"os"
	"strconv"
	"strings"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:        "EnsureAccountsWithoutShellAreLocked",
		Audit:       auditAccountsWithoutShellAreLocked,
		Description: "Every /etc/passwd entry whose shell is nologin/false must carry a locked (!/*-prefixed) shadow password.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureAllGroupsFromEtcPasswdExistInEtcGroup",
		Audit:       auditAllGroupsExistInGroup,
		Remediate:   remediateAllGroupsExistInGroup,
		Description: "Every gid referenced from /etc/passwd must have a corresponding /etc/group entry; remediation appends a placeholder group entry for any gid that is missing one.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureSystemAccountsDoNotHaveValidShell",
		Audit:       auditSystemAccountsNoValidShell,
		Description: "Every account with uid below 1000 (excluding root, sync, shutdown and halt) must have a nologin/false shell, per CIS system-account hardening.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureNoUserHasPrimaryShadowGroup",
		Audit:       auditNoUserHasPrimaryShadowGroup,
		Description: "No /etc/passwd entry may carry the 'shadow' group as its primary gid.",
	})
	registry.Register(registry.Builtin{
		Name:       "EnsureGroupIsOnlyGroupWith",
		Audit:      auditGroupIsOnlyGroupWith,
		FieldNames: []string{"group", "gid", "test_etcGroupPath"},
		Description: "Checks that gid in /etc/group is claimed by exactly one group name (the expected one).",
	})
	registry.Register(registry.Builtin{
		Name:       "EnsureUserIsOnlyAccountWith",
		Audit:      auditUserIsOnlyAccountWith,
		FieldNames: []string{"username", "uid", "gid", "test_etcPasswdPath"},
		Description: "Checks that uid (and, if given, gid) in /etc/passwd is claimed by exactly one account name.",
	})
	registry.Register(registry.Builtin{
		Name:       "EnsurePasswordChangeIsInPast",
		Audit:      auditPasswordChangeIsInPast,
		FieldNames: []string{"test_etcShadowPath"},
		Description: "Every /etc/shadow record's last-change date must not be in the future relative to the evaluation clock.",
	})
	registry.Register(registry.Builtin{
		Name:       "EnsureNoDuplicateEntriesExist",
		Audit:      auditNoDuplicateEntriesExist,
		FieldNames: []string{"filename", "delimiter", "column", "context"},
		Description: "Checks that a delimiter-separated file (e.g. /etc/passwd, /etc/group) carries no duplicate values in the given column.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureInteractiveUsersHomeDirectoriesAreConfigured",
		Audit:       auditInteractiveUsersHomeDirectories,
		Remediate:   remediateInteractiveUsersHomeDirectories,
		Description: "Every interactive user's home directory must exist and not be group/other-writable; its owner is not checked.",
	})
}

func auditAccountsWithoutShellAreLocked(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	ind := ctx.Indicators()
	passwdContents := ctx.GetFileContents(ctx.GetSpecialFilePath("/etc/passwd"))
	if passwdContents.IsErr() {
		return status.Fail[status.Status](passwdContents.Err)
	}
	shadowContents := ctx.GetFileContents(ctx.GetSpecialFilePath("/etc/shadow"))
	if shadowContents.IsErr() {
		return status.Fail[status.Status](shadowContents.Err)
	}
	shadowPasswords := map[string]string{}
	for _, rec := range parseShadow(shadowContents.Value) {
		shadowPasswords[shadowFieldValue(rec, "username")] = shadowFieldValue(rec, "password")
	}

	overall := status.Compliant
	for _, rec := range parsePasswd(passwdContents.Value) {
		if !strings.Contains(rec.shell, "nologin") && rec.shell != "/bin/false" && rec.shell != "/sbin/nologin" {
			continue
		}
		pw, ok := shadowPasswords[rec.username]
		if !ok || (!strings.HasPrefix(pw, "!") && !strings.HasPrefix(pw, "*")) {
			ind.NonCompliant("Account '%s' has a no-shell entry but is not locked in /etc/shadow", rec.username)
			overall = status.NonCompliant
		}
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("All no-shell accounts are locked"))
	}
	return status.Ok(overall)
}

func auditAllGroupsExistInGroup(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	missing, passwdContents, groupContents, err := findMissingGroups(ctx, rawArgs)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	_ = passwdContents
	_ = groupContents
	ind := ctx.Indicators()
	if len(missing) == 0 {
		return status.Ok(ind.Compliant("Every gid referenced from /etc/passwd exists in /etc/group"))
	}
	return status.Ok(ind.NonCompliant("gids missing from /etc/group: %s", strings.Join(missing, ", ")))
}

func remediateAllGroupsExistInGroup(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	missing, _, groupPath, err := findMissingGroups(ctx, rawArgs)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	if len(missing) == 0 {
		return status.Ok(ind.Compliant("Every gid referenced from /etc/passwd exists in /etc/group"))
	}
	f, openErr := os.OpenFile(groupPath, os.O_APPEND|os.O_WRONLY, 0)
	if openErr != nil {
		return status.Fail[status.Status](status.NewSystemError("failed to open "+groupPath+" for append", openErr))
	}
	defer f.Close()
	for _, gid := range missing {
		if _, writeErr := f.WriteString("group" + gid + ":x:" + gid + ":\n"); writeErr != nil {
			return status.Fail[status.Status](status.NewSystemError("failed to append group entry", writeErr))
		}
	}
	return status.Ok(ind.Compliant("Added placeholder /etc/group entries for gids: %s", strings.Join(missing, ", ")))
}

func findMissingGroups(ctx registry.Context, rawArgs map[string]string) ([]string, string, string, *status.Err) {
	if len(rawArgs) != 0 {
		return nil, "", "", status.NewCallerError("Too many arguments provided")
	}
	passwdPath := ctx.GetSpecialFilePath("/etc/passwd")
	groupPath := ctx.GetSpecialFilePath("/etc/group")
	passwdContents := ctx.GetFileContents(passwdPath)
	if passwdContents.IsErr() {
		return nil, "", "", passwdContents.Err
	}
	groupContents := ctx.GetFileContents(groupPath)
	if groupContents.IsErr() {
		return nil, "", "", groupContents.Err
	}
	knownGids := map[string]bool{}
	for _, line := range strings.Split(groupContents.Value, "\n") {
		f := strings.Split(line, ":")
		if len(f) >= 3 {
			knownGids[f[2]] = true
		}
	}
	seen := map[string]bool{}
	var missing []string
	for _, rec := range parsePasswd(passwdContents.Value) {
		if knownGids[rec.gid] || seen[rec.gid] {
			continue
		}
		seen[rec.gid] = true
		missing = append(missing, rec.gid)
	}
	return missing, passwdPath, groupPath, nil
}

const systemAccountUIDMin = 1000

func auditSystemAccountsNoValidShell(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	ind := ctx.Indicators()
	passwdContents := ctx.GetFileContents(ctx.GetSpecialFilePath("/etc/passwd"))
	if passwdContents.IsErr() {
		return status.Fail[status.Status](passwdContents.Err)
	}
	overall := status.Compliant
	for _, rec := range parsePasswd(passwdContents.Value) {
		uid, convErr := strconv.Atoi(rec.uid)
		if convErr != nil || uid == 0 || uid >= systemAccountUIDMin {
			continue
		}
		if rec.username == "root" || rec.username == "sync" || rec.username == "shutdown" || rec.username == "halt" {
			continue
		}
		if !strings.Contains(rec.shell, "nologin") && rec.shell != "/bin/false" && rec.shell != "" {
			ind.NonCompliant("System account '%s' (uid %d) has shell '%s'", rec.username, uid, rec.shell)
			overall = status.NonCompliant
		}
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("All system accounts have a nologin/false shell"))
	}
	return status.Ok(overall)
}

func auditNoUserHasPrimaryShadowGroup(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	ind := ctx.Indicators()
	passwdContents := ctx.GetFileContents(ctx.GetSpecialFilePath("/etc/passwd"))
	if passwdContents.IsErr() {
		return status.Fail[status.Status](passwdContents.Err)
	}
	groupContents := ctx.GetFileContents(ctx.GetSpecialFilePath("/etc/group"))
	if groupContents.IsErr() {
		return status.Fail[status.Status](groupContents.Err)
	}
	shadowGid := ""
	for _, line := range strings.Split(groupContents.Value, "\n") {
		f := strings.Split(line, ":")
		if len(f) >= 3 && f[0] == "shadow" {
			shadowGid = f[2]
		}
	}
	if shadowGid == "" {
		return status.Ok(ind.Compliant("No 'shadow' group is defined"))
	}
	overall := status.Compliant
	for _, rec := range parsePasswd(passwdContents.Value) {
		if rec.gid == shadowGid {
			ind.NonCompliant("User '%s' has primary group 'shadow'", rec.username)
			overall = status.NonCompliant
		}
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("No user has 'shadow' as its primary group"))
	}
	return status.Ok(overall)
}

type groupOnlyParams struct {
	Group             bindings.StringValue                                         `param:"group"`
	Gid               bindings.StringValue                                         `param:"gid"`
	TestEtcGroupPath  bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"test_etcGroupPath"`
}

func auditGroupIsOnlyGroupWith(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[groupOnlyParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	path := "/etc/group"
	if p.TestEtcGroupPath.Set {
		path = string(p.TestEtcGroupPath.Value)
	} else {
		path = ctx.GetSpecialFilePath(path)
	}
	contents := ctx.GetFileContents(path)
	if contents.IsErr() {
		return status.Fail[status.Status](contents.Err)
	}
	var claimants []string
	for _, line := range strings.Split(contents.Value, "\n") {
		f := strings.Split(line, ":")
		if len(f) >= 3 && f[2] == string(p.Gid) {
			claimants = append(claimants, f[0])
		}
	}
	if len(claimants) == 1 && claimants[0] == string(p.Group) {
		return status.Ok(ind.Compliant("gid %s is claimed only by group '%s'", p.Gid, p.Group))
	}
	return status.Ok(ind.NonCompliant("gid %s is claimed by: %s (expected only '%s')", p.Gid, strings.Join(claimants, ", "), p.Group))
}

type userOnlyParams struct {
	Username          bindings.StringValue                                         `param:"username"`
	Uid               bindings.StringValue                                         `param:"uid"`
	Gid               bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"gid"`
	TestEtcPasswdPath bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"test_etcPasswdPath"`
}

func auditUserIsOnlyAccountWith(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[userOnlyParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	path := "/etc/passwd"
	if p.TestEtcPasswdPath.Set {
		path = string(p.TestEtcPasswdPath.Value)
	} else {
		path = ctx.GetSpecialFilePath(path)
	}
	contents := ctx.GetFileContents(path)
	if contents.IsErr() {
		return status.Fail[status.Status](contents.Err)
	}
	var claimants []string
	for _, rec := range parsePasswd(contents.Value) {
		if rec.uid != string(p.Uid) {
			continue
		}
		if p.Gid.Set && rec.gid != string(p.Gid.Value) {
			continue
		}
		claimants = append(claimants, rec.username)
	}
	if len(claimants) == 1 && claimants[0] == string(p.Username) {
		return status.Ok(ind.Compliant("uid %s is claimed only by account '%s'", p.Uid, p.Username))
	}
	return status.Ok(ind.NonCompliant("uid %s is claimed by: %s (expected only '%s')", p.Uid, strings.Join(claimants, ", "), p.Username))
}

type passwordChangeParams struct {
	TestEtcShadowPath bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"test_etcShadowPath"`
}

func auditPasswordChangeIsInPast(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[passwordChangeParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	path := "/etc/shadow"
	if p.TestEtcShadowPath.Set {
		path = string(p.TestEtcShadowPath.Value)
	} else {
		path = ctx.GetSpecialFilePath(path)
	}
	contents := ctx.GetFileContents(path)
	if contents.IsErr() {
		return status.Fail[status.Status](contents.Err)
	}
	today := int(ctx.Now().Unix() / 86400)
	overall := status.Compliant
	for _, rec := range parseShadow(contents.Value) {
		raw := shadowFieldValue(rec, "chg_lst")
		if raw == "" {
			continue
		}
		days, convErr := strconv.Atoi(raw)
		if convErr != nil {
			continue
		}
		if days > today {
			ind.NonCompliant("User '%s' has a last-change date in the future", shadowFieldValue(rec, "username"))
			overall = status.NonCompliant
		}
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("No account has a future password-change date"))
	}
	return status.Ok(overall)
}

type noDuplicateParams struct {
	Filename  bindings.StringValue                                         `param:"filename"`
	Delimiter bindings.StringValue                                         `param:"delimiter"`
	Column    bindings.IntValue                                            `param:"column"`
	Context   bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"context"`
}

func auditNoDuplicateEntriesExist(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[noDuplicateParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	contents := ctx.GetFileContents(ctx.GetSpecialFilePath(string(p.Filename)))
	if contents.IsErr() {
		return status.Fail[status.Status](contents.Err)
	}
	col := int(p.Column)
	seen := map[string]int{}
	for _, line := range strings.Split(contents.Value, "\n") {
		if line == "" {
			continue
		}
		f := strings.Split(line, string(p.Delimiter))
		if col >= len(f) {
			continue
		}
		seen[f[col]]++
	}
	var dupes []string
	for val, count := range seen {
		if count > 1 {
			dupes = append(dupes, val)
		}
	}
	if len(dupes) == 0 {
		return status.Ok(ind.Compliant("No duplicate values in column %d of '%s'", col, p.Filename))
	}
	return status.Ok(ind.NonCompliant("Duplicate values in column %d of '%s': %s", col, p.Filename, strings.Join(dupes, ", ")))
}

func auditInteractiveUsersHomeDirectories(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return walkHomeDirectories(ctx, rawArgs, false)
}

func remediateInteractiveUsersHomeDirectories(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return walkHomeDirectories(ctx, rawArgs, true)
}

func walkHomeDirectories(ctx registry.Context, rawArgs map[string]string, remediate bool) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	ind := ctx.Indicators()
	usersList, err := interactiveUsers(ctx)
	if err != nil {
		return status.Fail[status.Status](err)
	}

	overall := status.Compliant
	for _, u := range usersList {
		ind.Push(u.username)
		info, statErr := os.Stat(u.home)
		switch {
		case statErr != nil && os.IsNotExist(statErr):
			ind.NonCompliant("Home directory '%s' does not exist", u.home)
			overall = status.NonCompliant
		case statErr != nil:
			ind.Pop()
			return status.Fail[status.Status](status.NewSystemError("stat failed for "+u.home, statErr))
		default:
			mode := info.Mode().Perm()
			if mode&0o022 != 0 {
				if remediate {
					if chErr := os.Chmod(u.home, mode&^0o022); chErr != nil {
						ind.Pop()
						return status.Fail[status.Status](status.NewSystemError("chmod failed for "+u.home, chErr))
					}
					ind.Compliant("Removed group/other write bits from '%s'", u.home)
				} else {
					ind.NonCompliant("Home directory '%s' is group or other writable", u.home)
					overall = status.NonCompliant
				}
			} else {
				ind.Compliant("Home directory '%s' is correctly configured", u.home)
			}
		}
		ind.Pop()
	}
	if overall == status.Compliant {
		ind.SetStatus(status.Compliant)
	} else {
		ind.SetStatus(overall)
	}
	return status.Ok(overall)
}
