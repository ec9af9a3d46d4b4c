package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:       "AuditdRulesCheck",
		Audit:      auditAuditdRulesCheck,
		FieldNames: []string{"searchItem", "excludeOption", "requiredOptions"},
		Description: "Merges `auditctl -l` output with rule files under /etc/audit/rules.d, substituting the " +
			"configured UID_MIN into 'auid>=N' clauses, and checks searchItem against excludeOption/requiredOptions.",
	})
}

type auditdParams struct {
	SearchItem      bindings.StringValue                                         `param:"searchItem"`
	ExcludeOption   bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"excludeOption"`
	RequiredOptions bindings.StringValue                                         `param:"requiredOptions"`
}

const defaultUIDMin = 1000

func getUIDMin(ctx registry.Context) int {
	res := ctx.GetFileContents("/etc/login.defs")
	if res.IsErr() {
		return defaultUIDMin
	}
	for _, line := range strings.Split(res.Value, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "UID_MIN") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "UID_MIN"))
		if v, err := strconv.Atoi(rest); err == nil {
			return v
		}
	}
	return defaultUIDMin
}

var auidRegex = regexp2.MustCompile(`\bauid>=\d+\b`, regexp2.None)

func replaceAuidPlaceholder(option string, uidMin int) string {
	replaced := "auid>=" + strconv.Itoa(uidMin)
	out, err := auidRegex.Replace(option, replaced, -1, -1)
	if err != nil {
		return option
	}
	return out
}

func getRulesFromRunningConfig(ctx registry.Context) ([]string, *status.Err) {
	res := ctx.Execute(context.Background(), "auditctl", "-l")
	if res.IsErr() {
		return nil, res.Err
	}
	var rules []string
	for _, line := range strings.Split(res.Value, "\n") {
		if strings.TrimSpace(line) == "No rules" {
			return rules, nil
		}
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			rules = append(rules, line)
		}
	}
	return rules, nil
}

func getRulesFromFilesAtPath(directory string) ([]string, *status.Err) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, status.NewSystemError("failed to open audit rules directory: "+directory, err)
	}
	var rules []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rules") {
			continue
		}
		data, readErr := os.ReadFile(filepath.Join(directory, entry.Name()))
		if readErr != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if idx := strings.IndexByte(line, '#'); idx >= 0 {
				line = line[:idx]
			}
			line = strings.TrimSpace(line)
			if line != "" {
				rules = append(rules, line)
			}
		}
	}
	return rules, nil
}

func findSudoLogfile(ctx registry.Context) (string, *status.Err) {
	logfileRe := regexp2.MustCompile(`logfile\s*=\s*([^,\s]+)`, regexp2.None)
	tryCmd := func(cmd []string) (string, bool) {
		res := ctx.Execute(context.Background(), cmd[0], cmd[1:]...)
		if res.IsErr() || strings.TrimSpace(res.Value) == "" {
			return "", false
		}
		m, err := logfileRe.FindStringMatch(res.Value)
		if err != nil || m == nil {
			return "", false
		}
		groups := m.Groups()
		if len(groups) < 2 {
			return "", false
		}
		return strings.Trim(groups[1].String(), `"`), true
	}
	if v, ok := tryCmd([]string{"sh", "-c", `grep -E '^[[:space:]]*[Dd]efaults.*logfile' /etc/sudoers 2>/dev/null | tail -1`}); ok {
		return v, nil
	}
	if v, ok := tryCmd([]string{"sh", "-c", `grep -h -E '^[[:space:]]*[Dd]efaults.*logfile' /etc/sudoers.d/* 2>/dev/null | tail -1`}); ok {
		return v, nil
	}
	return "", status.NewCallerError("Sudo logfile setting not found")
}

func checkRuleInList(rules []string, searchItem string, excludeRe *regexp2.Regexp, required []*regexp2.Regexp) (bool, string) {
	for _, rule := range rules {
		if !strings.Contains(rule, searchItem) {
			continue
		}
		if excludeRe != nil {
			if m, _ := excludeRe.FindStringMatch(rule); m != nil {
				continue
			}
		}
		for _, req := range required {
			if m, _ := req.FindStringMatch(rule); m == nil {
				return false, "Rule is missing required options: " + rule
			}
		}
		return true, "Rule found: " + rule + " and is properly configured"
	}
	return false, "Rule not found: " + searchItem
}

func auditAuditdRulesCheck(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[auditdParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()

	var excludeRe *regexp2.Regexp
	if p.ExcludeOption.Set {
		re, reErr := regexp2.Compile(string(p.ExcludeOption.Value), regexp2.IgnoreCase)
		if reErr != nil {
			return status.Fail[status.Status](status.NewCallerError("invalid excludeOption regex: %v", reErr))
		}
		excludeRe = re
	}

	uidMin := getUIDMin(ctx)
	var required []*regexp2.Regexp
	for _, opt := range strings.Split(string(p.RequiredOptions), ":") {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		opt = replaceAuidPlaceholder(opt, uidMin)
		re, reErr := regexp2.Compile(opt, regexp2.IgnoreCase)
		if reErr != nil {
			return status.Fail[status.Status](status.NewCallerError("invalid requiredOptions regex: %v", reErr))
		}
		required = append(required, re)
	}

	running, runErr := getRulesFromRunningConfig(ctx)
	if runErr != nil {
		return status.Fail[status.Status](runErr)
	}
	fileRules, fileErr := getRulesFromFilesAtPath(ctx.GetSpecialFilePath("/etc/audit/rules.d"))
	if fileErr != nil {
		return status.Fail[status.Status](fileErr)
	}

	searchItem := string(p.SearchItem)
	switch {
	case strings.HasPrefix(searchItem, "-S "):
		for _, syscall := range strings.Split(strings.TrimPrefix(searchItem, "-S "), ",") {
			item := "-S " + syscall
			if ok, msg := checkRuleInList(running, item, excludeRe, required); !ok {
				return status.Ok(ind.NonCompliant("%s", msg))
			}
			if ok, msg := checkRuleInList(fileRules, item, excludeRe, required); !ok {
				return status.Ok(ind.NonCompliant("%s", msg))
			}
		}
		return status.Ok(ind.Compliant("Rule found: %s and is properly configured", searchItem))
	case strings.HasPrefix(searchItem, "SUDOLOGFILE"):
		logfile, logErr := findSudoLogfile(ctx)
		if logErr != nil {
			return status.Fail[status.Status](logErr)
		}
		item := "-w " + logfile
		if ok, msg := checkRuleInList(running, item, excludeRe, required); !ok {
			return status.Ok(ind.NonCompliant("%s", msg))
		}
		if ok, msg := checkRuleInList(fileRules, item, excludeRe, required); !ok {
			return status.Ok(ind.NonCompliant("%s", msg))
		}
		return status.Ok(ind.Compliant("Rule found: %s and is properly configured", item))
	case strings.HasPrefix(searchItem, "-e 2"):
		if ok, msg := checkRuleInList(fileRules, "-e 2", excludeRe, required); !ok {
			return status.Ok(ind.NonCompliant("%s", msg))
		}
		return status.Ok(ind.Compliant("Rule found: -e 2 and is properly configured"))
	default:
		if ok, msg := checkRuleInList(running, searchItem, excludeRe, required); !ok {
			return status.Ok(ind.NonCompliant("%s", msg))
		}
		if ok, msg := checkRuleInList(fileRules, searchItem, excludeRe, required); !ok {
			return status.Ok(ind.NonCompliant("%s", msg))
		}
		return status.Ok(ind.Compliant("Rule found: %s and is properly configured", searchItem))
	}
}
