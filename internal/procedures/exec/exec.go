// Package exec implements the command-output and script-execution
// builtins: generic escape hatches that run an arbitrary command or
// script and judge compliance from its output,
// letting a benchmark express a check this engine has no dedicated
// builtin for.
package exec

import (
	"context"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:       "ExecuteCommandGrep",
		Audit:      auditExecuteCommandGrep,
		FieldNames: []string{"command", "awk", "regex", "type"},
		Description: "Runs command (optionally piped through awk), matches its output against regex, and judges " +
			"compliance per type ('match_compliant' or 'match_non_compliant').",
	})
	registry.Register(registry.Builtin{
		Name:        "SCE",
		Audit:       auditSCE,
		Remediate:   remediateSCE,
		FieldNames:  []string{"scriptName", "ENVIRONMENT"},
		Description: "Runs a Script Check Engine script by name from /etc/osconfig/scripts and maps its output to a status: output ending in PASS (or exactly 0) compliant, ending in FAIL (or exactly 1) non-compliant, anything else an error; a script that cannot run or exits non-zero is an error.",
	})
}

type executeCommandGrepParams struct {
	Command bindings.StringValue                                         `param:"command"`
	Awk     bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"awk"`
	Regex   bindings.StringValue                                         `param:"regex"`
	Type    bindings.StringValue                                         `param:"type"`
}

func auditExecuteCommandGrep(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[executeCommandGrepParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	switch string(p.Type) {
	case "match_compliant", "match_non_compliant":
	default:
		return status.Fail[status.Status](status.NewCallerError("Invalid value '%s' for enumeration parameter", p.Type))
	}

	res := ctx.Execute(context.Background(), "/bin/sh", "-c", string(p.Command))
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	output := res.Value
	if p.Awk.Set {
		awkRes := ctx.Execute(context.Background(), "/bin/sh", "-c", string(p.Command)+" | awk '"+string(p.Awk.Value)+"'")
		if awkRes.IsErr() {
			return status.Fail[status.Status](awkRes.Err)
		}
		output = awkRes.Value
	}

	re, reErr := regexp2.Compile(string(p.Regex), regexp2.None)
	if reErr != nil {
		return status.Fail[status.Status](status.NewCallerError("Pattern match failed: %v", reErr))
	}
	m, matchErr := re.FindStringMatch(output)
	if matchErr != nil {
		return status.Fail[status.Status](status.NewCallerError("Pattern match failed: %v", matchErr))
	}
	matched := m != nil

	wantMatch := string(p.Type) == "match_compliant"
	if matched == wantMatch {
		return status.Ok(ind.Compliant("Command output %s regex '%s' as required", matchVerb(matched), p.Regex))
	}
	return status.Ok(ind.NonCompliant("Command output %s regex '%s'", matchVerb(matched), p.Regex))
}

func matchVerb(matched bool) string {
	if matched {
		return "matches"
	}
	return "does not match"
}

type sceParams struct {
	ScriptName  bindings.StringValue                                         `param:"scriptName"`
	Environment bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"ENVIRONMENT"`
}

// defaultSceDir is the well-known Script Check Engine content root.
const defaultSceDir = "/etc/osconfig/scripts"

func auditSCE(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return runSCE(ctx, rawArgs, "audit")
}

func remediateSCE(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return runSCE(ctx, rawArgs, "remediate")
}

func runSCE(ctx registry.Context, rawArgs map[string]string, mode string) status.Result[status.Status] {
	p, err := bindings.Bind[sceParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	scriptPath := defaultSceDir + "/" + string(p.ScriptName)

	args := []string{scriptPath, mode}
	if p.Environment.Set {
		args = append(args, string(p.Environment.Value))
	}
	res := ctx.Execute(context.Background(), args[0], args[1:]...)
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	trimmed := strings.TrimSpace(res.Value)
	switch {
	case strings.HasSuffix(trimmed, "PASS") || trimmed == "0":
		return status.Ok(ind.Compliant("Script '%s' reported PASS", p.ScriptName))
	case strings.HasSuffix(trimmed, "FAIL") || trimmed == "1":
		return status.Ok(ind.NonCompliant("Script '%s' reported FAIL", p.ScriptName))
	default:
		return status.Ok(ind.Errorf("Script '%s' produced an unrecognized result: %s", p.ScriptName, trimmed))
	}
}
