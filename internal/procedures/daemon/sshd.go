// Package daemon implements the daemon-configuration builtin family:
// sshd, systemd, and auditd inspection, all built on the same "shell out
// via the command runner, parse key/value text" pattern.
package daemon

import (
	"context"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:       "EnsureSshdOption",
		Audit:      auditSshdOption,
		FieldNames: []string{"option", "value", "op", "mode"},
		Description: "Runs `sshd -T` (or reads sshd_config directly in file mode) and compares one effective option " +
			"against an expected value using the requested comparison operator.",
	})
}

type sshdParams struct {
	Option bindings.StringValue                                         `param:"option"`
	Value  bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"value"`
	Op     bindings.StringValue                                         `param:"op"`
	Mode   bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"mode"`
}

// sshdConfigLines runs `sshd -T` (effective mode) or reads the config file
// directly (file mode) and returns its lines.
func sshdConfigLines(ctx registry.Context, mode string) ([]string, *status.Err) {
	if mode == "file" {
		res := ctx.GetFileContents("/etc/ssh/sshd_config")
		if res.IsErr() {
			return nil, res.Err
		}
		return strings.Split(res.Value, "\n"), nil
	}
	res := ctx.Execute(context.Background(), "sshd", "-T")
	if res.IsErr() {
		return nil, res.Err
	}
	return strings.Split(res.Value, "\n"), nil
}

func auditSshdOption(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[sshdParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()

	mode := "effective"
	if p.Mode.Set && p.Mode.Value != "" {
		mode = string(p.Mode.Value)
	}
	lines, lineErr := sshdConfigLines(ctx, mode)
	if lineErr != nil {
		return status.Fail[status.Status](lineErr)
	}

	wantKey := strings.ToLower(string(p.Option))
	var actual string
	found := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if strings.ToLower(fields[0]) == wantKey {
			actual = strings.Join(fields[1:], " ")
			found = true
			break
		}
	}
	if !found {
		return status.Ok(ind.NonCompliant("sshd option '%s' is not set", p.Option))
	}

	expected := ""
	if p.Value.Set {
		expected = string(p.Value.Value)
	}
	ok, cmpErr := compareOp(actual, expected, string(p.Op))
	if cmpErr != nil {
		return status.Fail[status.Status](status.NewCallerError("%v", cmpErr))
	}
	if !ok {
		return status.Ok(ind.NonCompliant("sshd option '%s' is '%s', expected '%s %s'", p.Option, actual, p.Op, expected))
	}
	return status.Ok(ind.Compliant("sshd option '%s' matches expected value", p.Option))
}

// compareOp evaluates op over actual vs expected for the sshd builtin,
// which compares a single observed string against an expected one.
func compareOp(actual, expected, op string) (bool, error) {
	switch op {
	case "equal", "eq":
		return actual == expected, nil
	case "not-equal", "ne":
		return actual != expected, nil
	case "regex-match", "match":
		re, err := regexp2.Compile(expected, regexp2.ECMAScript)
		if err != nil {
			return false, err
		}
		m, err := re.FindStringMatch(actual)
		if err != nil {
			return false, err
		}
		return m != nil, nil
	case "greater-or-equal-numeric", "ge":
		a, aErr := strconv.ParseFloat(actual, 64)
		e, eErr := strconv.ParseFloat(expected, 64)
		if aErr != nil || eErr != nil {
			return false, aErr
		}
		return a >= e, nil
	default:
		return false, &unknownOpError{op}
	}
}

type unknownOpError struct{ op string }

func (e *unknownOpError) Error() string { return "unknown comparison operator '" + e.op + "'" }
