package daemon

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
		Name:       "SystemdParameter",
		Audit:      auditSystemdParameter,
		FieldNames: []string{"parameter", "valueRegex", "file", "dir"},
		Description: "Runs `systemd-analyze cat-config` against a file or directory target and tests the last " +
			"assignment of parameter= against valueRegex.",
	})
	registry.Register(registry.Builtin{
		Name:       "SystemdUnitState",
		Audit:      auditSystemdUnitState,
		FieldNames: []string{"unitName", "ActiveState", "LoadState", "UnitFileState", "Unit"},
		Description: "Runs `systemctl show` for a unit and checks each supplied expected property value.",
	})
}

type systemdParameterParams struct {
	Parameter  bindings.StringValue                                         `param:"parameter"`
	ValueRegex bindings.StringValue                                         `param:"valueRegex"`
	File       bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"file"`
	Dir        bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"dir"`
}

func auditSystemdParameter(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[systemdParameterParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()

	if p.File.Set == p.Dir.Set {
		return status.Fail[status.Status](status.NewCallerError("exactly one of 'file' or 'dir' must be supplied"))
	}
	target := string(p.File.Value)
	if p.Dir.Set {
		target = string(p.Dir.Value)
	}

	res := ctx.Execute(context.Background(), "systemd-analyze", "cat-config", target)
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}

	prefix := string(p.Parameter) + "="
	var lastValue string
	found := false
	for _, line := range strings.Split(res.Value, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}
		if strings.HasPrefix(line, prefix) {
			lastValue = strings.TrimPrefix(line, prefix)
			found = true
		}
	}
	if !found {
		return status.Ok(ind.NonCompliant("parameter '%s' is not set in '%s'", p.Parameter, target))
	}

	re, reErr := regexp2.Compile(string(p.ValueRegex), regexp2.ECMAScript)
	if reErr != nil {
		return status.Fail[status.Status](status.NewCallerError("invalid valueRegex: %v", reErr))
	}
	m, matchErr := re.FindStringMatch(lastValue)
	if matchErr != nil {
		return status.Fail[status.Status](status.NewCallerError("regex error: %v", matchErr))
	}
	if m == nil {
		return status.Ok(ind.NonCompliant("parameter '%s' value '%s' does not match '%s'", p.Parameter, lastValue, p.ValueRegex))
	}
	return status.Ok(ind.Compliant("parameter '%s' value '%s' matches '%s'", p.Parameter, lastValue, p.ValueRegex))
}

type systemdUnitStateParams struct {
	UnitName      bindings.StringValue                                         `param:"unitName"`
	ActiveState   bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"ActiveState"`
	LoadState     bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"LoadState"`
	UnitFileState bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"UnitFileState"`
	Unit          bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"Unit"`
}

func auditSystemdUnitState(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[systemdUnitStateParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()

	checks := []struct {
		prop string
		want bindings.Optional[bindings.StringValue, *bindings.StringValue]
	}{
		{"ActiveState", p.ActiveState},
		{"LoadState", p.LoadState},
		{"UnitFileState", p.UnitFileState},
		{"Unit", p.Unit},
	}

	anyChecked := false
	for _, c := range checks {
		if !c.want.Set {
			continue
		}
		anyChecked = true
		res := ctx.Execute(context.Background(), "systemctl", "show", "-p", c.prop, string(p.UnitName))
		if res.IsErr() {
			return status.Fail[status.Status](res.Err)
		}
		actual := strings.TrimPrefix(strings.TrimSpace(res.Value), c.prop+"=")
		if actual != string(c.want.Value) {
			return status.Ok(ind.NonCompliant("unit '%s' property '%s' is '%s', expected '%s'", p.UnitName, c.prop, actual, c.want.Value))
		}
	}
	if !anyChecked {
		return status.Fail[status.Status](status.NewCallerError("at least one expected property must be supplied"))
	}
	return status.Ok(ind.Compliant("unit '%s' matches all expected properties", p.UnitName))
}
