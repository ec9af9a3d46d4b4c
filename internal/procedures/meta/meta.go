// Package meta implements the testing/meta builtin family: unconditional
// leaf verdicts and a parameter-echo procedure used by the test harness to
// verify the binding and substitution layers end to end.
package meta

import (
	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:        "AuditSuccess",
		Audit:       auditSuccess,
		FieldNames:  []string{"message"},
		Description: "Unconditionally returns Compliant; used by test harnesses to exercise tree plumbing.",
	})
	registry.Register(registry.Builtin{
		Name:        "AuditFailure",
		Audit:       auditFailure,
		FieldNames:  []string{"message"},
		Description: "Unconditionally returns NonCompliant; used by test harnesses.",
	})
	registry.Register(registry.Builtin{
		Name:        "RemediationSuccess",
		Remediate:   remediationSuccess,
		FieldNames:  []string{"message"},
		Description: "Unconditionally returns Compliant on remediate; used by test harnesses.",
	})
	registry.Register(registry.Builtin{
		Name:        "RemediationFailure",
		Remediate:   remediationFailure,
		FieldNames:  []string{"message"},
		Description: "Unconditionally returns NonCompliant on remediate; used by test harnesses.",
	})
	registry.Register(registry.Builtin{
		Name:        "RemediationParametrized",
		Remediate:   remediationParametrized,
		FieldNames:  []string{"result"},
		Description: "Returns the status named by its 'result' parameter ('compliant'|'non_compliant'); used by test harnesses to drive a specific remediation outcome.",
	})
	registry.Register(registry.Builtin{
		Name:        "AuditGetParamValues",
		Audit:       auditGetParamValues,
		FieldNames:  []string{"KEY1", "KEY2", "KEY3"},
		Description: "Echoes its (possibly substituted) parameter values into the indicator tree, verifying the binding and $-substitution layers end to end.",
	})
}

type messageParams struct {
	Message bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"message"`
}

func auditSuccess(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[messageParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	if p.Message.Set {
		return status.Ok(ind.Compliant("%s", p.Message.Value))
	}
	return status.Ok(ind.Compliant("AuditSuccess"))
}

func auditFailure(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[messageParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	if p.Message.Set {
		return status.Ok(ind.NonCompliant("%s", p.Message.Value))
	}
	return status.Ok(ind.NonCompliant("AuditFailure"))
}

func remediationSuccess(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[messageParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	if p.Message.Set {
		return status.Ok(ind.Compliant("%s", p.Message.Value))
	}
	return status.Ok(ind.Compliant("RemediationSuccess"))
}

func remediationFailure(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[messageParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	if p.Message.Set {
		return status.Ok(ind.NonCompliant("%s", p.Message.Value))
	}
	return status.Ok(ind.NonCompliant("RemediationFailure"))
}

type parametrizedParams struct {
	Result bindings.StringValue `param:"result"`
}

func remediationParametrized(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[parametrizedParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	switch string(p.Result) {
	case "compliant":
		return status.Ok(ind.Compliant("RemediationParametrized: compliant"))
	case "non_compliant":
		return status.Ok(ind.NonCompliant("RemediationParametrized: non_compliant"))
	default:
		return status.Fail[status.Status](status.NewCallerError("Invalid value '%s' for enumeration parameter", p.Result))
	}
}

type getParamValuesParams struct {
	Key1 bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"KEY1"`
	Key2 bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"KEY2"`
	Key3 bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"KEY3"`
}

func auditGetParamValues(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[getParamValuesParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	ind.Compliant("KEY1=%s KEY2=%s KEY3=%s", optString(p.Key1), optString(p.Key2), optString(p.Key3))
	return status.Ok(status.Compliant)
}

func optString(o bindings.Optional[bindings.StringValue, *bindings.StringValue]) string {
	if !o.Set {
		return "<unset>"
	}
	return string(o.Value)
}
