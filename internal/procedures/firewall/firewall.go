// Package firewall implements the firewall-inspection builtins: all
// three variants shell out to the corresponding firewall CLI and pattern
// match its text output, since neither ufw nor iptables expose a
// machine-readable query mode.
package firewall

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
		Name:        "EnsureUfwOpenPorts",
		Audit:       auditUfwOpenPorts,
		FieldNames:  []string{"ports"},
		Description: "Checks that `ufw status` shows every port in the comma-separated 'ports' list as ALLOW.",
	})
	registry.Register(registry.Builtin{
		Name:        "UfwStatus",
		Audit:       auditUfwStatus,
		FieldNames:  []string{"statusRegex"},
		Description: "Checks that `ufw status verbose`'s output matches statusRegex (e.g. confirming the default-deny policy).",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureIptablesOpenPorts",
		Audit:       auditIptablesOpenPorts,
		FieldNames:  []string{"ports"},
		Description: "Checks that `iptables -L` accepts every port in the comma-separated 'ports' list.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureIp6tablesOpenPorts",
		Audit:       auditIp6tablesOpenPorts,
		FieldNames:  []string{"ports"},
		Description: "Checks that `ip6tables -L` accepts every port in the comma-separated 'ports' list.",
	})
}

type portsParams struct {
	Ports bindings.Separated[bindings.StringValue, *bindings.StringValue] `param:"ports" sep:","`
}

func auditUfwOpenPorts(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[portsParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), "ufw", "status")
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	overall := status.Compliant
	for _, port := range p.Ports.Items {
		if !strings.Contains(res.Value, string(port)+"/tcp") && !strings.Contains(res.Value, string(port)+"/udp") && !strings.Contains(res.Value, string(port)) {
			ind.NonCompliant("Port '%s' is not allowed by ufw", port)
			overall = status.NonCompliant
			continue
		}
		allowed := false
		for _, line := range strings.Split(res.Value, "\n") {
			f := strings.Fields(line)
			if len(f) > 0 && (f[0] == string(port) || strings.HasPrefix(f[0], string(port)+"/")) && strings.Contains(line, "ALLOW") {
				allowed = true
				break
			}
		}
		if !allowed {
			ind.NonCompliant("Port '%s' has no ALLOW rule in ufw", port)
			overall = status.NonCompliant
			continue
		}
		ind.Compliant("Port '%s' is allowed by ufw", port)
	}
	if overall == status.Compliant {
		ind.SetStatus(status.Compliant)
	}
	return status.Ok(overall)
}

type statusRegexParams struct {
	StatusRegex bindings.StringValue `param:"statusRegex"`
}

func auditUfwStatus(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[statusRegexParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), "ufw", "status", "verbose")
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	re, reErr := regexp2.Compile(string(p.StatusRegex), regexp2.None)
	if reErr != nil {
		return status.Fail[status.Status](status.NewCallerError("Pattern match failed: %v", reErr))
	}
	m, matchErr := re.FindStringMatch(res.Value)
	if matchErr != nil {
		return status.Fail[status.Status](status.NewCallerError("Pattern match failed: %v", matchErr))
	}
	if m == nil {
		return status.Ok(ind.NonCompliant("ufw status output does not match '%s'", p.StatusRegex))
	}
	return status.Ok(ind.Compliant("ufw status output matches '%s'", p.StatusRegex))
}

func iptablesOpenPorts(ctx registry.Context, rawArgs map[string]string, binary string) status.Result[status.Status] {
	p, err := bindings.Bind[portsParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), binary, "-L", "-n")
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	overall := status.Compliant
	for _, port := range p.Ports.Items {
		accepted := false
		for _, line := range strings.Split(res.Value, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "ACCEPT") && strings.Contains(line+" ", " dpt:"+string(port)+" ") {
				accepted = true
				break
			}
		}
		if !accepted {
			ind.NonCompliant("Port '%s' has no ACCEPT rule in %s", port, binary)
			overall = status.NonCompliant
			continue
		}
		ind.Compliant("Port '%s' has an ACCEPT rule in %s", port, binary)
	}
	if overall == status.Compliant {
		ind.SetStatus(status.Compliant)
	}
	return status.Ok(overall)
}

func auditIptablesOpenPorts(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return iptablesOpenPorts(ctx, rawArgs, "iptables")
}

func auditIp6tablesOpenPorts(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	return iptablesOpenPorts(ctx, rawArgs, "ip6tables")
}
