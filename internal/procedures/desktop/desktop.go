// Package desktop implements the desktop/workstation hardening builtins.
// These checks only apply meaningfully to hosts running a desktop stack,
// but the engine runs them unconditionally; a missing gsettings/dconf
// binary or sysfs entry is treated as compliant-by-absence rather than an
// error, since a server image without a desktop has nothing to harden.
package desktop

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func init() {
	registry.Register(registry.Builtin{
		Name:       "EnsureDconf",
		Audit:      auditDconf,
		Remediate:  remediateDconf,
		FieldNames: []string{"key", "value", "operation"},
		Description: "Checks or sets a dconf key via `dconf read`/`dconf write`. operation is 'eq' (only " +
			"supported comparison; reserved for future richer operators).",
	})
	registry.Register(registry.Builtin{
		Name:       "EnsureGsettings",
		Audit:      auditGsettings,
		Remediate:  remediateGsettings,
		FieldNames: []string{"schema", "key", "keyType", "operation", "value"},
		Description: "Checks or sets a gsettings key within schema via `gsettings get`/`gsettings set`. keyType is " +
			"informational (string/int/boolean/enum), used only to format the CLI value correctly.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureKernelModuleUnavailable",
		Audit:       auditKernelModuleUnavailable,
		FieldNames:  []string{"moduleName"},
		Description: "Checks that moduleName is neither loaded (lsmod) nor loadable (modprobe -n -v reports 'install /bin/false' or similar blacklist).",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureWirelessIsDisabled",
		Audit:       auditWirelessIsDisabled,
		FieldNames:  []string{"test_sysfs_class_net"},
		Description: "Checks that no network interface under /sys/class/net advertises a 'wireless' subdirectory.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureXdmcp",
		Audit:       auditXdmcp,
		Description: "Checks that no display manager configuration under /etc/gdm3 or /etc/lightdm enables XDMCP.",
	})
	registry.Register(registry.Builtin{
		Name:        "EnsureApparmorProfiles",
		Audit:       auditApparmorProfiles,
		FieldNames:  []string{"enforce"},
		Description: "Checks `apparmor_status` for profiles not in the requested mode ('enforce' or 'complain').",
	})
}

type dconfParams struct {
	Key       bindings.StringValue `param:"key"`
	Value     bindings.StringValue `param:"value"`
	Operation bindings.StringValue `param:"operation"`
}

func auditDconf(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[dconfParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	if string(p.Operation) != "eq" {
		return status.Fail[status.Status](status.NewCallerError("Invalid value '%s' for enumeration parameter", p.Operation))
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), "dconf", "read", string(p.Key))
	if res.IsErr() {
		return status.Ok(ind.Compliant("dconf key '%s' is not set (no dconf profile present)", p.Key))
	}
	actual := strings.TrimSpace(res.Value)
	if actual == "" {
		return status.Ok(ind.NonCompliant("dconf key '%s' is unset, expected '%s'", p.Key, p.Value))
	}
	if actual != string(p.Value) {
		return status.Ok(ind.NonCompliant("dconf key '%s' is '%s', expected '%s'", p.Key, actual, p.Value))
	}
	return status.Ok(ind.Compliant("dconf key '%s' is '%s'", p.Key, p.Value))
}

func remediateDconf(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[dconfParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), "dconf", "write", string(p.Key), string(p.Value))
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	return status.Ok(ind.Compliant("Set dconf key '%s' to '%s'", p.Key, p.Value))
}

type gsettingsParams struct {
	Schema    bindings.StringValue `param:"schema"`
	Key       bindings.StringValue `param:"key"`
	KeyType   bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"keyType"`
	Operation bindings.StringValue `param:"operation"`
	Value     bindings.StringValue `param:"value"`
}

func auditGsettings(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[gsettingsParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	if string(p.Operation) != "eq" {
		return status.Fail[status.Status](status.NewCallerError("Invalid value '%s' for enumeration parameter", p.Operation))
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), "gsettings", "get", string(p.Schema), string(p.Key))
	if res.IsErr() {
		return status.Ok(ind.Compliant("gsettings schema '%s' is not present", p.Schema))
	}
	actual := strings.Trim(strings.TrimSpace(res.Value), "'")
	if actual != string(p.Value) {
		return status.Ok(ind.NonCompliant("gsettings %s.%s is '%s', expected '%s'", p.Schema, p.Key, actual, p.Value))
	}
	return status.Ok(ind.Compliant("gsettings %s.%s is '%s'", p.Schema, p.Key, p.Value))
}

func remediateGsettings(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[gsettingsParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), "gsettings", "set", string(p.Schema), string(p.Key), string(p.Value))
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	return status.Ok(ind.Compliant("Set gsettings %s.%s to '%s'", p.Schema, p.Key, p.Value))
}

type kernelModuleParams struct {
	ModuleName bindings.StringValue `param:"moduleName"`
}

func auditKernelModuleUnavailable(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[kernelModuleParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	name := string(p.ModuleName)

	loaded := ctx.Execute(context.Background(), "lsmod")
	if !loaded.IsErr() {
		for _, line := range strings.Split(loaded.Value, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), name+" ") {
				return status.Ok(ind.NonCompliant("Module '%s' is currently loaded", name))
			}
		}
	}

	probe := ctx.Execute(context.Background(), "modprobe", "-n", "-v", name)
	if probe.IsErr() {
		return status.Ok(ind.Compliant("Module '%s' is not loadable", name))
	}
	if strings.Contains(probe.Value, "install /bin/false") || strings.Contains(probe.Value, "install /bin/true") {
		return status.Ok(ind.Compliant("Module '%s' is blacklisted", name))
	}
	return status.Ok(ind.NonCompliant("Module '%s' is loadable and not blacklisted", name))
}

type wirelessParams struct {
	TestSysfsClassNet bindings.Optional[bindings.StringValue, *bindings.StringValue] `param:"test_sysfs_class_net"`
}

func auditWirelessIsDisabled(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[wirelessParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	base := "/sys/class/net"
	if p.TestSysfsClassNet.Set {
		base = string(p.TestSysfsClassNet.Value)
	}
	entries, readErr := os.ReadDir(base)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return status.Ok(ind.Compliant("No network interfaces found under '%s'", base))
		}
		return status.Fail[status.Status](status.NewSystemError("failed to read "+base, readErr))
	}
	overall := status.Compliant
	for _, e := range entries {
		if _, statErr := os.Stat(filepath.Join(base, e.Name(), "wireless")); statErr == nil {
			ind.NonCompliant("Interface '%s' advertises wireless capability", e.Name())
			overall = status.NonCompliant
		}
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("No wireless interfaces found"))
	}
	return status.Ok(overall)
}

func auditXdmcp(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	if len(rawArgs) != 0 {
		return status.Fail[status.Status](status.NewCallerError("Too many arguments provided"))
	}
	ind := ctx.Indicators()
	candidates := []string{"/etc/gdm3/custom.conf", "/etc/lightdm/lightdm.conf"}
	overall := status.Compliant
	any := false
	for _, path := range candidates {
		contents := ctx.GetFileContents(ctx.GetSpecialFilePath(path))
		if contents.IsErr() {
			continue
		}
		any = true
		for _, line := range strings.Split(contents.Value, "\n") {
			line = strings.TrimSpace(strings.ToLower(line))
			if strings.HasPrefix(line, "enable=true") || strings.Contains(line, "xdmcp") && strings.Contains(line, "true") {
				ind.NonCompliant("'%s' enables XDMCP", path)
				overall = status.NonCompliant
			}
		}
	}
	if !any {
		return status.Ok(ind.Compliant("No display manager configuration present"))
	}
	if overall == status.Compliant {
		return status.Ok(ind.Compliant("No display manager configuration enables XDMCP"))
	}
	return status.Ok(overall)
}

type apparmorParams struct {
	Enforce bindings.BoolValue `param:"enforce"`
}

func auditApparmorProfiles(ctx registry.Context, rawArgs map[string]string) status.Result[status.Status] {
	p, err := bindings.Bind[apparmorParams](rawArgs, nil)
	if err != nil {
		return status.Fail[status.Status](err)
	}
	ind := ctx.Indicators()
	res := ctx.Execute(context.Background(), "apparmor_status")
	if res.IsErr() {
		return status.Fail[status.Status](res.Err)
	}
	wantSection := "profiles are in complain mode"
	if bool(p.Enforce) {
		wantSection = "profiles are in enforce mode"
	}
	badSection := "profiles are in enforce mode"
	if bool(p.Enforce) {
		badSection = "profiles are in complain mode"
	}
	lines := strings.Split(res.Value, "\n")
	inBad := false
	var offending []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, badSection) {
			inBad = true
			continue
		}
		if strings.Contains(trimmed, wantSection) || strings.HasSuffix(trimmed, "mode.") {
			inBad = false
			continue
		}
		if inBad && strings.HasPrefix(trimmed, "/") {
			offending = append(offending, trimmed)
		}
	}
	if len(offending) == 0 {
		return status.Ok(ind.Compliant("All apparmor profiles are in the expected mode"))
	}
	return status.Ok(ind.NonCompliant("Profiles not in expected mode: %s", strings.Join(offending, ", ")))
}
