// Package engine implements the four-verb MMI-compatible dispatch: a
// rule-name-keyed table of compiled procedure trees and parameter
// dictionaries, mutated and evaluated through exactly four entry points
// addressed by object-name strings ("procedure<rule>", "init<rule>",
// "remediate<rule>", "audit<rule>").
package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/wharflab/complianceengine/internal/compiler"
	"github.com/wharflab/complianceengine/internal/evaluator"
	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/resource"
	"github.com/wharflab/complianceengine/internal/status"
	"github.com/wharflab/complianceengine/internal/tree"
)

// Object-string prefixes recognized by MmiSet/MmiGet
const (
	prefixProcedure = "procedure"
	prefixInit      = "init"
	prefixRemediate = "remediate"
	prefixAudit     = "audit"
)

// ruleSlot is one rule's compiled tree plus its benchmark-section tag.
// Every "procedure<rule>" set replaces the slot with a freshly compiled tree
// (keeping the previous section tag when none is given); init/remediate
// never replace it, they only mutate the tree's own ParameterDictionary.
type ruleSlot struct {
	procedure *tree.Procedure
	section   string
}

// ContextFactory builds a fresh evaluation Context for one rule, rooted at
// its own indicator tree. The engine calls it once per evaluate dispatch;
// an evaluation owns its indicator tree outright.
type ContextFactory func(ruleName string) registry.Context

// Engine holds the rule-name -> slot table. It is safe for concurrent
// MmiSet/MmiGet calls, though it is meant to serve one request at a time;
// the mutex exists so a CLI that evaluates rules concurrently does not
// corrupt the slot map.
type Engine struct {
	reg    *registry.Registry
	newCtx ContextFactory

	mu    sync.Mutex
	slots map[string]*ruleSlot
}

// New builds an empty Engine bound to reg's builtin table and newCtx's
// per-evaluation Context construction.
func New(reg *registry.Registry, newCtx ContextFactory) *Engine {
	return &Engine{reg: reg, newCtx: newCtx, slots: make(map[string]*ruleSlot)}
}

// splitObject discriminates an MMI object string into its verb prefix and
// rule-name suffix.
func splitObject(object string) (string, string, *status.Err) {
	if object == "" {
		return "", "", status.NewCallerError("Invalid object name")
	}
	for _, prefix := range []string{prefixProcedure, prefixInit, prefixRemediate, prefixAudit} {
		if !strings.HasPrefix(object, prefix) {
			continue
		}
		rule := object[len(prefix):]
		if rule == "" {
			return prefix, "", status.NewCallerError("Rule name is empty")
		}
		return prefix, rule, nil
	}
	return "", "", status.NewCallerError("Invalid object name")
}

func (e *Engine) lookup(rule string) (*ruleSlot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[rule]
	return s, ok
}

func (e *Engine) setProcedure(rule string, payload []byte, section string) *status.Err {
	proc, err := compiler.Compile(payload, e.reg)
	if err != nil {
		return status.NewCallerError("%s", err.Error())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, ok := e.slots[rule]
	if ok && section == "" {
		section = existing.section
	}
	e.slots[rule] = &ruleSlot{procedure: proc, section: section}
	return nil
}

func (e *Engine) overlay(rule string, tokens map[string]string) *status.Err {
	slot, ok := e.lookup(rule)
	if !ok {
		return status.NewCallerError("Out-of-order operation: procedure must be set first")
	}
	if err := slot.procedure.Parameters.Overlay(tokens); err != nil {
		if name, isUnknown := tree.IsUnknownParam(err); isUnknown {
			return status.NewCallerError("User parameter '%s' not found", name)
		}
		return status.NewCallerError("%s", err.Error())
	}
	return nil
}

func (e *Engine) evaluate(rule string, action evaluator.Action) (status.Status, *indicators.Indicator, *status.Err) {
	slot, ok := e.lookup(rule)
	if !ok {
		return status.Error, nil, status.NewCallerError("Rule not found")
	}
	ctx := e.newCtx(rule)
	ind := ctx.Indicators()
	res := evaluator.Evaluate(slot.procedure, action, slot.procedure.Parameters.Snapshot(), e.reg, ctx, ind)
	if res.IsErr() {
		return status.Error, ind.Root(), res.Err
	}
	return res.Value, ind.Root(), nil
}

// LoadResource compiles a parsed resource.Resource and installs it as
// "procedure<rule>" would, then applies its init-audit payload (if any) as
// "init<rule>" would. It is the CLI's entry point into the engine, a
// typed convenience over the raw MMI object-string API.
func (e *Engine) LoadResource(res resource.Resource) *status.Err {
	if err := e.setProcedure(res.RuleName, res.Procedure, res.BenchmarkSection); err != nil {
		return err
	}
	if res.HasInitAudit {
		return e.overlay(res.RuleName, resource.ParsePayload(res.Payload))
	}
	return nil
}

// MmiSet dispatches a "procedure"/"init"/"remediate" object string.
// It returns the evaluated status for "remediate" object
// strings and status.Compliant as a bare success marker for "procedure"/
// "init" (which perform no evaluation and so carry no verdict).
func (e *Engine) MmiSet(object string, payload []byte) (status.Status, *indicators.Indicator, *status.Err) {
	prefix, rule, splitErr := splitObject(object)
	if splitErr != nil {
		return status.Error, nil, splitErr
	}
	switch prefix {
	case prefixProcedure:
		if err := e.setProcedure(rule, payload, ""); err != nil {
			return status.Error, nil, err
		}
		return status.Compliant, nil, nil
	case prefixInit:
		if err := e.overlay(rule, resource.ParsePayload(payload)); err != nil {
			return status.Error, nil, err
		}
		return status.Compliant, nil, nil
	case prefixRemediate:
		if err := e.overlay(rule, resource.ParsePayload(payload)); err != nil {
			return status.Error, nil, err
		}
		return e.evaluate(rule, evaluator.Remediate)
	default:
		return status.Error, nil, status.NewCallerError("Invalid object name")
	}
}

// MmiGet dispatches an "audit" object string, evaluating the rule's audit
// branch and returning its root indicator
// alongside the aggregate status.
func (e *Engine) MmiGet(object string) (status.Status, *indicators.Indicator, *status.Err) {
	prefix, rule, splitErr := splitObject(object)
	if splitErr != nil {
		return status.Error, nil, splitErr
	}
	if prefix != prefixAudit {
		return status.Error, nil, status.NewCallerError("Invalid object name")
	}
	return e.evaluate(rule, evaluator.Audit)
}

// Rules returns every loaded rule name, sorted, optionally filtered by a
// --section prefix per resource.MatchesSection.
func (e *Engine) Rules(sectionFilter string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.slots))
	for name, slot := range e.slots {
		if resource.MatchesSection(slot.section, sectionFilter) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Section returns the benchmark-section tag recorded for rule, if loaded.
func (e *Engine) Section(rule string) string {
	slot, ok := e.lookup(rule)
	if !ok {
		return ""
	}
	return slot.section
}

// Params returns a snapshot of rule's current parameter overlay, for the
// Debug formatter's params= dump. Returns nil if rule is not loaded.
func (e *Engine) Params(rule string) map[string]string {
	slot, ok := e.lookup(rule)
	if !ok {
		return nil
	}
	return slot.procedure.Parameters.Snapshot()
}
