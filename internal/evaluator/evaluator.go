// Package evaluator walks a compiled ProcedureTree for a requested action,
// invoking builtin procedures against a Context and folding their results
// through the tree's logical combinators.
package evaluator

import (
	"github.com/wharflab/complianceengine/internal/bindings"
	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
	"github.com/wharflab/complianceengine/internal/tree"
)

// Action selects which branch of the tree to evaluate.
type Action int

const (
	// Audit evaluates the read-only branch.
	Audit Action = iota
	// Remediate evaluates the side-effecting branch.
	Remediate
)

func (a Action) String() string {
	if a == Remediate {
		return "remediate"
	}
	return "audit"
}

// Evaluate walks proc for the requested action against reg's builtins,
// substituting overlay values into call arguments and accumulating
// evidence into ind. It returns the root's final status.
func Evaluate(proc *tree.Procedure, action Action, overlay map[string]string, reg *registry.Registry, ctx registry.Context, ind *indicators.Tree) status.StatusResult {
	var root tree.Node
	switch action {
	case Audit:
		root = proc.Audit
	case Remediate:
		root = proc.Remediate
	}
	if root == nil {
		return status.Fail[status.Status](status.NewCallerError("no %s branch", action))
	}
	return evalNode(root, action, overlay, reg, ctx, ind)
}

func evalNode(n tree.Node, action Action, overlay map[string]string, reg *registry.Registry, ctx registry.Context, ind *indicators.Tree) status.StatusResult {
	switch node := n.(type) {
	case *tree.Call:
		return evalCall(node, action, overlay, reg, ctx, ind)
	case *tree.AllOf:
		return evalAllOf(node, action, overlay, reg, ctx, ind)
	case *tree.AnyOf:
		return evalAnyOf(node, action, overlay, reg, ctx, ind)
	case *tree.Not:
		return evalNot(node, action, overlay, reg, ctx, ind)
	default:
		return status.Fail[status.Status](status.NewCallerError("unknown node type"))
	}
}

func evalCall(c *tree.Call, action Action, overlay map[string]string, reg *registry.Registry, ctx registry.Context, ind *indicators.Tree) status.StatusResult {
	b, ok := reg.Get(c.Name)
	if !ok {
		return status.Fail[status.Status](status.NewCallerError("Unknown function"))
	}

	ind.Push(c.Name)
	defer ind.Pop()

	substituted := make(map[string]string, len(c.Args))
	for key, raw := range c.Args {
		val, missing, ok := bindings.Substitute(raw, overlay)
		if !ok {
			s := ind.Errorf("Missing required '$%s' parameter", missing)
			return status.Ok(s)
		}
		substituted[key] = val
	}

	var fn func(registry.Context, map[string]string) status.Result[status.Status]
	switch action {
	case Audit:
		fn = b.Audit
	case Remediate:
		fn = b.Remediate
	}
	if fn == nil {
		s := ind.Errorf("builtin '%s' has no %s function", c.Name, action)
		return status.Ok(s)
	}

	res := fn(ctx, substituted)
	if res.IsErr() {
		s := ind.Errorf("%s", res.Err.Error())
		return status.Ok(s)
	}
	ind.SetStatus(res.Value)
	return status.Ok(res.Value)
}

func evalAllOf(node *tree.AllOf, action Action, overlay map[string]string, reg *registry.Registry, ctx registry.Context, ind *indicators.Tree) status.StatusResult {
	ind.Push("allOf")
	defer ind.Pop()

	if len(node.Children) == 0 {
		ind.SetStatus(status.Compliant)
		return status.Ok(status.Compliant)
	}

	for _, child := range node.Children {
		res := evalNode(child, action, overlay, reg, ctx, ind)
		if res.IsErr() {
			return res
		}
		if res.Value != status.Compliant {
			ind.SetStatus(res.Value)
			return res
		}
	}
	ind.SetStatus(status.Compliant)
	return status.Ok(status.Compliant)
}

func evalAnyOf(node *tree.AnyOf, action Action, overlay map[string]string, reg *registry.Registry, ctx registry.Context, ind *indicators.Tree) status.StatusResult {
	ind.Push("anyOf")
	defer ind.Pop()

	if len(node.Children) == 0 {
		ind.SetStatus(status.NonCompliant)
		return status.Ok(status.NonCompliant)
	}

	var lastErr status.StatusResult
	haveErr := false
	for _, child := range node.Children {
		res := evalNode(child, action, overlay, reg, ctx, ind)
		if res.IsErr() || res.Value == status.Error {
			lastErr = res
			haveErr = true
			continue
		}
		if res.Value == status.Compliant {
			ind.SetStatus(status.Compliant)
			return res
		}
	}
	if haveErr {
		ind.SetStatus(status.Error)
		return lastErr
	}
	ind.SetStatus(status.NonCompliant)
	return status.Ok(status.NonCompliant)
}

func evalNot(node *tree.Not, action Action, overlay map[string]string, reg *registry.Registry, ctx registry.Context, ind *indicators.Tree) status.StatusResult {
	ind.Push("not")
	defer ind.Pop()

	res := evalNode(node.Child, action, overlay, reg, ctx, ind)
	if res.IsErr() {
		return res
	}
	switch res.Value {
	case status.Compliant:
		ind.SetStatus(status.NonCompliant)
		return status.Ok(status.NonCompliant)
	case status.NonCompliant:
		ind.SetStatus(status.Compliant)
		return status.Ok(status.Compliant)
	default:
		ind.SetStatus(res.Value)
		return res
	}
}
