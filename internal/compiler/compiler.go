// Package compiler walks a decoded procedure document once, resolving
// combinator nodes and builtin calls, and produces an immutable
// ProcedureTree.
package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/tree"
)

// document mirrors the top-level JSON procedure document shape:
// { "audit": <node>, "remediate": <node>?, "parameters": {...}? }
type document struct {
	Audit      json.RawMessage `json:"audit"`
	Remediate  json.RawMessage `json:"remediate"`
	Parameters json.RawMessage `json:"parameters"`
}

// Compile decodes raw JSON bytes and produces a tree.Procedure. reg
// supplies the builtin lookup used to validate Call node names; argument
// names are not checked here but when the builtin binds its arguments at
// evaluation time.
func Compile(raw []byte, reg *registry.Registry) (*tree.Procedure, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("Failed to parse JSON")
	}
	if err := validateTopLevel(generic); err != nil {
		return nil, fmt.Errorf("Failed to parse JSON")
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("Failed to parse JSON")
	}

	if len(doc.Audit) == 0 {
		return nil, fmt.Errorf("Missing 'audit' object")
	}

	auditNode, err := compileNode(doc.Audit, reg)
	if err != nil {
		if err == errNotObject {
			return nil, fmt.Errorf("'audit' value is not an object")
		}
		return nil, err
	}

	proc := &tree.Procedure{
		Audit:      auditNode,
		Parameters: tree.NewParameterDictionary(),
	}

	if len(doc.Remediate) > 0 {
		remNode, err := compileNode(doc.Remediate, reg)
		if err != nil {
			if err == errNotObject {
				return nil, fmt.Errorf("'remediate' value is not an object")
			}
			return nil, err
		}
		proc.Remediate = remNode
	}

	if len(doc.Parameters) > 0 && string(doc.Parameters) != "null" {
		var paramMap map[string]json.RawMessage
		if err := json.Unmarshal(doc.Parameters, &paramMap); err != nil {
			return nil, fmt.Errorf("'parameters' value is not an object")
		}
		for name, rawDefault := range paramMap {
			var def string
			hasDefault := false
			if len(rawDefault) > 0 && string(rawDefault) != "null" {
				if err := json.Unmarshal(rawDefault, &def); err != nil {
					return nil, fmt.Errorf("Failed to get parameter name and value")
				}
				hasDefault = true
			}
			proc.Parameters.Declare(tree.Parameter{
				Name:       name,
				Default:    def,
				HasDefault: hasDefault,
			})
		}
	}

	return proc, nil
}

var errNotObject = fmt.Errorf("not an object")

// nodeObject is the single-key-object shape every node decodes to before
// the compiler discriminates combinator vs. call.
type nodeObject map[string]json.RawMessage

func compileNode(raw json.RawMessage, reg *registry.Registry) (tree.Node, error) {
	var obj nodeObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, errNotObject
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("node must have exactly one key")
	}

	for key, value := range obj {
		switch key {
		case "allOf":
			children, err := compileNodeList(value, reg)
			if err != nil {
				return nil, err
			}
			return &tree.AllOf{Children: children}, nil
		case "anyOf":
			children, err := compileNodeList(value, reg)
			if err != nil {
				return nil, err
			}
			return &tree.AnyOf{Children: children}, nil
		case "not":
			var childRaw json.RawMessage
			if err := json.Unmarshal(value, &childRaw); err != nil {
				return nil, fmt.Errorf("'not' value is not an object")
			}
			child, err := compileNode(childRaw, reg)
			if err != nil {
				return nil, err
			}
			return &tree.Not{Child: child}, nil
		default:
			if !reg.Has(key) {
				return nil, fmt.Errorf("Unknown function %s", key)
			}
			var args map[string]string
			if len(value) > 0 && string(value) != "null" {
				if err := json.Unmarshal(value, &args); err != nil {
					return nil, fmt.Errorf("arguments for '%s' must be an object of strings", key)
				}
			}
			return &tree.Call{Name: key, Args: args}, nil
		}
	}
	// unreachable: loop above always returns
	return nil, fmt.Errorf("node must have exactly one key")
}

func compileNodeList(raw json.RawMessage, reg *registry.Registry) ([]tree.Node, error) {
	var rawList []json.RawMessage
	if err := json.Unmarshal(raw, &rawList); err != nil {
		return nil, fmt.Errorf("combinator value must be an array of nodes")
	}
	out := make([]tree.Node, 0, len(rawList))
	for _, rawChild := range rawList {
		child, err := compileNode(rawChild, reg)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}
