package compiler_test

import (
	"testing"

	"github.com/wharflab/complianceengine/internal/compiler"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
	"github.com/wharflab/complianceengine/internal/tree"
)

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(registry.Builtin{
		Name: "Check",
		Audit: func(_ registry.Context, _ map[string]string) status.Result[status.Status] {
			return status.Ok(status.Compliant)
		},
	})
	return reg
}

func TestCompileCombinatorsAndCalls(t *testing.T) {
	doc := `{
		"audit": {"allOf": [
			{"Check": {"a": "1"}},
			{"anyOf": [{"not": {"Check": {}}}]}
		]},
		"remediate": {"Check": {}},
		"parameters": {"K": "default", "empty": null}
	}`
	proc, err := compiler.Compile([]byte(doc), testRegistry())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	all, ok := proc.Audit.(*tree.AllOf)
	if !ok || len(all.Children) != 2 {
		t.Fatalf("audit root = %#v", proc.Audit)
	}
	callNode, ok := all.Children[0].(*tree.Call)
	if !ok || callNode.Name != "Check" || callNode.Args["a"] != "1" {
		t.Errorf("first child = %#v", all.Children[0])
	}
	if _, ok := proc.Remediate.(*tree.Call); !ok {
		t.Errorf("remediate = %#v", proc.Remediate)
	}

	if v, ok := proc.Parameters.Get("K"); !ok || v != "default" {
		t.Errorf("parameter K = %q ok=%v", v, ok)
	}
	if _, ok := proc.Parameters.Get("empty"); ok {
		t.Error("null-valued parameter must have no default")
	}
	if !proc.Parameters.Has("empty") {
		t.Error("null-valued parameter must still be declared")
	}
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"bad json", `{`, "Failed to parse JSON"},
		{"missing audit", `{"remediate":{"Check":{}}}`, "Missing 'audit' object"},
		{"audit not object", `{"audit": 42}`, "'audit' value is not an object"},
		{"remediate not object", `{"audit":{"allOf":[]},"remediate":"x"}`, "'remediate' value is not an object"},
		{"unknown function", `{"audit":{"Nope":{}}}`, "Unknown function Nope"},
		{"parameters not object", `{"audit":{"allOf":[]},"parameters":[1]}`, "'parameters' value is not an object"},
		{"document not object", `[1,2]`, "Failed to parse JSON"},
	}
	reg := testRegistry()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := compiler.Compile([]byte(c.doc), reg)
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Error() != c.want {
				t.Errorf("error = %q, want %q", err.Error(), c.want)
			}
		})
	}
}

func TestCompileRejectsMultiKeyNode(t *testing.T) {
	doc := `{"audit":{"allOf":[],"anyOf":[]}}`
	if _, err := compiler.Compile([]byte(doc), testRegistry()); err == nil {
		t.Fatal("expected error for node with two keys")
	}
}
