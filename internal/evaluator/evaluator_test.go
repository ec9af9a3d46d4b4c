package evaluator_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/wharflab/complianceengine/internal/cctx"
	"github.com/wharflab/complianceengine/internal/evaluator"
	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
	"github.com/wharflab/complianceengine/internal/tree"
)

// leaf registers a builtin returning a fixed verdict and counting its
// invocations, so short-circuit behavior is observable.
func leaf(reg *registry.Registry, name string, verdict status.Status, calls *int) {
	reg.Register(registry.Builtin{
		Name: name,
		Audit: func(ctx registry.Context, _ map[string]string) status.Result[status.Status] {
			*calls++
			ctx.Indicators().SetStatus(verdict)
			return status.Ok(verdict)
		},
	})
}

func erroringLeaf(reg *registry.Registry, name string, calls *int) {
	reg.Register(registry.Builtin{
		Name: name,
		Audit: func(_ registry.Context, _ map[string]string) status.Result[status.Status] {
			*calls++
			return status.Fail[status.Status](status.NewSystemError("boom", nil))
		},
	})
}

func call(name string) *tree.Call {
	return &tree.Call{Name: name}
}

func run(t *testing.T, reg *registry.Registry, root tree.Node) (status.StatusResult, *indicators.Tree) {
	t.Helper()
	proc := &tree.Procedure{Audit: root, Parameters: tree.NewParameterDictionary()}
	ctx := cctx.New("rule")
	ind := ctx.Indicators()
	res := evaluator.Evaluate(proc, evaluator.Audit, nil, reg, ctx, ind)
	if ind.Back() != ind.Root() {
		t.Fatal("indicator stack not balanced after evaluation")
	}
	return res, ind
}

func TestAllOfShortCircuits(t *testing.T) {
	reg := registry.New()
	var bad, after int
	leaf(reg, "Bad", status.NonCompliant, &bad)
	leaf(reg, "After", status.Compliant, &after)

	res, _ := run(t, reg, &tree.AllOf{Children: []tree.Node{call("Bad"), call("After")}})
	if res.IsErr() || res.Value != status.NonCompliant {
		t.Fatalf("got %+v", res)
	}
	if bad != 1 || after != 0 {
		t.Errorf("calls: bad=%d after=%d, want 1/0", bad, after)
	}
}

func TestAllOfAllCompliant(t *testing.T) {
	reg := registry.New()
	var a, b int
	leaf(reg, "A", status.Compliant, &a)
	leaf(reg, "B", status.Compliant, &b)

	res, _ := run(t, reg, &tree.AllOf{Children: []tree.Node{call("A"), call("B")}})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("got %+v", res)
	}
	if a != 1 || b != 1 {
		t.Errorf("calls: a=%d b=%d, want 1/1", a, b)
	}
}

func TestAnyOfShortCircuits(t *testing.T) {
	reg := registry.New()
	var good, after int
	leaf(reg, "Good", status.Compliant, &good)
	leaf(reg, "After", status.Compliant, &after)

	res, _ := run(t, reg, &tree.AnyOf{Children: []tree.Node{call("Good"), call("After")}})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("got %+v", res)
	}
	if good != 1 || after != 0 {
		t.Errorf("calls: good=%d after=%d, want 1/0", good, after)
	}
}

func TestAnyOfExhaustionIsNonCompliant(t *testing.T) {
	reg := registry.New()
	var a, b int
	leaf(reg, "A", status.NonCompliant, &a)
	leaf(reg, "B", status.NonCompliant, &b)

	res, _ := run(t, reg, &tree.AnyOf{Children: []tree.Node{call("A"), call("B")}})
	if res.IsErr() || res.Value != status.NonCompliant {
		t.Fatalf("got %+v", res)
	}
}

func TestAnyOfReportsErrorWhenNoChildCompliant(t *testing.T) {
	reg := registry.New()
	var bad, boom int
	leaf(reg, "Bad", status.NonCompliant, &bad)
	erroringLeaf(reg, "Boom", &boom)

	res, _ := run(t, reg, &tree.AnyOf{Children: []tree.Node{call("Boom"), call("Bad")}})
	if res.IsErr() {
		t.Fatalf("builtin errors surface through the indicator, got %+v", res)
	}
	if res.Value != status.Error {
		t.Fatalf("got %v, want Error", res.Value)
	}
	if bad != 1 {
		t.Errorf("later children still run while searching for a compliant one: bad=%d", bad)
	}
}

func TestNotInverts(t *testing.T) {
	reg := registry.New()
	var n int
	leaf(reg, "Bad", status.NonCompliant, &n)

	res, _ := run(t, reg, &tree.Not{Child: call("Bad")})
	if res.IsErr() || res.Value != status.Compliant {
		t.Fatalf("got %+v", res)
	}
}

func TestNotNotIsIdentity(t *testing.T) {
	for _, verdict := range []status.Status{status.Compliant, status.NonCompliant} {
		reg := registry.New()
		var n int
		leaf(reg, "Leaf", verdict, &n)

		direct, _ := run(t, reg, call("Leaf"))
		double, _ := run(t, reg, &tree.Not{Child: &tree.Not{Child: call("Leaf")}})
		if direct.Value != double.Value {
			t.Errorf("Not(Not(%v)) = %v, want %v", verdict, double.Value, direct.Value)
		}
	}
}

func TestNotPassesErrorThrough(t *testing.T) {
	reg := registry.New()
	var n int
	erroringLeaf(reg, "Boom", &n)

	res, _ := run(t, reg, &tree.Not{Child: call("Boom")})
	if res.IsErr() {
		t.Fatalf("got %+v", res)
	}
	if res.Value != status.Error {
		t.Fatalf("got %v, want Error to pass through Not", res.Value)
	}
}

func TestMissingBranch(t *testing.T) {
	reg := registry.New()
	proc := &tree.Procedure{Audit: &tree.AllOf{}, Parameters: tree.NewParameterDictionary()}
	ctx := cctx.New("rule")
	res := evaluator.Evaluate(proc, evaluator.Remediate, nil, reg, ctx, ctx.Indicators())
	if !res.IsErr() {
		t.Fatalf("expected error for missing remediate branch, got %+v", res)
	}
}

func TestMissingSubstitutionParameter(t *testing.T) {
	reg := registry.New()
	var n int
	leaf(reg, "Leaf", status.Compliant, &n)

	node := &tree.Call{Name: "Leaf", Args: map[string]string{"a": "$missing"}}
	res, ind := run(t, reg, node)
	if res.IsErr() || res.Value != status.Error {
		t.Fatalf("got %+v", res)
	}
	if n != 0 {
		t.Error("builtin must not run when substitution fails")
	}
	j, _ := json.Marshal(ind.Root())
	if want := "Missing required '$missing' parameter"; !strings.Contains(string(j), want) {
		t.Errorf("evidence missing %q: %s", want, j)
	}
}

func TestEvaluationIsDeterministic(t *testing.T) {
	reg := registry.New()
	var n int
	leaf(reg, "A", status.Compliant, &n)
	leaf(reg, "B", status.NonCompliant, &n)
	root := &tree.AllOf{Children: []tree.Node{call("A"), &tree.AnyOf{Children: []tree.Node{call("B"), call("A")}}}}

	r1, i1 := run(t, reg, root)
	r2, i2 := run(t, reg, root)
	if r1.Value != r2.Value {
		t.Fatalf("statuses differ: %v vs %v", r1.Value, r2.Value)
	}
	j1, _ := json.Marshal(i1.Root())
	j2, _ := json.Marshal(i2.Root())
	if string(j1) != string(j2) {
		t.Errorf("indicator trees differ:\n%s\n%s", j1, j2)
	}
}
