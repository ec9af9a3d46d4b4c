package tree

import "testing"

func TestDictionaryDefaults(t *testing.T) {
	d := NewParameterDictionary()
	d.Declare(Parameter{Name: "K", Default: "v", HasDefault: true})
	d.Declare(Parameter{Name: "bare"})

	if v, ok := d.Get("K"); !ok || v != "v" {
		t.Errorf("K = %q ok=%v", v, ok)
	}
	if _, ok := d.Get("bare"); ok {
		t.Error("parameter without a default must have no value")
	}
	if !d.Has("bare") {
		t.Error("bare must still be declared")
	}
}

func TestOverlayReplacesValues(t *testing.T) {
	d := NewParameterDictionary()
	d.Declare(Parameter{Name: "K", Default: "v", HasDefault: true})

	if err := d.Overlay(map[string]string{"K": "override"}); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if v, _ := d.Get("K"); v != "override" {
		t.Errorf("K = %q", v)
	}
}

func TestOverlayUnknownKey(t *testing.T) {
	d := NewParameterDictionary()
	d.Declare(Parameter{Name: "K"})

	err := d.Overlay(map[string]string{"Q": "1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "user parameter 'Q' not found" {
		t.Errorf("error = %q", err.Error())
	}
	name, ok := IsUnknownParam(err)
	if !ok || name != "Q" {
		t.Errorf("IsUnknownParam = %q, %v", name, ok)
	}
}

func TestOverlayUnknownKeyLeavesDictionaryUntouched(t *testing.T) {
	d := NewParameterDictionary()
	d.Declare(Parameter{Name: "A", Default: "orig", HasDefault: true})

	err := d.Overlay(map[string]string{"A": "changed", "Q": "2"})
	if err == nil {
		t.Fatal("expected error")
	}
	if v, _ := d.Get("A"); v != "orig" {
		t.Errorf("A = %q, want the pre-overlay value after a rejected overlay", v)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	d := NewParameterDictionary()
	d.Declare(Parameter{Name: "K", Default: "v", HasDefault: true})

	snap := d.Snapshot()
	snap["K"] = "mutated"
	if v, _ := d.Get("K"); v != "v" {
		t.Errorf("dictionary mutated through snapshot: %q", v)
	}
}

func TestNamesPreserveDeclarationOrder(t *testing.T) {
	d := NewParameterDictionary()
	for _, n := range []string{"c", "a", "b"} {
		d.Declare(Parameter{Name: n})
	}
	got := d.Names()
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
}
