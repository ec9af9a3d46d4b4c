package bindings

import (
	"strings"
	"testing"
)

type simpleParams struct {
	Name  StringValue                        `param:"name"`
	Count Optional[IntValue, *IntValue]      `param:"count"`
	Mode  Optional[OctalValue, *OctalValue]  `param:"mode"`
	Flag  Optional[BoolValue, *BoolValue]    `param:"flag"`
	Alts  Separated[StringValue, *StringValue] `param:"alts"`
}

func TestBindPopulatesAllFields(t *testing.T) {
	p, err := Bind[simpleParams](map[string]string{
		"name":  "sshd",
		"count": "42",
		"mode":  "0644",
		"flag":  "true",
		"alts":  "root|adm",
	}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if p.Name != "sshd" || !p.Count.Set || p.Count.Value != 42 {
		t.Errorf("scalar fields wrong: %+v", p)
	}
	if !p.Mode.Set || p.Mode.Value != 0o644 {
		t.Errorf("octal field wrong: %+v", p.Mode)
	}
	if !p.Flag.Set || !bool(p.Flag.Value) {
		t.Errorf("bool field wrong: %+v", p.Flag)
	}
	if len(p.Alts.Items) != 2 || p.Alts.Items[0] != "root" || p.Alts.Items[1] != "adm" {
		t.Errorf("separated field wrong: %+v", p.Alts.Items)
	}
}

func TestBindMissingRequired(t *testing.T) {
	_, err := Bind[simpleParams](map[string]string{"alts": "x"}, nil)
	if err == nil || err.Message != "Missing required 'name' parameter" {
		t.Fatalf("got %v", err)
	}
}

func TestBindUnknownParameter(t *testing.T) {
	_, err := Bind[simpleParams](map[string]string{"name": "x", "alts": "y", "bogus": "1"}, nil)
	if err == nil || err.Message != "Unknown parameter 'bogus'" {
		t.Fatalf("got %v", err)
	}
}

func TestBindTooManyArguments(t *testing.T) {
	args := map[string]string{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5", "f": "6"}
	_, err := Bind[simpleParams](args, nil)
	if err == nil || err.Message != "Too many arguments provided" {
		t.Fatalf("got %v", err)
	}
}

func TestBindOptionalAbsenceIsLegal(t *testing.T) {
	p, err := Bind[simpleParams](map[string]string{"name": "x", "alts": "y"}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if p.Count.Set || p.Mode.Set || p.Flag.Set {
		t.Errorf("absent optionals must stay unset: %+v", p)
	}
}

func TestZeroParameterBuiltinRejectsArguments(t *testing.T) {
	type empty struct{}
	if _, err := Bind[empty](map[string]string{}, nil); err != nil {
		t.Fatalf("empty args: %v", err)
	}
	if _, err := Bind[empty](map[string]string{"x": "1"}, nil); err == nil {
		t.Fatal("expected rejection of arguments to a zero-parameter builtin")
	}
}

func TestOctalRange(t *testing.T) {
	var o OctalValue
	if err := o.ParseString("07777"); err != nil || o != 0o7777 {
		t.Errorf("07777: %v %o", err, o)
	}
	if err := o.ParseString("0"); err != nil || o != 0 {
		t.Errorf("0: %v %o", err, o)
	}
	if err := o.ParseString("17777"); err == nil {
		t.Error("17777 should be out of range")
	}
	if err := o.ParseString("9"); err == nil {
		t.Error("9 is not octal")
	}
}

func TestBoolStrictness(t *testing.T) {
	var b BoolValue
	for _, bad := range []string{"True", "1", "yes", ""} {
		if err := b.ParseString(bad); err == nil {
			t.Errorf("%q should not parse as boolean", bad)
		}
	}
}

type enumParams struct {
	Op Enum[int] `param:"op"`
}

func TestEnumBinding(t *testing.T) {
	seed := enumParams{Op: NewEnum(map[string]int{"eq": 1, "ne": 2})}

	p, err := Bind(map[string]string{"op": "ne"}, &seed)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if p.Op.Value != 2 {
		t.Errorf("op = %d, want 2", p.Op.Value)
	}

	_, err = Bind(map[string]string{"op": "bogus"}, &seed)
	if err == nil || !strings.Contains(err.Message, "Invalid value 'bogus' for enumeration parameter") {
		t.Fatalf("got %v", err)
	}
}

type sepParams struct {
	Opts Separated[StringValue, *StringValue] `param:"opts" sep:","`
}

func TestSeparatorTag(t *testing.T) {
	p, err := Bind[sepParams](map[string]string{"opts": "a,b,c"}, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(p.Opts.Items) != 3 {
		t.Errorf("items = %v", p.Opts.Items)
	}
}

func TestSubstitute(t *testing.T) {
	params := map[string]string{"K": "v", "LONG_name2": "x"}

	got, _, ok := Substitute("pre $K post", params)
	if !ok || got != "pre v post" {
		t.Errorf("got %q ok=%v", got, ok)
	}

	got, _, ok = Substitute("$LONG_name2$K", params)
	if !ok || got != "xv" {
		t.Errorf("got %q ok=%v", got, ok)
	}

	_, missing, ok := Substitute("$nope", params)
	if ok || missing != "nope" {
		t.Errorf("missing = %q ok=%v", missing, ok)
	}

	got, _, ok = Substitute("price is 5$ total", params)
	if !ok || got != "price is 5$ total" {
		t.Errorf("bare dollar should pass through: %q", got)
	}
}
