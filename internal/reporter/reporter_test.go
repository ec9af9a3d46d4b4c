package reporter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/status"
)

func sampleRoot(ruleStatus status.Status) *indicators.Indicator {
	tr := indicators.New("X")
	tr.Push("allOf")
	tr.Push("EnsureFilePermissions")
	if ruleStatus == status.Compliant {
		tr.Compliant("T matches expected permissions 444")
	} else {
		tr.NonCompliant("Invalid permissions on '/tmp/T'")
	}
	tr.Pop()
	tr.SetStatus(ruleStatus)
	tr.Pop()
	return tr.Root()
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"":             FormatNestedList,
		"nested-list":  FormatNestedList,
		"compact-list": FormatCompactList,
		"json":         FormatJSON,
		"debug":        FormatDebug,
		"sarif":        FormatSARIF,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil {
			t.Fatalf("ParseFormat(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseFormat("bogus"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestCompactListFormatter(t *testing.T) {
	var buf bytes.Buffer
	no := false
	f, err := New(Options{Format: FormatCompactList, Writer: &buf, Color: &no})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Begin("audit"); err != nil {
		t.Fatal(err)
	}
	if err := f.AddEntry(Entry{RuleName: "X", Status: status.Compliant, Root: sampleRoot(status.Compliant)}); err != nil {
		t.Fatal(err)
	}
	out, err := f.Finish(status.Compliant)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "X Compliant") {
		t.Errorf("missing rule line: %q", out)
	}
	if !strings.Contains(out, "aggregate Compliant") {
		t.Errorf("missing aggregate line: %q", out)
	}
	if buf.String() != out {
		t.Errorf("writer output should match returned document")
	}
}

func TestNestedListFormatterShowsEvidence(t *testing.T) {
	var buf bytes.Buffer
	no := false
	f, _ := New(Options{Format: FormatNestedList, Writer: &buf, Color: &no})
	_ = f.Begin("audit")
	_ = f.AddEntry(Entry{RuleName: "X", Status: status.NonCompliant, Root: sampleRoot(status.NonCompliant)})
	out, _ := f.Finish(status.NonCompliant)
	if !strings.Contains(out, "EnsureFilePermissions") {
		t.Errorf("expected nested indicator label in output: %q", out)
	}
	if !strings.Contains(out, "NonCompliant: Invalid permissions") {
		t.Errorf("expected evidence line: %q", out)
	}
}

func TestDebugFormatterIncludesParams(t *testing.T) {
	var buf bytes.Buffer
	no := false
	f, _ := New(Options{Format: FormatDebug, Writer: &buf, Color: &no})
	_ = f.Begin("audit")
	_ = f.AddEntry(Entry{
		RuleName: "X",
		Status:   status.Compliant,
		Root:     sampleRoot(status.Compliant),
		Params:   map[string]string{"permissions": "0444"},
	})
	out, _ := f.Finish(status.Compliant)
	if !strings.Contains(out, "params=permissions=0444") {
		t.Errorf("expected params dump: %q", out)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f, _ := New(Options{Format: FormatJSON, Writer: &buf})
	_ = f.Begin("audit")
	_ = f.AddEntry(Entry{RuleName: "X", Status: status.Compliant, Root: sampleRoot(status.Compliant)})
	out, err := f.Finish(status.Compliant)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"name": "X"`) {
		t.Errorf("expected rule name in json: %q", out)
	}
	if !strings.Contains(out, `"aggregate": "Compliant"`) {
		t.Errorf("expected aggregate in json: %q", out)
	}
}
