package reporter

import (
	"bytes"
	"testing"

	"github.com/wharflab/complianceengine/internal/status"
	"github.com/wharflab/complianceengine/internal/testutil"
)

// renderAll drives one formatter through a fixed two-rule run so its whole
// document shape is pinned by a snapshot.
func renderAll(t *testing.T, format Format) string {
	t.Helper()
	var buf bytes.Buffer
	no := false
	f, err := New(Options{Format: format, Writer: &buf, Color: &no, ToolName: "assessor", ToolVersion: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Begin("audit"); err != nil {
		t.Fatal(err)
	}
	if err := f.AddEntry(Entry{
		RuleName: "EnsureSshRootLoginDisabled",
		Section:  "5.2.8",
		Status:   status.Compliant,
		Root:     sampleRoot(status.Compliant),
		Params:   map[string]string{"value": "no"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.AddEntry(Entry{
		RuleName: "EnsureTmpPermissions",
		Section:  "1.1.2",
		Status:   status.NonCompliant,
		Root:     sampleRoot(status.NonCompliant),
	}); err != nil {
		t.Fatal(err)
	}
	out, err := f.Finish(status.NonCompliant)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestNestedListSnapshot(t *testing.T) {
	testutil.MatchSnapshot(t, renderAll(t, FormatNestedList))
}

func TestCompactListSnapshot(t *testing.T) {
	testutil.MatchSnapshot(t, renderAll(t, FormatCompactList))
}

func TestDebugSnapshot(t *testing.T) {
	testutil.MatchSnapshot(t, renderAll(t, FormatDebug))
}

func TestJSONSnapshot(t *testing.T) {
	testutil.MatchSnapshot(t, renderAll(t, FormatJSON))
}
