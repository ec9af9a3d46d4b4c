package resource

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestReadSingleResource(t *testing.T) {
	proc := base64.StdEncoding.EncodeToString([]byte(`{"audit":{"allOf":[]}}`))
	mof := "instance of OsConfigResource as $MOF\n" +
		"{\n" +
		"RuleName = \"X\";\n" +
		"ProcedureObjectValue = \"" + proc + "\";\n" +
		"BenchmarkSection = \"cis_linux.1.1\";\n" +
		"};\n"

	var got []Resource
	var errs []error
	err := Read(strings.NewReader(mof), func(r Resource, e error) bool {
		if e != nil {
			errs = append(errs, e)
		} else {
			got = append(got, r)
		}
		return true
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(got))
	}
	r := got[0]
	if r.RuleName != "X" {
		t.Errorf("RuleName = %q", r.RuleName)
	}
	if r.HasInitAudit {
		t.Error("HasInitAudit should be false without PayloadKey")
	}
	if string(r.Procedure) != `{"audit":{"allOf":[]}}` {
		t.Errorf("Procedure = %q", r.Procedure)
	}
	if r.BenchmarkSection != "cis_linux.1.1" {
		t.Errorf("BenchmarkSection = %q", r.BenchmarkSection)
	}
}

func TestReadMissingProcedureIsError(t *testing.T) {
	mof := "instance of OsConfigResource as $MOF\n" +
		"{\n" +
		"RuleName = \"X\";\n" +
		"};\n"

	var errs []error
	err := Read(strings.NewReader(mof), func(r Resource, e error) bool {
		if e != nil {
			errs = append(errs, e)
		}
		return true
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
}

func TestReadWithPayload(t *testing.T) {
	proc := base64.StdEncoding.EncodeToString([]byte(`{"audit":{"allOf":[]},"parameters":{"K":"v"}}`))
	payload := base64.StdEncoding.EncodeToString([]byte("K=1\n"))
	mof := "instance of OsConfigResource as $MOF\n" +
		"{\n" +
		"RuleName = \"X\";\n" +
		"ProcedureObjectValue = \"" + proc + "\";\n" +
		"PayloadKey = \"" + payload + "\";\n" +
		"};\n"

	var got []Resource
	err := Read(strings.NewReader(mof), func(r Resource, e error) bool {
		if e == nil {
			got = append(got, r)
		}
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].HasInitAudit {
		t.Fatalf("expected init-audit resource, got %+v", got)
	}
	tokens := ParsePayload(got[0].Payload)
	if tokens["K"] != "1" {
		t.Errorf("ParsePayload = %v", tokens)
	}
}

func TestMatchesSection(t *testing.T) {
	if !MatchesSection("cis_linux.1.1", "") {
		t.Error("empty filter should match everything")
	}
	if !MatchesSection("cis_linux.1.1", "cis_linux.1") {
		t.Error("prefix should match")
	}
	if MatchesSection("cis_linux.2.1", "cis_linux.1") {
		t.Error("non-prefix should not match")
	}
}
