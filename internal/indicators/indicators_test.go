package indicators

import (
	"testing"

	"github.com/wharflab/complianceengine/internal/status"
)

func TestPushPopBalance(t *testing.T) {
	tr := New("rule")
	tr.Push("allOf")
	tr.Push("Check")
	tr.Compliant("ok")
	tr.Pop()
	tr.Pop()

	if tr.Back() != tr.Root() {
		t.Error("stack must return to root after balanced push/pop")
	}
	if got := len(tr.Root().Children); got != 1 {
		t.Errorf("root children = %d, want 1", got)
	}
}

func TestCompliantSetsStatusAndPrefix(t *testing.T) {
	tr := New("rule")
	tr.Push("Check")
	if got := tr.Compliant("all good"); got != status.Compliant {
		t.Errorf("return = %v", got)
	}
	node := tr.Pop()
	if node.Status != status.Compliant {
		t.Errorf("status = %v", node.Status)
	}
	if node.Messages[0] != "Compliant: all good" {
		t.Errorf("message = %q", node.Messages[0])
	}
}

func TestNonCompliantSetsStatusAndPrefix(t *testing.T) {
	tr := New("rule")
	tr.Push("Check")
	if got := tr.NonCompliant("bad bits %04o", 0o644); got != status.NonCompliant {
		t.Errorf("return = %v", got)
	}
	node := tr.Pop()
	if node.Messages[0] != "NonCompliant: bad bits 0644" {
		t.Errorf("message = %q", node.Messages[0])
	}
}

func TestPopRootIsIgnored(t *testing.T) {
	tr := New("rule")
	if tr.Pop() != tr.Root() {
		t.Error("popping the root should return the root")
	}
	if tr.Back() != tr.Root() {
		t.Error("root must remain current")
	}
}

func TestErrorfEvidence(t *testing.T) {
	tr := New("rule")
	tr.Push("Check")
	tr.Errorf("stat failed: %v", "EACCES")
	node := tr.Pop()
	if node.Status != status.Error {
		t.Errorf("status = %v", node.Status)
	}
	if node.Messages[0] != "stat failed: EACCES" {
		t.Errorf("message = %q", node.Messages[0])
	}
}
