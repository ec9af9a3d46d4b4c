// Package indicators implements the ordered evidence tree the evaluator
// accumulates while walking a procedure tree.
package indicators

import (
	"fmt"

	"github.com/wharflab/complianceengine/internal/status"
)

// Indicator is a single node in the tree: a label (builtin or combinator
// name), the status assigned to it, and the evidence lines gathered along
// the way.
type Indicator struct {
	Label    string       `json:"label"`
	Status   status.Status `json:"status"`
	Messages []string     `json:"messages,omitempty"`
	Children []*Indicator `json:"children,omitempty"`
}

// WithMessage appends an evidence line without changing status. Returns the
// receiver for chaining.
func (i *Indicator) WithMessage(msg string) *Indicator {
	i.Messages = append(i.Messages, msg)
	return i
}

// Tree is the ordered, single-root evidence tree an evaluation accumulates.
// It is not safe for concurrent use; one evaluation owns one Tree.
type Tree struct {
	root  *Indicator
	stack []*Indicator
}

// New creates a Tree rooted at the given rule name.
func New(ruleName string) *Tree {
	root := &Indicator{Label: ruleName, Status: status.Compliant}
	return &Tree{root: root, stack: []*Indicator{root}}
}

// Root returns the tree's root indicator.
func (t *Tree) Root() *Indicator {
	return t.root
}

// current returns the indicator currently on top of the stack.
func (t *Tree) current() *Indicator {
	return t.stack[len(t.stack)-1]
}

// Push opens a new child indicator under the current node and makes it
// current. Must be balanced by a matching Pop.
func (t *Tree) Push(label string) *Indicator {
	child := &Indicator{Label: label, Status: status.Compliant}
	parent := t.current()
	parent.Children = append(parent.Children, child)
	t.stack = append(t.stack, child)
	return child
}

// Pop closes the current indicator, returning it to its parent. Popping the
// root is a programming error and is ignored rather than panicking, per the
// engine's no-panic discipline.
func (t *Tree) Pop() *Indicator {
	if len(t.stack) == 1 {
		return t.root
	}
	popped := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	return popped
}

// Back returns the indicator currently on top of the stack, i.e. the one a
// Pop would close next.
func (t *Tree) Back() *Indicator {
	return t.current()
}

// Compliant records a compliant evidence line against the current
// indicator, sets its status, and returns status.Compliant for convenient
// `return t.Compliant(...)` expressions in builtins.
func (t *Tree) Compliant(format string, args ...any) status.Status {
	cur := t.current()
	cur.Status = status.Compliant
	cur.Messages = append(cur.Messages, "Compliant: "+sprintfOrPlain(format, args...))
	return status.Compliant
}

// NonCompliant records a non-compliant evidence line against the current
// indicator, sets its status, and returns status.NonCompliant.
func (t *Tree) NonCompliant(format string, args ...any) status.Status {
	cur := t.current()
	cur.Status = status.NonCompliant
	cur.Messages = append(cur.Messages, "NonCompliant: "+sprintfOrPlain(format, args...))
	return status.NonCompliant
}

// Errorf records an error evidence line against the current indicator and
// sets its status to Error.
func (t *Tree) Errorf(format string, args ...any) status.Status {
	cur := t.current()
	cur.Status = status.Error
	cur.Messages = append(cur.Messages, sprintfOrPlain(format, args...))
	return status.Error
}

// SetStatus assigns the status of the current indicator directly, for
// combinators that fold a child's already-recorded verdict rather than
// writing a new evidence line (e.g. Not inverting a child's status).
func (t *Tree) SetStatus(s status.Status) {
	t.current().Status = s
}

func sprintfOrPlain(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
