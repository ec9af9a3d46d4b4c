// Package reporter implements the engine's output formatters: Json,
// CompactList, NestedList, and Debug, plus a bonus Sarif
// formatter for CI/CD integration. Each formatter implements a
// begin/addEntry/finish contract that receives results one rule at a time;
// every formatter keeps the rendered document in memory and writes it out
// on Finish.
package reporter

import (
	"fmt"
	"io"
	"os"

	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/status"
)

// Format identifies one of the output shapes
type Format string

const (
	// FormatJSON is an RFC 8259 object with a "rules" array and an
	// "aggregate" status.
	FormatJSON Format = "json"
	// FormatCompactList is "<rule> <STATUS>" lines plus an aggregate line.
	FormatCompactList Format = "compact-list"
	// FormatNestedList is an indented per-indicator tree.
	FormatNestedList Format = "nested-list"
	// FormatDebug is NestedList plus a raw parameter-overlay dump.
	FormatDebug Format = "debug"
	// FormatSARIF is a CI/CD-oriented format, additive to the four
	// list/JSON shapes.
	FormatSARIF Format = "sarif"
)

// ParseFormat parses a format string into a Format, defaulting to
// NestedList on the empty string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatNestedList, "":
		return FormatNestedList, nil
	case FormatCompactList, FormatJSON, FormatDebug, FormatSARIF:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown format: %q (valid: json, compact-list, nested-list, debug, sarif)", s)
	}
}

// Entry is one rule's outcome, handed to a Formatter via AddEntry.
type Entry struct {
	// RuleName is the rule's dispatch key.
	RuleName string
	// Section is the benchmark-section tag, used only by formatters that
	// choose to display it.
	Section string
	// Status is the rule's final verdict for the requested action.
	Status status.Status
	// Root is the root indicator produced by evaluating this rule; nil
	// when the rule failed to compile or dispatch before evaluation.
	Root *indicators.Indicator
	// Params is a snapshot of the rule's resolved parameter dictionary,
	// included only by the Debug formatter.
	Params map[string]string
}

// Formatter renders a streamed sequence of rule results. Begin is called
// once before any entry, AddEntry once per rule in evaluation order, and
// Finish once at the end with the run's aggregate status.
type Formatter interface {
	// Begin announces the action ("audit" or "remediate") the run is
	// performing, before any entry arrives.
	Begin(action string) error
	// AddEntry records one rule's outcome.
	AddEntry(e Entry) error
	// Finish flushes the rendered document and returns it alongside the
	// run's exit-relevant aggregate status.
	Finish(aggregate status.Status) (string, error)
}

// Options configures formatter construction.
type Options struct {
	// Format selects which Formatter to build.
	Format Format
	// Writer is the output destination; Finish also returns the
	// rendered document so callers that only want the string (e.g. the
	// engine's MmiGet single-rule path) need not parse Writer's stream.
	Writer io.Writer
	// Color enables/disables ANSI colorization for CompactList/NestedList/Debug.
	// nil means auto-detect from Writer.
	Color *bool
	// ToolName/ToolVersion/ToolURI are used by the Sarif formatter.
	ToolName    string
	ToolVersion string
	ToolURI     string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Format:      FormatNestedList,
		Writer:      os.Stdout,
		ToolName:    "assessor",
		ToolURI:     "https://github.com/wharflab/complianceengine",
		ToolVersion: "dev",
	}
}

// New builds a Formatter for opts.Format.
func New(opts Options) (Formatter, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	switch opts.Format {
	case FormatJSON:
		return newJSONFormatter(opts.Writer), nil
	case FormatCompactList:
		return newListFormatter(opts.Writer, listModeCompact, opts.Color), nil
	case FormatNestedList, "":
		return newListFormatter(opts.Writer, listModeNested, opts.Color), nil
	case FormatDebug:
		return newListFormatter(opts.Writer, listModeDebug, opts.Color), nil
	case FormatSARIF:
		return newSARIFFormatter(opts.Writer, opts.ToolName, opts.ToolVersion, opts.ToolURI), nil
	default:
		return nil, fmt.Errorf("unknown format: %q", opts.Format)
	}
}

// GetWriter returns an io.Writer for the given output path: "stdout",
// "stderr", or a file path.
func GetWriter(path string) (io.Writer, func() error, error) {
	switch path {
	case "stdout", "":
		return os.Stdout, func() error { return nil }, nil
	case "stderr":
		return os.Stderr, func() error { return nil }, nil
	default:
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create output file: %w", err)
		}
		return f, f.Close, nil
	}
}
