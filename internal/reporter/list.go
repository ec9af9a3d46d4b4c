package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/status"
)

// listMode selects which of CompactList, NestedList, or Debug a
// listFormatter renders.
type listMode int

const (
	listModeCompact listMode = iota
	listModeNested
	listModeDebug
)

// listFormatter implements Formatter for CompactList, NestedList, and
// Debug, the three formats sharing a line-oriented rendering style.
// All three colorize Compliant/NonCompliant/Error labels when
// attached to a terminal, gated by go-isatty + termenv.
type listFormatter struct {
	w      io.Writer
	mode   listMode
	color  bool
	b      strings.Builder
	ruleN  int
	nonOK  int
}

func newListFormatter(w io.Writer, mode listMode, colorOverride *bool) *listFormatter {
	color := detectColor(w, colorOverride)
	return &listFormatter{w: w, mode: mode, color: color}
}

// detectColor auto-detects terminal color support, respecting an explicit
// override and NO_COLOR/CLICOLOR_FORCE via termenv.
func detectColor(w io.Writer, override *bool) bool {
	if override != nil {
		return *override
	}
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
			return false
		}
	} else {
		return false
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

func (f *listFormatter) Begin(action string) error {
	if f.mode != listModeCompact {
		fmt.Fprintf(&f.b, "action: %s\n", action)
	}
	return nil
}

func (f *listFormatter) AddEntry(e Entry) error {
	f.ruleN++
	if e.Status != status.Compliant {
		f.nonOK++
	}
	switch f.mode {
	case listModeCompact:
		fmt.Fprintf(&f.b, "%s %s\n", e.RuleName, f.colorize(e.Status))
	case listModeNested, listModeDebug:
		fmt.Fprintf(&f.b, "%s %s\n", e.RuleName, f.colorize(e.Status))
		if e.Root != nil {
			for _, child := range e.Root.Children {
				f.writeIndicator(child, 1)
			}
		}
		if f.mode == listModeDebug {
			f.writeParams(e.Params)
		}
	}
	return nil
}

func (f *listFormatter) writeIndicator(ind *indicators.Indicator, depth int) {
	prefix := strings.Repeat("  ", depth)
	fmt.Fprintf(&f.b, "%s%s %s\n", prefix, ind.Label, f.colorize(ind.Status))
	for _, msg := range ind.Messages {
		fmt.Fprintf(&f.b, "%s  %s\n", prefix, msg)
	}
	for _, child := range ind.Children {
		f.writeIndicator(child, depth+1)
	}
}

func (f *listFormatter) writeParams(params map[string]string) {
	if len(params) == 0 {
		return
	}
	fmt.Fprintf(&f.b, "  params=%s\n", paramsString(params))
}

func (f *listFormatter) Finish(aggregate status.Status) (string, error) {
	if f.mode == listModeCompact {
		fmt.Fprintf(&f.b, "aggregate %s\n", f.colorize(aggregate))
	} else {
		fmt.Fprintf(&f.b, "aggregate: %s (%d/%d rules compliant)\n", f.colorize(aggregate), f.ruleN-f.nonOK, f.ruleN)
	}
	out := f.b.String()
	if _, err := io.WriteString(f.w, out); err != nil {
		return "", err
	}
	return out, nil
}

func (f *listFormatter) colorize(s status.Status) string {
	if !f.color {
		return s.String()
	}
	var color termenv.Color
	switch s {
	case status.Compliant:
		color = termenv.ANSIGreen
	case status.NonCompliant:
		color = termenv.ANSIYellow
	case status.Error:
		color = termenv.ANSIRed
	default:
		return s.String()
	}
	return termenv.String(s.String()).Foreground(color).Bold().String()
}

// paramsString renders a parameter map deterministically for Debug output.
func paramsString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, " ")
}
