package reporter

import (
	"bytes"
	"io"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"

	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/status"
)

// Default SARIF tool information, used when Options doesn't override it.
const (
	defaultToolName = "assessor"
	defaultToolURI  = "https://github.com/wharflab/complianceengine"
)

// sarifFormatter renders results as SARIF: one result per NonCompliant or
// Error indicator leaf, so a CI system's code-scanning view lists findings
// rather than just pass/fail per rule.
type sarifFormatter struct {
	w           io.Writer
	toolName    string
	toolVersion string
	toolURI     string
	run         *sarif.Run
	report      *sarif.Report
	seenRules   map[string]struct{}
}

func newSARIFFormatter(w io.Writer, toolName, toolVersion, toolURI string) *sarifFormatter {
	if toolName == "" {
		toolName = defaultToolName
	}
	if toolURI == "" {
		toolURI = defaultToolURI
	}
	return &sarifFormatter{
		w:           w,
		toolName:    toolName,
		toolVersion: toolVersion,
		toolURI:     toolURI,
		seenRules:   make(map[string]struct{}),
	}
}

func (f *sarifFormatter) Begin(string) error {
	f.report = sarif.NewReport()
	f.run = sarif.NewRunWithInformationURI(f.toolName, f.toolURI)
	if f.toolVersion != "" {
		f.run.Tool.Driver.WithVersion(f.toolVersion)
	}
	return nil
}

func (f *sarifFormatter) AddEntry(e Entry) error {
	if _, exists := f.seenRules[e.RuleName]; !exists {
		f.seenRules[e.RuleName] = struct{}{}
		f.run.AddRule(e.RuleName)
	}
	if e.Root == nil {
		return nil
	}
	f.addFindings(e.RuleName, e.Root)
	return nil
}

// addFindings walks an indicator subtree, emitting one SARIF result per
// indicator whose own status is not Compliant and which carries evidence
// messages (i.e. a leaf finding rather than a combinator rollup).
func (f *sarifFormatter) addFindings(ruleName string, ind *indicators.Indicator) {
	if ind.Status != status.Compliant && len(ind.Messages) > 0 {
		for _, msg := range ind.Messages {
			result := sarif.NewRuleResult(ruleName).
				WithMessage(sarif.NewTextMessage(ind.Label + ": " + msg)).
				WithLevel(severityToSARIFLevel(ind.Status))
			f.run.AddResult(result)
		}
	}
	for _, child := range ind.Children {
		f.addFindings(ruleName, child)
	}
}

func (f *sarifFormatter) Finish(status.Status) (string, error) {
	f.report.AddRun(f.run)
	var buf bytes.Buffer
	if err := f.report.PrettyWrite(&buf); err != nil {
		return "", err
	}
	if _, err := f.w.Write(buf.Bytes()); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const (
	sarifLevelError   = "error"
	sarifLevelWarning = "warning"
)

func severityToSARIFLevel(s status.Status) string {
	if s == status.Error {
		return sarifLevelError
	}
	return sarifLevelWarning
}
