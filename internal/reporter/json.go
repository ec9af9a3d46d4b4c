package reporter

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/wharflab/complianceengine/internal/indicators"
	"github.com/wharflab/complianceengine/internal/status"
)

// jsonRule is one rule's entry in the JSON document, mirroring Entry but
// with json tags matching the `{ "rules": [...], "aggregate": ... }`
// shape.
type jsonRule struct {
	Name       string                   `json:"name"`
	Status     status.Status            `json:"status"`
	Indicators []*jsonIndicator `json:"indicators"`
}

type jsonIndicator struct {
	Label    string           `json:"label"`
	Status   status.Status    `json:"status"`
	Messages []string         `json:"messages,omitempty"`
	Children []*jsonIndicator `json:"children,omitempty"`
}

func convertIndicator(i *indicators.Indicator) *jsonIndicator {
	if i == nil {
		return nil
	}
	out := &jsonIndicator{Label: i.Label, Status: i.Status, Messages: i.Messages}
	for _, c := range i.Children {
		out.Children = append(out.Children, convertIndicator(c))
	}
	return out
}

type jsonDocument struct {
	Rules     []jsonRule    `json:"rules"`
	Aggregate status.Status `json:"aggregate"`
}

// jsonFormatter implements Formatter by accumulating rules in memory and
// emitting a single JSON object on Finish (streaming per-entry JSON would
// not produce a single valid document).
type jsonFormatter struct {
	w     io.Writer
	rules []jsonRule
}

func newJSONFormatter(w io.Writer) *jsonFormatter {
	return &jsonFormatter{w: w}
}

func (f *jsonFormatter) Begin(string) error { return nil }

func (f *jsonFormatter) AddEntry(e Entry) error {
	var children []*jsonIndicator
	if e.Root != nil {
		for _, c := range e.Root.Children {
			children = append(children, convertIndicator(c))
		}
	}
	f.rules = append(f.rules, jsonRule{
		Name:       e.RuleName,
		Status:     e.Status,
		Indicators: children,
	})
	return nil
}

func (f *jsonFormatter) Finish(aggregate status.Status) (string, error) {
	doc := jsonDocument{Rules: f.rules, Aggregate: aggregate}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if _, err := f.w.Write(buf.Bytes()); err != nil {
		return "", err
	}
	return buf.String(), nil
}
