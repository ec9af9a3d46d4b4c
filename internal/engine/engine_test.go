package engine_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wharflab/complianceengine/internal/cctx"
	"github.com/wharflab/complianceengine/internal/engine"
	"github.com/wharflab/complianceengine/internal/indicators"
	_ "github.com/wharflab/complianceengine/internal/procedures/meta"
	"github.com/wharflab/complianceengine/internal/registry"
	"github.com/wharflab/complianceengine/internal/status"
)

func newEngine() *engine.Engine {
	return engine.New(registry.Default(), func(rule string) registry.Context {
		return cctx.New(rule)
	})
}

func TestAllOfEmptyIsCompliant(t *testing.T) {
	eng := newEngine()
	_, _, err := eng.MmiSet("procedureX", []byte(`{"audit":{"allOf":[]}}`))
	require.Nil(t, err)

	st, root, err := eng.MmiGet("auditX")
	require.Nil(t, err)
	require.Equal(t, status.Compliant, st)
	require.NotNil(t, root)
	require.Equal(t, "X", root.Label)
	require.Equal(t, status.Compliant, root.Status)
}

func TestAnyOfEmptyIsNonCompliant(t *testing.T) {
	eng := newEngine()
	_, _, err := eng.MmiSet("procedureX", []byte(`{"audit":{"anyOf":[]}}`))
	require.Nil(t, err)

	st, _, err := eng.MmiGet("auditX")
	require.Nil(t, err)
	require.Equal(t, status.NonCompliant, st)
}

func TestUnknownBuiltinIsRejected(t *testing.T) {
	eng := newEngine()
	_, _, err := eng.MmiSet("procedureX", []byte(`{"audit":{"FunctionThatDoesNotExist":{}}}`))
	require.NotNil(t, err)
	require.Contains(t, err.Message, "Unknown function")
}

func TestUnknownParameterOverlay(t *testing.T) {
	eng := newEngine()
	_, _, err := eng.MmiSet("procedureX", []byte(`{"audit":{"allOf":[]},"parameters":{"K":"v"}}`))
	require.Nil(t, err)

	_, _, err = eng.MmiSet("initX", []byte("Q=1"))
	require.NotNil(t, err)
	require.Equal(t, "User parameter 'Q' not found", err.Message)
}

func TestInvalidObjectNames(t *testing.T) {
	eng := newEngine()

	_, _, err := eng.MmiSet("", nil)
	require.NotNil(t, err)
	require.Equal(t, "Invalid object name", err.Message)

	_, _, err = eng.MmiSet("bogusX", nil)
	require.NotNil(t, err)
	require.Equal(t, "Invalid object name", err.Message)

	_, _, err = eng.MmiGet("audit")
	require.NotNil(t, err)
	require.Equal(t, "Rule name is empty", err.Message)

	_, _, err = eng.MmiGet("procedureX")
	require.NotNil(t, err)
	require.Equal(t, "Invalid object name", err.Message)
}

func TestInitBeforeProcedureIsOutOfOrder(t *testing.T) {
	eng := newEngine()
	_, _, err := eng.MmiSet("initX", []byte("K=v"))
	require.NotNil(t, err)
	require.Equal(t, "Out-of-order operation: procedure must be set first", err.Message)
}

func TestAuditUnknownRule(t *testing.T) {
	eng := newEngine()
	_, _, err := eng.MmiGet("auditX")
	require.NotNil(t, err)
	require.Equal(t, "Rule not found", err.Message)
}

func TestMalformedProcedureJSON(t *testing.T) {
	eng := newEngine()
	_, _, err := eng.MmiSet("procedureX", []byte(`{not json`))
	require.NotNil(t, err)
	require.Equal(t, "Failed to parse JSON", err.Message)
}

func TestParameterSubstitutionEndToEnd(t *testing.T) {
	eng := newEngine()
	doc := `{"audit":{"AuditGetParamValues":{"KEY1":"$K","KEY2":"static"}},"parameters":{"K":"default"}}`
	_, _, err := eng.MmiSet("procedureX", []byte(doc))
	require.Nil(t, err)

	_, _, err = eng.MmiSet("initX", []byte("K=override"))
	require.Nil(t, err)

	st, root, err := eng.MmiGet("auditX")
	require.Nil(t, err)
	require.Equal(t, status.Compliant, st)
	require.Contains(t, collectMessages(root), "KEY1=override")
}

func TestRemediationFailureIsNonCompliantNotError(t *testing.T) {
	eng := newEngine()
	doc := `{"audit":{"AuditSuccess":{}},"remediate":{"RemediationFailure":{}}}`
	_, _, err := eng.MmiSet("procedureX", []byte(doc))
	require.Nil(t, err)

	st, _, err := eng.MmiSet("remediateX", nil)
	require.Nil(t, err)
	require.Equal(t, status.NonCompliant, st)
}

func TestAuditIsRepeatable(t *testing.T) {
	eng := newEngine()
	doc := `{"audit":{"anyOf":[{"AuditFailure":{}},{"AuditSuccess":{}}]}}`
	_, _, err := eng.MmiSet("procedureX", []byte(doc))
	require.Nil(t, err)

	st1, root1, err := eng.MmiGet("auditX")
	require.Nil(t, err)
	st2, root2, err := eng.MmiGet("auditX")
	require.Nil(t, err)

	require.Equal(t, st1, st2)
	j1, _ := json.Marshal(root1)
	j2, _ := json.Marshal(root2)
	require.Equal(t, string(j1), string(j2))
}

func TestSectionFilter(t *testing.T) {
	eng := newEngine()
	_, _, err := eng.MmiSet("procedureA", []byte(`{"audit":{"allOf":[]}}`))
	require.Nil(t, err)
	_, _, err = eng.MmiSet("procedureB", []byte(`{"audit":{"allOf":[]}}`))
	require.Nil(t, err)

	require.ElementsMatch(t, []string{"A", "B"}, eng.Rules(""))
}

// collectMessages flattens every evidence line in the indicator tree into
// one string for Contains-style assertions.
func collectMessages(root *indicators.Indicator) string {
	var b strings.Builder
	var walk func(*indicators.Indicator)
	walk = func(ind *indicators.Indicator) {
		for _, m := range ind.Messages {
			b.WriteString(m)
			b.WriteByte('\n')
		}
		for _, c := range ind.Children {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}
