package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalBoolComparisons(t *testing.T) {
	eval, err := NewCELEvaluator()
	require.NoError(t, err)

	bindings := map[string]interface{}{
		"state": map[string]interface{}{"stepCount": 3, "totalTokens": 1500},
		"input": map[string]interface{}{"value": "summarize the report"},
	}

	cases := []struct {
		expression string
		want       bool
	}{
		{"state.stepCount >= 3", true},
		{"state.stepCount > 3", false},
		{"state.totalTokens >= 1000 && state.stepCount >= 2", true},
		{"input.value.contains('report')", true},
		{"input.value.contains('invoice')", false},
	}
	for _, tc := range cases {
		got, err := eval.EvalBool(tc.expression, bindings)
		require.NoError(t, err, tc.expression)
		assert.Equal(t, tc.want, got, tc.expression)
	}
}

func TestEvalBoolTruthiness(t *testing.T) {
	eval, err := NewCELEvaluator()
	require.NoError(t, err)

	bindings := map[string]interface{}{
		"input": map[string]interface{}{"value": "hello", "empty": ""},
	}

	got, err := eval.EvalBool("input.value", bindings)
	require.NoError(t, err)
	assert.True(t, got, "non-empty string is truthy")

	got, err = eval.EvalBool("input.empty", bindings)
	require.NoError(t, err)
	assert.False(t, got, "empty string is falsy")

	got, err = eval.EvalBool("1 + 1", nil)
	require.NoError(t, err)
	assert.True(t, got, "non-zero number is truthy")
}

func TestEvalBoolUnboundVariablesDefaultEmpty(t *testing.T) {
	eval, err := NewCELEvaluator()
	require.NoError(t, err)

	// No bindings at all: declared variables resolve to empty maps.
	got, err := eval.EvalBool("size(state) == 0", nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvalBoolCompileError(t *testing.T) {
	eval, err := NewCELEvaluator()
	require.NoError(t, err)

	_, err = eval.EvalBool("state.stepCount >=", nil)
	assert.Error(t, err)
}

func TestEvalBoolCachesPrograms(t *testing.T) {
	eval, err := NewCELEvaluator()
	require.NoError(t, err)

	const expr = "state.stepCount >= 1"
	_, err = eval.EvalBool(expr, map[string]interface{}{
		"state": map[string]interface{}{"stepCount": 1},
	})
	require.NoError(t, err)

	eval.mu.RLock()
	_, cached := eval.programs[expr]
	eval.mu.RUnlock()
	assert.True(t, cached, "compiled program should be cached")
}
