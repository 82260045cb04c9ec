package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpression_Eval(t *testing.T) {
	values := map[string]string{"input": "  Hello World ", "Model_1": "yes"}
	lookup := func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}

	tests := []struct {
		expr string
		want bool
	}{
		{`true`, true},
		{` false `, false},
		{`input == "Hello World"`, true},
		{`input != "Hello World"`, false},
		{`input contains "lo Wo"`, true},
		{`input startsWith "Hello"`, true},
		{`input startsWith "World"`, false},
		{`input matches "^H.*d$"`, true},
		{`Model_1 == "yes"`, true},
		{`Model_1=="no"`, false},
		{`input contains "say \"hi\""`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := parseExpression(tt.expr)
			require.NoError(t, err)
			got, err := e.eval(lookup)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpression_Invalid(t *testing.T) {
	for _, expr := range []string{
		``,
		`input`,
		`input > "3"`,
		`input == hello`,
		`input matches "("`,
		`bad label == "x"`,
	} {
		_, err := parseExpression(expr)
		assert.ErrorIs(t, err, errInvalidExpression, expr)
	}

	e, err := parseExpression(`Missing == "x"`)
	require.NoError(t, err)
	_, err = e.eval(func(string) (string, bool) { return "", false })
	assert.ErrorIs(t, err, errInvalidExpression)
}

func TestSelectHandle(t *testing.T) {
	lookup := func(string) (string, bool) { return "b", true }

	h, err := selectHandle([]string{`input == "a"`, `input == "b"`, `true`}, lookup)
	require.NoError(t, err)
	assert.Equal(t, "1", h)

	h, err = selectHandle([]string{`input == "a"`}, lookup)
	require.NoError(t, err)
	assert.Equal(t, ElseHandle, h)

	h, err = selectHandle(nil, lookup)
	require.NoError(t, err)
	assert.Equal(t, ElseHandle, h)
}
