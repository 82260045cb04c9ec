package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_LookupFallbackOrder(t *testing.T) {
	c := NewCatalog(NewDateTime(nil), NewCalculator(), NewFunc("web_search", "", nil,
		func(context.Context, struct{}) (string, error) { return "", nil }))

	tests := []struct {
		id   string
		want string
		ok   bool
	}{
		{"DateTime", "DateTime", true},
		{"datetime", "DateTime", true},
		{"DATETIME", "DateTime", true},
		{"date_time", "DateTime", true},
		{"date-time", "DateTime", true},
		{"WebSearch", "web_search", true},
		{"calc", "Calculator", true},
		{"datetime_tool", "DateTime", true},
		{"unknown", "", false},
		{"", "", false},
		{"__", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			tool, ok := c.Lookup(tt.id)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, tool.Info().Name)
			}
		})
	}
}

func TestCatalog_AmbiguousPrefix(t *testing.T) {
	noop := func(context.Context, struct{}) (string, error) { return "", nil }
	c := NewCatalog(NewFunc("search_web", "", nil, noop), NewFunc("search_docs", "", nil, noop))

	_, ok := c.Lookup("search")
	assert.False(t, ok)
}

func TestCatalog_FoldedNamesResolveInSortedOrder(t *testing.T) {
	noop := func(context.Context, struct{}) (string, error) { return "", nil }
	c := NewCatalog(
		NewFunc("datetime", "", nil, noop),
		NewFunc("DateTime", "", nil, noop),
		NewFunc("date_time", "", nil, noop),
	)

	for i := 0; i < 50; i++ {
		tool, ok := c.Lookup("DATETIME")
		require.True(t, ok)
		assert.Equal(t, "DateTime", tool.Info().Name)

		tool, ok = c.Lookup("Date-Time")
		require.True(t, ok)
		assert.Equal(t, "DateTime", tool.Info().Name)
	}
}

func TestCatalog_Resolve(t *testing.T) {
	c := Builtins()
	found, missing := c.Resolve([]string{"datetime", "DateTime", "calculator", "weather"})

	require.Len(t, found, 2)
	assert.Equal(t, "DateTime", found[0].Info().Name)
	assert.Equal(t, "Calculator", found[1].Info().Name)
	assert.Equal(t, []string{"weather"}, missing)
	assert.Equal(t, []string{"Calculator", "DateTime"}, c.Names())
	assert.Len(t, c.All(), 2)
}

func TestDateTime_Call(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tool := NewDateTime(func() time.Time { return fixed })

	out, err := tool.Call(context.Background(), `{"timezone":"UTC"}`)
	require.NoError(t, err)
	got := out.(DateTimeOutput)
	assert.Equal(t, "2024-03-01T12:00:00Z", got.DateTime)
	assert.Equal(t, "Friday", got.Weekday)

	out, err = tool.Call(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "UTC", out.(DateTimeOutput).Timezone)

	_, err = tool.Call(context.Background(), `{"timezone":"Mars/Base"}`)
	require.Error(t, err)
}

func TestCalculator_Call(t *testing.T) {
	tool := NewCalculator()

	out, err := tool.Call(context.Background(), `{"a": 6, "b": 3, "op": "div"}`)
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.(CalculatorOutput).Result)

	// single quotes and a missing brace are repaired
	out, err = tool.Call(context.Background(), `{'a': 2, 'b': 5, 'op': 'mul'`)
	require.NoError(t, err)
	assert.Equal(t, 10.0, out.(CalculatorOutput).Result)

	_, err = tool.Call(context.Background(), `{"a": 1, "b": 0, "op": "div"}`)
	require.ErrorIs(t, err, errDivisionByZero)

	_, err = tool.Call(context.Background(), `{"a": 1, "b": 0, "op": "pow"}`)
	require.Error(t, err)
}
