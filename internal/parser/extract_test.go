package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObjectWrappedInProse(t *testing.T) {
	text := `Sure, here is the plan: {"steps":["a","b"],"files":["x.ts"]} Let me know!`

	result, err := Extract(text)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, result["steps"])
	assert.Equal(t, []any{"x.ts"}, result["files"])
}

func TestExtractArrayCutShortIsUnbalanced(t *testing.T) {
	_, err := Extract(`Sure! {"steps":["a","b"],"files":["x.ts"`)
	assert.ErrorIs(t, err, ErrUnbalancedBraces)
}

func TestExtractStringNeverClosedIsTruncated(t *testing.T) {
	_, err := Extract(`{"a":"b`)
	assert.ErrorIs(t, err, ErrTruncatedString)
}

func TestExtractBracesInsideStringsIgnored(t *testing.T) {
	result, err := Extract(`{"code":"if (x) { return {}; }"}`)
	require.NoError(t, err)
	assert.Equal(t, "if (x) { return {}; }", result["code"])
}

func TestExtractHonorsEscapedQuotes(t *testing.T) {
	result, err := Extract(`{"msg":"she said \"hi\" {"}`)
	require.NoError(t, err)
	assert.Equal(t, `she said "hi" {`, result["msg"])
}

func TestExtractEscapedQuoteAtCutoffIsTruncated(t *testing.T) {
	// The final byte is an escaped quote, so the scan is still in-string.
	_, err := Extract(`{"msg":"tail\"`)
	assert.ErrorIs(t, err, ErrTruncatedString)
}

func TestExtractNoObject(t *testing.T) {
	_, err := Extract("nothing structured here")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestExtractBalancedButMalformed(t *testing.T) {
	_, err := Extract(`{"a" "b"}`)
	assert.ErrorIs(t, err, ErrMalformedJSON)
	assert.False(t, Truncated(err))
}

func TestExtractNestedObjects(t *testing.T) {
	result, err := Extract(`prefix {"outer":{"inner":{"x":1}}} suffix`)
	require.NoError(t, err)
	outer, ok := result["outer"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, outer, "inner")
}

func TestExtractIsIdempotent(t *testing.T) {
	inputs := []string{
		`{"ok":true}`,
		`Sure! {"steps":["a"`,
		`{"a":"b`,
		`no json at all`,
		`{"a" "b"}`,
	}
	for _, input := range inputs {
		first, firstErr := Extract(input)
		second, secondErr := Extract(input)
		assert.Equal(t, first, second, "input %q", input)
		assert.Equal(t, firstErr, secondErr, "input %q", input)
	}
}

func TestTruncatedHelper(t *testing.T) {
	_, stringErr := Extract(`{"a":"b`)
	_, braceErr := Extract(`{"a":1`)
	assert.True(t, Truncated(stringErr))
	assert.True(t, Truncated(braceErr))
	assert.False(t, Truncated(nil))
}

func TestExtractRepairedFixesMalformed(t *testing.T) {
	// Single quotes and a trailing comma: invalid JSON, but complete.
	result, err := ExtractRepaired(`{'name': 'fix', 'done': true,}`)
	require.NoError(t, err)
	assert.Equal(t, "fix", result["name"])
}

func TestExtractRepairedNeverMasksTruncation(t *testing.T) {
	_, err := ExtractRepaired(`{"a":"b`)
	assert.ErrorIs(t, err, ErrTruncatedString)

	_, err = ExtractRepaired(`{"steps":["a","b"`)
	assert.ErrorIs(t, err, ErrUnbalancedBraces)
}
