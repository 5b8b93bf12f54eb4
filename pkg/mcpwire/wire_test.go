package mcpwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeInputSchema_RoundTripsAValidSchema(t *testing.T) {
	raw := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
		"required": []any{"path"},
	}
	got := NormalizeInputSchema(raw)
	require := assert.New(t)
	require.NotNil(got)
	require.Equal("object", got["type"])
}

func TestNormalizeInputSchema_NilInputStaysNil(t *testing.T) {
	assert.Nil(t, NormalizeInputSchema(nil))
}

func TestToolCallResult_TextBlocksSkipsNonText(t *testing.T) {
	result := &ToolCallResult{Content: []ContentBlock{
		{Type: "text", Text: "hello"},
		{Type: "image"},
		{Type: "text", Text: "world"},
	}}
	assert.Equal(t, []string{"hello", "world"}, result.TextBlocks())
}
