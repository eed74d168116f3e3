package toolvalidate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/worldrt/pkg/models"
)

type recordingPublisher struct {
	calls []string
}

func (r *recordingPublisher) PublishToolError(toolCallID, toolName, errMsg string, chatID *string) {
	r.calls = append(r.calls, toolCallID)
}

func TestValidateMalformedCallProducesToolResult(t *testing.T) {
	pub := &recordingPublisher{}
	result := Validate([]models.ToolCall{
		{ID: "call-1", Function: models.ToolCallFunction{Name: "  "}},
	}, nil, pub, nil, nil)

	require.Empty(t, result.Valid)
	require.Len(t, result.ToolResults, 1)
	require.Equal(t, "call-1", result.ToolResults[0].ToolCallID)
	require.Contains(t, result.ToolResults[0].Content, "Malformed tool call")
	require.Equal(t, []string{"call-1"}, pub.calls)
}

func TestValidateGeneratesIDForMissingCallID(t *testing.T) {
	result := Validate([]models.ToolCall{
		{Function: models.ToolCallFunction{Name: ""}},
	}, nil, nil, nil, nil)
	require.Equal(t, "tc-0", result.ToolResults[0].ToolCallID)
}

func TestValidateAliasNormalizationListFiles(t *testing.T) {
	result := Validate([]models.ToolCall{
		{ID: "1", Function: models.ToolCallFunction{Name: "list_files", Arguments: `{"directory":"/tmp"}`}},
	}, nil, nil, nil, nil)
	require.Len(t, result.Valid, 1)
	require.JSONEq(t, `{"path":"/tmp"}`, result.Valid[0].Function.Arguments)
}

func TestValidateAliasCanonicalWinsOverAlias(t *testing.T) {
	result := Validate([]models.ToolCall{
		{ID: "1", Function: models.ToolCallFunction{Name: "list_files", Arguments: `{"directory":"/tmp","path":"/keep"}`}},
	}, nil, nil, nil, nil)
	require.JSONEq(t, `{"path":"/keep"}`, result.Valid[0].Function.Arguments)
}

func TestCoerceStringToNumber(t *testing.T) {
	schema := Schema{Raw: []byte(`{"type":"object","properties":{"count":{"type":"number"}}}`)}
	out, err := coerce(schema, `{"count":"42"}`)
	require.NoError(t, err)
	require.JSONEq(t, `{"count":42}`, out)
}

func TestCoerceStringToArray(t *testing.T) {
	schema := Schema{Raw: []byte(`{"type":"object","properties":{"tags":{"type":"array"}}}`)}
	out, err := coerce(schema, `{"tags":"solo"}`)
	require.NoError(t, err)
	require.JSONEq(t, `{"tags":["solo"]}`, out)
}

func TestCoerceEnumCaseInsensitiveRewrite(t *testing.T) {
	schema := Schema{Raw: []byte(`{"type":"object","properties":{"mode":{"type":"string","enum":["Fast","Slow"]}}}`)}
	out, err := coerce(schema, `{"mode":"fast"}`)
	require.NoError(t, err)
	require.JSONEq(t, `{"mode":"Fast"}`, out)
}

func TestCoerceOmitsEmptyEnumValue(t *testing.T) {
	schema := Schema{Raw: []byte(`{"type":"object","properties":{"mode":{"type":"string","enum":["Fast","Slow"]}}}`)}
	out, err := coerce(schema, `{"mode":""}`)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, out)
}

func TestCoerceOmitsNullValue(t *testing.T) {
	schema := Schema{Raw: []byte(`{"type":"object","properties":{"optional":{"type":"string"}}}`)}
	out, err := coerce(schema, `{"optional":null}`)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, out)
}
