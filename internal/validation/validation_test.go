package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

const promptSchema = `{
  "type": "object",
  "required": ["variableName", "userPrompt"],
  "properties": {
    "variableName": { "type": "string", "minLength": 1 },
    "userPrompt": { "type": "string", "minLength": 1 },
    "temperature": { "type": "number", "minimum": 0, "maximum": 2 }
  }
}`

func TestValidateConfig_Valid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateConfig(map[string]any{"variableName": "ai", "userPrompt": "hi", "temperature": 0.3}, []byte(promptSchema))
	assert.NoError(t, err)
}

func TestValidateConfig_MissingField(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateConfig(map[string]any{"variableName": "ai"}, []byte(promptSchema))
	require.Error(t, err)

	fe, ok := schema.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	assert.False(t, fe.IsRetryable())
	assert.Contains(t, fe.Message, "userPrompt")
}

func TestValidateConfig_MultipleViolations(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateConfig(map[string]any{"temperature": 9}, []byte(promptSchema))
	require.Error(t, err)
	fe, _ := schema.AsFlowError(err)
	require.NotNil(t, fe)
	assert.NotEmpty(t, fe.Details["violations"])
}

func TestValidateConfig_EmptySchemaSkips(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateConfig(nil, nil))
}

func TestValidateConfig_ConcurrentCache(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateConfig(map[string]any{"variableName": "a", "userPrompt": "b"}, []byte(promptSchema)))
		}()
	}
	wg.Wait()
	assert.Len(t, v.cache, 1)
}

func TestValidateDocument(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	ok := map[string]any{
		"name":        "hello",
		"nodes":       []any{map[string]any{"id": "t", "type": "MANUAL_TRIGGER"}},
		"connections": []any{},
	}
	assert.NoError(t, v.ValidateDocument(ok))

	bad := map[string]any{"name": "hello", "nodes": []any{}}
	assert.Error(t, v.ValidateDocument(bad))
}

type typeSet map[schema.NodeType]bool

func (s typeSet) Has(t schema.NodeType) bool { return s[t] }

func TestCheckWorkflow(t *testing.T) {
	known := typeSet{schema.NodeTypeManualTrigger: true, schema.NodeTypeHTTPRequest: true}

	wf := &schema.Workflow{
		Nodes: []schema.Node{
			{ID: "t", Type: schema.NodeTypeManualTrigger},
			{ID: "a", Type: schema.NodeTypeHTTPRequest, Data: map[string]any{"variableName": "resp"}},
			{ID: "b", Type: schema.NodeTypeHTTPRequest, Data: map[string]any{"variableName": "other"}},
		},
		Connections: []schema.Connection{{FromNodeID: "t", ToNodeID: "a"}, {FromNodeID: "a", ToNodeID: "b"}},
	}
	res := CheckWorkflow(wf, known)
	assert.True(t, res.Valid())
	assert.NoError(t, res.Err())
}

func TestCheckWorkflow_Problems(t *testing.T) {
	known := typeSet{schema.NodeTypeManualTrigger: true, schema.NodeTypeHTTPRequest: true}

	wf := &schema.Workflow{
		Nodes: []schema.Node{
			{ID: "t", Type: schema.NodeTypeManualTrigger},
			{ID: "t2", Type: schema.NodeTypeManualTrigger},
			{ID: "a", Type: schema.NodeTypeHTTPRequest, Data: map[string]any{"variableName": "resp"}},
			{ID: "a", Type: "MYSTERY", Data: map[string]any{"variableName": "resp"}},
		},
		Connections: []schema.Connection{{FromNodeID: "a", ToNodeID: "ghost"}},
	}
	res := CheckWorkflow(wf, known)
	require.False(t, res.Valid())

	codes := map[string]int{}
	for _, e := range res.Errors {
		codes[e.Code]++
	}
	assert.Equal(t, 2, codes[schema.ErrCodeConflict]) // duplicate id + duplicate variable
	assert.Equal(t, 1, codes[schema.ErrCodeUnknownNodeType])
	assert.Equal(t, 1, codes[schema.ErrCodeNotFound])
	assert.Equal(t, 1, codes[schema.ErrCodeValidation])

	assert.True(t, schema.HasCode(res.Err(), schema.ErrCodeValidation))
}

func TestCheckWorkflow_NoTriggerWarns(t *testing.T) {
	res := CheckWorkflow(&schema.Workflow{Nodes: []schema.Node{{ID: "a", Type: schema.NodeTypeHTTPRequest}}}, nil)
	assert.True(t, res.Valid())
	assert.Len(t, res.Warnings, 1)
}
