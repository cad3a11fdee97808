package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

func TestValidatePayload_RefineResponse(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidatePayload(KindRefineResponse, []byte(`{"response": ["Which inbox?*Work*Personal"]}`)))
	assert.NoError(t, v.ValidatePayload(KindRefineResponse, []byte(`{"response": []}`)))
	assert.NoError(t, v.ValidatePayload(KindRefineResponse, []byte(`{"response": "a refined query"}`)))

	err = v.ValidatePayload(KindRefineResponse, []byte(`{"response": 3}`))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = v.ValidatePayload(KindRefineResponse, []byte(`{}`))
	require.Error(t, err)
}

func TestValidatePayload_Sidebar(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidatePayload(KindSidebar, []byte(`[]`)))
	assert.NoError(t, v.ValidatePayload(KindSidebar,
		[]byte(`[{"id": "12", "name": "n", "json": "{}", "prompt": "", "active": false, "public": true}]`)))

	err = v.ValidatePayload(KindSidebar, []byte(`[{"id": "12"}]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json")
}

func TestValidatePayload_Public(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	assert.NoError(t, v.ValidatePayload(KindPublic, []byte(`{"wid": "7", "name": "n", "json": "{}", "uses": 3, "likes": 1}`)))
	assert.NoError(t, v.ValidatePayload(KindPublic, []byte(`{"json": {"workflow_id": 7}}`)))
	assert.Error(t, v.ValidatePayload(KindPublic, []byte(`{"name": "no document"}`)))
	assert.Error(t, v.ValidatePayload(KindPublic, []byte(`{"json": 4}`)))
}

func TestValidatePayload_CollectsViolations(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidatePayload(KindWorkflow, []byte(`{"workflow_id": true, "trigger": {}, "workflow": [{"id": 1}]}`))
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	violations, ok := fe.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 3)
}

func TestValidatePayload_BadInput(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidatePayload("nope", []byte(`{}`))
	assert.Contains(t, err.Error(), "unknown payload kind")

	err = v.ValidatePayload(KindWorkflow, []byte(`{`))
	assert.Contains(t, err.Error(), "not valid JSON")
}
