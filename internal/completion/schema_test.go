package completion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/proofpipe/internal/ir"
)

func loadSchemas(t *testing.T) *SchemaSet {
	t.Helper()
	set, err := LoadSchemas()
	require.NoError(t, err)
	return set
}

func TestLoadSchemasSources(t *testing.T) {
	set := loadSchemas(t)
	assert.Contains(t, set.Signature.Source, "#Signature: {")
	assert.Contains(t, set.Signature.Source, "ensures!:")
	assert.NotContains(t, set.Signature.Source, "#SignatureBatch")
	assert.Contains(t, set.ProofBody.Source, "body!:")
}

func TestValidateSignature(t *testing.T) {
	set := loadSchemas(t)

	var sig ir.Signature
	err := set.Validate(set.Signature, []byte(`{
		"requirement_id": "R1",
		"name": "InvImpliesNonNeg",
		"params": "m: Model",
		"requires": ["Inv(m)"],
		"ensures": "m.balance >= 0",
		"note": "extra fields are tolerated"
	}`), &sig)
	require.NoError(t, err)
	assert.Equal(t, ir.Signature{
		RequirementID: "R1",
		Name:          "InvImpliesNonNeg",
		Params:        "m: Model",
		Requires:      []string{"Inv(m)"},
		Ensures:       "m.balance >= 0",
	}, sig)
}

func TestValidateSignatureRejects(t *testing.T) {
	set := loadSchemas(t)

	tests := []struct {
		name string
		data string
	}{
		{"missing ensures", `{"requirement_id": "R1", "name": "L"}`},
		{"empty ensures", `{"requirement_id": "R1", "name": "L", "ensures": ""}`},
		{"missing id", `{"name": "L", "ensures": "true"}`},
		{"bad name", `{"requirement_id": "R1", "name": "not a name", "ensures": "true"}`},
		{"wrong type", `{"requirement_id": "R1", "name": "L", "ensures": 3}`},
		{"not json", `{"requirement_id": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sig ir.Signature
			err := set.Validate(set.Signature, []byte(tt.data), &sig)
			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "#Signature", se.Schema)
			assert.NotEmpty(t, se.Problems)
		})
	}
}

func TestValidateBatchKeepsRawItems(t *testing.T) {
	set := loadSchemas(t)

	var batch struct {
		Signatures []json.RawMessage `json:"signatures"`
	}
	err := set.Validate(set.SignatureBatch, []byte(`{"signatures": [
		{"requirement_id": "R1", "name": "A", "ensures": "true"},
		{"requirement_id": "R2"}
	]}`), &batch)
	require.NoError(t, err)
	require.Len(t, batch.Signatures, 2)

	var sig ir.Signature
	require.NoError(t, set.Validate(set.Signature, batch.Signatures[0], &sig))
	assert.Equal(t, "A", sig.Name)
	require.Error(t, set.Validate(set.Signature, batch.Signatures[1], &sig))
}

func TestValidateBatchMissingList(t *testing.T) {
	set := loadSchemas(t)
	err := set.Validate(set.SignatureBatch, []byte(`{"items": []}`), nil)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
}
