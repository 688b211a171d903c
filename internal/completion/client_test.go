package completion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	reply string
	err   error
	last  Prompt
}

func (m *stubModel) Generate(_ context.Context, p Prompt) (string, error) {
	m.last = p
	return m.reply, m.err
}

func newTestClient(t *testing.T, m Model) *Client {
	t.Helper()
	set, err := LoadSchemas()
	require.NoError(t, err)
	return NewClient(m, set, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCompleteDecodesFencedResponse(t *testing.T) {
	model := &stubModel{reply: "Here you go:\n```json\n{\"requirement_id\": \"R1\", \"body\": \"Helper(m);\"}\n```"}
	client := newTestClient(t, model)

	var out struct {
		RequirementID string `json:"requirement_id"`
		Body          string `json:"body"`
	}
	err := client.Complete(context.Background(), Request{
		Purpose: PurposeSynthesize,
		Key:     "R1",
		Prompt:  "prove it",
		Schema:  client.Schemas().ProofBody,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Helper(m);", out.Body)

	assert.Equal(t, PurposeSynthesize, model.last.Purpose)
	assert.Equal(t, "R1", model.last.Key)
	assert.Contains(t, model.last.User, "prove it")
	assert.Contains(t, model.last.User, "#ProofBody: {")
}

func TestCompleteSchemaFailure(t *testing.T) {
	client := newTestClient(t, &stubModel{reply: `{"requirement_id": "R1"}`})

	var out map[string]any
	err := client.Complete(context.Background(), Request{
		Purpose: PurposeSynthesize,
		Schema:  client.Schemas().ProofBody,
	}, &out)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "#ProofBody")
}

func TestCompleteNoJSON(t *testing.T) {
	client := newTestClient(t, &stubModel{reply: "I cannot help with that."})

	err := client.Complete(context.Background(), Request{Schema: client.Schemas().ProofBody}, nil)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "I cannot help with that.", se.Raw)
}

func TestCompleteTransportFailure(t *testing.T) {
	boom := errors.New("connection refused")
	client := newTestClient(t, &stubModel{err: boom})

	err := client.Complete(context.Background(), Request{Purpose: PurposeFormalize, Schema: client.Schemas().SignatureBatch}, nil)
	require.ErrorIs(t, err, boom)
	var se *SchemaError
	assert.False(t, errors.As(err, &se))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`{"a": 1}`, `{"a": 1}`, false},
		{"```\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`, false},
		{`Sure! {"a": 1} Hope that helps.`, `{"a": 1}`, false},
		{`no object`, ``, true},
		{`} backwards {`, ``, true},
	}
	for _, tt := range tests {
		got, err := ExtractJSON(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, string(got))
	}
}
