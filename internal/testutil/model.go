package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/proofpipe/internal/completion"
	"github.com/roach88/proofpipe/internal/ir"
)

// Response is one scripted model reply. A non-nil Err simulates a
// transport failure.
type Response struct {
	Text string
	Err  error
}

// ErrUnscripted is returned when the model receives a prompt nobody scripted.
var ErrUnscripted = errors.New("no scripted response")

// ScriptedModel is a completion.Model that replays queued responses.
//
// Responses are queued per (purpose, key). A prompt with no queued response
// for its exact key falls back to the wildcard key "*"; if that is empty too
// the call fails with ErrUnscripted, which the pipeline treats as a
// transport failure.
//
// Thread-safety: safe for concurrent use.
type ScriptedModel struct {
	mu      sync.Mutex
	queues  map[string][]Response
	calls   map[string]int
	prompts []completion.Prompt
}

// NewScriptedModel creates an empty ScriptedModel.
func NewScriptedModel() *ScriptedModel {
	return &ScriptedModel{
		queues: make(map[string][]Response),
		calls:  make(map[string]int),
	}
}

func queueKey(purpose completion.Purpose, key string) string {
	return string(purpose) + "/" + key
}

// On queues responses for (purpose, key). Use key "" for batch prompts and
// "*" to match any key.
func (m *ScriptedModel) On(purpose completion.Purpose, key string, responses ...Response) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := queueKey(purpose, key)
	m.queues[k] = append(m.queues[k], responses...)
	return m
}

// Reply queues plain-text responses for (purpose, key).
func (m *ScriptedModel) Reply(purpose completion.Purpose, key string, texts ...string) *ScriptedModel {
	responses := make([]Response, len(texts))
	for i, t := range texts {
		responses[i] = Response{Text: t}
	}
	return m.On(purpose, key, responses...)
}

// Generate implements completion.Model.
func (m *ScriptedModel) Generate(ctx context.Context, p completion.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, p)
	m.calls[queueKey(p.Purpose, p.Key)]++

	for _, k := range []string{queueKey(p.Purpose, p.Key), queueKey(p.Purpose, "*")} {
		q := m.queues[k]
		if len(q) == 0 {
			continue
		}
		m.queues[k] = q[1:]
		return q[0].Text, q[0].Err
	}
	return "", fmt.Errorf("%w for %s/%s", ErrUnscripted, p.Purpose, p.Key)
}

// Calls returns how many prompts were received for (purpose, key).
func (m *ScriptedModel) Calls(purpose completion.Purpose, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[queueKey(purpose, key)]
}

// Prompts returns every prompt received, in arrival order.
func (m *ScriptedModel) Prompts() []completion.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]completion.Prompt, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// SignatureBatchJSON renders signatures as a formalization batch response.
func SignatureBatchJSON(sigs ...ir.Signature) string {
	items := make([]ir.Signature, len(sigs))
	copy(items, sigs)
	return mustJSON(map[string]any{"signatures": items})
}

// SignatureJSON renders one signature as a correction response.
func SignatureJSON(sig ir.Signature) string {
	return mustJSON(sig)
}

// ProofJSON renders a proof body response.
func ProofJSON(requirementID, body string) string {
	return mustJSON(map[string]string{"requirement_id": requirementID, "body": body})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
