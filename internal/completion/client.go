package completion

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Purpose identifies what a prompt asks for.
type Purpose string

const (
	PurposeFormalize  Purpose = "formalize"
	PurposeCorrect    Purpose = "correct"
	PurposeSynthesize Purpose = "synthesize"
)

// Prompt is one request to a Model.
type Prompt struct {
	Purpose Purpose
	// Key is the requirement id for per-item prompts, empty for batch prompts.
	Key    string
	System string
	User   string
}

// Model is a raw completion backend.
// Implemented by OpenAIModel (production) and testutil.ScriptedModel (tests).
type Model interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Request is a prompt plus the schema its response must satisfy.
type Request struct {
	Purpose Purpose
	Key     string
	System  string
	Prompt  string
	Schema  *Schema
}

// Client validates model responses against schemas.
type Client struct {
	model   Model
	schemas *SchemaSet
	logger  *slog.Logger
}

// NewClient creates a Client. A nil logger means slog.Default().
func NewClient(model Model, schemas *SchemaSet, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{model: model, schemas: schemas, logger: logger}
}

// Schemas returns the schema set used for validation.
func (c *Client) Schemas() *SchemaSet {
	return c.schemas
}

// Complete sends req and decodes the validated response into out.
//
// Errors:
//   - *SchemaError: the service answered but the answer is unusable
//   - anything else: the service failed or the context expired
func (c *Client) Complete(ctx context.Context, req Request, out any) error {
	user := req.Prompt
	if req.Schema != nil {
		user += "\n\nRespond with a single JSON object satisfying this CUE definition:\n\n" + req.Schema.Source + "\n"
	}

	text, err := c.model.Generate(ctx, Prompt{
		Purpose: req.Purpose,
		Key:     req.Key,
		System:  req.System,
		User:    user,
	})
	if err != nil {
		return fmt.Errorf("completion %s: %w", req.Purpose, err)
	}

	data, err := ExtractJSON(text)
	if err != nil {
		name := ""
		if req.Schema != nil {
			name = req.Schema.Name
		}
		return &SchemaError{Schema: name, Problems: []string{err.Error()}, Raw: text}
	}
	if req.Schema == nil {
		return nil
	}
	if err := c.schemas.Validate(req.Schema, data, out); err != nil {
		c.logger.Debug("response rejected by schema",
			"purpose", req.Purpose,
			"key", req.Key,
			"schema", req.Schema.Name,
			"error", err)
		return err
	}
	return nil
}

// ExtractJSON returns the outermost JSON object in a model response,
// tolerating surrounding prose and markdown code fences.
func ExtractJSON(text string) ([]byte, error) {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		if nl := strings.IndexByte(t, '\n'); nl >= 0 {
			t = t[nl+1:]
		}
		t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	}
	start := strings.IndexByte(t, '{')
	end := strings.LastIndexByte(t, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	return bytes.TrimSpace([]byte(t[start : end+1])), nil
}
