// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/metrics"
)

// MaxAttempts bounds structured generation retries.
const MaxAttempts = 3

// Recorder persists one language model call.
type Recorder interface {
	RecordLLMCall(ctx context.Context, agentID string, call domain.LLMCallLog)
}

// Caller binds a client to the agent it speaks for. Every call it makes
// is recorded.
type Caller struct {
	client   Client
	recorder Recorder
	agentID  string
	logger   *slog.Logger
	now      func() time.Time
}

func NewCaller(client Client, recorder Recorder, agentID string, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{client: client, recorder: recorder, agentID: agentID, logger: logger, now: time.Now}
}

func (c *Caller) Client() Client {
	return c.client
}

// Text generates a free-form completion.
func (c *Caller) Text(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	resp, err := c.generate(ctx, Request{Messages: messages})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *Caller) generate(ctx context.Context, req Request) (Response, error) {
	start := c.now()
	resp, err := c.client.Generate(ctx, req)
	elapsed := c.now().Sub(start)

	metrics.IncLLMCall(c.client.Provider(), err == nil)

	if c.recorder != nil {
		prompt, _ := json.Marshal(req.Messages)
		call := domain.LLMCallLog{
			Type:       domain.LLMCallType,
			Prompt:     prompt,
			Model:      c.client.Model(),
			Provider:   c.client.Provider(),
			Success:    err == nil,
			DurationMS: elapsed.Milliseconds(),
		}
		if err != nil {
			call.ErrorMessage = err.Error()
		} else {
			call.Response, _ = json.Marshal(resp.Text)
			call.TokenCount = resp.Usage.TokenCount
		}
		c.recorder.RecordLLMCall(ctx, c.agentID, call)
	}

	if err != nil {
		c.logger.Warn("llm call failed",
			"agent_id", c.agentID,
			"provider", c.client.Provider(),
			"model", c.client.Model(),
			"err", err,
		)
	}
	return resp, err
}

// CompiledSchema is a Schema validated ahead of use.
type CompiledSchema struct {
	Schema

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

func NewSchema(name string, raw string) *CompiledSchema {
	return &CompiledSchema{Schema: Schema{Name: name, JSON: json.RawMessage(raw)}}
}

func (s *CompiledSchema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		url := "mem://llm/" + s.Name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(s.JSON)); err != nil {
			s.err = fmt.Errorf("add schema %s: %w", s.Name, err)
			return
		}
		s.compiled, s.err = compiler.Compile(url)
		if s.err != nil {
			s.err = fmt.Errorf("compile schema %s: %w", s.Name, s.err)
		}
	})
	return s.compiled, s.err
}

// Validate checks a JSON document against the schema.
func (s *CompiledSchema) Validate(doc []byte) error {
	compiled, err := s.compile()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	return compiled.Validate(v)
}

// GenerateStruct asks for a response matching schema and decodes it into T.
// Invalid responses are fed back to the model, up to MaxAttempts in total.
func GenerateStruct[T any](ctx context.Context, c *Caller, messages []domain.ChatMessage, schema *CompiledSchema) (T, error) {
	var zero T
	if _, err := schema.compile(); err != nil {
		return zero, err
	}

	conversation := append([]domain.ChatMessage(nil), messages...)
	var errs []error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		resp, err := c.generate(ctx, Request{Messages: conversation, Schema: &schema.Schema})
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
			continue
		}

		doc := extractJSON(resp.Text)
		out, err := decodeValidated[T](doc, schema)
		if err == nil {
			return out, nil
		}

		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
		conversation = append(conversation,
			Assistant(resp.Text),
			User(fmt.Sprintf("The previous response was invalid: %v. Respond again with only a JSON object matching the %s schema.", err, schema.Name)),
		)
	}
	return zero, fmt.Errorf("structured generation failed after %d attempts: %w", MaxAttempts, errors.Join(errs...))
}

func decodeValidated[T any](doc []byte, schema *CompiledSchema) (T, error) {
	var out T
	if err := schema.Validate(doc); err != nil {
		return out, err
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		return out, err
	}
	return out, nil
}

// extractJSON strips markdown fences and surrounding prose.
func extractJSON(text string) []byte {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return []byte(s)
}
