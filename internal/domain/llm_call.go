// SPDX-License-Identifier: Apache-2.0

package domain

import "encoding/json"

// LLMCallType marks log data written for a language model call.
const LLMCallType = "llm_call"

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMCallLog is stored as Log.Data. Prompt holds either a string or a
// list of chat messages. Response holds either a string or a JSON object.
type LLMCallLog struct {
	Type         string          `json:"type"`
	Prompt       json.RawMessage `json:"prompt"`
	Response     json.RawMessage `json:"response,omitempty"`
	Model        string          `json:"model"`
	Provider     string          `json:"provider"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	TokenCount   int             `json:"token_count"`
}

// DecodeLLMCall returns the call payload when the log records an LLM call.
func DecodeLLMCall(l Log) (LLMCallLog, bool) {
	if len(l.Data) == 0 {
		return LLMCallLog{}, false
	}
	var call LLMCallLog
	if err := json.Unmarshal(l.Data, &call); err != nil {
		return LLMCallLog{}, false
	}
	if call.Type != LLMCallType {
		return LLMCallLog{}, false
	}
	return call, true
}

// PromptTexts flattens the prompt to the strings a reader would see.
func (c LLMCallLog) PromptTexts() []string {
	if len(c.Prompt) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(c.Prompt, &s); err == nil {
		return []string{s}
	}
	var msgs []ChatMessage
	if err := json.Unmarshal(c.Prompt, &msgs); err == nil {
		out := make([]string, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, m.Content)
		}
		return out
	}
	return []string{string(c.Prompt)}
}

// ResponseText returns the response string, or the raw JSON for
// structured responses.
func (c LLMCallLog) ResponseText() string {
	if len(c.Response) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(c.Response, &s); err == nil {
		return s
	}
	return string(c.Response)
}
