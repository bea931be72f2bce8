// SPDX-License-Identifier: Apache-2.0

// Package llm is the language model collaborator: a provider-neutral
// client contract, concrete providers, and structured output with retry.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

type Config struct {
	Provider    string        `envconfig:"PROVIDER" default:"mock"`
	Model       string        `envconfig:"MODEL"`
	BaseURL     string        `envconfig:"BASE_URL"`
	APIKey      string        `envconfig:"API_KEY"`
	Temperature float64       `envconfig:"TEMPERATURE"`
	MaxTokens   int           `envconfig:"MAX_TOKENS" default:"2000"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"60s"`
}

// key identifies clients that can be shared.
func (c Config) key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%g|%d|%s",
		strings.ToLower(c.Provider), c.Model, c.BaseURL, c.APIKey, c.Temperature, c.MaxTokens, c.Timeout)
}

// Schema constrains a structured response.
type Schema struct {
	Name string
	JSON json.RawMessage
}

type Request struct {
	Messages    []domain.ChatMessage
	Temperature *float64
	MaxTokens   int
	Schema      *Schema
}

type Usage struct {
	TokenCount int    `json:"token_count"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
}

type Response struct {
	Text  string
	Usage Usage
}

type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Provider() string
	Model() string
}

func System(content string) domain.ChatMessage {
	return domain.ChatMessage{Role: "system", Content: content}
}

func User(content string) domain.ChatMessage {
	return domain.ChatMessage{Role: "user", Content: content}
}

func Assistant(content string) domain.ChatMessage {
	return domain.ChatMessage{Role: "assistant", Content: content}
}
