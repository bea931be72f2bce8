// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"
)

type ActionRequest struct {
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
}

type ActionResult struct {
	IsError  bool            `json:"is_error"`
	Content  json.RawMessage `json:"content"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// ActionRowData is the immutable payload of one action log entry.
type ActionRowData struct {
	AgentID string        `json:"agent_id"`
	Request ActionRequest `json:"request"`
	Result  ActionResult  `json:"result"`
}

type ActionRow struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Data      ActionRowData `json:"data"`
	Index     int64         `json:"index"`
}

type AgentRow struct {
	ID             string       `json:"id"`
	CreatedAt      time.Time    `json:"created_at"`
	Data           AgentProfile `json:"data"`
	AgentEmbedding []byte       `json:"agent_embedding,omitempty"`
	Index          int64        `json:"index"`
}

type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

type Log struct {
	Level    LogLevel        `json:"level"`
	Name     string          `json:"name"`
	Message  string          `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

func (l Log) AgentID() string {
	if l.Metadata == nil {
		return ""
	}
	id, _ := l.Metadata["agent_id"].(string)
	return id
}

type LogRow struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Data      Log       `json:"data"`
	Index     int64     `json:"index"`
}
