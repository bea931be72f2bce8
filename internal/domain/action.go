// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ActionType string

const (
	ActionSendMessage   ActionType = "send_message"
	ActionFetchMessages ActionType = "fetch_messages"
	ActionSearch        ActionType = "search"
)

// Request names recorded in the action log.
const (
	RequestSendMessage   = "SendMessage"
	RequestFetchMessages = "FetchMessages"
	RequestSearch        = "Search"
)

// Action is one of SendMessage, FetchMessages or Search.
type Action interface {
	Type() ActionType
	RequestName() string
	isAction()
}

type SendMessage struct {
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	CreatedAt   time.Time `json:"created_at"`
	Message     Message   `json:"message"`
}

type FetchMessages struct {
	FromAgentID *string    `json:"from_agent_id,omitempty"`
	Limit       *int       `json:"limit,omitempty"`
	Offset      *int       `json:"offset,omitempty"`
	After       *time.Time `json:"after,omitempty"`
	AfterIndex  *int64     `json:"after_index,omitempty"`
}

type SearchAlgorithm string

const (
	SearchSimple   SearchAlgorithm = "simple"
	SearchRNR      SearchAlgorithm = "rnr"
	SearchFiltered SearchAlgorithm = "filtered"
	SearchLexical  SearchAlgorithm = "lexical"
	SearchOptimal  SearchAlgorithm = "optimal"
)

func (a SearchAlgorithm) Valid() bool {
	switch a {
	case SearchSimple, SearchRNR, SearchFiltered, SearchLexical, SearchOptimal:
		return true
	}
	return false
}

type SearchConstraints struct {
	MinRating         *float64 `json:"min_rating,omitempty"`
	RequiredAmenities []string `json:"required_amenities,omitempty"`
}

type Search struct {
	Query           string             `json:"query"`
	SearchAlgorithm SearchAlgorithm    `json:"search_algorithm"`
	Constraints     *SearchConstraints `json:"constraints,omitempty"`
	Limit           int                `json:"limit"`
	Page            int                `json:"page"`
}

func (SendMessage) Type() ActionType   { return ActionSendMessage }
func (FetchMessages) Type() ActionType { return ActionFetchMessages }
func (Search) Type() ActionType        { return ActionSearch }

func (SendMessage) RequestName() string   { return RequestSendMessage }
func (FetchMessages) RequestName() string { return RequestFetchMessages }
func (Search) RequestName() string        { return RequestSearch }

func (SendMessage) isAction()   {}
func (FetchMessages) isAction() {}
func (Search) isAction()        {}

func (s SendMessage) MarshalJSON() ([]byte, error) {
	type alias SendMessage
	return json.Marshal(struct {
		Type ActionType `json:"type"`
		alias
	}{ActionSendMessage, alias(s)})
}

func (s *SendMessage) UnmarshalJSON(b []byte) error {
	var raw struct {
		FromAgentID string          `json:"from_agent_id"`
		ToAgentID   string          `json:"to_agent_id"`
		CreatedAt   time.Time       `json:"created_at"`
		Message     json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw.Message) == 0 {
		return fmt.Errorf("%w: send_message requires a message", ErrInvalidAction)
	}
	msg, err := DecodeMessage(raw.Message)
	if err != nil {
		return err
	}
	*s = SendMessage{
		FromAgentID: raw.FromAgentID,
		ToAgentID:   raw.ToAgentID,
		CreatedAt:   raw.CreatedAt,
		Message:     msg,
	}
	return nil
}

func (f FetchMessages) MarshalJSON() ([]byte, error) {
	type alias FetchMessages
	return json.Marshal(struct {
		Type ActionType `json:"type"`
		alias
	}{ActionFetchMessages, alias(f)})
}

func (s Search) MarshalJSON() ([]byte, error) {
	type alias Search
	return json.Marshal(struct {
		Type ActionType `json:"type"`
		alias
	}{ActionSearch, alias(s)})
}

func (s *Search) UnmarshalJSON(b []byte) error {
	type alias Search
	a := alias{Limit: 10, Page: 1}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*s = Search(a)
	return nil
}

// DecodeAction selects the action variant from the "type" discriminator.
func DecodeAction(raw json.RawMessage) (Action, error) {
	var head struct {
		Type ActionType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}

	switch head.Type {
	case ActionSendMessage:
		var a SendMessage
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode send_message: %w", err)
		}
		if a.ToAgentID == "" {
			return nil, fmt.Errorf("%w: to_agent_id is required", ErrInvalidAction)
		}
		return a, nil
	case ActionFetchMessages:
		var a FetchMessages
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode fetch_messages: %w", err)
		}
		return a, nil
	case ActionSearch:
		var a Search
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode search: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, head.Type)
	}
}

type ReceivedMessage struct {
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	CreatedAt   time.Time `json:"created_at"`
	Message     Message   `json:"message"`
	Index       int64     `json:"index"`
}

func (r *ReceivedMessage) UnmarshalJSON(b []byte) error {
	var raw struct {
		FromAgentID string          `json:"from_agent_id"`
		ToAgentID   string          `json:"to_agent_id"`
		CreatedAt   time.Time       `json:"created_at"`
		Message     json.RawMessage `json:"message"`
		Index       int64           `json:"index"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	msg, err := DecodeMessage(raw.Message)
	if err != nil {
		return err
	}
	*r = ReceivedMessage{
		FromAgentID: raw.FromAgentID,
		ToAgentID:   raw.ToAgentID,
		CreatedAt:   raw.CreatedAt,
		Message:     msg,
		Index:       raw.Index,
	}
	return nil
}

type FetchMessagesResponse struct {
	Messages []ReceivedMessage `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

type SearchResponse struct {
	Businesses           []AgentProfile `json:"businesses"`
	SearchAlgorithm      string         `json:"search_algorithm"`
	TotalPossibleResults *int           `json:"total_possible_results,omitempty"`
	TotalPages           *int           `json:"total_pages,omitempty"`
}
