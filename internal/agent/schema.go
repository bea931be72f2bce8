// SPDX-License-Identifier: Apache-2.0

package agent

import "github.com/adiadia/agent-marketplace/internal/llm"

const (
	CustomerSearch   = "search_businesses"
	CustomerSend     = "send_messages"
	CustomerCheck    = "check_messages"
	CustomerEnd      = "end_transaction"
	BusinessText     = "text"
	BusinessProposal = "order_proposal"
)

// CustomerAction is the structured decision a customer asks the model for.
type CustomerAction struct {
	ActionType  string            `json:"action_type"`
	Reason      string            `json:"reason"`
	SearchQuery string            `json:"search_query,omitempty"`
	SearchPage  int               `json:"search_page,omitempty"`
	Messages    *CustomerMessages `json:"messages,omitempty"`
}

type CustomerMessages struct {
	TextMessages []CustomerTextRequest `json:"text_messages"`
	PayMessages  []CustomerPayRequest  `json:"pay_messages"`
}

type CustomerTextRequest struct {
	ToBusinessID string `json:"to_business_id"`
	Content      string `json:"content"`
}

type CustomerPayRequest struct {
	ToBusinessID      string `json:"to_business_id"`
	ProposalMessageID string `json:"proposal_message_id"`
	PaymentMethod     string `json:"payment_method,omitempty"`
	DeliveryAddress   string `json:"delivery_address,omitempty"`
	PaymentMessage    string `json:"payment_message,omitempty"`
}

// BusinessAction is the structured reply a business asks the model for.
type BusinessAction struct {
	ActionType           string                   `json:"action_type"`
	TextMessage          *BusinessTextRequest     `json:"text_message,omitempty"`
	OrderProposalMessage *BusinessProposalRequest `json:"order_proposal_message,omitempty"`
}

type BusinessTextRequest struct {
	ToCustomerID string `json:"to_customer_id"`
	Content      string `json:"content"`
}

type BusinessProposalRequest struct {
	ToCustomerID        string         `json:"to_customer_id"`
	Items               []proposalItem `json:"items"`
	TotalPrice          float64        `json:"total_price"`
	SpecialInstructions string         `json:"special_instructions,omitempty"`
	EstimatedDelivery   string         `json:"estimated_delivery,omitempty"`
}

type proposalItem struct {
	ID        string  `json:"id"`
	ItemName  string  `json:"item_name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

var customerActionSchema = llm.NewSchema("customer_action", `{
  "type": "object",
  "properties": {
    "action_type": {"enum": ["search_businesses", "send_messages", "check_messages", "end_transaction"]},
    "reason": {"type": "string"},
    "search_query": {"type": ["string", "null"]},
    "search_page": {"type": "integer", "minimum": 1},
    "messages": {
      "type": ["object", "null"],
      "properties": {
        "text_messages": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "to_business_id": {"type": "string", "minLength": 1},
              "content": {"type": "string"}
            },
            "required": ["to_business_id", "content"]
          }
        },
        "pay_messages": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "to_business_id": {"type": "string", "minLength": 1},
              "proposal_message_id": {"type": "string", "minLength": 1},
              "payment_method": {"type": "string"},
              "delivery_address": {"type": "string"},
              "payment_message": {"type": "string"}
            },
            "required": ["to_business_id", "proposal_message_id"]
          }
        }
      },
      "required": ["text_messages", "pay_messages"]
    }
  },
  "required": ["action_type", "reason"],
  "allOf": [
    {
      "if": {"properties": {"action_type": {"const": "search_businesses"}}},
      "then": {"required": ["search_query"], "properties": {"search_query": {"type": "string", "minLength": 1}}}
    },
    {
      "if": {"properties": {"action_type": {"const": "send_messages"}}},
      "then": {"required": ["messages"], "properties": {"messages": {"type": "object"}}}
    }
  ]
}`)

var businessActionSchema = llm.NewSchema("business_action", `{
  "type": "object",
  "properties": {
    "action_type": {"enum": ["text", "order_proposal"]},
    "text_message": {
      "type": ["object", "null"],
      "properties": {
        "to_customer_id": {"type": "string"},
        "content": {"type": "string", "minLength": 1}
      },
      "required": ["content"]
    },
    "order_proposal_message": {
      "type": ["object", "null"],
      "properties": {
        "to_customer_id": {"type": "string"},
        "items": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "properties": {
              "id": {"type": "string"},
              "item_name": {"type": "string", "minLength": 1},
              "quantity": {"type": "integer", "minimum": 1},
              "unit_price": {"type": "number", "minimum": 0}
            },
            "required": ["id", "item_name", "quantity", "unit_price"]
          }
        },
        "total_price": {"type": "number"},
        "special_instructions": {"type": "string"},
        "estimated_delivery": {"type": "string"}
      },
      "required": ["items", "total_price"]
    }
  },
  "required": ["action_type"],
  "allOf": [
    {
      "if": {"properties": {"action_type": {"const": "text"}}},
      "then": {"required": ["text_message"], "properties": {"text_message": {"type": "object"}}}
    },
    {
      "if": {"properties": {"action_type": {"const": "order_proposal"}}},
      "then": {"required": ["order_proposal_message"], "properties": {"order_proposal_message": {"type": "object"}}}
    }
  ]
}`)
