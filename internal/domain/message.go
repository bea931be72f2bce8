// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type MessageType string

const (
	MessageText          MessageType = "text"
	MessageOrderProposal MessageType = "order_proposal"
	MessagePayment       MessageType = "payment"
)

// Message is the payload of a SendMessage action. The set of variants is
// closed: TextMessage, OrderProposal and Payment.
type Message interface {
	Type() MessageType
	Validate() error
	isMessage()
}

type TextMessage struct {
	Content string `json:"content"`
}

type OrderItem struct {
	ID        string  `json:"id"`
	ItemName  string  `json:"item_name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type OrderProposal struct {
	ID                  string      `json:"id"`
	Items               []OrderItem `json:"items"`
	TotalPrice          float64     `json:"total_price"`
	SpecialInstructions *string     `json:"special_instructions,omitempty"`
	EstimatedDelivery   *string     `json:"estimated_delivery,omitempty"`
	ExpiryTime          *string     `json:"expiry_time,omitempty"`
}

type Payment struct {
	ProposalMessageID string  `json:"proposal_message_id"`
	PaymentMethod     *string `json:"payment_method,omitempty"`
	DeliveryAddress   *string `json:"delivery_address,omitempty"`
	PaymentMessage    *string `json:"payment_message,omitempty"`
}

func (TextMessage) Type() MessageType   { return MessageText }
func (OrderProposal) Type() MessageType { return MessageOrderProposal }
func (Payment) Type() MessageType       { return MessagePayment }

func (TextMessage) isMessage()   {}
func (OrderProposal) isMessage() {}
func (Payment) isMessage()       {}

func (m TextMessage) Validate() error { return nil }

func (p OrderProposal) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: order proposal id is required", ErrInvalidAction)
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("%w: order proposal %s has no items", ErrInvalidAction, p.ID)
	}
	for i, item := range p.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be >= 1", ErrInvalidAction, i)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: item %d unit_price must be >= 0", ErrInvalidAction, i)
		}
	}
	return nil
}

func (p Payment) Validate() error { return nil }

// ItemsTotal is the sum of quantity times unit price over the line items.
func (p OrderProposal) ItemsTotal() float64 {
	var total float64
	for _, item := range p.Items {
		total += float64(item.Quantity) * item.UnitPrice
	}
	return total
}

func (m TextMessage) MarshalJSON() ([]byte, error) {
	type alias TextMessage
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		alias
	}{MessageText, alias(m)})
}

func (p OrderProposal) MarshalJSON() ([]byte, error) {
	type alias OrderProposal
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		alias
	}{MessageOrderProposal, alias(p)})
}

func (p Payment) MarshalJSON() ([]byte, error) {
	type alias Payment
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		alias
	}{MessagePayment, alias(p)})
}

// DecodeMessage selects the variant from the "type" discriminator and
// validates it.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var msg Message
	switch head.Type {
	case MessageText:
		var m TextMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode text message: %w", err)
		}
		msg = m
	case MessageOrderProposal:
		var m OrderProposal
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode order proposal: %w", err)
		}
		msg = m
	case MessagePayment:
		var m Payment
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, head.Type)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
