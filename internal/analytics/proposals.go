// SPDX-License-Identifier: Apache-2.0

package analytics

import (
	"math"

	"github.com/adiadia/agent-marketplace/internal/domain"
)

type ProposalErrorType string

const (
	InvalidMenuItem      ProposalErrorType = "invalid_menu_item"
	InvalidMenuItemPrice ProposalErrorType = "invalid_menu_item_price"
	InvalidTotalPrice    ProposalErrorType = "invalid_total_price"
	InvalidBusiness      ProposalErrorType = "invalid_business"
	InvalidCustomer      ProposalErrorType = "invalid_customer"
)

// priceTolerance is the smallest price difference that counts as a mismatch.
const priceTolerance = 0.01

// ProposalError is one integrity finding on an order proposal. Only the
// fields relevant to Type are set.
type ProposalError struct {
	Type            ProposalErrorType `json:"type"`
	ProposalID      string            `json:"proposal_id"`
	BusinessAgentID string            `json:"business_agent_id"`
	CustomerAgentID string            `json:"customer_agent_id"`

	ProposedMenuItem        string `json:"proposed_menu_item,omitempty"`
	ClosestMenuItem         string `json:"closest_menu_item,omitempty"`
	ClosestMenuItemDistance *int   `json:"closest_menu_item_distance,omitempty"`

	MenuItem      string  `json:"menu_item,omitempty"`
	ProposedPrice float64 `json:"proposed_price,omitempty"`
	ActualPrice   float64 `json:"actual_price,omitempty"`

	ProposedTotalPrice   float64 `json:"proposed_total_price,omitempty"`
	CalculatedTotalPrice float64 `json:"calculated_total_price,omitempty"`
}

// sortKey orders errors of one type from most to least severe.
func (e ProposalError) sortKey() float64 {
	switch e.Type {
	case InvalidMenuItem:
		if e.ClosestMenuItemDistance != nil {
			return float64(*e.ClosestMenuItemDistance)
		}
	case InvalidMenuItemPrice:
		return math.Abs(e.ProposedPrice - e.ActualPrice)
	case InvalidTotalPrice:
		return math.Abs(e.CalculatedTotalPrice - e.ProposedTotalPrice)
	}
	return 0
}

// CheckProposal validates a proposal against the sending business's menu.
// It runs independently of whether the proposal was ever paid.
func CheckProposal(p domain.OrderProposal, businessID, customerID string, business *domain.Business, customerKnown bool) []ProposalError {
	base := ProposalError{ProposalID: p.ID, BusinessAgentID: businessID, CustomerAgentID: customerID}
	var errs []ProposalError

	if business == nil {
		e := base
		e.Type = InvalidBusiness
		errs = append(errs, e)
	}
	if !customerKnown {
		e := base
		e.Type = InvalidCustomer
		errs = append(errs, e)
	}
	if business == nil {
		return errs
	}

	menu := business.MenuItems()
	var total float64
	for _, item := range p.Items {
		total += item.UnitPrice * float64(item.Quantity)
		price, ok := business.MenuFeatures[item.ItemName]
		switch {
		case !ok:
			e := base
			e.Type = InvalidMenuItem
			e.ProposedMenuItem = item.ItemName
			closest, dist := closestItem(item.ItemName, menu)
			if dist < 0 {
				dist = len([]rune(item.ItemName))
			}
			e.ClosestMenuItem, e.ClosestMenuItemDistance = closest, &dist
			errs = append(errs, e)
		case math.Abs(item.UnitPrice-price) >= priceTolerance:
			e := base
			e.Type = InvalidMenuItemPrice
			e.MenuItem = item.ItemName
			e.ProposedPrice = item.UnitPrice
			e.ActualPrice = price
			errs = append(errs, e)
		}
	}
	if math.Abs(p.TotalPrice-total) >= priceTolerance {
		e := base
		e.Type = InvalidTotalPrice
		e.ProposedTotalPrice = p.TotalPrice
		e.CalculatedTotalPrice = total
		errs = append(errs, e)
	}
	return errs
}

func (a *Analysis) checkProposal(p domain.OrderProposal, businessID, customerID string) []ProposalError {
	var business *domain.Business
	if b, ok := a.businesses[businessID]; ok {
		business = &b
	}
	_, customerKnown := a.customers[customerID]
	return CheckProposal(p, businessID, customerID, business, customerKnown)
}
