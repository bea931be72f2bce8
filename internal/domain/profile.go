// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"sort"
)

type AgentKind string

const (
	KindBusiness AgentKind = "business"
	KindCustomer AgentKind = "customer"
)

type Business struct {
	ID              string             `json:"id" yaml:"id"`
	Name            string             `json:"name" yaml:"name"`
	Description     string             `json:"description" yaml:"description"`
	Rating          float64            `json:"rating" yaml:"rating"`
	MenuFeatures    map[string]float64 `json:"menu_features" yaml:"menu_features"`
	AmenityFeatures map[string]bool    `json:"amenity_features" yaml:"amenity_features"`
}

// Customer menu features map item name to willingness to pay.
type Customer struct {
	ID              string             `json:"id" yaml:"id"`
	Name            string             `json:"name" yaml:"name"`
	Request         string             `json:"request" yaml:"request"`
	MenuFeatures    map[string]float64 `json:"menu_features" yaml:"menu_features"`
	AmenityFeatures []string           `json:"amenity_features" yaml:"amenity_features"`
}

// AgentProfile is the registered identity of an agent. Exactly one of
// Business or Customer is set, matching Kind.
type AgentProfile struct {
	ID       string    `json:"id"`
	Kind     AgentKind `json:"kind"`
	Business *Business `json:"business,omitempty"`
	Customer *Customer `json:"customer,omitempty"`
}

func BusinessProfile(b Business) AgentProfile {
	return AgentProfile{ID: b.ID, Kind: KindBusiness, Business: &b}
}

func CustomerProfile(c Customer) AgentProfile {
	return AgentProfile{ID: c.ID, Kind: KindCustomer, Customer: &c}
}

func (p AgentProfile) Name() string {
	switch p.Kind {
	case KindBusiness:
		if p.Business != nil {
			return p.Business.Name
		}
	case KindCustomer:
		if p.Customer != nil {
			return p.Customer.Name
		}
	}
	return p.ID
}

func (p AgentProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidAction)
	}
	switch p.Kind {
	case KindBusiness:
		if p.Business == nil || p.Customer != nil {
			return fmt.Errorf("%w: business profile %s must carry only business fields", ErrInvalidAction, p.ID)
		}
	case KindCustomer:
		if p.Customer == nil || p.Business != nil {
			return fmt.Errorf("%w: customer profile %s must carry only customer fields", ErrInvalidAction, p.ID)
		}
	default:
		return fmt.Errorf("%w: unknown agent kind %q", ErrInvalidAction, p.Kind)
	}
	return nil
}

// TrueAmenities returns the amenities the business offers, sorted.
func (b Business) TrueAmenities() []string {
	out := make([]string, 0, len(b.AmenityFeatures))
	for name, ok := range b.AmenityFeatures {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SatisfiesAmenities reports whether every required amenity is offered.
func (b Business) SatisfiesAmenities(required []string) bool {
	for _, name := range required {
		if !b.AmenityFeatures[name] {
			return false
		}
	}
	return true
}

// MenuItems returns the menu item names sorted.
func (b Business) MenuItems() []string {
	out := make([]string, 0, len(b.MenuFeatures))
	for name := range b.MenuFeatures {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c Customer) RequestedItems() []string {
	out := make([]string, 0, len(c.MenuFeatures))
	for name := range c.MenuFeatures {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// TotalWillingnessToPay sums willingness to pay over requested items.
func (c Customer) TotalWillingnessToPay() float64 {
	var total float64
	for _, name := range c.RequestedItems() {
		total += c.MenuFeatures[name]
	}
	return total
}
