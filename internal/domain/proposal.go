// SPDX-License-Identifier: Apache-2.0

package domain

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

func (s ProposalStatus) Terminal() bool {
	return s == ProposalAccepted || s == ProposalRejected
}

type ProposalRecord struct {
	Proposal   OrderProposal  `json:"proposal"`
	BusinessID string         `json:"business_id"`
	CustomerID string         `json:"customer_id"`
	Status     ProposalStatus `json:"status"`
}
