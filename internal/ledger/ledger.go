// SPDX-License-Identifier: Apache-2.0

// Package ledger tracks order proposals owned by one agent and enforces the
// pending -> accepted | rejected state machine.
package ledger

import (
	"fmt"
	"sync"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/metrics"
)

// Ledger is safe for concurrent use. Status transitions are
// compare-and-set under one mutex, so a proposal is accepted at most once
// even when two payments race. Every new record and every transition is
// counted in marketplace_proposal_transitions_total.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*domain.ProposalRecord
	order   []string
}

func New() *Ledger {
	return &Ledger{records: make(map[string]*domain.ProposalRecord)}
}

// Add records proposal as pending. Proposal ids are unique per ledger.
func (l *Ledger) Add(proposal domain.OrderProposal, businessID, customerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[proposal.ID]; ok {
		return fmt.Errorf("proposal %s: %w", proposal.ID, domain.ErrDuplicateID)
	}
	l.records[proposal.ID] = &domain.ProposalRecord{
		Proposal:   proposal,
		BusinessID: businessID,
		CustomerID: customerID,
		Status:     domain.ProposalPending,
	}
	l.order = append(l.order, proposal.ID)
	metrics.IncProposalTransition(domain.ProposalPending)
	return nil
}

func (l *Ledger) Get(id string) (domain.ProposalRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return domain.ProposalRecord{}, false
	}
	return *rec, true
}

// UpdateStatus moves a pending proposal to status. It returns false when
// the proposal is unknown or already terminal.
func (l *Ledger) UpdateStatus(id string, status domain.ProposalStatus) bool {
	_, err := l.transition(id, status)
	return err == nil
}

// Accept marks a pending proposal accepted and returns the updated record.
func (l *Ledger) Accept(id string) (domain.ProposalRecord, error) {
	return l.transition(id, domain.ProposalAccepted)
}

// Reject withdraws a pending proposal, for example one that never reached
// its customer.
func (l *Ledger) Reject(id string) (domain.ProposalRecord, error) {
	return l.transition(id, domain.ProposalRejected)
}

func (l *Ledger) transition(id string, to domain.ProposalStatus) (domain.ProposalRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return domain.ProposalRecord{}, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	if rec.Status != domain.ProposalPending {
		return *rec, fmt.Errorf("proposal %s is %s: %w", id, rec.Status, domain.ErrProposalNotPending)
	}
	if to != domain.ProposalAccepted && to != domain.ProposalRejected {
		return *rec, fmt.Errorf("proposal %s: invalid target status %q", id, to)
	}
	rec.Status = to
	metrics.IncProposalTransition(to)
	return *rec, nil
}

// List returns every record in insertion order.
func (l *Ledger) List() []domain.ProposalRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.ProposalRecord, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.records[id])
	}
	return out
}

func (l *Ledger) CountByStatus(status domain.ProposalStatus) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, rec := range l.records {
		if rec.Status == status {
			n++
		}
	}
	return n
}
