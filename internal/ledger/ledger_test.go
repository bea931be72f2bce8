// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiadia/agent-marketplace/internal/domain"
	"github.com/adiadia/agent-marketplace/internal/metrics"
)

func proposal(id string) domain.OrderProposal {
	return domain.OrderProposal{
		ID:         id,
		Items:      []domain.OrderItem{{ID: "1", ItemName: "taco", Quantity: 1, UnitPrice: 10}},
		TotalPrice: 10,
	}
}

func TestAddAndGet(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(proposal("p1"), "business-1", "customer-1"))

	rec, ok := l.Get("p1")
	require.True(t, ok)
	assert.Equal(t, domain.ProposalPending, rec.Status)
	assert.Equal(t, "business-1", rec.BusinessID)

	_, ok = l.Get("missing")
	assert.False(t, ok)

	err := l.Add(proposal("p1"), "business-1", "customer-1")
	assert.True(t, errors.Is(err, domain.ErrDuplicateID))
}

func TestTerminalStatesAreFinal(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(proposal("p1"), "b", "c"))
	require.NoError(t, l.Add(proposal("p2"), "b", "c"))

	assert.True(t, l.UpdateStatus("p1", domain.ProposalAccepted))
	assert.False(t, l.UpdateStatus("p1", domain.ProposalRejected))
	assert.False(t, l.UpdateStatus("p1", domain.ProposalPending))

	_, err := l.Reject("p2")
	require.NoError(t, err)
	_, err = l.Accept("p2")
	assert.True(t, errors.Is(err, domain.ErrProposalNotPending))

	assert.False(t, l.UpdateStatus("missing", domain.ProposalAccepted))
	_, err = l.Accept("missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	assert.Equal(t, 1, l.CountByStatus(domain.ProposalAccepted))
	assert.Equal(t, 1, l.CountByStatus(domain.ProposalRejected))
}

func TestConcurrentPaymentsAcceptOnce(t *testing.T) {
	l := New()
	require.NoError(t, l.Add(proposal("p1"), "business-1", "customer-1"))

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Accept("p1"); err == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	rec, _ := l.Get("p1")
	assert.Equal(t, domain.ProposalAccepted, rec.Status)
}

func TestListKeepsInsertionOrder(t *testing.T) {
	l := New()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, l.Add(proposal(id), "b", "c"))
	}
	list := l.List()
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].Proposal.ID)
	assert.Equal(t, "b", list[2].Proposal.ID)
}

func TestTransitionsAreCounted(t *testing.T) {
	pending := metrics.ProposalTransitions(domain.ProposalPending)
	accepted := metrics.ProposalTransitions(domain.ProposalAccepted)
	rejected := metrics.ProposalTransitions(domain.ProposalRejected)

	l := New()
	require.NoError(t, l.Add(proposal("p1"), "b", "c"))
	require.NoError(t, l.Add(proposal("p2"), "b", "c"))
	_, err := l.Accept("p1")
	require.NoError(t, err)
	_, err = l.Reject("p2")
	require.NoError(t, err)
	_, err = l.Reject("p1")
	require.Error(t, err)

	assert.Equal(t, pending+2, metrics.ProposalTransitions(domain.ProposalPending))
	assert.Equal(t, accepted+1, metrics.ProposalTransitions(domain.ProposalAccepted))
	assert.Equal(t, rejected+1, metrics.ProposalTransitions(domain.ProposalRejected))
}
