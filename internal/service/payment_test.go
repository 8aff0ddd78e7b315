package service

import (
	"context"
	"sync"
	"testing"

	"biddesk/internal/model"
	"biddesk/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentService_Request(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	offer := f.approvedOffer(t, req.ID, expert)

	payment, err := f.payments.Request(ctx, owner, offer.ID)
	require.NoError(t, err)

	assert.Equal(t, model.PaymentPending, payment.Status)
	assert.Equal(t, offer.Price, payment.Amount)
	assert.Equal(t, owner.ID, payment.PayerID)
	assert.Equal(t, req.ID, payment.RequestID)
}

func TestPaymentService_Request_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	offer := f.approvedOffer(t, req.ID, expert)

	first, err := f.payments.Request(ctx, owner, offer.ID)
	require.NoError(t, err)

	// A retried claim reuses the pending attestation instead of piling
	// up duplicates.
	second, err := f.payments.Request(ctx, owner, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	pending, err := f.payments.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPaymentService_Request_OnlyOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	offer := f.approvedOffer(t, req.ID, expert)

	_, err := f.payments.Request(ctx, expert, offer.ID)
	var forbidden *model.ForbiddenActorError
	require.ErrorAs(t, err, &forbidden)
}

func TestPaymentService_Request_OfferNotApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	offer, err := f.offers.Submit(ctx, expert, req.ID, validOfferInput())
	require.NoError(t, err)

	_, err = f.payments.Request(ctx, owner, offer.ID)
	var state *model.InvalidStateError
	require.ErrorAs(t, err, &state)
}

func TestPaymentService_AdminApprove_CommitsAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	winner := f.approvedOffer(t, req.ID, expert)
	loser := f.approvedOffer(t, req.ID, rival)

	payment, err := f.payments.Request(ctx, owner, winner.ID)
	require.NoError(t, err)

	resolved, err := f.payments.AdminApprove(ctx, admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentApproved, resolved.Status)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, admin.ID, *resolved.ResolvedBy)

	freshReq, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAssigned, freshReq.Status)
	require.NotNil(t, freshReq.AssignedExpert)
	assert.Equal(t, expert.ID, *freshReq.AssignedExpert)

	freshWinner, err := f.offers.Get(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferAccepted, freshWinner.Status)

	// The competing offer is force-rejected.
	freshLoser, err := f.offers.Get(ctx, loser.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferRejected, freshLoser.Status)

	// Both parties hear about it.
	events := f.bus.eventsOfType(EventPaymentApproved)
	require.Len(t, events, 2)

	// The conversation is seeded with the opening system messages.
	msgs, err := f.conversations.List(ctx, owner, req.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.MessageSystem, msgs[0].Type)
}

func TestPaymentService_AdminApprove_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	offer := f.approvedOffer(t, req.ID, expert)
	payment, err := f.payments.Request(ctx, owner, offer.ID)
	require.NoError(t, err)

	_, err = f.payments.AdminApprove(ctx, owner, payment.ID)
	var forbidden *model.ForbiddenActorError
	require.ErrorAs(t, err, &forbidden)
}

func TestPaymentService_AdminReject_NoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	offer := f.approvedOffer(t, req.ID, expert)
	payment, err := f.payments.Request(ctx, owner, offer.ID)
	require.NoError(t, err)

	resolved, err := f.payments.AdminReject(ctx, admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRejected, resolved.Status)

	// The offer stays approved and the request stays open.
	freshOffer, err := f.offers.Get(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OfferApproved, freshOffer.Status)

	freshReq, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestOpen, freshReq.Status)
	assert.Nil(t, freshReq.AssignedExpert)

	events := f.bus.eventsOfType(EventPaymentRejected)
	require.Len(t, events, 1)
	assert.Equal(t, "user:"+owner.ID, events[0].Channel)

	// The owner may claim a fresh transfer for the same offer.
	retry, err := f.payments.Request(ctx, owner, offer.ID)
	require.NoError(t, err)
	assert.NotEqual(t, payment.ID, retry.ID)
}

func TestPaymentService_AdminApprove_AlreadyResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	offer := f.approvedOffer(t, req.ID, expert)
	payment := f.approvedPayment(t, offer.ID)

	_, err := f.payments.AdminApprove(ctx, admin, payment.ID)
	var state *model.InvalidStateError
	require.ErrorAs(t, err, &state)
}

func TestPaymentService_ExclusiveAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	first := f.approvedOffer(t, req.ID, expert)
	second := f.approvedOffer(t, req.ID, rival)

	firstPayment, err := f.payments.Request(ctx, owner, first.ID)
	require.NoError(t, err)
	secondPayment, err := f.payments.Request(ctx, owner, second.ID)
	require.NoError(t, err)

	_, err = f.payments.AdminApprove(ctx, admin, firstPayment.ID)
	require.NoError(t, err)

	// The rival's offer was force-rejected by the first approval, so the
	// second payment can no longer go through.
	_, err = f.payments.AdminApprove(ctx, admin, secondPayment.ID)
	require.Error(t, err)

	freshReq, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, freshReq.AssignedExpert)
	assert.Equal(t, expert.ID, *freshReq.AssignedExpert)

	accepted, err := f.store.ListOffersByStatus(ctx, model.OfferAccepted)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
}

func TestPaymentService_ConcurrentApprovals_SingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	first := f.approvedOffer(t, req.ID, expert)
	second := f.approvedOffer(t, req.ID, rival)

	firstPayment, err := f.payments.Request(ctx, owner, first.ID)
	require.NoError(t, err)
	secondPayment, err := f.payments.Request(ctx, owner, second.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []string{firstPayment.ID, secondPayment.ID} {
		wg.Add(1)
		go func(paymentID string) {
			defer wg.Done()
			_, err := f.payments.AdminApprove(ctx, admin, paymentID)
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	var failures int
	for err := range results {
		if err != nil {
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	// Exactly one offer accepted, request assigned to its expert.
	accepted, err := f.store.ListOffersByStatus(ctx, model.OfferAccepted)
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	freshReq, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestAssigned, freshReq.Status)
	require.NotNil(t, freshReq.AssignedExpert)
	assert.Equal(t, accepted[0].ExpertID, *freshReq.AssignedExpert)
}

// failingBus errors on every publish; the workflow must not care.
type failingBus struct{}

func (failingBus) PublishUser(string, map[string]interface{}) error {
	return assert.AnError
}

func (failingBus) PublishConversation(string, map[string]interface{}) error {
	return assert.AnError
}

func TestPaymentService_NotifierFailuresIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Rebuild the stack over a notifier that always fails.
	schemaComp := schema.NewCompilerWithCache(16)
	requests := NewRequestService(f.store, failingBus{}, schemaComp)
	offers := NewOfferService(f.store, failingBus{}, schemaComp)
	conversations := NewConversationService(f.store, failingBus{})
	payments := NewPaymentService(f.store, failingBus{}, offers, requests, conversations)

	req, err := requests.Create(ctx, owner, validRequestInput())
	require.NoError(t, err)
	_, err = requests.AdminApprove(ctx, admin, req.ID)
	require.NoError(t, err)

	offer, err := offers.Submit(ctx, expert, req.ID, validOfferInput())
	require.NoError(t, err)
	_, err = offers.AdminApprove(ctx, admin, offer.ID)
	require.NoError(t, err)

	payment, err := payments.Request(ctx, owner, offer.ID)
	require.NoError(t, err)
	resolved, err := payments.AdminApprove(ctx, admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentApproved, resolved.Status)
}

func TestPaymentService_AdminApprove_RetryAfterPartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	offer := f.approvedOffer(t, req.ID, expert)
	payment, err := f.payments.Request(ctx, owner, offer.ID)
	require.NoError(t, err)

	// Simulate a crash after the offer was accepted and the request
	// assigned but before the attestation was resolved.
	require.NoError(t, f.offers.Accept(ctx, offer.ID, req.ID))
	require.NoError(t, f.requests.AdvanceToAssigned(ctx, req.ID, expert.ID))

	resolved, err := f.payments.AdminApprove(ctx, admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentApproved, resolved.Status)

	// Re-running did not double-seed the conversation.
	msgs, err := f.conversations.List(ctx, owner, req.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
