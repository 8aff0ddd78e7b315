package memstore

import (
	"context"
	"testing"
	"time"

	"biddesk/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRequest(t *testing.T, s *Store, status model.RequestStatus) model.ServiceRequest {
	t.Helper()
	now := time.Now().UTC()
	req := model.ServiceRequest{
		ID:          "req-1",
		OwnerID:     "owner-1",
		Title:       "Test request title",
		Description: "A description long enough to be plausible.",
		Budget:      100,
		Deadline:    now.Add(24 * time.Hour),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.CreateRequest(context.Background(), req))
	return req
}

func seedOffer(t *testing.T, s *Store, id, requestID, expertID string, status model.OfferStatus) model.Offer {
	t.Helper()
	now := time.Now().UTC()
	offer := model.Offer{
		ID:           id,
		RequestID:    requestID,
		ExpertID:     expertID,
		Message:      "bid",
		Price:        90,
		DurationDays: 5,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateOffer(context.Background(), offer))
	return offer
}

func TestSetRequestStatus_CAS(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, model.RequestPending)

	require.NoError(t, s.SetRequestStatus(ctx, "req-1", model.RequestPending, model.RequestOpen))

	// The precondition no longer holds.
	err := s.SetRequestStatus(ctx, "req-1", model.RequestPending, model.RequestRejected)
	var race *model.ConcurrentModificationError
	require.ErrorAs(t, err, &race)

	err = s.SetRequestStatus(ctx, "missing", model.RequestPending, model.RequestOpen)
	var notFound *model.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestAssignRequest_OnlyWhileOpen(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, model.RequestOpen)

	require.NoError(t, s.AssignRequest(ctx, "req-1", "expert-1", time.Now().UTC()))

	req, err := s.GetRequestByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.RequestAssigned, req.Status)
	require.NotNil(t, req.AssignedExpert)
	assert.Equal(t, "expert-1", *req.AssignedExpert)

	// A second assignment loses the race.
	err = s.AssignRequest(ctx, "req-1", "expert-2", time.Now().UTC())
	var race *model.ConcurrentModificationError
	require.ErrorAs(t, err, &race)
}

func TestAcceptOffer_SiblingGuard(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, model.RequestOpen)
	seedOffer(t, s, "offer-1", "req-1", "expert-1", model.OfferApproved)
	seedOffer(t, s, "offer-2", "req-1", "expert-2", model.OfferApproved)

	require.NoError(t, s.AcceptOffer(ctx, "offer-1", "req-1", time.Now().UTC()))

	// The sibling cannot also win.
	err := s.AcceptOffer(ctx, "offer-2", "req-1", time.Now().UTC())
	var race *model.ConcurrentModificationError
	require.ErrorAs(t, err, &race)

	// Accepting from a non-approved state fails too.
	err = s.AcceptOffer(ctx, "offer-1", "req-1", time.Now().UTC())
	require.ErrorAs(t, err, &race)
}

func TestRejectCompetingOffers(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, model.RequestOpen)
	seedOffer(t, s, "offer-1", "req-1", "expert-1", model.OfferAccepted)
	seedOffer(t, s, "offer-2", "req-1", "expert-2", model.OfferPending)
	seedOffer(t, s, "offer-3", "req-1", "expert-3", model.OfferApproved)
	seedOffer(t, s, "offer-4", "req-1", "expert-4", model.OfferCancelled)

	n, err := s.RejectCompetingOffers(ctx, "req-1", "offer-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The winner and the withdrawn offer are untouched.
	winner, err := s.GetOfferByID(ctx, "offer-1")
	require.NoError(t, err)
	assert.Equal(t, model.OfferAccepted, winner.Status)

	withdrawn, err := s.GetOfferByID(ctx, "offer-4")
	require.NoError(t, err)
	assert.Equal(t, model.OfferCancelled, withdrawn.Status)
}

func TestCreateOffer_DuplicateGuard(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, model.RequestOpen)
	seedOffer(t, s, "offer-1", "req-1", "expert-1", model.OfferPending)

	err := s.CreateOffer(ctx, model.Offer{
		ID: "offer-dup", RequestID: "req-1", ExpertID: "expert-1",
		Status: model.OfferPending,
	})
	var duplicate *model.DuplicateOfferError
	require.ErrorAs(t, err, &duplicate)
}

func TestGetActiveOfferForExpert_IgnoresCancelled(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, model.RequestOpen)
	seedOffer(t, s, "offer-1", "req-1", "expert-1", model.OfferCancelled)

	_, err := s.GetActiveOfferForExpert(ctx, "req-1", "expert-1")
	var notFound *model.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestSoftDeleteRequest(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedRequest(t, s, model.RequestOpen)

	require.NoError(t, s.SoftDeleteRequest(ctx, "req-1"))

	_, err := s.GetRequestByID(ctx, "req-1")
	var notFound *model.NotFoundError
	require.ErrorAs(t, err, &notFound)

	// Gone from listings as well.
	open, err := s.ListRequestsByStatus(ctx, model.RequestOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestResolvePayment_CAS(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreatePayment(ctx, model.PaymentAttestation{
		ID: "pay-1", OfferID: "offer-1", RequestID: "req-1",
		PayerID: "owner-1", Amount: 90, Status: model.PaymentPending, CreatedAt: now,
	}))

	require.NoError(t, s.ResolvePayment(ctx, "pay-1", model.PaymentApproved, "admin-1", now))

	payment, err := s.GetPaymentByID(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentApproved, payment.Status)
	require.NotNil(t, payment.ResolvedBy)
	assert.Equal(t, "admin-1", *payment.ResolvedBy)

	err = s.ResolvePayment(ctx, "pay-1", model.PaymentRejected, "admin-2", now)
	var race *model.ConcurrentModificationError
	require.ErrorAs(t, err, &race)
}

func TestCloneIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateRequest(ctx, model.ServiceRequest{
		ID: "req-1", OwnerID: "owner-1", Title: "t", Description: "d",
		Status: model.RequestOpen, RequiredSkills: []string{"go"},
		CreatedAt: now, UpdatedAt: now,
	}))

	got, err := s.GetRequestByID(ctx, "req-1")
	require.NoError(t, err)
	got.RequiredSkills[0] = "mutated"

	again, err := s.GetRequestByID(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, again.RequiredSkills)
}
