package service

import (
	"context"
	"errors"
	"time"

	"biddesk/internal/model"

	"github.com/oklog/ulid/v2"
)

// PaymentService owns payment attestations and is the only component
// permitted to trigger final assignment. Approving a payment commits the
// winning offer, advances the request, seeds the conversation, and fans
// out notifications.
type PaymentService struct {
	store         Store
	bus           Notifier
	offers        *OfferService
	requests      *RequestService
	conversations *ConversationService
}

func NewPaymentService(store Store, bus Notifier, offers *OfferService, requests *RequestService, conversations *ConversationService) *PaymentService {
	return &PaymentService{
		store:         store,
		bus:           bus,
		offers:        offers,
		requests:      requests,
		conversations: conversations,
	}
}

// Request creates a pending attestation for an approved offer. Idempotent:
// if a pending attestation already exists for the offer it is returned
// unchanged instead of erroring.
func (s *PaymentService) Request(ctx context.Context, actor Actor, offerID string) (*model.PaymentAttestation, error) {
	offer, err := s.store.GetOfferByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	req, err := s.store.GetRequestByID(ctx, offer.RequestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != actor.ID {
		return nil, &model.ForbiddenActorError{Reason: "only the request owner may pay for an offer"}
	}
	if offer.Status != model.OfferApproved {
		return nil, &model.InvalidStateError{Entity: "offer", ID: offerID, State: string(offer.Status)}
	}

	if existing, err := s.store.GetPendingPaymentByOffer(ctx, offerID); err == nil {
		return &existing, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	payment := model.PaymentAttestation{
		ID:        ulid.Make().String(),
		OfferID:   offer.ID,
		RequestID: offer.RequestID,
		PayerID:   actor.ID,
		Amount:    offer.Price,
		Status:    model.PaymentPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// AdminApprove resolves a pending attestation and commits the workflow:
//
//  1. accept the offer (the store's exclusivity guard),
//  2. advance the request to assigned,
//  3. seed the now-unlocked conversation,
//  4. mark the attestation approved,
//  5. notify both parties (best-effort).
//
// Offer and request state is re-read here, not trusted from attestation
// time. Each step checks current state and skips work already applied, so
// re-running after a crash mid-sequence is safe; a caller that loses the
// assignment race compensates by reverting its own accept.
func (s *PaymentService) AdminApprove(ctx context.Context, actor Actor, paymentID string) (*model.PaymentAttestation, error) {
	if !actor.Admin {
		return nil, &model.ForbiddenActorError{Reason: "admin role required"}
	}

	payment, err := s.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != model.PaymentPending {
		return nil, &model.InvalidStateError{Entity: "payment", ID: paymentID, State: string(payment.Status)}
	}

	offer, err := s.store.GetOfferByID(ctx, payment.OfferID)
	if err != nil {
		return nil, err
	}
	req, err := s.store.GetRequestByID(ctx, payment.RequestID)
	if err != nil {
		return nil, err
	}

	alreadyAccepted := offer.Status == model.OfferAccepted && assignedTo(req, offer.ExpertID)
	if offer.Status != model.OfferApproved && !alreadyAccepted {
		return nil, &model.InvalidStateError{Entity: "offer", ID: offer.ID, State: string(offer.Status)}
	}

	if !alreadyAccepted {
		if err := s.offers.Accept(ctx, offer.ID, offer.RequestID); err != nil {
			return nil, err
		}
		if err := s.requests.AdvanceToAssigned(ctx, req.ID, offer.ExpertID); err != nil {
			var race *model.ConcurrentModificationError
			if !errors.As(err, &race) {
				return nil, err
			}
			fresh, ferr := s.store.GetRequestByID(ctx, req.ID)
			if ferr != nil || !assignedTo(fresh, offer.ExpertID) {
				// Lost the race to a competing payment flow: undo our
				// accept so the request keeps a single winner.
				_ = s.offers.RevertAccept(ctx, offer.ID)
				return nil, &model.ConcurrentModificationError{Entity: "request", ID: req.ID}
			}
		}
	}

	if err := s.conversations.Seed(ctx, req, offer.ExpertID); err != nil {
		return nil, err
	}

	if err := s.store.ResolvePayment(ctx, paymentID, model.PaymentApproved, actor.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	event := map[string]interface{}{
		"type":      EventPaymentApproved,
		"paymentId": payment.ID,
		"offerId":   offer.ID,
		"requestId": req.ID,
	}
	_ = s.bus.PublishUser(req.OwnerID, event)
	_ = s.bus.PublishUser(offer.ExpertID, event)

	resolved, err := s.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

// AdminReject marks an attestation rejected. No side effects on the offer
// or the request.
func (s *PaymentService) AdminReject(ctx context.Context, actor Actor, paymentID string) (*model.PaymentAttestation, error) {
	if !actor.Admin {
		return nil, &model.ForbiddenActorError{Reason: "admin role required"}
	}
	payment, err := s.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != model.PaymentPending {
		return nil, &model.InvalidStateError{Entity: "payment", ID: paymentID, State: string(payment.Status)}
	}
	if err := s.store.ResolvePayment(ctx, paymentID, model.PaymentRejected, actor.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	_ = s.bus.PublishUser(payment.PayerID, map[string]interface{}{
		"type":      EventPaymentRejected,
		"paymentId": payment.ID,
		"offerId":   payment.OfferID,
		"requestId": payment.RequestID,
	})

	resolved, err := s.store.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

func (s *PaymentService) ListMine(ctx context.Context, actor Actor) ([]model.PaymentAttestation, error) {
	return s.store.ListPaymentsByPayer(ctx, actor.ID)
}

func (s *PaymentService) ListPending(ctx context.Context) ([]model.PaymentAttestation, error) {
	return s.store.ListPaymentsByStatus(ctx, model.PaymentPending)
}

func assignedTo(req model.ServiceRequest, expertID string) bool {
	return req.AssignedExpert != nil && *req.AssignedExpert == expertID && req.Status.ConversationOpen()
}
