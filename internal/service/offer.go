package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"biddesk/internal/model"
	"biddesk/internal/schema"

	"github.com/oklog/ulid/v2"
)

// OfferService owns the offer lifecycle: submission against open
// requests, the admin approval gate, the exclusive accept triggered by
// payment approval, and owner-side rejection.
type OfferService struct {
	store      Store
	bus        Notifier
	schemaComp *schema.Compiler
}

func NewOfferService(store Store, bus Notifier, schemaComp *schema.Compiler) *OfferService {
	return &OfferService{
		store:      store,
		bus:        bus,
		schemaComp: schemaComp,
	}
}

type SubmitOfferInput struct {
	Message      string                 `json:"message"`
	Price        float64                `json:"price"`
	DurationDays int                    `json:"durationDays"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// Submit creates a pending offer by an expert on an open request.
func (s *OfferService) Submit(ctx context.Context, actor Actor, requestID string, input SubmitOfferInput) (*model.Offer, error) {
	if !actor.Expert {
		return nil, &model.ForbiddenActorError{Reason: "only experts may submit offers"}
	}

	req, err := s.store.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID == actor.ID {
		return nil, &model.SelfDealingError{RequestID: requestID}
	}
	if req.Status != model.RequestOpen {
		return nil, &model.InvalidStateError{Entity: "request", ID: requestID, State: string(req.Status)}
	}

	if _, err := s.store.GetActiveOfferForExpert(ctx, requestID, actor.ID); err == nil {
		return nil, &model.DuplicateOfferError{RequestID: requestID, ExpertID: actor.ID}
	} else if !isNotFound(err) {
		return nil, err
	}

	if strings.TrimSpace(input.Message) == "" {
		return nil, &model.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if input.Price < 0 {
		return nil, &model.ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if input.DurationDays <= 0 {
		return nil, &model.ValidationError{Field: "durationDays", Reason: "must be positive"}
	}
	if req.IntakeSchema != nil {
		if input.Details == nil {
			return nil, &model.ValidationError{Field: "details", Reason: "required by the request's intake schema"}
		}
		if err := s.schemaComp.Validate(ctx, req.IntakeSchema, input.Details); err != nil {
			return nil, &model.ValidationError{Field: "details", Reason: err.Error()}
		}
	}

	now := time.Now().UTC()
	offer := model.Offer{
		ID:           ulid.Make().String(),
		RequestID:    requestID,
		ExpertID:     actor.ID,
		Message:      strings.TrimSpace(input.Message),
		Price:        input.Price,
		DurationDays: input.DurationDays,
		Details:      input.Details,
		Status:       model.OfferPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (s *OfferService) Get(ctx context.Context, id string) (*model.Offer, error) {
	offer, err := s.store.GetOfferByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// AdminApprove clears a pending offer for payment.
func (s *OfferService) AdminApprove(ctx context.Context, actor Actor, id string) (*model.Offer, error) {
	if !actor.Admin {
		return nil, &model.ForbiddenActorError{Reason: "admin role required"}
	}
	offer, err := s.store.GetOfferByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if offer.Status != model.OfferPending {
		return nil, &model.InvalidStateError{Entity: "offer", ID: id, State: string(offer.Status)}
	}
	if err := s.store.SetOfferStatus(ctx, id, model.OfferPending, model.OfferApproved, nil); err != nil {
		return nil, err
	}

	_ = s.bus.PublishUser(offer.ExpertID, map[string]interface{}{
		"type":      EventOfferApproved,
		"offerId":   offer.ID,
		"requestId": offer.RequestID,
	})

	offer.Status = model.OfferApproved
	return &offer, nil
}

func (s *OfferService) AdminReject(ctx context.Context, actor Actor, id string) (*model.Offer, error) {
	if !actor.Admin {
		return nil, &model.ForbiddenActorError{Reason: "admin role required"}
	}
	offer, err := s.store.GetOfferByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if offer.Status != model.OfferPending {
		return nil, &model.InvalidStateError{Entity: "offer", ID: id, State: string(offer.Status)}
	}
	now := time.Now().UTC()
	if err := s.store.SetOfferStatus(ctx, id, model.OfferPending, model.OfferDeclined, &now); err != nil {
		return nil, err
	}

	_ = s.bus.PublishUser(offer.ExpertID, map[string]interface{}{
		"type":      EventOfferRejected,
		"offerId":   offer.ID,
		"requestId": offer.RequestID,
	})

	offer.Status = model.OfferDeclined
	return &offer, nil
}

// Accept finalizes the winning offer. Invoked only by the payment flow
// after payment approval; the store guarantees at most one accepted offer
// per request. Competing siblings are force-rejected best-effort.
func (s *OfferService) Accept(ctx context.Context, offerID, requestID string) error {
	if err := s.store.AcceptOffer(ctx, offerID, requestID, time.Now().UTC()); err != nil {
		return err
	}
	_, _ = s.store.RejectCompetingOffers(ctx, requestID, offerID)
	return nil
}

// RevertAccept compensates a lost assignment race by moving this flow's
// own accepted offer to rejected.
func (s *OfferService) RevertAccept(ctx context.Context, offerID string) error {
	now := time.Now().UTC()
	return s.store.SetOfferStatus(ctx, offerID, model.OfferAccepted, model.OfferRejected, &now)
}

// OwnerReject lets the request owner turn down an approved offer without
// paying for it.
func (s *OfferService) OwnerReject(ctx context.Context, actor Actor, id string) error {
	offer, err := s.store.GetOfferByID(ctx, id)
	if err != nil {
		return err
	}
	req, err := s.store.GetRequestByID(ctx, offer.RequestID)
	if err != nil {
		return err
	}
	if req.OwnerID != actor.ID {
		return &model.ForbiddenActorError{Reason: "not the request owner"}
	}
	if offer.Status != model.OfferApproved {
		return &model.InvalidStateError{Entity: "offer", ID: id, State: string(offer.Status)}
	}
	now := time.Now().UTC()
	return s.store.SetOfferStatus(ctx, id, model.OfferApproved, model.OfferRejected, &now)
}

// Withdraw lets an expert pull back their own offer while it is still
// pending. A withdrawn offer does not block resubmission.
func (s *OfferService) Withdraw(ctx context.Context, actor Actor, id string) error {
	offer, err := s.store.GetOfferByID(ctx, id)
	if err != nil {
		return err
	}
	if offer.ExpertID != actor.ID {
		return &model.ForbiddenActorError{Reason: "not the bidding expert"}
	}
	if offer.Status != model.OfferPending {
		return &model.InvalidStateError{Entity: "offer", ID: id, State: string(offer.Status)}
	}
	now := time.Now().UTC()
	return s.store.SetOfferStatus(ctx, id, model.OfferPending, model.OfferCancelled, &now)
}

// ListByRequest is restricted to the request owner and admins.
func (s *OfferService) ListByRequest(ctx context.Context, actor Actor, requestID string) ([]model.Offer, error) {
	req, err := s.store.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != actor.ID && !actor.Admin {
		return nil, &model.ForbiddenActorError{Reason: "not the request owner"}
	}
	return s.store.ListOffersByRequest(ctx, requestID)
}

func (s *OfferService) ListMine(ctx context.Context, actor Actor) ([]model.Offer, error) {
	return s.store.ListOffersByExpert(ctx, actor.ID)
}

func (s *OfferService) ListPending(ctx context.Context) ([]model.Offer, error) {
	return s.store.ListOffersByStatus(ctx, model.OfferPending)
}

func isNotFound(err error) bool {
	var nf *model.NotFoundError
	return errors.As(err, &nf)
}
