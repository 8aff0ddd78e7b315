// Package memstore is a mutex-guarded in-memory implementation of the
// service store, used in tests and for running the API without Postgres.
// It enforces the same conditional-update semantics as the SQL store:
// every status transition checks the expected prior state under the lock.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"biddesk/internal/model"
)

type Store struct {
	mu       sync.Mutex
	requests map[string]model.ServiceRequest
	offers   map[string]model.Offer
	payments map[string]model.PaymentAttestation
	messages map[string]model.Message
	deleted  map[string]bool
}

func New() *Store {
	return &Store{
		requests: make(map[string]model.ServiceRequest),
		offers:   make(map[string]model.Offer),
		payments: make(map[string]model.PaymentAttestation),
		messages: make(map[string]model.Message),
		deleted:  make(map[string]bool),
	}
}

func cloneRequest(r model.ServiceRequest) model.ServiceRequest {
	out := r
	if r.RequiredSkills != nil {
		out.RequiredSkills = append([]string(nil), r.RequiredSkills...)
	}
	if r.IntakeSchema != nil {
		m := make(map[string]interface{}, len(r.IntakeSchema))
		for k, v := range r.IntakeSchema {
			m[k] = v
		}
		out.IntakeSchema = m
	}
	return out
}

func cloneOffer(o model.Offer) model.Offer {
	out := o
	if o.Details != nil {
		m := make(map[string]interface{}, len(o.Details))
		for k, v := range o.Details {
			m[k] = v
		}
		out.Details = m
	}
	return out
}

// ---- requests ----

func (s *Store) CreateRequest(ctx context.Context, r model.ServiceRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *Store) GetRequestByID(ctx context.Context, id string) (model.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || s.deleted[id] {
		return model.ServiceRequest{}, &model.NotFoundError{Entity: "request", ID: id}
	}
	return cloneRequest(r), nil
}

func (s *Store) UpdateRequestDetails(ctx context.Context, id string, p model.RequestUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || s.deleted[id] {
		return &model.NotFoundError{Entity: "request", ID: id}
	}
	if r.Status != model.RequestOpen {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Budget != nil {
		r.Budget = *p.Budget
	}
	if p.Deadline != nil {
		r.Deadline = *p.Deadline
	}
	if p.RequiredSkills != nil {
		r.RequiredSkills = append([]string(nil), p.RequiredSkills...)
	}
	if p.IntakeSchema != nil {
		r.IntakeSchema = p.IntakeSchema
	}
	r.UpdatedAt = time.Now().UTC()
	s.requests[id] = cloneRequest(r)
	return nil
}

func (s *Store) SetRequestStatus(ctx context.Context, id string, from, to model.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || s.deleted[id] {
		return &model.NotFoundError{Entity: "request", ID: id}
	}
	if r.Status != from {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	s.requests[id] = r
	return nil
}

func (s *Store) AssignRequest(ctx context.Context, id, expertID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || s.deleted[id] {
		return &model.NotFoundError{Entity: "request", ID: id}
	}
	if r.Status != model.RequestOpen {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	r.Status = model.RequestAssigned
	r.AssignedExpert = &expertID
	r.AssignedAt = &at
	r.UpdatedAt = at
	s.requests[id] = r
	return nil
}

func (s *Store) CompleteRequest(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || s.deleted[id] {
		return &model.NotFoundError{Entity: "request", ID: id}
	}
	if r.Status != model.RequestInProgress {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	r.Status = model.RequestCompleted
	r.CompletedAt = &at
	r.UpdatedAt = at
	s.requests[id] = r
	return nil
}

func (s *Store) SoftDeleteRequest(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || s.deleted[id] {
		return &model.NotFoundError{Entity: "request", ID: id}
	}
	if r.Status != model.RequestOpen {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	r.Status = model.RequestCancelled
	r.UpdatedAt = time.Now().UTC()
	s.requests[id] = r
	s.deleted[id] = true
	return nil
}

func (s *Store) ListRequestsByOwner(ctx context.Context, ownerID string) ([]model.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ServiceRequest
	for id, r := range s.requests {
		if r.OwnerID == ownerID && !s.deleted[id] {
			out = append(out, cloneRequest(r))
		}
	}
	sortRequests(out)
	return out, nil
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status model.RequestStatus) ([]model.ServiceRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ServiceRequest
	for id, r := range s.requests {
		if r.Status == status && !s.deleted[id] {
			out = append(out, cloneRequest(r))
		}
	}
	sortRequests(out)
	return out, nil
}

// ---- offers ----

func (s *Store) CreateOffer(ctx context.Context, o model.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.offers {
		if existing.RequestID == o.RequestID && existing.ExpertID == o.ExpertID && existing.Status != model.OfferCancelled {
			return &model.DuplicateOfferError{RequestID: o.RequestID, ExpertID: o.ExpertID}
		}
	}
	s.offers[o.ID] = cloneOffer(o)
	return nil
}

func (s *Store) GetOfferByID(ctx context.Context, id string) (model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return model.Offer{}, &model.NotFoundError{Entity: "offer", ID: id}
	}
	return cloneOffer(o), nil
}

func (s *Store) GetActiveOfferForExpert(ctx context.Context, requestID, expertID string) (model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers {
		if o.RequestID == requestID && o.ExpertID == expertID && o.Status != model.OfferCancelled {
			return cloneOffer(o), nil
		}
	}
	return model.Offer{}, &model.NotFoundError{Entity: "offer", ID: requestID + "/" + expertID}
}

func (s *Store) SetOfferStatus(ctx context.Context, id string, from, to model.OfferStatus, respondedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return &model.NotFoundError{Entity: "offer", ID: id}
	}
	if o.Status != from {
		return &model.ConcurrentModificationError{Entity: "offer", ID: id}
	}
	o.Status = to
	if respondedAt != nil {
		o.RespondedAt = respondedAt
	}
	o.UpdatedAt = time.Now().UTC()
	s.offers[id] = o
	return nil
}

// AcceptOffer transitions approved -> accepted only while no sibling of
// the same request is accepted; both checks happen under the lock.
func (s *Store) AcceptOffer(ctx context.Context, id, requestID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return &model.NotFoundError{Entity: "offer", ID: id}
	}
	if o.Status != model.OfferApproved {
		return &model.ConcurrentModificationError{Entity: "offer", ID: id}
	}
	for sid, sibling := range s.offers {
		if sid != id && sibling.RequestID == requestID && sibling.Status == model.OfferAccepted {
			return &model.ConcurrentModificationError{Entity: "offer", ID: id}
		}
	}
	o.Status = model.OfferAccepted
	o.RespondedAt = &at
	o.UpdatedAt = at
	s.offers[id] = o
	return nil
}

func (s *Store) RejectCompetingOffers(ctx context.Context, requestID, acceptedID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for id, o := range s.offers {
		if id == acceptedID || o.RequestID != requestID || !o.Status.Competing() {
			continue
		}
		o.Status = model.OfferRejected
		o.RespondedAt = &now
		o.UpdatedAt = now
		s.offers[id] = o
		n++
	}
	return n, nil
}

func (s *Store) ListOffersByRequest(ctx context.Context, requestID string) ([]model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Offer
	for _, o := range s.offers {
		if o.RequestID == requestID {
			out = append(out, cloneOffer(o))
		}
	}
	sortOffers(out)
	return out, nil
}

func (s *Store) ListOffersByExpert(ctx context.Context, expertID string) ([]model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Offer
	for _, o := range s.offers {
		if o.ExpertID == expertID {
			out = append(out, cloneOffer(o))
		}
	}
	sortOffers(out)
	return out, nil
}

func (s *Store) ListOffersByStatus(ctx context.Context, status model.OfferStatus) ([]model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Offer
	for _, o := range s.offers {
		if o.Status == status {
			out = append(out, cloneOffer(o))
		}
	}
	sortOffers(out)
	return out, nil
}

// ---- payments ----

func (s *Store) CreatePayment(ctx context.Context, p model.PaymentAttestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = p
	return nil
}

func (s *Store) GetPaymentByID(ctx context.Context, id string) (model.PaymentAttestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return model.PaymentAttestation{}, &model.NotFoundError{Entity: "payment", ID: id}
	}
	return p, nil
}

func (s *Store) GetPendingPaymentByOffer(ctx context.Context, offerID string) (model.PaymentAttestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.OfferID == offerID && p.Status == model.PaymentPending {
			return p, nil
		}
	}
	return model.PaymentAttestation{}, &model.NotFoundError{Entity: "payment", ID: offerID}
}

func (s *Store) ResolvePayment(ctx context.Context, id string, to model.PaymentStatus, adminID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return &model.NotFoundError{Entity: "payment", ID: id}
	}
	if p.Status != model.PaymentPending {
		return &model.ConcurrentModificationError{Entity: "payment", ID: id}
	}
	p.Status = to
	p.ResolvedBy = &adminID
	p.ResolvedAt = &at
	s.payments[id] = p
	return nil
}

func (s *Store) ListPaymentsByPayer(ctx context.Context, payerID string) ([]model.PaymentAttestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PaymentAttestation
	for _, p := range s.payments {
		if p.PayerID == payerID {
			out = append(out, p)
		}
	}
	sortPayments(out)
	return out, nil
}

func (s *Store) ListPaymentsByStatus(ctx context.Context, status model.PaymentStatus) ([]model.PaymentAttestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PaymentAttestation
	for _, p := range s.payments {
		if p.Status == status {
			out = append(out, p)
		}
	}
	sortPayments(out)
	return out, nil
}

// ---- messages ----

func (s *Store) CreateMessage(ctx context.Context, m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	return nil
}

func (s *Store) GetMessageByID(ctx context.Context, id string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, &model.NotFoundError{Entity: "message", ID: id}
	}
	return m, nil
}

func (s *Store) ListMessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkMessageRead(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return &model.NotFoundError{Entity: "message", ID: id}
	}
	if m.IsRead {
		return nil
	}
	m.IsRead = true
	m.ReadAt = &at
	s.messages[id] = m
	return nil
}

func (s *Store) MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.messages {
		if m.ConversationID != conversationID || m.ReceiverID != receiverID || m.IsRead {
			continue
		}
		m.IsRead = true
		m.ReadAt = &at
		s.messages[id] = m
		n++
	}
	return n, nil
}

func sortRequests(rs []model.ServiceRequest) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.After(rs[j].CreatedAt) })
}

func sortOffers(os []model.Offer) {
	sort.Slice(os, func(i, j int) bool { return os[i].CreatedAt.After(os[j].CreatedAt) })
}

func sortPayments(ps []model.PaymentAttestation) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedAt.After(ps[j].CreatedAt) })
}
