package service

import (
	"context"
	"time"

	"biddesk/internal/model"
)

// Store is the persistence collaborator. Implementations must make every
// *Set/Assign/Accept/Resolve* method a conditional update keyed on the
// expected prior status, returning ConcurrentModificationError when the
// precondition no longer holds; workflow correctness depends on it.
type Store interface {
	CreateRequest(ctx context.Context, r model.ServiceRequest) error
	GetRequestByID(ctx context.Context, id string) (model.ServiceRequest, error)
	UpdateRequestDetails(ctx context.Context, id string, p model.RequestUpdate) error
	SetRequestStatus(ctx context.Context, id string, from, to model.RequestStatus) error
	AssignRequest(ctx context.Context, id, expertID string, at time.Time) error
	CompleteRequest(ctx context.Context, id string, at time.Time) error
	SoftDeleteRequest(ctx context.Context, id string) error
	ListRequestsByOwner(ctx context.Context, ownerID string) ([]model.ServiceRequest, error)
	ListRequestsByStatus(ctx context.Context, status model.RequestStatus) ([]model.ServiceRequest, error)

	CreateOffer(ctx context.Context, o model.Offer) error
	GetOfferByID(ctx context.Context, id string) (model.Offer, error)
	GetActiveOfferForExpert(ctx context.Context, requestID, expertID string) (model.Offer, error)
	SetOfferStatus(ctx context.Context, id string, from, to model.OfferStatus, respondedAt *time.Time) error
	AcceptOffer(ctx context.Context, id, requestID string, at time.Time) error
	RejectCompetingOffers(ctx context.Context, requestID, acceptedID string) (int, error)
	ListOffersByRequest(ctx context.Context, requestID string) ([]model.Offer, error)
	ListOffersByExpert(ctx context.Context, expertID string) ([]model.Offer, error)
	ListOffersByStatus(ctx context.Context, status model.OfferStatus) ([]model.Offer, error)

	CreatePayment(ctx context.Context, p model.PaymentAttestation) error
	GetPaymentByID(ctx context.Context, id string) (model.PaymentAttestation, error)
	GetPendingPaymentByOffer(ctx context.Context, offerID string) (model.PaymentAttestation, error)
	ResolvePayment(ctx context.Context, id string, to model.PaymentStatus, adminID string, at time.Time) error
	ListPaymentsByPayer(ctx context.Context, payerID string) ([]model.PaymentAttestation, error)
	ListPaymentsByStatus(ctx context.Context, status model.PaymentStatus) ([]model.PaymentAttestation, error)

	CreateMessage(ctx context.Context, m model.Message) error
	GetMessageByID(ctx context.Context, id string) (model.Message, error)
	ListMessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	MarkMessageRead(ctx context.Context, id string, at time.Time) error
	MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int, error)
}

// Notifier fans workflow events out to connected clients. Delivery is
// at-most-once and best-effort: callers ignore its errors and the
// workflow must behave identically under NopNotifier.
type Notifier interface {
	PublishUser(userID string, event map[string]interface{}) error
	PublishConversation(conversationID string, event map[string]interface{}) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) PublishUser(string, map[string]interface{}) error         { return nil }
func (NopNotifier) PublishConversation(string, map[string]interface{}) error { return nil }

// Workflow event types carried in the "type" field of published events.
const (
	EventOfferApproved   = "offer_admin_approved"
	EventOfferRejected   = "offer_admin_rejected"
	EventPaymentApproved = "payment_approved"
	EventPaymentRejected = "payment_rejected"
	EventNewMessage      = "new_message"
	EventMessageRead     = "message_read"
	EventDeadlineSoon    = "request_deadline_soon"
)

// Actor is the resolved identity of the caller, trusted as-is from the
// authentication layer.
type Actor struct {
	ID        string
	Requester bool
	Expert    bool
	Admin     bool
}

// JobClient schedules background notification jobs.
type JobClient interface {
	ScheduleDeadlineReminder(requestID string, deadline time.Time) error
}
