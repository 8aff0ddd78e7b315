package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"biddesk/internal/memstore"
	"biddesk/internal/model"
	"biddesk/internal/schema"

	"github.com/stretchr/testify/require"
)

// recordingBus captures published events for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []busEvent
}

type busEvent struct {
	Channel string
	Event   map[string]interface{}
}

func (b *recordingBus) PublishUser(userID string, event map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{Channel: "user:" + userID, Event: event})
	return nil
}

func (b *recordingBus) PublishConversation(conversationID string, event map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{Channel: "conversation:" + conversationID, Event: event})
	return nil
}

func (b *recordingBus) eventsOfType(eventType string) []busEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []busEvent
	for _, e := range b.events {
		if e.Event["type"] == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store         *memstore.Store
	bus           *recordingBus
	requests      *RequestService
	offers        *OfferService
	payments      *PaymentService
	conversations *ConversationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	bus := &recordingBus{}
	schemaComp := schema.NewCompilerWithCache(16)
	requests := NewRequestService(store, bus, schemaComp)
	offers := NewOfferService(store, bus, schemaComp)
	conversations := NewConversationService(store, bus)
	payments := NewPaymentService(store, bus, offers, requests, conversations)
	return &fixture{
		store:         store,
		bus:           bus,
		requests:      requests,
		offers:        offers,
		payments:      payments,
		conversations: conversations,
	}
}

var (
	owner  = Actor{ID: "owner-1", Requester: true}
	expert = Actor{ID: "expert-1", Expert: true}
	rival  = Actor{ID: "expert-2", Expert: true}
	admin  = Actor{ID: "admin-1", Admin: true}
)

func validRequestInput() CreateRequestInput {
	return CreateRequestInput{
		Title:       "Fix payment reconciliation",
		Description: "Monthly bank statements need matching against invoices.",
		Budget:      1500,
		Deadline:    time.Now().Add(14 * 24 * time.Hour),
	}
}

func validOfferInput() SubmitOfferInput {
	return SubmitOfferInput{
		Message:      "I can take this on next week.",
		Price:        1200,
		DurationDays: 10,
	}
}

// openRequest creates a request and approves it for bidding.
func (f *fixture) openRequest(t *testing.T) *model.ServiceRequest {
	t.Helper()
	ctx := context.Background()
	req, err := f.requests.Create(ctx, owner, validRequestInput())
	require.NoError(t, err)
	opened, err := f.requests.AdminApprove(ctx, admin, req.ID)
	require.NoError(t, err)
	return opened
}

// approvedOffer submits an offer by the given expert and approves it.
func (f *fixture) approvedOffer(t *testing.T, requestID string, by Actor) *model.Offer {
	t.Helper()
	ctx := context.Background()
	offer, err := f.offers.Submit(ctx, by, requestID, validOfferInput())
	require.NoError(t, err)
	approved, err := f.offers.AdminApprove(ctx, admin, offer.ID)
	require.NoError(t, err)
	return approved
}

// approvedPayment walks an approved offer through payment approval.
func (f *fixture) approvedPayment(t *testing.T, offerID string) *model.PaymentAttestation {
	t.Helper()
	ctx := context.Background()
	payment, err := f.payments.Request(ctx, owner, offerID)
	require.NoError(t, err)
	resolved, err := f.payments.AdminApprove(ctx, admin, payment.ID)
	require.NoError(t, err)
	return resolved
}
