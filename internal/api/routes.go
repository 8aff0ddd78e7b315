package api

import (
	"net/http"

	"biddesk/internal/auth"
	"biddesk/internal/service"
	"biddesk/internal/ws"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Dependencies struct {
	Requests      *service.RequestService
	Offers        *service.OfferService
	Payments      *service.PaymentService
	Conversations *service.ConversationService
	Hub           *ws.Hub
	Log           *zap.Logger
	JWT           *auth.JWTConfig
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(d.Log))
	r.Use(d.JWT.Middleware)

	// Request endpoints
	r.Post("/requests", d.createRequest)
	r.Get("/requests", d.listOpenRequests)
	r.Get("/requests/mine", d.listMyRequests)
	r.Get("/requests/{id}", d.getRequest)
	r.Patch("/requests/{id}", d.updateRequest)
	r.Delete("/requests/{id}", d.deleteRequest)
	r.Post("/requests/{id}/start", d.startRequest)
	r.Post("/requests/{id}/complete", d.completeRequest)

	// Offer endpoints
	r.Post("/requests/{id}/offers", d.submitOffer)
	r.Get("/requests/{id}/offers", d.listRequestOffers)
	r.Get("/offers/mine", d.listMyOffers)
	r.Get("/offers/{id}", d.getOffer)
	r.Post("/offers/{id}/withdraw", d.withdrawOffer)
	r.Post("/offers/{id}/reject", d.ownerRejectOffer)
	r.Post("/offers/{id}/pay", d.requestPayment)

	// Payment endpoints
	r.Get("/payments/mine", d.listMyPayments)

	// Conversation endpoints
	r.Get("/conversations/{id}/messages", d.listMessages)
	r.Post("/conversations/{id}/messages", d.sendMessage)
	r.Post("/conversations/{id}/read", d.markConversationRead)
	r.Post("/messages/{id}/read", d.markMessageRead)

	// Admin review endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Use(d.adminOnly)
		r.Get("/requests/pending", d.listPendingRequests)
		r.Post("/requests/{id}/approve", d.approveRequest)
		r.Post("/requests/{id}/reject", d.rejectRequest)
		r.Get("/offers/pending", d.listPendingOffers)
		r.Post("/offers/{id}/approve", d.approveOffer)
		r.Post("/offers/{id}/reject", d.rejectOffer)
		r.Get("/payments/pending", d.listPendingPayments)
		r.Post("/payments/{id}/approve", d.approvePayment)
		r.Post("/payments/{id}/reject", d.rejectPayment)
	})

	// WebSocket endpoint
	r.Get("/ws", d.wsHandler)

	return r
}

// actor resolves the authenticated caller, or writes a 401.
func (d Dependencies) actor(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	ident, ok := auth.GetIdentity(r.Context())
	if !ok || ident.UserID == "" {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", d.Log)
		return service.Actor{}, false
	}
	return service.Actor{
		ID:        ident.UserID,
		Requester: ident.Requester,
		Expert:    ident.Expert,
		Admin:     ident.Admin,
	}, true
}

// adminOnly rejects non-admin callers before the handler runs. Services
// check the admin role again; this keeps the whole subtree closed.
func (d Dependencies) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := auth.GetIdentity(r.Context())
		if !ok || !ident.Admin {
			WriteError(w, http.StatusForbidden, "forbidden", "Admin role required", d.Log)
			return
		}
		next.ServeHTTP(w, r)
	})
}
