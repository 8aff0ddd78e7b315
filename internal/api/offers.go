package api

import (
	"encoding/json"
	"net/http"

	"biddesk/internal/model"
	"biddesk/internal/service"

	"github.com/go-chi/chi/v5"
)

type SubmitOfferRequest struct {
	Message      string                 `json:"message"`
	Price        float64                `json:"price"`
	DurationDays int                    `json:"durationDays"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

func (d Dependencies) submitOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	requestID := chi.URLParam(r, "id")

	var req SubmitOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	offer, err := d.Offers.Submit(r.Context(), actor, requestID, service.SubmitOfferInput{
		Message:      req.Message,
		Price:        req.Price,
		DurationDays: req.DurationDays,
		Details:      req.Details,
	})
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusCreated, offer)
}

func (d Dependencies) getOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	offer, err := d.Offers.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	// Offers are visible to their expert, the request owner, and admins.
	if offer.ExpertID != actor.ID && !actor.Admin {
		req, err := d.Requests.Get(r.Context(), offer.RequestID)
		if err != nil || req.OwnerID != actor.ID {
			WriteError(w, http.StatusForbidden, "forbidden", "Not a party to this offer", d.Log)
			return
		}
	}

	WriteJSON(w, http.StatusOK, offer)
}

func (d Dependencies) listRequestOffers(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	requestID := chi.URLParam(r, "id")

	offers, err := d.Offers.ListByRequest(r.Context(), actor, requestID)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"offers": offers})
}

func (d Dependencies) listMyOffers(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}

	offers, err := d.Offers.ListMine(r.Context(), actor)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"offers": offers})
}

func (d Dependencies) withdrawOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := d.Offers.Withdraw(r.Context(), actor, id); err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": string(model.OfferCancelled)})
}

func (d Dependencies) ownerRejectOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := d.Offers.OwnerReject(r.Context(), actor, id); err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": string(model.OfferRejected)})
}

func (d Dependencies) listPendingOffers(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.actor(w, r); !ok {
		return
	}

	offers, err := d.Offers.ListPending(r.Context())
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"offers": offers})
}

func (d Dependencies) approveOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	offer, err := d.Offers.AdminApprove(r.Context(), actor, id)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, offer)
}

func (d Dependencies) rejectOffer(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	offer, err := d.Offers.AdminReject(r.Context(), actor, id)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, offer)
}
