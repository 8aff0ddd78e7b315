package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// requestPayment records the owner's claim of a completed bank transfer
// for an approved offer. Safe to retry: an existing pending attestation
// for the offer is returned unchanged.
func (d Dependencies) requestPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	offerID := chi.URLParam(r, "id")

	payment, err := d.Payments.Request(r.Context(), actor, offerID)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusCreated, payment)
}

func (d Dependencies) listMyPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}

	payments, err := d.Payments.ListMine(r.Context(), actor)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"payments": payments})
}

func (d Dependencies) listPendingPayments(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.actor(w, r); !ok {
		return
	}

	payments, err := d.Payments.ListPending(r.Context())
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"payments": payments})
}

func (d Dependencies) approvePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	payment, err := d.Payments.AdminApprove(r.Context(), actor, id)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, payment)
}

func (d Dependencies) rejectPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	payment, err := d.Payments.AdminReject(r.Context(), actor, id)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, payment)
}
