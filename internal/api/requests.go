package api

import (
	"encoding/json"
	"net/http"
	"time"

	"biddesk/internal/model"
	"biddesk/internal/service"

	"github.com/go-chi/chi/v5"
)

type CreateRequestRequest struct {
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Budget         float64                `json:"budget"`
	Deadline       time.Time              `json:"deadline"`
	RequiredSkills []string               `json:"requiredSkills,omitempty"`
	IntakeSchema   map[string]interface{} `json:"intakeSchema,omitempty"`
}

func (d Dependencies) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}

	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	result, err := d.Requests.Create(r.Context(), actor, service.CreateRequestInput{
		Title:          req.Title,
		Description:    req.Description,
		Budget:         req.Budget,
		Deadline:       req.Deadline,
		RequiredSkills: req.RequiredSkills,
		IntakeSchema:   req.IntakeSchema,
	})
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusCreated, result)
}

func (d Dependencies) getRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.actor(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	req, err := d.Requests.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, req)
}

type UpdateRequestRequest struct {
	Title          *string                `json:"title,omitempty"`
	Description    *string                `json:"description,omitempty"`
	Budget         *float64               `json:"budget,omitempty"`
	Deadline       *time.Time             `json:"deadline,omitempty"`
	RequiredSkills []string               `json:"requiredSkills,omitempty"`
	IntakeSchema   map[string]interface{} `json:"intakeSchema,omitempty"`
}

func (d Dependencies) updateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req UpdateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	updated, err := d.Requests.OwnerUpdate(r.Context(), actor, id, model.RequestUpdate{
		Title:          req.Title,
		Description:    req.Description,
		Budget:         req.Budget,
		Deadline:       req.Deadline,
		RequiredSkills: req.RequiredSkills,
		IntakeSchema:   req.IntakeSchema,
	})
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, updated)
}

func (d Dependencies) deleteRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := d.Requests.OwnerDelete(r.Context(), actor, id); err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": string(model.RequestCancelled)})
}

func (d Dependencies) startRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := d.Requests.Start(r.Context(), actor, id); err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": string(model.RequestInProgress)})
}

func (d Dependencies) completeRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := d.Requests.Complete(r.Context(), actor, id); err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": string(model.RequestCompleted)})
}

func (d Dependencies) listOpenRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.actor(w, r); !ok {
		return
	}

	requests, err := d.Requests.ListOpen(r.Context())
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

func (d Dependencies) listMyRequests(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}

	requests, err := d.Requests.ListMine(r.Context(), actor)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

func (d Dependencies) listPendingRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.actor(w, r); !ok {
		return
	}

	requests, err := d.Requests.ListPending(r.Context())
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

func (d Dependencies) approveRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	req, err := d.Requests.AdminApprove(r.Context(), actor, id)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, req)
}

func (d Dependencies) rejectRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	req, err := d.Requests.AdminReject(r.Context(), actor, id)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, req)
}
