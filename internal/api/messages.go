package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type SendMessageRequest struct {
	Content string `json:"content"`
}

func (d Dependencies) sendMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	msg, err := d.Conversations.Send(r.Context(), actor, conversationID, req.Content)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusCreated, msg)
}

func (d Dependencies) listMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")

	messages, err := d.Conversations.List(r.Context(), actor, conversationID)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (d Dependencies) markMessageRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := d.Conversations.MarkRead(r.Context(), actor, id); err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"read": true})
}

func (d Dependencies) markConversationRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := d.actor(w, r)
	if !ok {
		return
	}
	conversationID := chi.URLParam(r, "id")

	n, err := d.Conversations.MarkAllRead(r.Context(), actor, conversationID)
	if err != nil {
		WriteServiceError(w, err, d.Log)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]int{"marked": n})
}
