package service

import (
	"context"
	"strings"
	"time"

	"biddesk/internal/model"

	"github.com/oklog/ulid/v2"
)

// ConversationService derives message-send eligibility from request
// state; it owns no workflow state of its own beyond the message log. A
// conversation is keyed by its request id and unlocks the moment the
// request is assigned.
type ConversationService struct {
	store Store
	bus   Notifier
}

func NewConversationService(store Store, bus Notifier) *ConversationService {
	return &ConversationService{
		store: store,
		bus:   bus,
	}
}

// CanSend reports whether senderID may currently message in the
// conversation: the request must be assigned (or beyond) and the sender
// must be one of the two participants.
func (s *ConversationService) CanSend(ctx context.Context, conversationID, senderID string) (bool, error) {
	req, err := s.store.GetRequestByID(ctx, conversationID)
	if err != nil {
		return false, err
	}
	if !req.Status.ConversationOpen() {
		return false, nil
	}
	return isParticipant(req, senderID), nil
}

// IsParticipant reports whether userID is a party to the conversation,
// regardless of whether it is unlocked yet.
func (s *ConversationService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	req, err := s.store.GetRequestByID(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return isParticipant(req, userID), nil
}

// Send appends a message. The receiver is derived: the other participant.
func (s *ConversationService) Send(ctx context.Context, actor Actor, conversationID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &model.ValidationError{Field: "content", Reason: "must not be empty"}
	}

	req, err := s.store.GetRequestByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(req, actor.ID) {
		return nil, &model.ForbiddenActorError{Reason: "not a conversation participant"}
	}
	if !req.Status.ConversationOpen() {
		return nil, &model.ConversationLockedError{ConversationID: conversationID}
	}

	msg := model.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		SenderID:       actor.ID,
		ReceiverID:     otherParticipant(req, actor.ID),
		Content:        content,
		Type:           model.MessageText,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	event := map[string]interface{}{
		"type":           EventNewMessage,
		"messageId":      msg.ID,
		"conversationId": conversationID,
		"senderId":       msg.SenderID,
	}
	_ = s.bus.PublishConversation(conversationID, event)
	_ = s.bus.PublishUser(msg.ReceiverID, event)

	return &msg, nil
}

func (s *ConversationService) List(ctx context.Context, actor Actor, conversationID string) ([]model.Message, error) {
	req, err := s.store.GetRequestByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(req, actor.ID) && !actor.Admin {
		return nil, &model.ForbiddenActorError{Reason: "not a conversation participant"}
	}
	return s.store.ListMessagesByConversation(ctx, conversationID)
}

// MarkRead marks one message read. Idempotent: marking an already-read
// message is a no-op success.
func (s *ConversationService) MarkRead(ctx context.Context, actor Actor, messageID string) error {
	msg, err := s.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ReceiverID != actor.ID {
		return &model.ForbiddenActorError{Reason: "only the receiver may mark a message read"}
	}
	if msg.IsRead {
		return nil
	}
	if err := s.store.MarkMessageRead(ctx, messageID, time.Now().UTC()); err != nil {
		return err
	}

	_ = s.bus.PublishUser(msg.SenderID, map[string]interface{}{
		"type":           EventMessageRead,
		"messageId":      messageID,
		"conversationId": msg.ConversationID,
	})
	return nil
}

// MarkAllRead marks every unread message addressed to the caller.
func (s *ConversationService) MarkAllRead(ctx context.Context, actor Actor, conversationID string) (int, error) {
	req, err := s.store.GetRequestByID(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !isParticipant(req, actor.ID) {
		return 0, &model.ForbiddenActorError{Reason: "not a conversation participant"}
	}

	n, err := s.store.MarkConversationRead(ctx, conversationID, actor.ID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		_ = s.bus.PublishConversation(conversationID, map[string]interface{}{
			"type":           EventMessageRead,
			"conversationId": conversationID,
			"readerId":       actor.ID,
			"count":          n,
		})
	}
	return n, nil
}

// Seed writes the two opening system messages after assignment, one in
// each direction. Skipped if the conversation already has messages, so a
// retried payment approval does not double-seed.
func (s *ConversationService) Seed(ctx context.Context, req model.ServiceRequest, expertID string) error {
	count, err := s.store.CountMessages(ctx, req.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	opening := []model.Message{
		{
			ID:             ulid.Make().String(),
			ConversationID: req.ID,
			SenderID:       req.OwnerID,
			ReceiverID:     expertID,
			Content:        "Payment confirmed. You have been assigned to \"" + req.Title + "\".",
			Type:           model.MessageSystem,
			CreatedAt:      now,
		},
		{
			ID:             ulid.Make().String(),
			ConversationID: req.ID,
			SenderID:       expertID,
			ReceiverID:     req.OwnerID,
			Content:        "Thanks for choosing my offer. Let's discuss the details here.",
			Type:           model.MessageSystem,
			CreatedAt:      now.Add(time.Millisecond),
		},
	}
	for _, msg := range opening {
		if err := s.store.CreateMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func isParticipant(req model.ServiceRequest, userID string) bool {
	if req.OwnerID == userID {
		return true
	}
	return req.AssignedExpert != nil && *req.AssignedExpert == userID
}

func otherParticipant(req model.ServiceRequest, userID string) string {
	if req.OwnerID == userID && req.AssignedExpert != nil {
		return *req.AssignedExpert
	}
	return req.OwnerID
}
