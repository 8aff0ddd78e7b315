package service

import (
	"context"
	"testing"

	"biddesk/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assignedRequest walks a request all the way to assignment so its
// conversation is unlocked.
func assignedRequest(t *testing.T, f *fixture) *model.ServiceRequest {
	t.Helper()
	ctx := context.Background()
	req := f.openRequest(t)
	offer := f.approvedOffer(t, req.ID, expert)
	f.approvedPayment(t, offer.ID)
	fresh, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	return fresh
}

func TestConversationService_LockedBeforeAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.openRequest(t)
	f.approvedOffer(t, req.ID, expert)

	// Approval alone does not unlock the conversation; only a resolved
	// payment does.
	_, err := f.conversations.Send(ctx, owner, req.ID, "hello?")
	var locked *model.ConversationLockedError
	require.ErrorAs(t, err, &locked)

	ok, err := f.conversations.CanSend(ctx, req.ID, owner.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConversationService_UnlockedAfterAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := assignedRequest(t, f)

	for _, userID := range []string{owner.ID, expert.ID} {
		ok, err := f.conversations.CanSend(ctx, req.ID, userID)
		require.NoError(t, err)
		assert.True(t, ok, userID)
	}

	msg, err := f.conversations.Send(ctx, expert, req.ID, "Starting on the statements today.")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, msg.ReceiverID)
	assert.Equal(t, model.MessageText, msg.Type)

	events := f.bus.eventsOfType(EventNewMessage)
	require.Len(t, events, 2)
	assert.Equal(t, "conversation:"+req.ID, events[0].Channel)
	assert.Equal(t, "user:"+owner.ID, events[1].Channel)
}

func TestConversationService_StaysUnlockedThroughCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := assignedRequest(t, f)
	require.NoError(t, f.requests.Start(ctx, expert, req.ID))
	require.NoError(t, f.requests.Complete(ctx, owner, req.ID))

	_, err := f.conversations.Send(ctx, owner, req.ID, "Thanks, all done.")
	require.NoError(t, err)
}

func TestConversationService_NonParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := assignedRequest(t, f)

	_, err := f.conversations.Send(ctx, rival, req.ID, "let me in")
	var forbidden *model.ForbiddenActorError
	require.ErrorAs(t, err, &forbidden)

	_, err = f.conversations.List(ctx, rival, req.ID)
	require.ErrorAs(t, err, &forbidden)

	// Admins may read but are not participants.
	msgs, err := f.conversations.List(ctx, admin, req.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
}

func TestConversationService_EmptyContent(t *testing.T) {
	f := newFixture(t)

	req := assignedRequest(t, f)

	_, err := f.conversations.Send(context.Background(), owner, req.ID, "   ")
	var validation *model.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestConversationService_MarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := assignedRequest(t, f)
	msg, err := f.conversations.Send(ctx, owner, req.ID, "Can you start Monday?")
	require.NoError(t, err)

	// Only the receiver may mark it read.
	err = f.conversations.MarkRead(ctx, owner, msg.ID)
	var forbidden *model.ForbiddenActorError
	require.ErrorAs(t, err, &forbidden)

	require.NoError(t, f.conversations.MarkRead(ctx, expert, msg.ID))

	fresh, err := f.store.GetMessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, fresh.IsRead)
	require.NotNil(t, fresh.ReadAt)

	// Marking again is a no-op, not an error, and publishes nothing new.
	before := len(f.bus.eventsOfType(EventMessageRead))
	require.NoError(t, f.conversations.MarkRead(ctx, expert, msg.ID))
	assert.Equal(t, before, len(f.bus.eventsOfType(EventMessageRead)))
}

func TestConversationService_MarkAllRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := assignedRequest(t, f)
	_, err := f.conversations.Send(ctx, owner, req.ID, "First question")
	require.NoError(t, err)
	_, err = f.conversations.Send(ctx, owner, req.ID, "Second question")
	require.NoError(t, err)

	// The seed message addressed to the expert counts too.
	n, err := f.conversations.MarkAllRead(ctx, expert, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Nothing left unread on a second pass.
	n, err = f.conversations.MarkAllRead(ctx, expert, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConversationService_IsParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := assignedRequest(t, f)

	for userID, want := range map[string]bool{
		owner.ID:  true,
		expert.ID: true,
		rival.ID:  false,
		admin.ID:  false,
	} {
		got, err := f.conversations.IsParticipant(ctx, req.ID, userID)
		require.NoError(t, err)
		assert.Equal(t, want, got, userID)
	}
}

func TestConversationService_SeedIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := assignedRequest(t, f)

	fresh, err := f.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NoError(t, f.conversations.Seed(ctx, *fresh, expert.ID))

	msgs, err := f.conversations.List(ctx, owner, req.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}
