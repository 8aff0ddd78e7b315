package model

import "fmt"

// The workflow never surfaces a generic failure: every rejected operation
// carries one of the typed errors below so callers can tell "already
// answered" from "not yours" from "lost a race". They live in this package
// because both the store implementations and the services return them.

// ValidationError reports malformed input. The caller must change the
// input before retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ForbiddenActorError reports an authenticated caller acting outside its
// role or ownership.
type ForbiddenActorError struct {
	Reason string
}

func (e *ForbiddenActorError) Error() string {
	return "forbidden: " + e.Reason
}

// ForbiddenTransitionError reports an owner-side mutation attempted after
// the request left the stage where owners may still touch it.
type ForbiddenTransitionError struct {
	Reason string
}

func (e *ForbiddenTransitionError) Error() string {
	return "forbidden transition: " + e.Reason
}

// InvalidStateError reports an operation that is not valid for the
// entity's current state, such as approving something already resolved.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s", e.Entity, e.ID, e.State)
}

// DuplicateOfferError reports a second non-cancelled offer by the same
// expert on the same request.
type DuplicateOfferError struct {
	RequestID string
	ExpertID  string
}

func (e *DuplicateOfferError) Error() string {
	return fmt.Sprintf("expert %s already has an offer on request %s", e.ExpertID, e.RequestID)
}

// SelfDealingError reports an owner bidding on their own request.
type SelfDealingError struct {
	RequestID string
}

func (e *SelfDealingError) Error() string {
	return "cannot bid on your own request " + e.RequestID
}

// ConcurrentModificationError reports a lost race on a conditional
// update. Safe to retry after re-reading state; every other error in this
// package requires a state or input change first.
type ConcurrentModificationError struct {
	Entity string
	ID     string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Entity, e.ID)
}

// ConversationLockedError reports messaging attempted before the request
// was assigned.
type ConversationLockedError struct {
	ConversationID string
}

func (e *ConversationLockedError) Error() string {
	return "conversation " + e.ConversationID + " is locked"
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " " + e.ID + " not found"
}
