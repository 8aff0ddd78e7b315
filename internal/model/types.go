package model

import "time"

// RequestStatus represents a service request's workflow status
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestOpen       RequestStatus = "open"
	RequestRejected   RequestStatus = "rejected"
	RequestAssigned   RequestStatus = "assigned"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
)

// ConversationOpen reports whether messaging is unlocked for a request
// in this status. Unlocking is monotone: once a request is assigned the
// conversation never locks again.
func (s RequestStatus) ConversationOpen() bool {
	switch s {
	case RequestAssigned, RequestInProgress, RequestCompleted:
		return true
	}
	return false
}

// AdminResolved reports whether the admin gate has already acted on a
// request in this status.
func (s RequestStatus) AdminResolved() bool {
	return s != RequestPending
}

// OfferStatus represents an offer's status
type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferApproved  OfferStatus = "approved"
	OfferDeclined  OfferStatus = "declined"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCancelled OfferStatus = "cancelled"
)

// Competing reports whether an offer in this status still competes for
// its request and must be force-rejected when a sibling wins.
func (s OfferStatus) Competing() bool {
	return s == OfferPending || s == OfferApproved
}

// Terminal reports whether no further transition may leave this status.
func (s OfferStatus) Terminal() bool {
	switch s {
	case OfferDeclined, OfferAccepted, OfferRejected, OfferCancelled:
		return true
	}
	return false
}

// PaymentStatus represents a payment attestation's status
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// MessageType represents the kind of a conversation message
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// ServiceRequest is a requester's posting that experts bid on. The status
// field is the single source of truth for both workflow progress and the
// admin gate: pending means unreviewed, rejected means the admin declined
// it, and everything from open onward implies admin approval.
type ServiceRequest struct {
	ID             string                 `json:"id"`
	OwnerID        string                 `json:"ownerId"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Budget         float64                `json:"budget"`
	Deadline       time.Time              `json:"deadline"`
	RequiredSkills []string               `json:"requiredSkills,omitempty"`
	IntakeSchema   map[string]interface{} `json:"intakeSchema,omitempty"`
	Status         RequestStatus          `json:"status"`
	AssignedExpert *string                `json:"assignedExpert,omitempty"`
	AssignedAt     *time.Time             `json:"assignedAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}

// RequestUpdate carries owner-editable request fields; nil means keep.
type RequestUpdate struct {
	Title          *string
	Description    *string
	Budget         *float64
	Deadline       *time.Time
	RequiredSkills []string
	IntakeSchema   map[string]interface{}
}

// Offer is an expert's bid on an open service request. At most one
// non-cancelled offer may exist per (request, expert), and at most one
// offer per request may ever reach accepted.
type Offer struct {
	ID           string                 `json:"id"`
	RequestID    string                 `json:"requestId"`
	ExpertID     string                 `json:"expertId"`
	Message      string                 `json:"message"`
	Price        float64                `json:"price"`
	DurationDays int                    `json:"durationDays"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Status       OfferStatus            `json:"status"`
	RespondedAt  *time.Time             `json:"respondedAt,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// PaymentAttestation records a manually reconciled bank transfer claimed
// by the request owner against an approved offer. Its admin approval is
// the only trigger that finalizes an assignment.
type PaymentAttestation struct {
	ID         string        `json:"id"`
	OfferID    string        `json:"offerId"`
	RequestID  string        `json:"requestId"`
	PayerID    string        `json:"payerId"`
	Amount     float64       `json:"amount"`
	Status     PaymentStatus `json:"status"`
	ResolvedBy *string       `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Message belongs to the private conversation between a request's owner
// and its assigned expert. The conversation id is the request id.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	IsRead         bool        `json:"isRead"`
	ReadAt         *time.Time  `json:"readAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}
