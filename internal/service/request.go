package service

import (
	"context"
	"strings"
	"time"

	"biddesk/internal/model"
	"biddesk/internal/schema"

	"github.com/oklog/ulid/v2"
)

const (
	titleMinLen       = 5
	titleMaxLen       = 120
	descriptionMinLen = 20
	descriptionMaxLen = 5000
)

// RequestService owns the service request lifecycle: creation by a
// requester, the admin approval gate, owner edits while open, and the
// workflow advancement that only the payment flow may trigger.
type RequestService struct {
	store      Store
	bus        Notifier
	schemaComp *schema.Compiler
	jobClient  JobClient
}

func NewRequestService(store Store, bus Notifier, schemaComp *schema.Compiler) *RequestService {
	return &RequestService{
		store:      store,
		bus:        bus,
		schemaComp: schemaComp,
	}
}

// SetJobClient enables deadline reminder scheduling; optional.
func (s *RequestService) SetJobClient(client JobClient) {
	s.jobClient = client
}

type CreateRequestInput struct {
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Budget         float64                `json:"budget"`
	Deadline       time.Time              `json:"deadline"`
	RequiredSkills []string               `json:"requiredSkills,omitempty"`
	IntakeSchema   map[string]interface{} `json:"intakeSchema,omitempty"`
}

func (s *RequestService) Create(ctx context.Context, actor Actor, input CreateRequestInput) (*model.ServiceRequest, error) {
	if !actor.Requester {
		return nil, &model.ForbiddenActorError{Reason: "only requesters may post requests"}
	}
	if err := validateRequestFields(input.Title, input.Description, input.Budget, input.Deadline); err != nil {
		return nil, err
	}
	if err := s.validateIntakeSchema(ctx, input.IntakeSchema); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	req := model.ServiceRequest{
		ID:             ulid.Make().String(),
		OwnerID:        actor.ID,
		Title:          strings.TrimSpace(input.Title),
		Description:    strings.TrimSpace(input.Description),
		Budget:         input.Budget,
		Deadline:       input.Deadline,
		RequiredSkills: input.RequiredSkills,
		IntakeSchema:   input.IntakeSchema,
		Status:         model.RequestPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *RequestService) Get(ctx context.Context, id string) (*model.ServiceRequest, error) {
	req, err := s.store.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// AdminApprove opens a pending request for bidding.
func (s *RequestService) AdminApprove(ctx context.Context, actor Actor, id string) (*model.ServiceRequest, error) {
	if !actor.Admin {
		return nil, &model.ForbiddenActorError{Reason: "admin role required"}
	}
	req, err := s.store.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.AdminResolved() {
		return nil, &model.InvalidStateError{Entity: "request", ID: id, State: string(req.Status)}
	}
	if err := s.store.SetRequestStatus(ctx, id, model.RequestPending, model.RequestOpen); err != nil {
		return nil, err
	}

	if s.jobClient != nil {
		_ = s.jobClient.ScheduleDeadlineReminder(id, req.Deadline)
	}

	req.Status = model.RequestOpen
	return &req, nil
}

func (s *RequestService) AdminReject(ctx context.Context, actor Actor, id string) (*model.ServiceRequest, error) {
	if !actor.Admin {
		return nil, &model.ForbiddenActorError{Reason: "admin role required"}
	}
	req, err := s.store.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.AdminResolved() {
		return nil, &model.InvalidStateError{Entity: "request", ID: id, State: string(req.Status)}
	}
	if err := s.store.SetRequestStatus(ctx, id, model.RequestPending, model.RequestRejected); err != nil {
		return nil, err
	}
	req.Status = model.RequestRejected
	return &req, nil
}

// OwnerUpdate edits a request's fields. Permitted only to the owner and
// only while the request is open.
func (s *RequestService) OwnerUpdate(ctx context.Context, actor Actor, id string, update model.RequestUpdate) (*model.ServiceRequest, error) {
	req, err := s.store.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != actor.ID {
		return nil, &model.ForbiddenActorError{Reason: "not the request owner"}
	}
	if req.Status != model.RequestOpen {
		return nil, &model.ForbiddenTransitionError{Reason: "request is " + string(req.Status) + ", owner edits allowed only while open"}
	}
	if err := validateRequestUpdate(req, update); err != nil {
		return nil, err
	}
	if update.IntakeSchema != nil {
		if err := s.validateIntakeSchema(ctx, update.IntakeSchema); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateRequestDetails(ctx, id, update); err != nil {
		return nil, err
	}
	updated, err := s.store.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// OwnerDelete withdraws an open request. Blocked once any offer against
// it has advanced past pending.
func (s *RequestService) OwnerDelete(ctx context.Context, actor Actor, id string) error {
	req, err := s.store.GetRequestByID(ctx, id)
	if err != nil {
		return err
	}
	if req.OwnerID != actor.ID {
		return &model.ForbiddenActorError{Reason: "not the request owner"}
	}
	if req.Status != model.RequestOpen {
		return &model.ForbiddenTransitionError{Reason: "request is " + string(req.Status) + ", deletion allowed only while open"}
	}
	offers, err := s.store.ListOffersByRequest(ctx, id)
	if err != nil {
		return err
	}
	for _, o := range offers {
		if o.Status != model.OfferPending && o.Status != model.OfferCancelled {
			return &model.ForbiddenTransitionError{Reason: "request has an offer already under review"}
		}
	}
	return s.store.SoftDeleteRequest(ctx, id)
}

// Start moves an assigned request to in_progress. Assigned expert only.
func (s *RequestService) Start(ctx context.Context, actor Actor, id string) error {
	req, err := s.store.GetRequestByID(ctx, id)
	if err != nil {
		return err
	}
	if req.AssignedExpert == nil || *req.AssignedExpert != actor.ID {
		return &model.ForbiddenActorError{Reason: "not the assigned expert"}
	}
	if req.Status != model.RequestAssigned {
		return &model.InvalidStateError{Entity: "request", ID: id, State: string(req.Status)}
	}
	return s.store.SetRequestStatus(ctx, id, model.RequestAssigned, model.RequestInProgress)
}

// Complete marks work done. Owner only, from in_progress.
func (s *RequestService) Complete(ctx context.Context, actor Actor, id string) error {
	req, err := s.store.GetRequestByID(ctx, id)
	if err != nil {
		return err
	}
	if req.OwnerID != actor.ID {
		return &model.ForbiddenActorError{Reason: "not the request owner"}
	}
	if req.Status != model.RequestInProgress {
		return &model.InvalidStateError{Entity: "request", ID: id, State: string(req.Status)}
	}
	return s.store.CompleteRequest(ctx, id, time.Now().UTC())
}

// AdvanceToAssigned commits the winning expert onto an open request.
// Invoked only by the payment flow.
func (s *RequestService) AdvanceToAssigned(ctx context.Context, id, expertID string) error {
	return s.store.AssignRequest(ctx, id, expertID, time.Now().UTC())
}

func (s *RequestService) ListOpen(ctx context.Context) ([]model.ServiceRequest, error) {
	return s.store.ListRequestsByStatus(ctx, model.RequestOpen)
}

func (s *RequestService) ListMine(ctx context.Context, actor Actor) ([]model.ServiceRequest, error) {
	return s.store.ListRequestsByOwner(ctx, actor.ID)
}

func (s *RequestService) ListPending(ctx context.Context) ([]model.ServiceRequest, error) {
	return s.store.ListRequestsByStatus(ctx, model.RequestPending)
}

// validateIntakeSchema compiles a request's intake schema up front so a
// broken schema is the requester's error at create or update time, not
// every bidding expert's error at submit time.
func (s *RequestService) validateIntakeSchema(ctx context.Context, intakeSchema map[string]interface{}) error {
	if intakeSchema == nil {
		return nil
	}
	if err := s.schemaComp.Prepare(ctx, intakeSchema); err != nil {
		return &model.ValidationError{Field: "intakeSchema", Reason: err.Error()}
	}
	return nil
}

func validateRequestFields(title, description string, budget float64, deadline time.Time) error {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if len(title) < titleMinLen || len(title) > titleMaxLen {
		return &model.ValidationError{Field: "title", Reason: "length out of bounds"}
	}
	if len(description) < descriptionMinLen || len(description) > descriptionMaxLen {
		return &model.ValidationError{Field: "description", Reason: "length out of bounds"}
	}
	if budget <= 0 {
		return &model.ValidationError{Field: "budget", Reason: "must be positive"}
	}
	if !deadline.After(time.Now()) {
		return &model.ValidationError{Field: "deadline", Reason: "must be in the future"}
	}
	return nil
}

func validateRequestUpdate(req model.ServiceRequest, update model.RequestUpdate) error {
	title := req.Title
	if update.Title != nil {
		title = *update.Title
	}
	description := req.Description
	if update.Description != nil {
		description = *update.Description
	}
	budget := req.Budget
	if update.Budget != nil {
		budget = *update.Budget
	}
	deadline := req.Deadline
	if update.Deadline != nil {
		deadline = *update.Deadline
	}
	return validateRequestFields(title, description, budget, deadline)
}
