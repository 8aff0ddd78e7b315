package db

import (
	"context"
	"errors"
	"time"

	"biddesk/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queries wraps database queries. Every workflow transition is a
// conditional UPDATE keyed on the expected prior status; a zero-row
// outcome after the caller validated state means a lost race and is
// reported as ConcurrentModificationError, never silently ignored.
type Queries struct {
	*pgxpool.Pool
}

// NewQueries creates a new Queries instance
func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

const requestColumns = `id, owner_id, title, description, budget, deadline,
	required_skills, intake_schema, status, assigned_expert, assigned_at,
	completed_at, created_at, updated_at`

func scanRequest(row pgx.Row) (model.ServiceRequest, error) {
	var r model.ServiceRequest
	var status string
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.Title, &r.Description, &r.Budget, &r.Deadline,
		&r.RequiredSkills, &r.IntakeSchema, &status, &r.AssignedExpert,
		&r.AssignedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	r.Status = model.RequestStatus(status)
	return r, err
}

// Request queries

func (q *Queries) CreateRequest(ctx context.Context, r model.ServiceRequest) error {
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO requests (
			id, owner_id, title, description, budget, deadline,
			required_skills, intake_schema, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		r.ID, r.OwnerID, r.Title, r.Description, r.Budget, r.Deadline,
		r.RequiredSkills, r.IntakeSchema, string(r.Status), r.CreatedAt,
	)
	return err
}

func (q *Queries) GetRequestByID(ctx context.Context, id string) (model.ServiceRequest, error) {
	r, err := scanRequest(q.Pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1 AND deleted_at IS NULL`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return r, &model.NotFoundError{Entity: "request", ID: id}
	}
	return r, err
}

func (q *Queries) UpdateRequestDetails(ctx context.Context, id string, p model.RequestUpdate) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE requests SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			budget = COALESCE($4, budget),
			deadline = COALESCE($5, deadline),
			required_skills = COALESCE($6, required_skills),
			intake_schema = COALESCE($7, intake_schema),
			updated_at = NOW()
		WHERE id = $1 AND status = 'open' AND deleted_at IS NULL`,
		id, p.Title, p.Description, p.Budget, p.Deadline, p.RequiredSkills, p.IntakeSchema,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	return nil
}

func (q *Queries) SetRequestStatus(ctx context.Context, id string, from, to model.RequestStatus) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE requests SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL`,
		id, string(from), string(to),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	return nil
}

// AssignRequest moves an open request to assigned and records the winning
// expert, as a single conditional update.
func (q *Queries) AssignRequest(ctx context.Context, id, expertID string, at time.Time) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE requests SET status = 'assigned', assigned_expert = $2,
			assigned_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'open' AND deleted_at IS NULL`,
		id, expertID, at,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	return nil
}

func (q *Queries) CompleteRequest(ctx context.Context, id string, at time.Time) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE requests SET status = 'completed', completed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress' AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	return nil
}

func (q *Queries) SoftDeleteRequest(ctx context.Context, id string) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE requests SET status = 'cancelled', deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'open' AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return &model.ConcurrentModificationError{Entity: "request", ID: id}
	}
	return nil
}

func (q *Queries) ListRequestsByOwner(ctx context.Context, ownerID string) ([]model.ServiceRequest, error) {
	return q.listRequests(ctx,
		`SELECT `+requestColumns+` FROM requests
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`,
		ownerID,
	)
}

func (q *Queries) ListRequestsByStatus(ctx context.Context, status model.RequestStatus) ([]model.ServiceRequest, error) {
	return q.listRequests(ctx,
		`SELECT `+requestColumns+` FROM requests
		WHERE status = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC`,
		string(status),
	)
}

func (q *Queries) listRequests(ctx context.Context, query string, args ...interface{}) ([]model.ServiceRequest, error) {
	rows, err := q.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]model.ServiceRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// Offer queries

const offerColumns = `id, request_id, expert_id, message, price, duration_days,
	details, status, responded_at, created_at, updated_at`

func scanOffer(row pgx.Row) (model.Offer, error) {
	var o model.Offer
	var status string
	err := row.Scan(
		&o.ID, &o.RequestID, &o.ExpertID, &o.Message, &o.Price, &o.DurationDays,
		&o.Details, &status, &o.RespondedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = model.OfferStatus(status)
	return o, err
}

func (q *Queries) CreateOffer(ctx context.Context, o model.Offer) error {
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO offers (
			id, request_id, expert_id, message, price, duration_days,
			details, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		o.ID, o.RequestID, o.ExpertID, o.Message, o.Price, o.DurationDays,
		o.Details, string(o.Status), o.CreatedAt,
	)
	return err
}

func (q *Queries) GetOfferByID(ctx context.Context, id string) (model.Offer, error) {
	o, err := scanOffer(q.Pool.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return o, &model.NotFoundError{Entity: "offer", ID: id}
	}
	return o, err
}

// GetActiveOfferForExpert finds an expert's non-cancelled offer on a
// request; cancelled offers do not block resubmission.
func (q *Queries) GetActiveOfferForExpert(ctx context.Context, requestID, expertID string) (model.Offer, error) {
	o, err := scanOffer(q.Pool.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM offers
		WHERE request_id = $1 AND expert_id = $2 AND status <> 'cancelled'
		LIMIT 1`,
		requestID, expertID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return o, &model.NotFoundError{Entity: "offer", ID: requestID + "/" + expertID}
	}
	return o, err
}

func (q *Queries) SetOfferStatus(ctx context.Context, id string, from, to model.OfferStatus, respondedAt *time.Time) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE offers SET status = $3,
			responded_at = COALESCE($4, responded_at),
			updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), respondedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return &model.ConcurrentModificationError{Entity: "offer", ID: id}
	}
	return nil
}

// AcceptOffer is the exclusivity operation: a single conditional update
// that both requires the offer to still be approved and forbids an
// already-accepted sibling on the same request. Two concurrent callers
// cannot both succeed.
func (q *Queries) AcceptOffer(ctx context.Context, id, requestID string, at time.Time) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE offers SET status = 'accepted', responded_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'approved'
		AND NOT EXISTS (
			SELECT 1 FROM offers o2
			WHERE o2.request_id = $2 AND o2.status = 'accepted' AND o2.id <> $1
		)`,
		id, requestID, at,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return &model.ConcurrentModificationError{Entity: "offer", ID: id}
	}
	return nil
}

// RejectCompetingOffers force-rejects every sibling still competing after
// one offer was accepted. Best-effort from the caller's point of view.
func (q *Queries) RejectCompetingOffers(ctx context.Context, requestID, acceptedID string) (int, error) {
	result, err := q.Pool.Exec(ctx,
		`UPDATE offers SET status = 'rejected', responded_at = NOW(), updated_at = NOW()
		WHERE request_id = $1 AND id <> $2 AND status IN ('pending', 'approved')`,
		requestID, acceptedID,
	)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

func (q *Queries) ListOffersByRequest(ctx context.Context, requestID string) ([]model.Offer, error) {
	return q.listOffers(ctx,
		`SELECT `+offerColumns+` FROM offers
		WHERE request_id = $1 ORDER BY created_at ASC`,
		requestID,
	)
}

func (q *Queries) ListOffersByExpert(ctx context.Context, expertID string) ([]model.Offer, error) {
	return q.listOffers(ctx,
		`SELECT `+offerColumns+` FROM offers
		WHERE expert_id = $1 ORDER BY created_at DESC`,
		expertID,
	)
}

func (q *Queries) ListOffersByStatus(ctx context.Context, status model.OfferStatus) ([]model.Offer, error) {
	return q.listOffers(ctx,
		`SELECT `+offerColumns+` FROM offers
		WHERE status = $1 ORDER BY created_at ASC`,
		string(status),
	)
}

func (q *Queries) listOffers(ctx context.Context, query string, args ...interface{}) ([]model.Offer, error) {
	rows, err := q.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	offers := make([]model.Offer, 0)
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// Payment queries

const paymentColumns = `id, offer_id, request_id, payer_id, amount, status,
	resolved_by, resolved_at, created_at`

func scanPayment(row pgx.Row) (model.PaymentAttestation, error) {
	var p model.PaymentAttestation
	var status string
	err := row.Scan(
		&p.ID, &p.OfferID, &p.RequestID, &p.PayerID, &p.Amount, &status,
		&p.ResolvedBy, &p.ResolvedAt, &p.CreatedAt,
	)
	p.Status = model.PaymentStatus(status)
	return p, err
}

func (q *Queries) CreatePayment(ctx context.Context, p model.PaymentAttestation) error {
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO payments (
			id, offer_id, request_id, payer_id, amount, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.OfferID, p.RequestID, p.PayerID, p.Amount, string(p.Status), p.CreatedAt,
	)
	return err
}

func (q *Queries) GetPaymentByID(ctx context.Context, id string) (model.PaymentAttestation, error) {
	p, err := scanPayment(q.Pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, &model.NotFoundError{Entity: "payment", ID: id}
	}
	return p, err
}

func (q *Queries) GetPendingPaymentByOffer(ctx context.Context, offerID string) (model.PaymentAttestation, error) {
	p, err := scanPayment(q.Pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE offer_id = $1 AND status = 'pending'
		LIMIT 1`,
		offerID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, &model.NotFoundError{Entity: "payment", ID: offerID}
	}
	return p, err
}

func (q *Queries) ResolvePayment(ctx context.Context, id string, to model.PaymentStatus, adminID string, at time.Time) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE payments SET status = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND status = 'pending'`,
		id, string(to), adminID, at,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return &model.ConcurrentModificationError{Entity: "payment", ID: id}
	}
	return nil
}

func (q *Queries) ListPaymentsByPayer(ctx context.Context, payerID string) ([]model.PaymentAttestation, error) {
	return q.listPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE payer_id = $1 ORDER BY created_at DESC`,
		payerID,
	)
}

func (q *Queries) ListPaymentsByStatus(ctx context.Context, status model.PaymentStatus) ([]model.PaymentAttestation, error) {
	return q.listPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments
		WHERE status = $1 ORDER BY created_at ASC`,
		string(status),
	)
}

func (q *Queries) listPayments(ctx context.Context, query string, args ...interface{}) ([]model.PaymentAttestation, error) {
	rows, err := q.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]model.PaymentAttestation, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Message queries

const messageColumns = `id, conversation_id, sender_id, receiver_id, content,
	type, is_read, read_at, created_at`

func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	var msgType string
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content,
		&msgType, &m.IsRead, &m.ReadAt, &m.CreatedAt,
	)
	m.Type = model.MessageType(msgType)
	return m, err
}

func (q *Queries) CreateMessage(ctx context.Context, m model.Message) error {
	_, err := q.Pool.Exec(ctx,
		`INSERT INTO messages (
			id, conversation_id, sender_id, receiver_id, content, type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, m.SenderID, m.ReceiverID, m.Content, string(m.Type), m.CreatedAt,
	)
	return err
}

func (q *Queries) GetMessageByID(ctx context.Context, id string) (model.Message, error) {
	m, err := scanMessage(q.Pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return m, &model.NotFoundError{Entity: "message", ID: id}
	}
	return m, err
}

func (q *Queries) ListMessagesByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (q *Queries) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := q.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`,
		conversationID,
	).Scan(&count)
	return count, err
}

// MarkMessageRead is idempotent: marking an already-read message affects
// zero rows and is still a success.
func (q *Queries) MarkMessageRead(ctx context.Context, id string, at time.Time) error {
	_, err := q.Pool.Exec(ctx,
		`UPDATE messages SET is_read = TRUE, read_at = $2
		WHERE id = $1 AND is_read = FALSE`,
		id, at,
	)
	return err
}

func (q *Queries) MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int, error) {
	result, err := q.Pool.Exec(ctx,
		`UPDATE messages SET is_read = TRUE, read_at = $3
		WHERE conversation_id = $1 AND receiver_id = $2 AND is_read = FALSE`,
		conversationID, receiverID, at,
	)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}
