package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"biddesk/internal/db"
	"biddesk/internal/model"
	"biddesk/internal/pubsub"
	"biddesk/internal/service"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const taskDeadlineNotify = "request:deadline_notify"

// reminderLead is how long before the deadline the owner is notified.
const reminderLead = 24 * time.Hour

type JobServer struct {
	server *asynq.Server
	client *asynq.Client
	db     *db.Pool
	bus    *pubsub.Bus
	log    *zap.Logger
}

func NewJobServer(redisAddr string, dbPool *db.Pool, bus *pubsub.Bus, log *zap.Logger) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 9,
				"low":     1,
			},
		},
	)

	client := asynq.NewClient(redisOpt)

	return &JobServer{
		server: server,
		client: client,
		db:     dbPool,
		bus:    bus,
		log:    log,
	}, client
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskDeadlineNotify, js.handleDeadlineNotification)
	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.server.Shutdown()
	js.client.Close()
}

// handleDeadlineNotification reminds the owner of an approaching
// deadline. Notification only: it never mutates request state, so a
// stale or duplicate delivery is harmless.
func (js *JobServer) handleDeadlineNotification(ctx context.Context, t *asynq.Task) error {
	requestID := string(t.Payload())

	req, err := js.db.Queries.GetRequestByID(ctx, requestID)
	if err != nil {
		var nf *model.NotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("failed to get request: %w", err)
	}

	// Only remind while the request is still waiting for a winner.
	if req.Status != model.RequestOpen {
		return nil
	}

	_ = js.bus.PublishUser(req.OwnerID, map[string]interface{}{
		"type":       service.EventDeadlineSoon,
		"requestId":  requestID,
		"deadlineAt": req.Deadline.Format(time.RFC3339),
	})

	js.log.Info("Deadline reminder sent", zap.String("request_id", requestID))
	return nil
}

// Client adapts an asynq client to the scheduling interface the request
// service expects.
type Client struct {
	client *asynq.Client
}

func NewClient(client *asynq.Client) *Client {
	return &Client{client: client}
}

// ScheduleDeadlineReminder enqueues a reminder ahead of the deadline.
// Deadlines already inside the lead window are skipped.
func (c *Client) ScheduleDeadlineReminder(requestID string, deadline time.Time) error {
	notifyAt := deadline.Add(-reminderLead)
	if notifyAt.Before(time.Now()) {
		return nil
	}

	task := asynq.NewTask(taskDeadlineNotify, []byte(requestID))
	_, err := c.client.Enqueue(task, asynq.ProcessIn(time.Until(notifyAt)))
	return err
}

var _ service.JobClient = (*Client)(nil)
