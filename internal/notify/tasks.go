package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/codenix-ai/store-chismo/internal/events"
	"github.com/codenix-ai/store-chismo/internal/obs"
)

// TypeEmail is the asynq task type for deferred notification emails.
const TypeEmail = "notify:email"

type emailTaskPayload struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewEmailTask packages a domain event into an asynq task.
func NewEmailTask(event events.Event) (*asynq.Task, error) {
	encoded, err := json.Marshal(emailTaskPayload{
		EventID:    event.ID.String(),
		Topic:      event.Topic,
		Payload:    event.Payload,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("notify: encode email task: %w", err)
	}
	return asynq.NewTask(TypeEmail, encoded), nil
}

// TaskEnqueuer is the slice of asynq.Client the queue notifier needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer defers notification emails to the worker process instead of
// sending them on the webhook request path.
type Enqueuer struct {
	Client   TaskEnqueuer
	Queue    string
	MaxRetry int
}

// Notify implements the events.Notifier interface by enqueueing the event.
func (e Enqueuer) Notify(ctx context.Context, event events.Event) error {
	if e.Client == nil {
		return nil
	}
	task, err := NewEmailTask(event)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		// The same payment transition enqueues under one ID, so a redelivered
		// webhook does not produce a second mail while the task is pending.
		asynq.TaskID(taskDedupeID(event)),
	}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if _, err := e.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if obs.NotificationTotal != nil {
			obs.NotificationTotal.WithLabelValues("queue", "error").Inc()
		}
		return fmt.Errorf("notify: enqueue email task: %w", err)
	}
	if obs.NotificationTotal != nil {
		obs.NotificationTotal.WithLabelValues("queue", "enqueued").Inc()
	}
	return nil
}

// taskDedupeID keys the task by the transition it announces rather than by the
// event ID, which is minted fresh on every emission.
func taskDedupeID(event events.Event) string {
	var fields struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	_ = json.Unmarshal(event.Payload, &fields)
	if fields.Reference != "" {
		return fmt.Sprintf("%s:%s:%s:%s", TypeEmail, event.Topic, fields.Reference, fields.Status)
	}
	return fmt.Sprintf("%s:%s", TypeEmail, event.ID.String())
}

// NewEmailTaskHandler adapts an EmailNotifier into an asynq handler for the
// worker process.
func NewEmailTaskHandler(notifier EmailNotifier) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload emailTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("notify: decode email task: %v: %w", err, asynq.SkipRetry)
		}
		id, err := uuid.Parse(payload.EventID)
		if err != nil {
			id = uuid.New()
		}
		return notifier.Notify(ctx, events.Event{
			ID:         id,
			Topic:      payload.Topic,
			Payload:    payload.Payload,
			OccurredAt: payload.OccurredAt,
		})
	}
}
