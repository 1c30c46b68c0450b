// Package enroll turns settled payments into course enrollments. The API
// process schedules a task per paid order; cmd/worker consumes it.
package enroll

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/noah-isme/kashier-bridge/internal/common"
	"github.com/noah-isme/kashier-bridge/internal/events"
	"github.com/noah-isme/kashier-bridge/internal/queue"
)

// TaskKind is the queue kind consumed by the enrollment worker.
const TaskKind = "enrollment"

// Enqueuer is implemented by queue.Enqueuer.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Scheduler implements events.Scheduler for payment events.
type Scheduler struct {
	Queue Enqueuer
}

// Schedule enqueues one enrollment task per paid order. The callback and the
// browser redirect both report the same payment, so the idempotency key only
// depends on the order.
func (s Scheduler) Schedule(ctx context.Context, event events.Event) error {
	if s.Queue == nil || event.Topic != events.TopicPaymentPaid {
		return nil
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.Queue.Enqueue(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        raw,
		IdempotencyKey: IdempotencyKey(event.AggregateID),
	})
}

// IdempotencyKey is the dedup key for an order's enrollment.
func IdempotencyKey(orderID int64) string {
	return common.DigestKey(events.TopicPaymentPaid, strconv.FormatInt(orderID, 10))
}
