// Package queue layers publish/pull/ack/nak/dedup-window semantics (§4.4,
// §6.3) on top of the durable QueueStorage repository. It generalizes the
// teacher's in-process URLQueue (internal/services/crawler/queue.go, a
// heap ordered by priority with an in-memory seen-set) into a persisted,
// lease-based queue: priority ordering and duplicate suppression survive
// process restarts because they are now backed by badgerhold rows instead
// of a heap and a map.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
)

// Defaults mirror §6.3's queue topology.
const (
	DefaultDedupWindow = 5 * time.Minute
	DefaultAckWait     = 300 * time.Second
	DefaultMaxDeliver  = 3
)

// Queue is the publish/pull/ack/nak/delete contract over the durable
// CRAWLER_TASKS stream.
type Queue struct {
	store       interfaces.QueueStorage
	logger      arbor.ILogger
	dedupWindow time.Duration
	maxDeliver  int
}

// New creates a Queue over the given durable store.
func New(store interfaces.QueueStorage, logger arbor.ILogger, dedupWindow time.Duration, maxDeliver int) *Queue {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	if maxDeliver <= 0 {
		maxDeliver = DefaultMaxDeliver
	}
	return &Queue{store: store, logger: logger, dedupWindow: dedupWindow, maxDeliver: maxDeliver}
}

// Publish persists a message with the given dedup key, enforcing the
// sliding dedup window.
// A duplicate publish within the window is a no-op and returns the
// already-queued message's id.
func (q *Queue) Publish(ctx context.Context, jobID string, payload map[string]interface{}, dedupKey string, priority int) (string, error) {
	if existing, err := q.store.GetByDedupKey(ctx, dedupKey, q.dedupWindow); err == nil {
		q.logger.Debug().Str("job_id", jobID).Str("dedup_key", dedupKey).Msg("publish suppressed by dedup window")
		return existing.ID, nil
	} else if err != interfaces.ErrNotFound {
		return "", fmt.Errorf("failed to check dedup window: %w", err)
	}

	msg := &models.QueueMessage{
		ID:        common.NewMessageID(),
		JobID:     jobID,
		DedupKey:  dedupKey,
		Payload:   payload,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
	if err := q.store.Insert(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to publish queue message: %w", err)
	}
	return msg.ID, nil
}

// Pull leases up to max messages for the given consumer, honoring ackWait as
// the per-message ack deadline.
func (q *Queue) Pull(ctx context.Context, consumer string, max int, ackWait time.Duration) ([]*models.QueueMessage, error) {
	if ackWait <= 0 {
		ackWait = DefaultAckWait
	}
	msgs, err := q.store.LeaseNext(ctx, max, consumer, ackWait, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to lease queue messages: %w", err)
	}
	return msgs, nil
}

// Ack acknowledges successful processing of a message, removing it from the
// queue permanently.
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	if err := q.store.Ack(ctx, messageID); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nak releases a message's lease. If the message's delivery count has
// reached maxDeliver, it is routed to the DLQ by the caller (the worker,
// which owns RetryClassifier/DLQ decisions per §4.7) rather than being
// requeued here; Nak only ever requeues.
func (q *Queue) Nak(ctx context.Context, messageID string, retryAfter time.Duration) error {
	notBefore := time.Now()
	if retryAfter > 0 {
		notBefore = notBefore.Add(retryAfter)
	}
	if err := q.store.Nak(ctx, messageID, notBefore); err != nil {
		return fmt.Errorf("failed to nak message: %w", err)
	}
	return nil
}

// ExceedsMaxDeliver reports whether a message has been redelivered enough
// times to route to the DLQ instead of being naked again (§6.3
// "max_deliver 3 before DLQ").
func (q *Queue) ExceedsMaxDeliver(msg *models.QueueMessage) bool {
	return msg.DeliveryCount >= q.maxDeliver
}

// Delete performs a best-effort removal of a pending (unleased) message for
// a job, used by pre-start cancellation (§4.4 "Delete(job_id) →
// {deleted, not_found}").
func (q *Queue) Delete(ctx context.Context, jobID string) (deleted bool, err error) {
	deleted, err = q.store.DeleteByJobID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to delete queue message for job: %w", err)
	}
	return deleted, nil
}

// ReclaimExpired sweeps leases past their expiry back onto the queue,
// recovering from a worker crash mid-processing.
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	n, err := q.store.ReclaimExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}
	if n > 0 {
		q.logger.Warn().Int("count", n).Msg("reclaimed expired queue leases")
	}
	return n, nil
}

// Depth returns the total number of messages currently on the queue
// (leased and unleased).
func (q *Queue) Depth(ctx context.Context) (int, error) {
	n, err := q.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return n, nil
}
