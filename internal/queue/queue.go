package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/unclebandit/dispatch-engine/internal/config"
	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

// WorkQueue is the fast path for campaign ids. Queues are a hint only:
// the reconciliation scan picks up anything a queue loses, and the claim
// in the campaign store decides who actually dispatches.
type WorkQueue interface {
	Push(ctx context.Context, ch model.Channel, campaignID string) error
	// Pop blocks until an id is available on the channel's queue or ctx is done.
	Pop(ctx context.Context, ch model.Channel) (string, error)
	Close() error
}

// Job is the wire payload shared by the broker-backed queues.
type Job struct {
	CampaignID string `json:"campaign_id"`
}

func encodeJob(campaignID string) ([]byte, error) {
	return json.Marshal(Job{CampaignID: campaignID})
}

func decodeJob(body []byte) (string, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return "", fmt.Errorf("decode job: %w", err)
	}
	if job.CampaignID == "" {
		return "", fmt.Errorf("decode job: empty campaign_id")
	}
	return job.CampaignID, nil
}

// Name returns the per-channel queue name, e.g. campaign_dispatch.sms.
func Name(prefix string, ch model.Channel) string {
	return prefix + "." + strings.ToLower(string(ch))
}

// New builds the queue selected by QUEUE_DRIVER. It returns a nil queue for
// "none", which leaves the system running on the reconciliation scan alone.
func New(ctx context.Context, cfg *config.Config) (WorkQueue, error) {
	switch cfg.QueueDriver {
	case "none":
		logging.Component("queue").Warn("Queue disabled, relying on reconciliation scan only")
		return nil, nil
	case "memory":
		return NewInMemoryQueue(1024), nil
	case "redis":
		q, err := NewRedisQueue(ctx, cfg.RedisAddr, cfg.QueuePrefix)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "amqp":
		q, err := NewAMQPQueue(cfg.AMQPURL, cfg.QueuePrefix)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
}

// InMemoryQueue is a bounded FIFO per channel. It is used for single-process
// deployments and tests.
type InMemoryQueue struct {
	mu       sync.Mutex
	capacity int
	queues   map[model.Channel]chan string
	closed   chan struct{}
	once     sync.Once
}

func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &InMemoryQueue{
		capacity: capacity,
		queues:   make(map[model.Channel]chan string),
		closed:   make(chan struct{}),
	}
}

func (q *InMemoryQueue) queue(ch model.Channel) chan string {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.queues[ch]
	if !ok {
		c = make(chan string, q.capacity)
		q.queues[ch] = c
	}
	return c
}

// Push blocks while the channel's queue is full, until ctx expires.
func (q *InMemoryQueue) Push(ctx context.Context, ch model.Channel, campaignID string) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.queue(ch) <- campaignID:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("push %s to %s queue: %w", campaignID, ch, ctx.Err())
	}
}

func (q *InMemoryQueue) Pop(ctx context.Context, ch model.Channel) (string, error) {
	select {
	case id := <-q.queue(ch):
		return id, nil
	case <-q.closed:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len reports the number of pending ids on a channel.
func (q *InMemoryQueue) Len(ch model.Channel) int {
	return len(q.queue(ch))
}

func (q *InMemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
