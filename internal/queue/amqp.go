package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/unclebandit/dispatch-engine/internal/logging"
	"github.com/unclebandit/dispatch-engine/internal/model"
)

// AMQPQueue publishes campaign ids to one durable queue per channel.
type AMQPQueue struct {
	conn    *amqp.Connection
	pub     *amqp.Channel
	sub     *amqp.Channel
	prefix  string
	pubMu   sync.Mutex
	subMu   sync.Mutex
	streams map[model.Channel]<-chan amqp.Delivery
}

func NewAMQPQueue(url, prefix string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	sub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := sub.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	for _, ch := range model.Channels {
		_, err = pub.QueueDeclare(
			Name(prefix, ch), // name
			true,             // durable
			false,            // delete when unused
			false,            // exclusive
			false,            // no-wait
			nil,              // arguments
		)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue: %w", err)
		}
	}

	logging.Component("queue").WithField("prefix", prefix).Info("RabbitMQ queue initialized")
	return &AMQPQueue{
		conn:    conn,
		pub:     pub,
		sub:     sub,
		prefix:  prefix,
		streams: make(map[model.Channel]<-chan amqp.Delivery),
	}, nil
}

func (q *AMQPQueue) Push(ctx context.Context, ch model.Channel, campaignID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encodeJob(campaignID)
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.Publish(
		"",                 // exchange
		Name(q.prefix, ch), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (q *AMQPQueue) stream(ch model.Channel) (<-chan amqp.Delivery, error) {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	if s, ok := q.streams[ch]; ok {
		return s, nil
	}
	s, err := q.sub.Consume(
		Name(q.prefix, ch),
		"",
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	q.streams[ch] = s
	return s, nil
}

// Pop acknowledges the delivery as soon as it is decoded. Losing an id after
// that point is covered by the reconciliation scan.
func (q *AMQPQueue) Pop(ctx context.Context, ch model.Channel) (string, error) {
	s, err := q.stream(ch)
	if err != nil {
		return "", err
	}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case d, ok := <-s:
			if !ok {
				return "", ErrClosed
			}
			id, err := decodeJob(d.Body)
			if err != nil {
				logging.Component("queue").WithError(err).Warn("Dropping invalid job")
				_ = d.Ack(false)
				continue
			}
			if err := d.Ack(false); err != nil {
				return "", err
			}
			return id, nil
		}
	}
}

func (q *AMQPQueue) Close() error {
	log := logging.Component("queue")
	for _, c := range []*amqp.Channel{q.sub, q.pub} {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("Error closing channel")
		}
	}
	return q.conn.Close()
}
