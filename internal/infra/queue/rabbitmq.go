package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"timeline-service/internal/domain"
	"timeline-service/internal/infra/metrics"
)

// RabbitNoteEvents — транспорт событий о заметках поверх AMQP: durable
// очередь, ручные подтверждения, prefetch 1 под единственного потребителя.
type RabbitNoteEvents struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitNoteEvents подключается к RabbitMQ и объявляет очередь.
func NewRabbitNoteEvents(url, queue string) (*RabbitNoteEvents, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := channel.Qos(1, 0, false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitNoteEvents{conn: conn, channel: channel, queue: queue}, nil
}

// Publish отправляет событие в очередь.
func (q *RabbitNoteEvents) Publish(ctx context.Context, event domain.NoteEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Receive блокирующе читает следующее событие. Ack(false) возвращает
// сообщение в очередь.
func (q *RabbitNoteEvents) Receive(ctx context.Context) (domain.NoteEvent, domain.EventAckFunc, error) {
	deliveries, err := q.ensureConsumer()
	if err != nil {
		return domain.NoteEvent{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.NoteEvent{}, nil, ctx.Err()
	case msg, ok := <-deliveries:
		if !ok {
			return domain.NoteEvent{}, nil, errors.New("amqp: delivery channel closed")
		}
		var event domain.NoteEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			// Непарсибельное сообщение подтверждаем, чтобы не зациклиться.
			_ = msg.Ack(false)
			return domain.NoteEvent{}, nil, fmt.Errorf("decode event: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return msg.Ack(false)
			}
			return msg.Nack(false, true)
		}
		return event, ack, nil
	}
}

func (q *RabbitNoteEvents) ensureConsumer() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает канал и подключение.
func (q *RabbitNoteEvents) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
