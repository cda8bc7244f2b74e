// Package event publishes domain events for downstream consumers such as
// the mailer and analytics pipelines. Publishing is advisory: a failed
// publish is logged by the caller and never fails the originating
// operation.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"

	"github.com/veskor/bazaar/internal/domain/order"
)

// orderPlaced is the wire shape of an order.placed event.
type orderPlaced struct {
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	TotalPrice    string    `json:"totalPrice"`
	PaymentMethod string    `json:"paymentMethod"`
	Paid          bool      `json:"paid"`
	ItemCount     int       `json:"itemCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// KafkaPublisher writes order events to a Kafka topic, keyed by user so
// one user's orders stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// OrderPlaced publishes an order.placed event.
func (p *KafkaPublisher) OrderPlaced(ctx context.Context, o *order.Order) error {
	payload, err := json.Marshal(orderPlaced{
		OrderID:       o.ID,
		UserID:        o.UserID,
		TotalPrice:    o.TotalPrice.String(),
		PaymentMethod: string(o.PaymentMethod),
		Paid:          o.Paid,
		ItemCount:     len(o.Items),
		CreatedAt:     o.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.UserID),
		Value: payload,
	})
	if err != nil {
		return errors.Wrap(err, "write order event")
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
