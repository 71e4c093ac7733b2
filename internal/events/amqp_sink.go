// README: AMQP sink; publishes events to a topic exchange with the kind as routing key.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const exchangeName = "ridepool.events"

// AMQPChannel is the publishing surface the sink needs; *amqp.Channel
// satisfies it.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPSink struct {
	ch  AMQPChannel
	log *logrus.Logger
}

func NewAMQPSink(ch AMQPChannel, log *logrus.Logger) (*AMQPSink, error) {
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPSink{ch: ch, log: log}, nil
}

func (s *AMQPSink) Handle(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	body, err := json.Marshal(e)
	if err != nil {
		s.log.WithError(err).WithField("kind", e.Kind).Error("amqp sink: marshal event")
		return
	}
	err = s.ch.PublishWithContext(ctx, exchangeName, string(e.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.At,
		Body:         body,
	})
	if err != nil {
		s.log.WithError(err).WithField("kind", e.Kind).Warn("amqp sink: publish failed")
	}
}
