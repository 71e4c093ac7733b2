// README: RabbitMQ connection bootstrap with bounded reconnect attempts.
package infra

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQP struct {
	Conn *amqp.Connection
	Chan *amqp.Channel
}

func NewAMQP(url string) (*AMQP, error) {
	var conn *amqp.Connection
	var err error
	for i := 1; i <= 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		time.Sleep(time.Duration(i) * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return &AMQP{Conn: conn, Chan: ch}, nil
}

func (a *AMQP) Close() {
	if a.Chan != nil {
		_ = a.Chan.Close()
	}
	if a.Conn != nil {
		_ = a.Conn.Close()
	}
}
