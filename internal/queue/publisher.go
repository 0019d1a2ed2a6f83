package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/flight-seat-reservation/internal/service"
)

// AMQPNotifier publishes notifications to RabbitMQ.  Each Notify dials,
// declares the queue and publishes one persistent message; errors are
// logged and returned so the engine can carry on without the broker.
type AMQPNotifier struct {
	url   string
	queue string
}

// NewAMQPNotifier returns a notifier publishing to NotificationQueue.
func NewAMQPNotifier(url string) *AMQPNotifier {
	return &AMQPNotifier{url: url, queue: NotificationQueue}
}

func (p *AMQPNotifier) Notify(ctx context.Context, n service.Notification) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return err
	}

	pub, err := publishing(NewNotificationEvent(n))
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}
	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		return err
	}
	return nil
}

func publishing(ev NotificationEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Kind,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// LogNotifier writes notifications straight to the notification log, for
// deployments without a broker.
type LogNotifier struct {
	dir string
}

// NewLogNotifier returns a notifier appending to dir/notifications.log.
func NewLogNotifier(dir string) *LogNotifier { return &LogNotifier{dir: dir} }

func (l *LogNotifier) Notify(_ context.Context, n service.Notification) error {
	return appendEvent(l.dir, NewNotificationEvent(n))
}
