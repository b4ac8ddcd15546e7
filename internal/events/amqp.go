package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

const contentTypeJSON = "application/json"

var errPublisherClosed = errors.New("rabbitmq publisher closed")

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type dialFunc func() (io.Closer, channel, error)

// AMQPPublisher sends appointment events to a topic exchange with routing key
// "appointment.<event>", e.g. "appointment.booked". A channel found closed
// on publish is redialled once before the publish is retried.
type AMQPPublisher struct {
	mu       sync.Mutex
	dial     dialFunc
	conn     io.Closer
	ch       channel
	exchange string
	log      *zap.Logger
}

// NewAMQPPublisher dials url and declares exchange as a durable topic.
func NewAMQPPublisher(url, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		dial:     func() (io.Closer, channel, error) { return dialExchange(url, exchange) },
		exchange: exchange,
		log:      log,
	}
	if err := p.connectLocked(); err != nil {
		return nil, err
	}

	log.Info("connected to rabbitmq", zap.String("exchange", exchange))
	return p, nil
}

func dialExchange(url, exchange string) (io.Closer, channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp091.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, ch, err := p.dial()
	if err != nil {
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) dropLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// RoutingKey maps APPOINTMENT_NO_SHOW to appointment.no_show.
func RoutingKey(eventType string) string {
	return "appointment." + strings.ToLower(strings.TrimPrefix(eventType, "APPOINTMENT_"))
}

func newMessage(ev appointment.Event) (amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}

	return amqp091.Publishing{
		ContentType:   contentTypeJSON,
		DeliveryMode:  amqp091.Persistent,
		MessageId:     fmt.Sprintf("%s:%d", ev.AppointmentID, ev.Version),
		CorrelationId: ev.CorrelationID,
		Timestamp:     ev.OccurredAt,
		Type:          ev.Type,
		Body:          body,
		Headers: amqp091.Table{
			"appointment_id": ev.AppointmentID.String(),
			"doctor_id":      ev.DoctorID.String(),
		},
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev appointment.Event) error {
	msg, err := newMessage(ev)
	if err != nil {
		return err
	}
	key := RoutingKey(ev.Type)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		if err := p.redialLocked(); err != nil {
			return fmt.Errorf("publish %s: %w", ev.Type, err)
		}
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
	if errors.Is(err, amqp091.ErrClosed) && p.dial != nil {
		p.log.Warn("rabbitmq channel closed, redialling", zap.String("event", ev.Type))
		p.dropLocked()
		if err := p.redialLocked(); err != nil {
			return fmt.Errorf("publish %s: %w", ev.Type, err)
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) redialLocked() error {
	if p.dial == nil {
		return errPublisherClosed
	}
	if err := p.connectLocked(); err != nil {
		return fmt.Errorf("reconnect rabbitmq: %w", err)
	}
	p.log.Info("reconnected to rabbitmq", zap.String("exchange", p.exchange))
	return nil
}

// Close releases the connection. Later publishes fail instead of redialling.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dial = nil
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			p.log.Warn("close rabbitmq channel", zap.Error(err))
		}
		p.ch = nil
	}
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
