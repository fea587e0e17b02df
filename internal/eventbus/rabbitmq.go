// Package eventbus publishes order lifecycle events to RabbitMQ. The core only
// produces; any consumer (fulfilment, notifications, analytics) subscribes on
// its own topology.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/drluca/shopstream/ordercore/config"
)

const (
	publishTimeout   = 5 * time.Second
	reconnectBackoff = 3 * time.Second
)

type RabbitMQPublisher struct {
	config config.Config
	done   chan struct{}

	// mu guards the connection state below, which the reconnect goroutine
	// rewrites while publishers read it.
	mu              sync.Mutex
	connection      *amqp.Connection
	channel         *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	isReady         bool
}

func NewRabbitMQPublisher(cfg config.Config) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{
		config: cfg,
		done:   make(chan struct{}),
	}
	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("initial RabbitMQ connection failed: %w", err)
	}
	go p.handleReconnect()
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	log.Info().Str("url", p.config.RabbitMQURL).Msg("Attempting to connect to RabbitMQ")
	conn, err := amqp.Dial(p.config.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		return fmt.Errorf("channel could not be put into confirm mode: %w", err)
	}

	log.Info().Str("exchange", p.config.OutgoingExchangeName).Str("type", p.config.RabbitMQExchangeType).Msg("Declaring outgoing exchange")
	err = channel.ExchangeDeclare(
		p.config.OutgoingExchangeName, // name
		p.config.RabbitMQExchangeType, // type
		true,                          // durable
		false,                         // auto-deleted
		false,                         // internal
		false,                         // no-wait
		nil,                           // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare outgoing exchange %s: %w", p.config.OutgoingExchangeName, err)
	}

	p.mu.Lock()
	p.connection = conn
	p.channel = channel
	p.notifyConnClose = make(chan *amqp.Error, 1)
	p.connection.NotifyClose(p.notifyConnClose)
	p.notifyConfirm = make(chan amqp.Confirmation, 1)
	p.channel.NotifyPublish(p.notifyConfirm)
	p.isReady = true
	p.mu.Unlock()

	log.Info().Msg("RabbitMQ connected and publisher channel initialized")
	return nil
}

func (p *RabbitMQPublisher) handleReconnect() {
	for {
		p.mu.Lock()
		closeCh := p.notifyConnClose
		p.mu.Unlock()

		select {
		case <-p.done:
			return
		case closeErr := <-closeCh:
			p.mu.Lock()
			p.isReady = false
			p.mu.Unlock()
			log.Warn().Err(closeErr).Msg("RabbitMQ connection lost. Reconnecting.")
			for {
				time.Sleep(reconnectBackoff)
				if err := p.connect(); err != nil {
					log.Error().Err(err).Msg("RabbitMQ reconnect failed")
					continue
				}
				break
			}
		}
	}
}

func (p *RabbitMQPublisher) PublishMessage(ctx context.Context, routingKey string, payload interface{}) error {
	p.mu.Lock()
	ready, channel, confirms := p.isReady, p.channel, p.notifyConfirm
	p.mu.Unlock()
	if !ready {
		return errors.New("publisher not ready")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = channel.Publish(
		p.config.OutgoingExchangeName,
		routingKey,
		false,
		false,
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

	select {
	case confirm := <-confirms:
		if confirm.Ack {
			log.Debug().Str("routingKey", routingKey).Msg("Message published and confirmed")
			return nil
		}
		return errors.New("message published but not confirmed")
	case <-time.After(publishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *RabbitMQPublisher) Close() {
	close(p.done)
	p.mu.Lock()
	conn := p.connection
	p.isReady = false
	p.mu.Unlock()
	if conn != nil && !conn.IsClosed() {
		conn.Close()
	}
}
