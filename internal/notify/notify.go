// Package notify delivers purchase notifications for successful offer claims.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// PurchaseNotification is emitted once per successful claim.
type PurchaseNotification struct {
	ClaimID       int64     `json:"claim_id"`
	OfferID       int64     `json:"offer_id"`
	UserID        int64     `json:"user_id"`
	VoucherID     int64     `json:"voucher_id"`
	TransactionNo string    `json:"transaction_no"`
	Amount        string    `json:"amount"`
	OfferName     string    `json:"offer_name"`
	PurchasedAt   time.Time `json:"purchased_at"`
}

// Notifier sends purchase notifications.
type Notifier interface {
	NotifyPurchase(ctx context.Context, n PurchaseNotification) error
}

// LogNotifier writes notifications to the log. Used when no broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// NotifyPurchase logs the notification
func (n *LogNotifier) NotifyPurchase(ctx context.Context, p PurchaseNotification) error {
	n.log.Info("offer purchased",
		zap.Int64("claim_id", p.ClaimID),
		zap.Int64("offer_id", p.OfferID),
		zap.Int64("user_id", p.UserID),
		zap.String("transaction_no", p.TransactionNo),
	)
	return nil
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes notifications as JSON to a durable topic exchange.
type RabbitPublisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         channel
	exchange   string
	routingKey string
}

// NewRabbitPublisher dials the broker and declares the exchange.
func NewRabbitPublisher(url, exchange, routingKey string) (*RabbitPublisher, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newPublisher(ch, exchange, routingKey)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange, routingKey string) (*RabbitPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &RabbitPublisher{ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// NotifyPurchase publishes the notification
func (p *RabbitPublisher) NotifyPurchase(ctx context.Context, n PurchaseNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.TransactionNo,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish purchase notification: %w", err)
	}
	return nil
}

// Close closes the channel and connection
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Close(); err != nil {
		return err
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
