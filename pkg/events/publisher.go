package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const analyzedRoutingKey = "chat.analyzed"

// ChatAnalyzed is emitted every time a chat's analysis record is written.
type ChatAnalyzed struct {
	ChatID     string    `json:"chatId"`
	AccountID  string    `json:"accountId"`
	ResultText string    `json:"resultText"`
	TrustScore float64   `json:"trustScore"`
	AnalyzedAt time.Time `json:"analyzedAt"`
}

// Publisher emits analysis events to interested consumers.
type Publisher interface {
	PublishChatAnalyzed(ctx context.Context, event ChatAnalyzed) error
	Close() error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishChatAnalyzed(context.Context, ChatAnalyzed) error { return nil }
func (NoopPublisher) Close() error                                            { return nil }

// AMQPPublisher publishes events to a RabbitMQ topic exchange. Publishing is
// synchronous and happens inside the request that triggered the analysis.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	url      string
	exchange string
}

// NewAMQPPublisher connects to the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, exchange: exchange}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.channel = channel
	return nil
}

// PublishChatAnalyzed sends one event; on a closed channel it reconnects once.
func (p *AMQPPublisher) PublishChatAnalyzed(ctx context.Context, event ChatAnalyzed) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	publish := func() error {
		return p.channel.PublishWithContext(ctx, p.exchange, analyzedRoutingKey, false, false, amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now().UTC(),
			Body:        body,
		})
	}
	if err := publish(); err != nil {
		if reconnectErr := p.connect(); reconnectErr != nil {
			return fmt.Errorf("publish event: %w", err)
		}
		return publish()
	}
	return nil
}

// Close releases channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
