// Package events publishes import outcomes so other services can react to
// finished imports.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys of published outcomes.
const (
	ImportCompleted = "import.completed"
	ImportFailed    = "import.failed"
)

// Outcome describes a finished pipeline run.
type Outcome struct {
	ImportID        string    `json:"import_id"`
	DatasetID       string    `json:"dataset_id"`
	RequestedBy     string    `json:"requested_by"`
	Success         bool      `json:"success"`
	Table           string    `json:"table,omitempty"`
	RecordsImported int       `json:"records_imported"`
	Error           string    `json:"error,omitempty"`
	FinishedAt      time.Time `json:"finished_at"`
}

// RoutingKey picks the key matching the outcome.
func (o Outcome) RoutingKey() string {
	if o.Success {
		return ImportCompleted
	}
	return ImportFailed
}

// Publisher sends outcomes.
type Publisher interface {
	Publish(ctx context.Context, outcome Outcome) error
}

// Nop drops every outcome.
type Nop struct{}

func (Nop) Publish(context.Context, Outcome) error { return nil }

// Recorder keeps outcomes in memory.
type Recorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *Recorder) Publish(_ context.Context, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	return nil
}

// Outcomes returns the recorded outcomes in publish order.
func (r *Recorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

// RabbitPublisher publishes outcomes to a topic exchange.
type RabbitPublisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

// NewRabbitPublisher opens a channel on conn and declares exchange.
func NewRabbitPublisher(conn *amqp.Connection, exchange string) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitPublisher{channel: ch, exchange: exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, outcome Outcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, p.exchange, outcome.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    outcome.FinishedAt,
		MessageId:    outcome.ImportID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", outcome.RoutingKey(), err)
	}
	return nil
}

// Close closes the channel.
func (p *RabbitPublisher) Close() error {
	return p.channel.Close()
}
