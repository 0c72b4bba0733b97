package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher mirrors journal records to an external stream so a
// dashboard or recovery consumer can follow a run incrementally.
// Implementations must tolerate being nil-checked by callers.
type Publisher interface {
	PublishCheckpoint(ctx context.Context, runID string, turn int, state []byte) error
	PublishAudit(ctx context.Context, runID, eventType, detail string) error
	Close() error
}

// KafkaPublisher streams checkpoints and audit events to Kafka topics
// <prefix>.checkpoints and <prefix>.audit, keyed by run id.
type KafkaPublisher struct {
	checkpoints *kafka.Writer
	audit       *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers.
func NewKafkaPublisher(brokers []string, prefix string) *KafkaPublisher {
	if prefix == "" {
		prefix = "magclaw"
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		}
	}
	return &KafkaPublisher{
		checkpoints: newWriter(prefix + ".checkpoints"),
		audit:       newWriter(prefix + ".audit"),
	}
}

type checkpointEnvelope struct {
	RunID     string          `json:"run_id"`
	Turn      int             `json:"turn"`
	State     json.RawMessage `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
}

type auditEnvelope struct {
	RunID     string    `json:"run_id"`
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishCheckpoint streams one state snapshot.
func (p *KafkaPublisher) PublishCheckpoint(ctx context.Context, runID string, turn int, state []byte) error {
	payload, err := json.Marshal(checkpointEnvelope{
		RunID:     runID,
		Turn:      turn,
		State:     state,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint envelope: %w", err)
	}
	return p.checkpoints.WriteMessages(ctx, kafka.Message{
		Key:   []byte(runID),
		Value: payload,
	})
}

// PublishAudit streams one audit event.
func (p *KafkaPublisher) PublishAudit(ctx context.Context, runID, eventType, detail string) error {
	payload, err := json.Marshal(auditEnvelope{
		RunID:     runID,
		EventType: eventType,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal audit envelope: %w", err)
	}
	return p.audit.WriteMessages(ctx, kafka.Message{
		Key:   []byte(runID),
		Value: payload,
	})
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	err1 := p.checkpoints.Close()
	err2 := p.audit.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
