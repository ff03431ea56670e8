package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"netqos/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DecisionsChannel carries every policy decision the controller issues.
const DecisionsChannel = "netqos:decisions"

type EventType string

const (
	EventDecisionApply EventType = "decision.apply"
	EventDecisionReset EventType = "decision.reset"
)

// Event is the envelope published on the decisions channel.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	DecisionID string          `json:"decision_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Decision decodes the payload back into a policy decision.
func (e *Event) Decision() (domain.PolicyDecision, error) {
	var d domain.PolicyDecision
	if err := json.Unmarshal(e.Payload, &d); err != nil {
		return d, fmt.Errorf("failed to decode decision: %w", err)
	}
	return d, nil
}

// EventBus fans policy decisions out to other processes over Redis pub/sub.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}
}

func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, DecisionsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"decision_id", event.DecisionID,
	)
	return nil
}

// PublishDecision implements ports.DecisionPublisher.
func (eb *EventBus) PublishDecision(ctx context.Context, d domain.PolicyDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	eventType := EventDecisionApply
	if d.Kind == domain.DecisionReset {
		eventType = EventDecisionReset
	}
	return eb.Publish(ctx, &Event{
		Type:       eventType,
		DecisionID: d.ID,
		Timestamp:  d.IssuedAt,
		Payload:    payload,
	})
}

// Subscribe blocks, calling handler for each event published by another
// instance, until ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, DecisionsChannel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
