package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/services"
)

// PubSubWorkflowPublisher publishes workflow events (uploads, verdicts, unlocks, submissions) to a
// Pub/Sub topic. Messages are ordered per nominee so consumers see a nominee's history in sequence.
type PubSubWorkflowPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubWorkflowPublisher constructs a publisher on topic and enables message ordering on it.
func NewPubSubWorkflowPublisher(topic *pubsub.Topic) (*PubSubWorkflowPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub workflow publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubWorkflowPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishWorkflowEvent sends event and waits for the server id.
func (p *PubSubWorkflowPublisher) PublishWorkflowEvent(ctx context.Context, event services.WorkflowEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub workflow publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal workflow event: %w", err)
	}

	attrs := map[string]string{"type": string(event.Type)}
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "nomineeId", event.NomineeID)
	setAttr(attrs, "slotId", event.SlotID)
	setAttr(attrs, "actorRole", string(event.ActorRole))
	if event.Stage > 0 {
		attrs["stage"] = strconv.Itoa(int(event.Stage))
	}

	orderingKey := strings.TrimSpace(event.NomineeID)
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey,
	})

	id, err := result.Get(ctx)
	if err != nil {
		// A failed ordered publish pauses the key until resumed.
		if orderingKey != "" {
			p.topic.ResumePublish(orderingKey)
		}
		return "", fmt.Errorf("publish workflow event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
