package service

import (
	"context"
	"encoding/json"
	"log"

	"knowledge-qa-be/internal/dto"
	"knowledge-qa-be/pkg/events"
	pktNats "knowledge-qa-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService drains saved-session messages off the internal bus and
// republishes them to JetStream, where the notify worker and any external
// service pick them up.
type consumerService struct {
	pubSub         *gochannel.GoChannel
	topicName      string
	eventPublisher *pktNats.Publisher
}

func NewConsumerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	eventPublisher *pktNats.Publisher,
) IConsumerService {
	return &consumerService{
		pubSub:         pubSub,
		topicName:      topicName,
		eventPublisher: eventPublisher,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.PublishSessionSavedMessage
	err := json.Unmarshal(msg.Payload, &payload)
	if err != nil {
		log.Printf("[ERROR] Failed to unmarshal saved-session message: %v", err)
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	if cs.eventPublisher != nil {
		evt := events.NewQASessionSavedEvent(payload.SessionId, payload.UserId, payload.IsFailed)
		if err := cs.eventPublisher.Publish(ctx, evt); err != nil {
			log.Printf("[ERROR] Failed to publish %s event: %v", evt.EventType(), err)
			msg.Nack() // Retry; the row is durable but nobody was told
			return
		}
	}

	msg.Ack()
}
