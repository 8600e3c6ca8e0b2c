// Package chat is the producer side of the relay: it validates new messages,
// assigns their IDs and publishes them to the event bus, from which every
// gateway instance fans them out.
package chat

import (
	"context"
	"errors"
	"log/slog"

	"chatgate/internal/bus"
	"chatgate/internal/ids"
	"chatgate/internal/models"
)

// ServiceInterface defines the operations exposed to the REST layer
type ServiceInterface interface {
	// CreateMessage validates req, assigns an ID and publishes MESSAGE_CREATE
	CreateMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.CreateMessageResponse, error)
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)

// Service publishes chat messages
type Service struct {
	publisher    bus.Publisher
	ids          ids.Generator
	messageLimit int
}

// NewService creates a new chat service
func NewService(publisher bus.Publisher, generator ids.Generator, messageLimit int) *Service {
	return &Service{
		publisher:    publisher,
		ids:          generator,
		messageLimit: messageLimit,
	}
}

// MessageLimit returns the maximum content length in characters.
func (s *Service) MessageLimit() int {
	return s.messageLimit
}

func (s *Service) CreateMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.CreateMessageResponse, error) {
	if req == nil {
		return nil, NewInvalidRequestError("Request body is required", nil)
	}

	if problems := req.Validate(s.messageLimit); problems != nil {
		return nil, NewValidationError("Message validation failed", problems)
	}

	msg := models.Message{
		ID:      s.ids.NextID(),
		Author:  req.Author,
		Content: req.Content,
	}

	if err := bus.PublishPayload(ctx, s.publisher, models.NewMessageCreatePayload(msg)); err != nil {
		if errors.Is(err, bus.ErrClosed) {
			return nil, NewUnavailableError("Event bus is not available", err)
		}
		slog.Error("Failed to publish message", "message_id", msg.ID, "error", err)
		return nil, NewInternalError("Failed to publish message", err)
	}

	slog.Debug("Message published", "message_id", msg.ID, "author", msg.Author)
	return &models.CreateMessageResponse{Message: msg}, nil
}
