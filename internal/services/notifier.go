package services

import (
	"context"
	"fmt"

	"sidequest-backend/internal/config"
	"sidequest-backend/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// PushTokenLister resolves stored device tokens for a set of users.
type PushTokenLister interface {
	ListPushTokens(ctx context.Context, userIDs []string) ([]string, error)
}

// Notifier sends an APNs push to a broadcaster's connections when a new
// friends-visible broadcast starts. Implements PushSender.
type Notifier struct {
	client *apns2.Client
	topic  string
	tokens PushTokenLister
}

// NewNotifier creates a new push notifier. Returns nil when no APNs key is
// configured; a nil Notifier is valid and sends nothing.
func NewNotifier(cfg config.APNSConfig, tokens PushTokenLister) (*Notifier, error) {
	if cfg.KeyPath == "" {
		return nil, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}).Production()

	return &Notifier{
		client: client,
		topic:  cfg.Topic,
		tokens: tokens,
	}, nil
}

// BroadcastStarted pushes a "friend is around" alert to every connection
// with a stored device token.
func (n *Notifier) BroadcastStarted(ctx context.Context, p *models.Presence, connectionIDs []string) {
	if n == nil || len(connectionIDs) == 0 {
		return
	}

	deviceTokens, err := n.tokens.ListPushTokens(ctx, connectionIDs)
	if err != nil {
		log.Warn().Err(err).Str("presence_id", p.ID).Msg("Failed to list push tokens")
		return
	}

	body := p.StatusText
	if body == "" {
		body = models.DefaultStatusText
	}
	pl := payload.NewPayload().
		AlertTitle("A friend is around").
		AlertBody(body).
		Sound("default")

	for _, deviceToken := range deviceTokens {
		notification := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       n.topic,
			Payload:     pl,
		}
		res, err := n.client.PushWithContext(ctx, notification)
		if err != nil {
			log.Warn().Err(err).Str("presence_id", p.ID).Msg("Failed to send push")
			continue
		}
		if !res.Sent() {
			log.Warn().
				Str("presence_id", p.ID).
				Str("reason", res.Reason).
				Msg("Push rejected")
		}
	}
}
