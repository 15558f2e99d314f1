package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const privateUserEventChannelTemplate = "private:user:{userId}:events"

// Publisher publishes private per-user events over Redis pub/sub.
// The gateway fans them out to the user's websocket sessions.
type Publisher struct {
	client        *redis.Client
	channelFormat string
	hasUserID     bool
}

// NewPublisher creates a publisher.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = privateUserEventChannelTemplate
	}
	format, hasUserID := normalizeUserChannelFormat(channel)
	return &Publisher{
		client:        client,
		channelFormat: format,
		hasUserID:     hasUserID,
	}
}

// PublishOrderAccepted publishes an order accepted event for the user.
func (p *Publisher) PublishOrderAccepted(ctx context.Context, userID int64, order interface{}) error {
	return p.publish(ctx, userID, "order", "accepted", order)
}

// PublishOrderCancelled publishes an order cancelled event for the user.
func (p *Publisher) PublishOrderCancelled(ctx context.Context, userID int64, order interface{}) error {
	return p.publish(ctx, userID, "order", "cancelled", order)
}

// PublishFill publishes a fill event for the user.
func (p *Publisher) PublishFill(ctx context.Context, userID int64, fill interface{}) error {
	return p.publish(ctx, userID, "fill", "", fill)
}

func (p *Publisher) publish(ctx context.Context, userID int64, channel string, event string, data interface{}) error {
	payload := map[string]interface{}{
		"channel": channel,
		"data":    data,
	}
	if event != "" {
		payload["event"] = event
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	targetChannel := p.channelFormat
	if p.hasUserID {
		targetChannel = fmt.Sprintf(p.channelFormat, userID)
	}
	return p.client.Publish(ctx, targetChannel, raw).Err()
}

func normalizeUserChannelFormat(template string) (string, bool) {
	if strings.Contains(template, "{userId}") {
		return strings.ReplaceAll(template, "{userId}", "%d"), true
	}
	return template, false
}
