// Package redis Redis Streams 封装
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StreamClient Redis Streams 客户端
type StreamClient struct {
	client *redis.Client
}

// NewStreamClient 创建客户端
func NewStreamClient(client *redis.Client) *StreamClient {
	return &StreamClient{client: client}
}

// Publish 发布消息到 Stream
func (c *StreamClient) Publish(ctx context.Context, stream string, msg interface{}) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return id, nil
}

// Len Stream 长度
func (c *StreamClient) Len(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}

// Trim 裁剪 Stream
func (c *StreamClient) Trim(ctx context.Context, stream string, maxLen int64) error {
	return c.client.XTrimMaxLen(ctx, stream, maxLen).Err()
}
