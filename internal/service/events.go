package service

import (
	"context"
	"time"

	"github.com/fracshare/trading/internal/engine"
	"github.com/fracshare/trading/internal/ws"
	"github.com/fracshare/trading/pkg/health"
	"github.com/fracshare/trading/pkg/logger"
)

const publishMaxRetries = 3

// StreamPublisher 成交事件流发布
type StreamPublisher interface {
	Publish(ctx context.Context, stream string, msg interface{}) (string, error)
}

// PrivatePublisher 用户私有事件发布
type PrivatePublisher interface {
	PublishOrderAccepted(ctx context.Context, userID int64, order interface{}) error
	PublishOrderCancelled(ctx context.Context, userID int64, order interface{}) error
	PublishFill(ctx context.Context, userID int64, fill interface{}) error
}

// BookBroadcaster 订单簿快照广播
type BookBroadcaster interface {
	Publish(channel string, data interface{})
}

// Forwarder 将引擎事件转发到下游：成交写入 Redis Stream，
// 私有事件推给用户，簿变更广播给行情订阅者。
type Forwarder struct {
	events     <-chan engine.Event
	stream     StreamPublisher
	streamName string
	private    PrivatePublisher
	books      BookBroadcaster
	monitor    *health.LoopMonitor
	log        *logger.Logger
}

// NewForwarder 创建转发器
func NewForwarder(events <-chan engine.Event, stream StreamPublisher, streamName string,
	private PrivatePublisher, books BookBroadcaster, monitor *health.LoopMonitor,
	log *logger.Logger) *Forwarder {
	return &Forwarder{
		events:     events,
		stream:     stream,
		streamName: streamName,
		private:    private,
		books:      books,
		monitor:    monitor,
		log:        log,
	}
}

// Run 消费事件直到 ctx 结束或事件流关闭
func (f *Forwarder) Run(ctx context.Context) {
	heartbeat := time.NewTicker(10 * time.Second)
	defer heartbeat.Stop()
	f.tick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			f.tick()
		case ev, ok := <-f.events:
			if !ok {
				return
			}
			f.tick()
			f.handle(ctx, ev)
		}
	}
}

func (f *Forwarder) tick() {
	if f.monitor != nil {
		f.monitor.Tick()
	}
}

func (f *Forwarder) handle(ctx context.Context, ev engine.Event) {
	switch ev.Type {
	case engine.EventFill:
		if ev.Fill == nil {
			return
		}
		f.publishStream(ctx, ev)
		if f.private != nil {
			if err := f.private.PublishFill(ctx, ev.Fill.BuyerUserID, ev.Fill); err != nil {
				f.warn("publish buyer fill", err)
			}
			if ev.Fill.SellerUserID != 0 {
				if err := f.private.PublishFill(ctx, ev.Fill.SellerUserID, ev.Fill); err != nil {
					f.warn("publish seller fill", err)
				}
			}
		}

	case engine.EventOrderAccepted:
		if f.private != nil && ev.Order != nil {
			if err := f.private.PublishOrderAccepted(ctx, ev.UserID, ev.Order); err != nil {
				f.warn("publish order accepted", err)
			}
		}

	case engine.EventOrderCancelled:
		if f.private != nil && ev.Order != nil {
			if err := f.private.PublishOrderCancelled(ctx, ev.UserID, ev.Order); err != nil {
				f.warn("publish order cancelled", err)
			}
		}

	case engine.EventBookChanged:
		if f.books != nil && ev.Book != nil {
			f.books.Publish(ws.BookChannel(ev.ProductID), ev.Book)
		}
	}
}

// publishStream 带退避重试的流发布
func (f *Forwarder) publishStream(ctx context.Context, ev engine.Event) {
	if f.stream == nil {
		return
	}

	backoff := 50 * time.Millisecond
	var err error
	for attempt := 0; attempt < publishMaxRetries; attempt++ {
		if _, err = f.stream.Publish(ctx, f.streamName, ev.Fill); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	if f.monitor != nil {
		f.monitor.SetError(err)
	}
	f.log.WithError(err).Errorf("fill stream publish failed", map[string]interface{}{
		"fillId": ev.Fill.FillID,
		"stream": f.streamName,
	})
}

func (f *Forwarder) warn(msg string, err error) {
	f.log.WithError(err).Warn(msg)
}
