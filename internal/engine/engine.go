// Package engine 按产品串行的撮合引擎
package engine

import (
	"context"
	"time"

	"github.com/fracshare/trading/internal/metrics"
	"github.com/fracshare/trading/internal/orderbook"
	"github.com/fracshare/trading/internal/repository"
	apperrors "github.com/fracshare/trading/pkg/errors"
	"github.com/fracshare/trading/pkg/logger"
	"github.com/fracshare/trading/pkg/snowflake"
)

// OrderStore 订单存取
type OrderStore interface {
	Create(ctx context.Context, order *repository.Order) error
	Get(ctx context.Context, orderID int64) (*repository.Order, error)
	ListOpenByProduct(ctx context.Context, productID int64) ([]*repository.Order, error)
	OpenSellQty(ctx context.Context, userID, productID int64) (int64, error)
	CancelConditional(ctx context.Context, orderID, userID, expectedRemaining, nowMs int64) error
}

// ProductStore 产品存取
type ProductStore interface {
	Get(ctx context.Context, productID int64) (*repository.Product, error)
}

// HoldingStore 持仓存取
type HoldingStore interface {
	Get(ctx context.Context, userID, productID int64) (*repository.Holding, error)
}

// FillApplier 成交结算
type FillApplier interface {
	ApplyFill(ctx context.Context, f *repository.Fill) error
}

// Deps 引擎依赖
type Deps struct {
	Orders   OrderStore
	Products ProductStore
	Holdings HoldingStore
	Settler  FillApplier
	Logger   *logger.Logger

	// MinSellPrice 卖单绝对价格下限
	MinSellPrice int64

	// NextID 覆盖 ID 生成，测试用；默认雪花 ID
	NextID func() int64
	// NowMs 覆盖时钟，测试用
	NowMs func() int64
}

// SubmitRequest 下单请求
type SubmitRequest struct {
	ProductID int64
	UserID    int64
	Side      int
	Price     int64
	Qty       int64
}

// SubmitResult 下单结果
type SubmitResult struct {
	Order *repository.Order
	Fills []*repository.Fill
	Book  orderbook.Snapshot
}

type cmdKind int

const (
	cmdSubmit cmdKind = iota + 1
	cmdCancel
	cmdSnapshot
)

type command struct {
	kind cmdKind

	submit *SubmitRequest

	orderID int64
	userID  int64

	reply chan reply
}

type reply struct {
	result   *SubmitResult
	snapshot orderbook.Snapshot
	err      error
}

// EventType 引擎事件类型
type EventType int

const (
	EventFill EventType = iota + 1
	EventOrderAccepted
	EventOrderCancelled
	EventBookChanged
)

// Event 引擎事件，由注册表的共享事件通道对外发布
type Event struct {
	Type      EventType
	ProductID int64
	UserID    int64
	Order     *repository.Order
	Fill      *repository.Fill
	Book      *orderbook.Snapshot
}

// engine 单个产品的撮合执行体。所有簿内变更都在 run 协程内完成，
// 形成产品粒度的串行临界区。
type engine struct {
	productID int64
	deps      Deps
	log       *logger.Logger

	book    *orderbook.Book
	syn     orderbook.Synthetic
	product *repository.Product

	hydrated bool

	cmdCh   chan command
	events  chan<- Event
	stopped chan struct{}
}

func newEngine(productID int64, deps Deps, events chan<- Event) *engine {
	e := &engine{
		productID: productID,
		deps:      deps,
		log:       deps.Logger.WithField("productId", productID),
		book:      orderbook.New(productID),
		cmdCh:     make(chan command, 64),
		events:    events,
		stopped:   make(chan struct{}),
	}
	return e
}

func (e *engine) run(ctx context.Context) {
	defer close(e.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmdCh:
			e.dispatch(ctx, cmd)
		}
	}
}

func (e *engine) dispatch(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		result, err := e.handleSubmit(ctx, cmd.submit)
		cmd.reply <- reply{result: result, err: err}
	case cmdCancel:
		err := e.handleCancel(ctx, cmd.orderID, cmd.userID)
		cmd.reply <- reply{err: err}
	case cmdSnapshot:
		cmd.reply <- reply{snapshot: e.handleSnapshot(ctx)}
	}
}

// hydrate 从存储重建订单簿并重算合成供给。
// 只在进程内首次触达该产品时执行；之后内存为权威状态。
func (e *engine) hydrate(ctx context.Context) error {
	if e.hydrated {
		return nil
	}

	product, err := e.deps.Products.Get(ctx, e.productID)
	if err != nil {
		return err
	}

	open, err := e.deps.Orders.ListOpenByProduct(ctx, e.productID)
	if err != nil {
		return err
	}

	for _, o := range open {
		_ = e.book.Add(&orderbook.Order{
			ID:     o.OrderID,
			UserID: o.UserID,
			Side:   orderbook.Side(o.Side),
			Price:  o.Price,
			Qty:    o.RemainingQty,
		})
	}

	e.product = product
	e.syn = orderbook.SyntheticAsk(product.TotalUnits, product.IssuedUnits, product.UnitPrice)
	e.hydrated = true

	e.log.Infof("order book hydrated", map[string]interface{}{
		"openOrders":   len(open),
		"synRemaining": e.syn.Remaining,
		"synPrice":     e.syn.Price,
	})
	return nil
}

func (e *engine) handleSnapshot(ctx context.Context) orderbook.Snapshot {
	if err := e.hydrate(ctx); err != nil {
		// 存储不可用时返回尽力而为的部分快照
		e.log.WithError(err).Warn("hydrate failed, serving partial snapshot")
		return e.book.Snapshot(e.syn)
	}
	return e.book.Snapshot(e.syn)
}

func (e *engine) nextID() int64 {
	if e.deps.NextID != nil {
		return e.deps.NextID()
	}
	return snowflake.MustNextID()
}

func (e *engine) nowMs() int64 {
	if e.deps.NowMs != nil {
		return e.deps.NowMs()
	}
	return time.Now().UnixMilli()
}

func (e *engine) emit(ev Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
		// 事件通道拥塞时丢弃，簿内状态不受影响
		e.log.Warn("event channel full, dropping event")
		metrics.IncEventsDropped()
	}
}

func persistenceError(err error) *apperrors.Error {
	return apperrors.Newf(apperrors.CodeInternal, "persistence failure: %v", err)
}
