package engine

import (
	"context"
	"errors"
	"time"

	"github.com/fracshare/trading/internal/metrics"
	"github.com/fracshare/trading/internal/orderbook"
	"github.com/fracshare/trading/internal/repository"
	apperrors "github.com/fracshare/trading/pkg/errors"
)

func (e *engine) handleSubmit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveSubmitLatency(time.Since(start).Seconds())
	}()

	if err := e.hydrate(ctx); err != nil {
		return nil, persistenceError(err)
	}

	order, err := e.admit(ctx, req)
	if err != nil {
		metrics.IncOrdersRejected(string(reasonOf(err)))
		return nil, err
	}

	if err := e.deps.Orders.Create(ctx, order); err != nil {
		return nil, persistenceError(err)
	}
	metrics.IncOrdersSubmitted(order.Side)
	// 事件载荷为副本：转发协程与撮合回填并发读写同一结构
	accepted := *order
	e.emit(Event{Type: EventOrderAccepted, ProductID: e.productID, UserID: order.UserID, Order: &accepted})

	_ = e.book.Add(&orderbook.Order{
		ID:     order.OrderID,
		UserID: order.UserID,
		Side:   orderbook.Side(order.Side),
		Price:  order.Price,
		Qty:    order.RemainingQty,
	})

	fills := e.match(ctx)

	// 回填本单在簿内的剩余数量
	if e.book.Contains(order.OrderID) {
		order.RemainingQty = e.book.RemainingQty(order.OrderID)
		if order.RemainingQty < order.OrigQty {
			order.Status = repository.StatusPartial
		}
	} else {
		order.RemainingQty = 0
		order.Status = repository.StatusFilled
	}

	snap := e.book.Snapshot(e.syn)
	e.emit(Event{Type: EventBookChanged, ProductID: e.productID, Book: &snap})
	metrics.SetBookDepth(e.productID, len(snap.Bids), len(snap.Asks))

	return &SubmitResult{Order: order, Fills: fills, Book: snap}, nil
}

// admit 准入校验，失败快速返回且不产生任何状态变更
func (e *engine) admit(ctx context.Context, req *SubmitRequest) (*repository.Order, error) {
	if req.Side != repository.SideBuy && req.Side != repository.SideSell {
		return nil, apperrors.New(apperrors.CodeInvalidSide, "side must be buy or sell")
	}
	if req.Price <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidPrice, "price must be positive")
	}
	if req.Qty <= 0 {
		return nil, apperrors.New(apperrors.CodeInvalidQuantity, "quantity must be positive")
	}
	if e.product.Status != repository.ProductStatusTrading {
		return nil, apperrors.New(apperrors.CodeProductNotTrading, "product is not trading")
	}

	price := req.Price
	qty := req.Qty

	switch req.Side {
	case repository.SideSell:
		if price < e.deps.MinSellPrice {
			return nil, apperrors.Newf(apperrors.CodePriceBelowFloor,
				"price %d below floor %d", price, e.deps.MinSellPrice)
		}
		if price < e.product.UnitPrice {
			return nil, apperrors.Newf(apperrors.CodePriceBelowFloor,
				"price %d below issuance unit price %d", price, e.product.UnitPrice)
		}

		holding, err := e.deps.Holdings.Get(ctx, req.UserID, e.productID)
		if err != nil {
			return nil, persistenceError(err)
		}
		openSell, err := e.deps.Orders.OpenSellQty(ctx, req.UserID, e.productID)
		if err != nil {
			return nil, persistenceError(err)
		}
		available := holding.Quantity - openSell
		if qty > available {
			return nil, apperrors.Newf(apperrors.CodeOversell,
				"sell %d exceeds available %d", qty, available)
		}

	case repository.SideBuy:
		// 买单按市价单处理：改写为当前最优卖价，数量不超过可用卖侧流动性
		bestAsk, liquidity := e.effectiveAsk()
		if liquidity <= 0 {
			return nil, apperrors.New(apperrors.CodeNoAskLiquidity, "no ask liquidity available")
		}
		price = bestAsk
		if qty > liquidity {
			qty = liquidity
		}
	}

	nowMs := e.nowMs()
	return &repository.Order{
		OrderID:      e.nextID(),
		UserID:       req.UserID,
		ProductID:    e.productID,
		Side:         req.Side,
		Price:        price,
		OrigQty:      qty,
		RemainingQty: qty,
		Status:       repository.StatusOpen,
		CreateTimeMs: nowMs,
		UpdateTimeMs: nowMs,
	}, nil
}

// effectiveAsk 含合成供给的最优卖价与卖侧总流动性
func (e *engine) effectiveAsk() (bestPrice, liquidity int64) {
	liquidity = e.book.AskLiquidity() + e.syn.Remaining

	realBest, hasReal := e.book.BestAsk()
	switch {
	case hasReal && !e.syn.Exhausted():
		bestPrice = realBest
		if e.syn.Price < realBest {
			bestPrice = e.syn.Price
		}
	case hasReal:
		bestPrice = realBest
	case !e.syn.Exhausted():
		bestPrice = e.syn.Price
	}
	return bestPrice, liquidity
}

// match 价格-时间优先撮合循环。成交价取卖方（挂方）价格；
// 同价位先消耗真实卖单，再消耗合成供给。
func (e *engine) match(ctx context.Context) []*repository.Fill {
	var fills []*repository.Fill

	for {
		bid := e.book.BestBidOrder()
		if bid == nil {
			break
		}

		ask := e.book.BestAskOrder()
		useSyn := false
		var askPrice, askQty int64
		if ask != nil && (e.syn.Exhausted() || ask.Price <= e.syn.Price) {
			askPrice, askQty = ask.Price, ask.Qty
		} else if !e.syn.Exhausted() {
			useSyn = true
			askPrice, askQty = e.syn.Price, e.syn.Remaining
		} else {
			break
		}
		if askQty <= 0 || bid.Price < askPrice {
			break
		}

		qty := bid.Qty
		if askQty < qty {
			qty = askQty
		}

		fill := &repository.Fill{
			FillID:       e.nextID(),
			ProductID:    e.productID,
			BuyOrderID:   bid.ID,
			BuyerUserID:  bid.UserID,
			Price:        askPrice,
			Qty:          qty,
			CreateTimeMs: e.nowMs(),
		}
		if !useSyn {
			fill.SellOrderID = ask.ID
			fill.SellerUserID = ask.UserID
		}

		// 内存撮合为权威结果：落库失败不回滚，记录并由对账任务修复
		if err := e.deps.Settler.ApplyFill(ctx, fill); err != nil {
			if !errors.Is(err, repository.ErrDuplicateFill) {
				e.log.WithError(err).Errorf("fill settlement failed", map[string]interface{}{
					"fillId": fill.FillID,
					"qty":    fill.Qty,
					"price":  fill.Price,
				})
				metrics.IncSettleErrors()
			}
		}

		_ = e.book.Reduce(bid.ID, qty)
		if useSyn {
			e.syn.Consume(qty)
		} else {
			_ = e.book.Reduce(ask.ID, qty)
		}

		fills = append(fills, fill)
		metrics.IncFills(e.productID)
		e.emit(Event{Type: EventFill, ProductID: e.productID, Fill: fill})
	}

	return fills
}

func reasonOf(err error) apperrors.Code {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return apperrors.CodeUnknown
}
