package engine

import (
	"context"
	"errors"

	"github.com/fracshare/trading/internal/metrics"
	"github.com/fracshare/trading/internal/repository"
	apperrors "github.com/fracshare/trading/pkg/errors"
)

// handleCancel 撤单。条件更新以读取时的剩余数量为前提，
// 并发成交击中同一订单时返回冲突，由调用方重读重试。
func (e *engine) handleCancel(ctx context.Context, orderID, userID int64) error {
	if err := e.hydrate(ctx); err != nil {
		return persistenceError(err)
	}

	order, err := e.deps.Orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return apperrors.ErrOrderNotFound
		}
		return persistenceError(err)
	}
	if order.UserID != userID {
		// 不暴露他人订单的存在
		return apperrors.ErrOrderNotFound
	}

	switch order.Status {
	case repository.StatusProcessing:
		return apperrors.New(apperrors.CodeOrderProcessing, "order is awaiting external completion")
	case repository.StatusFilled, repository.StatusCancelled:
		return apperrors.New(apperrors.CodeOrderFinalized, "order already finalized")
	}

	err = e.deps.Orders.CancelConditional(ctx, orderID, userID, order.RemainingQty, e.nowMs())
	if err != nil {
		if errors.Is(err, repository.ErrCancelConflict) {
			metrics.IncCancelConflicts()
			return apperrors.New(apperrors.CodeCancelConflict,
				"order changed concurrently, re-fetch and retry")
		}
		return persistenceError(err)
	}

	// 簿内可能已被成交摘除，缺席视为正常
	e.book.Remove(orderID)

	order.Status = repository.StatusCancelled
	e.emit(Event{Type: EventOrderCancelled, ProductID: e.productID, UserID: userID, Order: order})

	snap := e.book.Snapshot(e.syn)
	e.emit(Event{Type: EventBookChanged, ProductID: e.productID, Book: &snap})
	return nil
}
