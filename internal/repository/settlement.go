package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const settleMaxRetries = 3

// Settler 将一笔成交的全部持久化效果应用为单个事务：
// 成交写入（幂等账本）、双边订单扣减、双边持仓更新或发行份额推进。
type Settler struct {
	db       *sql.DB
	orders   *OrderRepository
	holdings *HoldingRepository
	products *ProductRepository
	fills    *FillRepository
}

// NewSettler 创建结算器
func NewSettler(db *sql.DB, orders *OrderRepository, holdings *HoldingRepository,
	products *ProductRepository, fills *FillRepository) *Settler {
	return &Settler{
		db:       db,
		orders:   orders,
		holdings: holdings,
		products: products,
		fills:    fills,
	}
}

// ApplyFill 应用一笔成交。重复的 fill_id 返回 ErrDuplicateFill 且不产生任何变更。
// 持仓乐观锁冲突时整个事务重试。
func (s *Settler) ApplyFill(ctx context.Context, f *Fill) error {
	var err error
	for attempt := 0; attempt < settleMaxRetries; attempt++ {
		err = s.applyOnce(ctx, f)
		if err == nil || !errors.Is(err, ErrOptimisticLockFailed) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}

func (s *Settler) applyOnce(ctx context.Context, f *Fill) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settle tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 幂等检查：成交写入失败于唯一约束即已应用过
	if err := s.fills.insertTx(ctx, tx, f); err != nil {
		return err
	}

	nowMs := time.Now().UnixMilli()

	if err := s.orders.reduceTx(ctx, tx, f.BuyOrderID, f.Qty, nowMs); err != nil {
		return fmt.Errorf("reduce buy order %d: %w", f.BuyOrderID, err)
	}

	if f.Synthetic() {
		if err := s.products.reserveIssuanceTx(ctx, tx, f.ProductID, f.Qty); err != nil {
			return err
		}
	} else {
		if err := s.orders.reduceTx(ctx, tx, f.SellOrderID, f.Qty, nowMs); err != nil {
			return fmt.Errorf("reduce sell order %d: %w", f.SellOrderID, err)
		}
		if err := s.holdings.disposeTx(ctx, tx, f.SellerUserID, f.ProductID, f.Qty, nowMs); err != nil {
			return err
		}
	}

	if err := s.holdings.acquireTx(ctx, tx, f.BuyerUserID, f.ProductID, f.Qty, f.Price, nowMs); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settle tx: %w", err)
	}
	return nil
}
