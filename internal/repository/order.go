// Package repository 交易数据访问层
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrDuplicateOrder  = errors.New("duplicate order id")
	ErrCancelConflict  = errors.New("cancel conflict: remaining quantity changed")
	ErrStaleOrderFill  = errors.New("order fill exceeds remaining quantity")
	ErrProductNotFound = errors.New("product not found")
)

// OrderStatus 订单状态
const (
	StatusOpen       = 1
	StatusPartial    = 2
	StatusFilled     = 3
	StatusCancelled  = 4
	StatusProcessing = 5 // 外部支付流程占用，禁止撤单
)

// Side 订单方向
const (
	SideBuy  = 1
	SideSell = 2
)

// Order 订单
type Order struct {
	OrderID      int64
	UserID       int64
	ProductID    int64
	Side         int
	Price        int64 // 最小货币单位
	OrigQty      int64
	RemainingQty int64
	Fee          int64
	Status       int
	CreateTimeMs int64
	UpdateTimeMs int64
}

// OrderRepository 订单仓储
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository 创建仓储
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create 创建订单
func (r *OrderRepository) Create(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO trading.orders
		(order_id, user_id, product_id, side, price, orig_qty, remaining_qty,
		 fee, status, create_time_ms, update_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		order.OrderID, order.UserID, order.ProductID, order.Side, order.Price,
		order.OrigQty, order.RemainingQty, order.Fee, order.Status,
		order.CreateTimeMs, order.UpdateTimeMs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Get 按订单号查询
func (r *OrderRepository) Get(ctx context.Context, orderID int64) (*Order, error) {
	query := `
		SELECT order_id, user_id, product_id, side, price, orig_qty, remaining_qty,
		       fee, status, create_time_ms, update_time_ms
		FROM trading.orders
		WHERE order_id = $1
	`
	return scanOrder(r.db.QueryRowContext(ctx, query, orderID))
}

// ListOpenByProduct 产品的全部未完结挂单，按到达顺序
func (r *OrderRepository) ListOpenByProduct(ctx context.Context, productID int64) ([]*Order, error) {
	query := `
		SELECT order_id, user_id, product_id, side, price, orig_qty, remaining_qty,
		       fee, status, create_time_ms, update_time_ms
		FROM trading.orders
		WHERE product_id = $1 AND remaining_qty > 0 AND status IN (1, 2)
		ORDER BY create_time_ms ASC, order_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// OpenSellQty 用户在某产品上的未完结卖单剩余总量
func (r *OrderRepository) OpenSellQty(ctx context.Context, userID, productID int64) (int64, error) {
	query := `
		SELECT COALESCE(SUM(remaining_qty), 0)
		FROM trading.orders
		WHERE user_id = $1 AND product_id = $2 AND side = 2 AND status IN (1, 2)
	`
	var total int64
	if err := r.db.QueryRowContext(ctx, query, userID, productID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum open sell qty: %w", err)
	}
	return total, nil
}

// CancelConditional 条件撤单：仅当剩余数量与读取时一致且状态可撤。
// 并发成交改变了剩余数量时影响行数为 0，返回 ErrCancelConflict。
func (r *OrderRepository) CancelConditional(ctx context.Context, orderID, userID, expectedRemaining, nowMs int64) error {
	query := `
		UPDATE trading.orders
		SET status = 4, update_time_ms = $4
		WHERE order_id = $1 AND user_id = $2 AND remaining_qty = $3 AND status IN (1, 2)
	`
	result, err := r.db.ExecContext(ctx, query, orderID, userID, expectedRemaining, nowMs)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel order rows: %w", err)
	}
	if affected == 0 {
		return ErrCancelConflict
	}
	return nil
}

// reduceTx 成交后扣减剩余数量并推进状态，remaining 到 0 置为已成交
func (r *OrderRepository) reduceTx(ctx context.Context, tx *sql.Tx, orderID, qty, nowMs int64) error {
	query := `
		UPDATE trading.orders
		SET remaining_qty = remaining_qty - $2,
		    status = CASE WHEN remaining_qty - $2 <= 0 THEN 3 ELSE 2 END,
		    update_time_ms = $3
		WHERE order_id = $1 AND remaining_qty >= $2 AND status IN (1, 2)
	`
	result, err := tx.ExecContext(ctx, query, orderID, qty, nowMs)
	if err != nil {
		return fmt.Errorf("reduce order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reduce order rows: %w", err)
	}
	if affected == 0 {
		return ErrStaleOrderFill
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.OrderID, &o.UserID, &o.ProductID, &o.Side, &o.Price, &o.OrigQty,
		&o.RemainingQty, &o.Fee, &o.Status, &o.CreateTimeMs, &o.UpdateTimeMs,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
