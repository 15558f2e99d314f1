package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrDuplicateFill = errors.New("fill already applied")

// Fill 成交事件。SellOrderID 为 0 表示对手方是合成供给（发行份额）。
type Fill struct {
	FillID       int64 `json:"fillId"`
	ProductID    int64 `json:"productId"`
	BuyOrderID   int64 `json:"buyOrderId"`
	SellOrderID  int64 `json:"sellOrderId,omitempty"`
	BuyerUserID  int64 `json:"buyerUserId"`
	SellerUserID int64 `json:"sellerUserId,omitempty"`
	Price        int64 `json:"price"`
	Qty          int64 `json:"qty"`
	CreateTimeMs int64 `json:"createTimeMs"`
}

// Synthetic 成交对手方是否为合成供给
func (f *Fill) Synthetic() bool {
	return f.SellOrderID == 0
}

// FillRepository 成交仓储
type FillRepository struct {
	db *sql.DB
}

// NewFillRepository 创建仓储
func NewFillRepository(db *sql.DB) *FillRepository {
	return &FillRepository{db: db}
}

// insertTx 写入成交。fill_id 唯一约束即幂等账本：
// 重复写入返回 ErrDuplicateFill，调用方按已应用跳过。
func (r *FillRepository) insertTx(ctx context.Context, tx *sql.Tx, f *Fill) error {
	query := `
		INSERT INTO trading.fills
		(fill_id, product_id, buy_order_id, sell_order_id, buyer_user_id,
		 seller_user_id, price, qty, create_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.ExecContext(ctx, query,
		f.FillID, f.ProductID, f.BuyOrderID, nullInt64(f.SellOrderID),
		f.BuyerUserID, nullInt64(f.SellerUserID), f.Price, f.Qty, f.CreateTimeMs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateFill
		}
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// ListByOrder 某订单的全部成交
func (r *FillRepository) ListByOrder(ctx context.Context, orderID int64) ([]*Fill, error) {
	query := `
		SELECT fill_id, product_id, buy_order_id, COALESCE(sell_order_id, 0),
		       buyer_user_id, COALESCE(seller_user_id, 0), price, qty, create_time_ms
		FROM trading.fills
		WHERE buy_order_id = $1 OR sell_order_id = $1
		ORDER BY fill_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	defer rows.Close()

	var fills []*Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.FillID, &f.ProductID, &f.BuyOrderID, &f.SellOrderID,
			&f.BuyerUserID, &f.SellerUserID, &f.Price, &f.Qty, &f.CreateTimeMs); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, &f)
	}
	return fills, rows.Err()
}

func nullInt64(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}
