package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrIssuanceExhausted = errors.New("issuance supply exhausted")

// ProductStatus 产品状态
const (
	ProductStatusTrading = 1
	ProductStatusHalted  = 2
)

// Product 产品发行参数
type Product struct {
	ProductID    int64
	Title        string
	UnitPrice    int64 // 发行单价，最小货币单位
	TotalUnits   int64 // 发行总份额
	IssuedUnits  int64 // 累计已售出份额
	Status       int
	CreateTimeMs int64
}

// ProductRepository 产品仓储
type ProductRepository struct {
	db *sql.DB
}

// NewProductRepository 创建仓储
func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Get 查询产品
func (r *ProductRepository) Get(ctx context.Context, productID int64) (*Product, error) {
	query := `
		SELECT product_id, title, unit_price, total_units, issued_units, status, create_time_ms
		FROM trading.products
		WHERE product_id = $1
	`
	var p Product
	err := r.db.QueryRowContext(ctx, query, productID).Scan(
		&p.ProductID, &p.Title, &p.UnitPrice, &p.TotalUnits, &p.IssuedUnits,
		&p.Status, &p.CreateTimeMs,
	)
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &p, nil
}

// reserveIssuanceTx 合成供给成交时推进累计已售份额。
// 条件更新保证不会超出发行总量。
func (r *ProductRepository) reserveIssuanceTx(ctx context.Context, tx *sql.Tx, productID, qty int64) error {
	query := `
		UPDATE trading.products
		SET issued_units = issued_units + $2
		WHERE product_id = $1 AND issued_units + $2 <= total_units
	`
	result, err := tx.ExecContext(ctx, query, productID, qty)
	if err != nil {
		return fmt.Errorf("reserve issuance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve issuance rows: %w", err)
	}
	if affected == 0 {
		return ErrIssuanceExhausted
	}
	return nil
}
