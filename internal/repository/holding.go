package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrOptimisticLockFailed = errors.New("holding optimistic lock failed")

// Holding 用户持仓，(user, product) 唯一
type Holding struct {
	UserID      int64
	ProductID   int64
	Quantity    int64
	AvgPrice    int64 // 加权平均成本，持仓归零时重置为 0
	Version     int64
	UpdatedAtMs int64
}

// HoldingRepository 持仓仓储
type HoldingRepository struct {
	db *sql.DB
}

// NewHoldingRepository 创建仓储
func NewHoldingRepository(db *sql.DB) *HoldingRepository {
	return &HoldingRepository{db: db}
}

// Get 查询持仓，不存在时返回零持仓
func (r *HoldingRepository) Get(ctx context.Context, userID, productID int64) (*Holding, error) {
	query := `
		SELECT user_id, product_id, quantity, avg_price, version, updated_at_ms
		FROM trading.holdings
		WHERE user_id = $1 AND product_id = $2
	`
	var h Holding
	err := r.db.QueryRowContext(ctx, query, userID, productID).Scan(
		&h.UserID, &h.ProductID, &h.Quantity, &h.AvgPrice, &h.Version, &h.UpdatedAtMs,
	)
	if err == sql.ErrNoRows {
		return &Holding{UserID: userID, ProductID: productID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan holding: %w", err)
	}
	return &h, nil
}

// ListByUser 用户全部非零持仓
func (r *HoldingRepository) ListByUser(ctx context.Context, userID int64) ([]*Holding, error) {
	query := `
		SELECT user_id, product_id, quantity, avg_price, version, updated_at_ms
		FROM trading.holdings
		WHERE user_id = $1 AND quantity > 0
		ORDER BY product_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	var holdings []*Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.UserID, &h.ProductID, &h.Quantity, &h.AvgPrice, &h.Version, &h.UpdatedAtMs); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holdings = append(holdings, &h)
	}
	return holdings, rows.Err()
}

// getForUpdateTx 行锁读取持仓
func (r *HoldingRepository) getForUpdateTx(ctx context.Context, tx *sql.Tx, userID, productID int64) (*Holding, error) {
	query := `
		SELECT user_id, product_id, quantity, avg_price, version, updated_at_ms
		FROM trading.holdings
		WHERE user_id = $1 AND product_id = $2
		FOR UPDATE
	`
	var h Holding
	err := tx.QueryRowContext(ctx, query, userID, productID).Scan(
		&h.UserID, &h.ProductID, &h.Quantity, &h.AvgPrice, &h.Version, &h.UpdatedAtMs,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("lock holding: %w", err)
	}
	return &h, nil
}

// acquireTx 买方建仓/加仓，重算加权平均成本
func (r *HoldingRepository) acquireTx(ctx context.Context, tx *sql.Tx, userID, productID, qty, price, nowMs int64) error {
	current, err := r.getForUpdateTx(ctx, tx, userID, productID)
	if err == sql.ErrNoRows {
		query := `
			INSERT INTO trading.holdings
			(user_id, product_id, quantity, avg_price, version, updated_at_ms)
			VALUES ($1, $2, $3, $4, 1, $5)
		`
		if _, err := tx.ExecContext(ctx, query, userID, productID, qty, price, nowMs); err != nil {
			return fmt.Errorf("insert holding: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	newQty := current.Quantity + qty
	newAvg := (current.Quantity*current.AvgPrice + qty*price) / newQty
	return r.writeTx(ctx, tx, current, newQty, newAvg, nowMs)
}

// disposeTx 卖方减仓，归零时平均成本重置为 0
func (r *HoldingRepository) disposeTx(ctx context.Context, tx *sql.Tx, userID, productID, qty, nowMs int64) error {
	current, err := r.getForUpdateTx(ctx, tx, userID, productID)
	if err == sql.ErrNoRows {
		// 卖出无持仓记录：准入层漏判或数据漂移，交由对账修复
		return fmt.Errorf("dispose holding: no position for user %d product %d", userID, productID)
	}
	if err != nil {
		return err
	}

	newQty := current.Quantity - qty
	if newQty < 0 {
		newQty = 0
	}
	newAvg := current.AvgPrice
	if newQty == 0 {
		newAvg = 0
	}
	return r.writeTx(ctx, tx, current, newQty, newAvg, nowMs)
}

func (r *HoldingRepository) writeTx(ctx context.Context, tx *sql.Tx, current *Holding, newQty, newAvg, nowMs int64) error {
	query := `
		UPDATE trading.holdings
		SET quantity = $3, avg_price = $4, version = version + 1, updated_at_ms = $5
		WHERE user_id = $1 AND product_id = $2 AND version = $6
	`
	result, err := tx.ExecContext(ctx, query,
		current.UserID, current.ProductID, newQty, newAvg, nowMs, current.Version,
	)
	if err != nil {
		return fmt.Errorf("update holding: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update holding rows: %w", err)
	}
	if affected == 0 {
		return ErrOptimisticLockFailed
	}
	return nil
}
