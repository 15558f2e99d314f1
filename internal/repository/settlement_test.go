package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newSettlerForTest(db *sql.DB) *Settler {
	return NewSettler(db,
		NewOrderRepository(db),
		NewHoldingRepository(db),
		NewProductRepository(db),
		NewFillRepository(db),
	)
}

func holdingColumns() []string {
	return []string{"user_id", "product_id", "quantity", "avg_price", "version", "updated_at_ms"}
}

func TestApplyFillDuplicateIsDetected(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trading.fills")).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "fills_pkey"`))
	mock.ExpectRollback()

	settler := newSettlerForTest(db)
	err := settler.ApplyFill(context.Background(), &Fill{
		FillID: 1, ProductID: 1, BuyOrderID: 100, BuyerUserID: 10, Price: 1000, Qty: 5,
	})
	if err != ErrDuplicateFill {
		t.Fatalf("expected ErrDuplicateFill, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyFillSyntheticIssuance(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trading.fills")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 买单扣减
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 发行份额推进
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.products")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 买方建仓：无持仓记录则插入
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trading.holdings")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	settler := newSettlerForTest(db)
	err := settler.ApplyFill(context.Background(), &Fill{
		FillID: 2, ProductID: 1, BuyOrderID: 100, BuyerUserID: 10, Price: 1000, Qty: 200,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyFillResale(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trading.fills")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 买卖双方订单扣减
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 卖方减仓
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(holdingColumns()).
			AddRow(int64(20), int64(1), int64(200), int64(1000), int64(3), int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.holdings")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// 买方加仓
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(holdingColumns()).
			AddRow(int64(10), int64(1), int64(100), int64(900), int64(1), int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.holdings")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	settler := newSettlerForTest(db)
	err := settler.ApplyFill(context.Background(), &Fill{
		FillID: 3, ProductID: 1, BuyOrderID: 100, SellOrderID: 200,
		BuyerUserID: 10, SellerUserID: 20, Price: 1000, Qty: 50,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyFillRetriesOnOptimisticLock(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	// 第一次：买方持仓版本冲突，回滚重试
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trading.fills")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.products")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(holdingColumns()).
			AddRow(int64(10), int64(1), int64(100), int64(900), int64(1), int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.holdings")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	// 第二次：成功
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trading.fills")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.products")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(holdingColumns()).
			AddRow(int64(10), int64(1), int64(100), int64(900), int64(2), int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.holdings")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	settler := newSettlerForTest(db)
	err := settler.ApplyFill(context.Background(), &Fill{
		FillID: 4, ProductID: 1, BuyOrderID: 100, BuyerUserID: 10, Price: 1000, Qty: 10,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyFillIssuanceExhausted(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trading.fills")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.orders")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.products")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	settler := newSettlerForTest(db)
	err := settler.ApplyFill(context.Background(), &Fill{
		FillID: 5, ProductID: 1, BuyOrderID: 100, BuyerUserID: 10, Price: 1000, Qty: 10,
	})
	if !errors.Is(err, ErrIssuanceExhausted) {
		t.Fatalf("expected ErrIssuanceExhausted, got %v", err)
	}
}
