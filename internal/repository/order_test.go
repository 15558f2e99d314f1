package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestOrderRepositoryGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"order_id", "user_id", "product_id", "side", "price", "orig_qty",
		"remaining_qty", "fee", "status", "create_time_ms", "update_time_ms",
	}).AddRow(int64(100), int64(10), int64(1), SideSell, int64(1200), int64(50),
		int64(30), int64(0), StatusPartial, int64(1700000000000), int64(1700000001000))

	mock.ExpectQuery(regexp.QuoteMeta("FROM trading.orders")).
		WithArgs(int64(100)).
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	order, err := repo.Get(context.Background(), 100)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if order.RemainingQty != 30 || order.Status != StatusPartial {
		t.Fatalf("unexpected order %+v", order)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestOrderRepositoryGetNotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM trading.orders")).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	repo := NewOrderRepository(db)
	if _, err := repo.Get(context.Background(), 404); err != ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepositoryCreateDuplicate(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trading.orders")).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "orders_pkey"`))

	repo := NewOrderRepository(db)
	err := repo.Create(context.Background(), &Order{OrderID: 1, Side: SideBuy, Price: 1000, OrigQty: 1, RemainingQty: 1, Status: StatusOpen})
	if err != ErrDuplicateOrder {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestCancelConditionalConflict(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	// 并发成交改变了 remaining_qty，条件更新影响 0 行
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.orders")).
		WithArgs(int64(100), int64(10), int64(10), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewOrderRepository(db)
	err := repo.CancelConditional(context.Background(), 100, 10, 10, 1700000002000)
	if err != ErrCancelConflict {
		t.Fatalf("expected ErrCancelConflict, got %v", err)
	}
}

func TestCancelConditionalSuccess(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE trading.orders")).
		WithArgs(int64(100), int64(10), int64(10), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewOrderRepository(db)
	if err := repo.CancelConditional(context.Background(), 100, 10, 10, 1700000002000); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestOpenSellQty(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(SUM(remaining_qty), 0)")).
		WithArgs(int64(10), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(42)))

	repo := NewOrderRepository(db)
	total, err := repo.OpenSellQty(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("open sell qty: %v", err)
	}
	if total != 42 {
		t.Fatalf("expected 42, got %d", total)
	}
}

func TestListOpenByProduct(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"order_id", "user_id", "product_id", "side", "price", "orig_qty",
		"remaining_qty", "fee", "status", "create_time_ms", "update_time_ms",
	}).
		AddRow(int64(1), int64(10), int64(1), SideBuy, int64(1000), int64(5), int64(5), int64(0), StatusOpen, int64(1), int64(1)).
		AddRow(int64(2), int64(11), int64(1), SideSell, int64(1100), int64(3), int64(2), int64(0), StatusPartial, int64(2), int64(3))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE product_id = $1 AND remaining_qty > 0")).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	repo := NewOrderRepository(db)
	orders, err := repo.ListOpenByProduct(context.Background(), 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[1].RemainingQty != 2 {
		t.Fatalf("unexpected second order %+v", orders[1])
	}
}
