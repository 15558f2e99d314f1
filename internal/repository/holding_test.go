package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestHoldingGetReturnsZeroPosition(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM trading.holdings")).
		WithArgs(int64(10), int64(1)).
		WillReturnError(sql.ErrNoRows)

	repo := NewHoldingRepository(db)
	h, err := repo.Get(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h.Quantity != 0 || h.AvgPrice != 0 {
		t.Fatalf("expected zero position, got %+v", h)
	}
	if h.UserID != 10 || h.ProductID != 1 {
		t.Fatalf("zero position must carry keys, got %+v", h)
	}
}

func TestHoldingGet(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	rows := sqlmock.NewRows([]string{"user_id", "product_id", "quantity", "avg_price", "version", "updated_at_ms"}).
		AddRow(int64(10), int64(1), int64(200), int64(1000), int64(4), int64(1700000000000))

	mock.ExpectQuery(regexp.QuoteMeta("FROM trading.holdings")).
		WithArgs(int64(10), int64(1)).
		WillReturnRows(rows)

	repo := NewHoldingRepository(db)
	h, err := repo.Get(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h.Quantity != 200 || h.AvgPrice != 1000 {
		t.Fatalf("unexpected holding %+v", h)
	}
}

func TestHoldingListByUser(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	rows := sqlmock.NewRows([]string{"user_id", "product_id", "quantity", "avg_price", "version", "updated_at_ms"}).
		AddRow(int64(10), int64(1), int64(200), int64(1000), int64(4), int64(1)).
		AddRow(int64(10), int64(2), int64(50), int64(2500), int64(1), int64(2))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND quantity > 0")).
		WithArgs(int64(10)).
		WillReturnRows(rows)

	repo := NewHoldingRepository(db)
	holdings, err := repo.ListByUser(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(holdings) != 2 || holdings[1].ProductID != 2 {
		t.Fatalf("unexpected holdings %+v", holdings)
	}
}
