package service

import (
	"context"
	"errors"
	"testing"

	"github.com/fracshare/trading/internal/engine"
	"github.com/fracshare/trading/internal/orderbook"
	"github.com/fracshare/trading/internal/repository"
	apperrors "github.com/fracshare/trading/pkg/errors"
	"github.com/fracshare/trading/pkg/logger"
)

type fakeMatcher struct {
	submitResult *engine.SubmitResult
	submitErr    error

	cancelProductID int64
	cancelOrderID   int64
	cancelUserID    int64
	cancelErr       error

	snapshot orderbook.Snapshot
}

func (m *fakeMatcher) Submit(ctx context.Context, req *engine.SubmitRequest) (*engine.SubmitResult, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.submitResult, nil
}

func (m *fakeMatcher) Cancel(ctx context.Context, productID, orderID, userID int64) error {
	m.cancelProductID = productID
	m.cancelOrderID = orderID
	m.cancelUserID = userID
	return m.cancelErr
}

func (m *fakeMatcher) Snapshot(ctx context.Context, productID int64) (orderbook.Snapshot, error) {
	return m.snapshot, nil
}

type fakeOrderReader struct {
	orders      map[int64]*repository.Order
	openSellQty int64
	openSellErr error
}

func (r *fakeOrderReader) Get(ctx context.Context, orderID int64) (*repository.Order, error) {
	o, ok := r.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (r *fakeOrderReader) OpenSellQty(ctx context.Context, userID, productID int64) (int64, error) {
	return r.openSellQty, r.openSellErr
}

type fakeHoldingReader struct {
	holdings map[int64]*repository.Holding
	list     []*repository.Holding
}

func (r *fakeHoldingReader) Get(ctx context.Context, userID, productID int64) (*repository.Holding, error) {
	if h, ok := r.holdings[productID]; ok {
		return h, nil
	}
	return &repository.Holding{UserID: userID, ProductID: productID}, nil
}

func (r *fakeHoldingReader) ListByUser(ctx context.Context, userID int64) ([]*repository.Holding, error) {
	return r.list, nil
}

type fakeProductReader struct {
	products map[int64]*repository.Product
}

func (r *fakeProductReader) Get(ctx context.Context, productID int64) (*repository.Product, error) {
	p, ok := r.products[productID]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return p, nil
}

func newTestService(matcher *fakeMatcher, orders *fakeOrderReader,
	holdings *fakeHoldingReader, products *fakeProductReader) *TradingService {
	if orders == nil {
		orders = &fakeOrderReader{orders: map[int64]*repository.Order{}}
	}
	if holdings == nil {
		holdings = &fakeHoldingReader{holdings: map[int64]*repository.Holding{}}
	}
	if products == nil {
		products = &fakeProductReader{products: map[int64]*repository.Product{}}
	}
	return NewTradingService(matcher, orders, holdings, products,
		logger.New("service-test", nil, "error"))
}

func TestSubmitOrderValidatesIdentifiers(t *testing.T) {
	s := newTestService(&fakeMatcher{}, nil, nil, nil)

	if _, err := s.SubmitOrder(context.Background(), 0, 10, repository.SideBuy, 1000, 1); !errors.Is(err, apperrors.ErrInvalidParam) {
		t.Fatalf("expected invalid param for product id, got %v", err)
	}
	if _, err := s.SubmitOrder(context.Background(), 1, 0, repository.SideBuy, 1000, 1); !errors.Is(err, apperrors.ErrInvalidParam) {
		t.Fatalf("expected invalid param for user id, got %v", err)
	}
}

func TestSubmitOrderReturnsEngineResult(t *testing.T) {
	matcher := &fakeMatcher{
		submitResult: &engine.SubmitResult{
			Order: &repository.Order{OrderID: 5, ProductID: 1, UserID: 10},
			Fills: []*repository.Fill{{FillID: 100, Qty: 3}},
		},
	}
	s := newTestService(matcher, nil, nil, nil)

	result, err := s.SubmitOrder(context.Background(), 1, 10, repository.SideBuy, 1000, 3)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Order.OrderID != 5 || len(result.Fills) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCancelOrderRoutesByProduct(t *testing.T) {
	matcher := &fakeMatcher{}
	orders := &fakeOrderReader{orders: map[int64]*repository.Order{
		7: {OrderID: 7, ProductID: 3, UserID: 10},
	}}
	s := newTestService(matcher, orders, nil, nil)

	if err := s.CancelOrder(context.Background(), 10, 7); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if matcher.cancelProductID != 3 || matcher.cancelOrderID != 7 || matcher.cancelUserID != 10 {
		t.Fatalf("cancel routed with wrong args: product=%d order=%d user=%d",
			matcher.cancelProductID, matcher.cancelOrderID, matcher.cancelUserID)
	}
}

func TestCancelOrderUnknownOrder(t *testing.T) {
	s := newTestService(&fakeMatcher{}, &fakeOrderReader{orders: map[int64]*repository.Order{}}, nil, nil)

	err := s.CancelOrder(context.Background(), 10, 999)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Code != apperrors.CodeOrderNotFound {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestGetOpenSellSummary(t *testing.T) {
	orders := &fakeOrderReader{orders: map[int64]*repository.Order{}, openSellQty: 30}
	holdings := &fakeHoldingReader{holdings: map[int64]*repository.Holding{
		1: {UserID: 10, ProductID: 1, Quantity: 100, AvgPrice: 1000},
	}}
	s := newTestService(&fakeMatcher{}, orders, holdings, nil)

	summary, err := s.GetOpenSellSummary(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalHolding != 100 || summary.OpenSellQuantity != 30 || summary.AvailableToSell != 70 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestGetOpenSellSummaryClampsAtZero(t *testing.T) {
	orders := &fakeOrderReader{orders: map[int64]*repository.Order{}, openSellQty: 150}
	holdings := &fakeHoldingReader{holdings: map[int64]*repository.Holding{
		1: {UserID: 10, ProductID: 1, Quantity: 100},
	}}
	s := newTestService(&fakeMatcher{}, orders, holdings, nil)

	summary, err := s.GetOpenSellSummary(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.AvailableToSell != 0 {
		t.Fatalf("available should clamp at zero, got %d", summary.AvailableToSell)
	}
}

func TestListHoldingsComputesOwnershipPct(t *testing.T) {
	holdings := &fakeHoldingReader{list: []*repository.Holding{
		{UserID: 10, ProductID: 1, Quantity: 125, AvgPrice: 1040},
		{UserID: 10, ProductID: 2, Quantity: 10, AvgPrice: 500},
	}}
	products := &fakeProductReader{products: map[int64]*repository.Product{
		1: {ProductID: 1, Title: "Villa A", TotalUnits: 1000},
		2: {ProductID: 2, Title: "Villa B", TotalUnits: 300},
	}}
	s := newTestService(&fakeMatcher{}, nil, holdings, products)

	views, err := s.ListHoldings(context.Background(), 10)
	if err != nil {
		t.Fatalf("list holdings: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	if views[0].OwnershipPct != 12.5 || views[0].ProductTitle != "Villa A" {
		t.Fatalf("unexpected first view %+v", views[0])
	}
	if views[1].OwnershipPct != 3.33 {
		t.Fatalf("expected rounded 3.33, got %v", views[1].OwnershipPct)
	}
}

func TestListHoldingsTolerantOfMissingProduct(t *testing.T) {
	holdings := &fakeHoldingReader{list: []*repository.Holding{
		{UserID: 10, ProductID: 9, Quantity: 5, AvgPrice: 100},
	}}
	s := newTestService(&fakeMatcher{}, nil, holdings, &fakeProductReader{products: map[int64]*repository.Product{}})

	views, err := s.ListHoldings(context.Background(), 10)
	if err != nil {
		t.Fatalf("list holdings: %v", err)
	}
	if len(views) != 1 || views[0].OwnershipPct != 0 || views[0].Quantity != 5 {
		t.Fatalf("unexpected views %+v", views)
	}
}
