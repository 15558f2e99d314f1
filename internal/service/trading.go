// Package service 交易服务编排
package service

import (
	"context"
	"errors"

	"github.com/fracshare/trading/internal/engine"
	"github.com/fracshare/trading/internal/orderbook"
	"github.com/fracshare/trading/internal/repository"
	apperrors "github.com/fracshare/trading/pkg/errors"
	"github.com/fracshare/trading/pkg/logger"
)

// Matcher 撮合入口，由引擎注册表实现
type Matcher interface {
	Submit(ctx context.Context, req *engine.SubmitRequest) (*engine.SubmitResult, error)
	Cancel(ctx context.Context, productID, orderID, userID int64) error
	Snapshot(ctx context.Context, productID int64) (orderbook.Snapshot, error)
}

// OrderReader 撤单路由与卖单占用查询
type OrderReader interface {
	Get(ctx context.Context, orderID int64) (*repository.Order, error)
	OpenSellQty(ctx context.Context, userID, productID int64) (int64, error)
}

// HoldingReader 持仓查询
type HoldingReader interface {
	Get(ctx context.Context, userID, productID int64) (*repository.Holding, error)
	ListByUser(ctx context.Context, userID int64) ([]*repository.Holding, error)
}

// ProductReader 产品查询
type ProductReader interface {
	Get(ctx context.Context, productID int64) (*repository.Product, error)
}

// TradingService 对外交易能力
type TradingService struct {
	matcher  Matcher
	orders   OrderReader
	holdings HoldingReader
	products ProductReader
	log      *logger.Logger
}

// NewTradingService 创建服务
func NewTradingService(matcher Matcher, orders OrderReader, holdings HoldingReader,
	products ProductReader, log *logger.Logger) *TradingService {
	return &TradingService{
		matcher:  matcher,
		orders:   orders,
		holdings: holdings,
		products: products,
		log:      log,
	}
}

// SubmitOrder 下单
func (s *TradingService) SubmitOrder(ctx context.Context, productID, userID int64,
	side int, price, qty int64) (*engine.SubmitResult, error) {
	if productID <= 0 || userID <= 0 {
		return nil, apperrors.ErrInvalidParam
	}
	result, err := s.matcher.Submit(ctx, &engine.SubmitRequest{
		ProductID: productID,
		UserID:    userID,
		Side:      side,
		Price:     price,
		Qty:       qty,
	})
	if err != nil {
		return nil, err
	}
	s.log.WithContext(ctx).Infof("order submitted", map[string]interface{}{
		"orderId":   result.Order.OrderID,
		"productId": productID,
		"userId":    userID,
		"side":      side,
		"fills":     len(result.Fills),
	})
	return result, nil
}

// GetBook 订单簿聚合快照
func (s *TradingService) GetBook(ctx context.Context, productID int64) (orderbook.Snapshot, error) {
	if productID <= 0 {
		return orderbook.Snapshot{}, apperrors.ErrInvalidParam
	}
	return s.matcher.Snapshot(ctx, productID)
}

// CancelOrder 撤单。先定位订单所属产品，再路由到该产品的串行临界区执行。
func (s *TradingService) CancelOrder(ctx context.Context, userID, orderID int64) error {
	if orderID <= 0 || userID <= 0 {
		return apperrors.ErrInvalidParam
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return apperrors.ErrOrderNotFound
		}
		return apperrors.Newf(apperrors.CodeInternal, "load order: %v", err)
	}
	return s.matcher.Cancel(ctx, order.ProductID, orderID, userID)
}

// SellSummary 可卖数量摘要
type SellSummary struct {
	OpenSellQuantity int64 `json:"openSellQuantity"`
	TotalHolding     int64 `json:"totalHolding"`
	AvailableToSell  int64 `json:"availableToSell"`
}

// GetOpenSellSummary 用户在某产品上的持仓与卖单占用
func (s *TradingService) GetOpenSellSummary(ctx context.Context, userID, productID int64) (*SellSummary, error) {
	if productID <= 0 || userID <= 0 {
		return nil, apperrors.ErrInvalidParam
	}

	holding, err := s.holdings.Get(ctx, userID, productID)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInternal, "load holding: %v", err)
	}
	openSell, err := s.orders.OpenSellQty(ctx, userID, productID)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInternal, "load open sells: %v", err)
	}

	available := holding.Quantity - openSell
	if available < 0 {
		available = 0
	}
	return &SellSummary{
		OpenSellQuantity: openSell,
		TotalHolding:     holding.Quantity,
		AvailableToSell:  available,
	}, nil
}

// HoldingView 带所有权占比的持仓视图
type HoldingView struct {
	ProductID    int64   `json:"productId"`
	ProductTitle string  `json:"productTitle"`
	Quantity     int64   `json:"quantity"`
	AvgPrice     int64   `json:"avgPrice"`
	OwnershipPct float64 `json:"ownershipPct"`
}

// ListHoldings 用户全部持仓，附所有权百分比（保留两位小数）
func (s *TradingService) ListHoldings(ctx context.Context, userID int64) ([]*HoldingView, error) {
	if userID <= 0 {
		return nil, apperrors.ErrInvalidParam
	}

	holdings, err := s.holdings.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CodeInternal, "list holdings: %v", err)
	}

	views := make([]*HoldingView, 0, len(holdings))
	for _, h := range holdings {
		view := &HoldingView{
			ProductID: h.ProductID,
			Quantity:  h.Quantity,
			AvgPrice:  h.AvgPrice,
		}
		product, err := s.products.Get(ctx, h.ProductID)
		if err == nil && product.TotalUnits > 0 {
			view.ProductTitle = product.Title
			pct := float64(h.Quantity) / float64(product.TotalUnits) * 100
			view.OwnershipPct = float64(int64(pct*100+0.5)) / 100
		}
		views = append(views, view)
	}
	return views, nil
}
