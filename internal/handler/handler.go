// Package handler HTTP 接口
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/fracshare/trading/internal/engine"
	"github.com/fracshare/trading/internal/orderbook"
	"github.com/fracshare/trading/internal/repository"
	"github.com/fracshare/trading/internal/service"
	apperrors "github.com/fracshare/trading/pkg/errors"
	"github.com/fracshare/trading/pkg/logger"
	"github.com/fracshare/trading/pkg/response"
)

const maxBodyBytes = 1 << 16

// TradingAPI 交易服务能力
type TradingAPI interface {
	SubmitOrder(ctx context.Context, productID, userID int64, side int, price, qty int64) (*engine.SubmitResult, error)
	GetBook(ctx context.Context, productID int64) (orderbook.Snapshot, error)
	CancelOrder(ctx context.Context, userID, orderID int64) error
	GetOpenSellSummary(ctx context.Context, userID, productID int64) (*service.SellSummary, error)
	ListHoldings(ctx context.Context, userID int64) ([]*service.HoldingView, error)
}

// TokenVerifier 用户令牌校验
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Handler 交易 HTTP 处理器
type Handler struct {
	svc           TradingAPI
	verifier      TokenVerifier
	internalToken string
	log           *logger.Logger
}

// New 创建处理器
func New(svc TradingAPI, verifier TokenVerifier, internalToken string, log *logger.Logger) *Handler {
	return &Handler{svc: svc, verifier: verifier, internalToken: internalToken, log: log}
}

// Register 注册路由并返回包裹了通用中间件的处理器。
// 变更类路由除用户令牌外还需携带服务间内部令牌。
func (h *Handler) Register(mux *http.ServeMux) http.Handler {
	mux.Handle("POST /api/v1/orders", h.auth(h.internal(http.HandlerFunc(h.submitOrder))))
	mux.Handle("POST /api/v1/orders/{orderId}/cancel", h.auth(h.internal(http.HandlerFunc(h.cancelOrder))))
	mux.Handle("GET /api/v1/sell-summary", h.auth(http.HandlerFunc(h.sellSummary)))
	mux.Handle("GET /api/v1/holdings", h.auth(http.HandlerFunc(h.holdings)))
	mux.HandleFunc("GET /api/v1/book", h.book)

	return response.RequestIDMiddleware(response.RecoveryMiddleware(mux))
}

type submitOrderRequest struct {
	ProductID int64  `json:"productId"`
	Side      string `json:"side"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

type orderView struct {
	OrderID      int64 `json:"orderId"`
	ProductID    int64 `json:"productId"`
	Side         int   `json:"side"`
	Price        int64 `json:"price"`
	OrigQty      int64 `json:"origQty"`
	RemainingQty int64 `json:"remainingQty"`
	Status       int   `json:"status"`
	CreateTimeMs int64 `json:"createTimeMs"`
}

type submitOrderResponse struct {
	Order *orderView          `json:"order"`
	Fills []*repository.Fill  `json:"fills"`
	Book  *orderbook.Snapshot `json:"book,omitempty"`
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteErrorCode(w, r, apperrors.CodeInvalidRequest, "invalid request body")
		return
	}

	side, ok := parseSide(req.Side)
	if !ok {
		response.WriteErrorCode(w, r, apperrors.CodeInvalidSide, "side must be BUY or SELL")
		return
	}

	result, err := h.svc.SubmitOrder(r.Context(), req.ProductID, userID, side, req.Price, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, &submitOrderResponse{
		Order: toOrderView(result.Order),
		Fills: result.Fills,
		Book:  &result.Book,
	})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	orderID, err := strconv.ParseInt(r.PathValue("orderId"), 10, 64)
	if err != nil || orderID <= 0 {
		response.WriteErrorCode(w, r, apperrors.CodeInvalidParam, "invalid order id")
		return
	}

	if err := h.svc.CancelOrder(r.Context(), userID, orderID); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"orderId":   orderID,
		"cancelled": true,
	})
}

func (h *Handler) book(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		response.WriteErrorCode(w, r, apperrors.CodeInvalidParam, "invalid product id")
		return
	}

	snapshot, err := h.svc.GetBook(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, &snapshot)
}

func (h *Handler) sellSummary(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		response.WriteErrorCode(w, r, apperrors.CodeInvalidParam, "invalid product id")
		return
	}

	summary, err := h.svc.GetOpenSellSummary(r.Context(), userID, productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) holdings(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	views, err := h.svc.ListHoldings(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, views)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		response.WriteError(w, r, appErr)
		return
	}
	h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	response.WriteErrorCode(w, r, apperrors.CodeInternal, "internal error")
}

func parseSide(side string) (int, bool) {
	switch side {
	case "BUY":
		return repository.SideBuy, true
	case "SELL":
		return repository.SideSell, true
	default:
		return 0, false
	}
}

func toOrderView(o *repository.Order) *orderView {
	if o == nil {
		return nil
	}
	return &orderView{
		OrderID:      o.OrderID,
		ProductID:    o.ProductID,
		Side:         o.Side,
		Price:        o.Price,
		OrigQty:      o.OrigQty,
		RemainingQty: o.RemainingQty,
		Status:       o.Status,
		CreateTimeMs: o.CreateTimeMs,
	}
}
