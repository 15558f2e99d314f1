package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	apperrors "github.com/fracshare/trading/pkg/errors"
	"github.com/fracshare/trading/pkg/response"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserIDFromContext 从上下文获取用户 ID
func UserIDFromContext(ctx context.Context) int64 {
	if v := ctx.Value(userIDKey); v != nil {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// auth 校验 Bearer 令牌并注入用户 ID
func (h *Handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			response.WriteErrorCode(w, r, apperrors.CodeUnauthenticated, "missing bearer token")
			return
		}

		userID, err := h.verifier.Verify(token)
		if err != nil {
			response.WriteErrorCode(w, r, apperrors.CodeUnauthenticated, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// internal 校验 X-Internal-Token 服务间令牌，仅挂在变更类路由
func (h *Handler) internal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("X-Internal-Token")
		if h.internalToken == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(h.internalToken)) != 1 {
			response.WriteErrorCode(w, r, apperrors.CodePermissionDenied, "invalid internal token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireToken 以固定令牌保护端点，用于 /metrics 等内部面
func RequireToken(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("X-Metrics-Token")
		if provided == "" {
			provided = bearerToken(r)
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			response.WriteErrorCode(w, r, apperrors.CodeUnauthenticated, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
