package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"gridspace/auth"
)

type ctxKey int

const claimsKey ctxKey = iota

// RequestLogger 通过 zap 记录每个 HTTP 请求
func RequestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Infow("http request",
				"method", r.Method,
				"uri", r.RequestURI,
				"ip", r.RemoteAddr,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// BearerAuth 校验 Authorization: Bearer <token>，把载荷放入 context
func BearerAuth(tokens *auth.Tokens, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, errorBody{Message: "missing bearer token"})
				return
			}
			claims, err := tokens.Parse(token)
			if err != nil {
				log.Debugw("rejected bearer token", "ip", r.RemoteAddr, "error", err)
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, errorBody{Message: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

func claimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}
