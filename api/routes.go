// Package api REST 接口：注册/登录与空间元数据，并挂载实时网关
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"gridspace/auth"
	"gridspace/server"
	"gridspace/store"
)

// Handler REST 处理器依赖
type Handler struct {
	accounts *auth.Accounts
	tokens   *auth.Tokens
	spaces   *store.Store
	log      *zap.SugaredLogger
}

func NewHandler(accounts *auth.Accounts, tokens *auth.Tokens, spaces *store.Store, log *zap.SugaredLogger) *Handler {
	return &Handler{accounts: accounts, tokens: tokens, spaces: spaces, log: log}
}

// NewRouter 组装全部路由；gw 为 nil 时不挂载实时网关（测试用）
func NewRouter(h *Handler, gw *server.Gateway, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.log))
	r.Use(middleware.Recoverer)

	origins := allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	if gw != nil {
		r.Get("/ws", gw.HandleWS)
		r.Get("/metrics", gw.HandleMetrics)
		r.Get("/admin/spaces", gw.HandleSpaces)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/signup", h.Signup)
		r.Post("/signin", h.Signin)

		r.With(BearerAuth(h.tokens, h.log)).Group(func(r chi.Router) {
			r.Post("/space", h.CreateSpace)
			r.Get("/space/{spaceId}", h.GetSpace)
		})
	})

	return r
}
