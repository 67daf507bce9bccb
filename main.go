package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"gridspace/api"
	"gridspace/auth"
	"gridspace/config"
	"gridspace/server"
	"gridspace/store"
)

// gridspace 入口：启动 HTTP + WebSocket 服务，初始化存储、鉴权与空间注册表
func main() {
	var addr, cfgPath string
	flag.StringVar(&cfgPath, "config", "", "config file path (default ./gridspace.yaml if present)")
	flag.StringVar(&addr, "addr", "", "server listen address, overrides config, e.g. :8080")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	// zap 日志写入文件（带滚动），可同时输出到控制台
	if err := server.InitLogger(server.LogConfig{
		File:       cfg.Log.File,
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		panic(err)
	}
	defer server.SyncLogger()
	log := server.Log

	st, err := store.Open(context.Background(), cfg.Store.Path, log.Named("store"))
	if err != nil {
		log.Fatalw("failed to open store", "error", err)
	}
	defer st.Close()

	handler, gateway, err := newApp(cfg, st, log)
	if err != nil {
		log.Fatalw("failed to assemble server", "error", err)
	}
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: handler,
	}

	go func() {
		log.Infof("gridspace listening on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）：先停止接入，再关闭所有连接让每个用户走完离开流程
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("http shutdown", "error", err)
	}
	if err := gateway.CloseAll(ctx); err != nil {
		log.Errorw("connections did not drain", "error", err)
	}
}

// newApp 组装鉴权、空间注册表、实时网关与 REST 路由
func newApp(cfg *config.Config, st *store.Store, log *zap.SugaredLogger) (http.Handler, *server.Gateway, error) {
	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	if err != nil {
		return nil, nil, err
	}
	accounts := auth.NewAccounts(st, tokens, log.Named("auth"))

	metrics := server.NewMetrics()
	registry := server.NewRegistry(metrics)
	router := server.NewRouter(tokens, spaceCatalog{st: st}, registry, metrics)
	gateway := server.NewGateway(router, registry, metrics, server.GatewayConfig{
		Conn: server.ConnConfig{
			ReadLimit:     cfg.Transport.ReadLimit,
			PongWait:      cfg.Transport.PongWait,
			WriteWait:     cfg.Transport.WriteWait,
			SendQueueSize: cfg.Transport.SendQueueSize,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	handler := api.NewHandler(accounts, tokens, st, log.Named("http"))
	return api.NewRouter(handler, gateway, cfg.Server.AllowedOrigins), gateway, nil
}
