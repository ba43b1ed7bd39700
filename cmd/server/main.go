package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"codesync/internal/api"
	"codesync/internal/config"
	"codesync/internal/exec"
	"codesync/internal/rooms"
	"codesync/internal/routers"
	"codesync/internal/session"
	"codesync/internal/utils"
)

var (
	listenAndServe = http.ListenAndServe
	exitFunc       = func(err error) { log.Fatal(err) }
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := utils.NewLogger()

	registry := session.NewRegistry(cfg.SnapshotIdleTTL)
	go registry.StartSweeper(ctx, time.Minute)

	coord := session.NewCoordinator(session.NewHub(), registry)
	proxy := exec.NewProxy(cfg.ExecAPIURL, cfg.ExecClientID, cfg.ExecClientSecret)

	directory := rooms.NewDirectory(cfg.RedisAddr, logger)
	go directory.Subscribe(ctx)

	h := api.NewHandlers(logger, coord, proxy, directory, []byte(cfg.JWTSecret))

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)
	r.Mount("/", routers.New(h))

	addr := ":" + cfg.Port
	logger.Info("codesync listening", "addr", addr)
	return listenAndServe(addr, r)
}

func main() {
	if err := run(context.Background()); err != nil {
		exitFunc(err)
	}
}
