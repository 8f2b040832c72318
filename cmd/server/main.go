package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"catalogpolicy/internal/app"
	"catalogpolicy/internal/platform/config"
	"catalogpolicy/internal/platform/httpserver"
	"catalogpolicy/internal/platform/logger"
	httptransport "catalogpolicy/internal/transport/http"
)

// main wires the invocation handler behind an HTTP router and serves until
// SIGINT or SIGTERM.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, nil)
	if err != nil {
		log.Error("failed to initialise policy handler", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	handler, err := httptransport.NewHandler(a.Handler, log)
	if err != nil {
		log.Error("failed to build http handler", "error", err)
		os.Exit(1)
	}
	router := httptransport.NewRouter(handler, httptransport.WithRouterLogger(log))

	srv := httpserver.New(cfg.Server.Addr, router)
	if err := httpserver.Run(ctx, srv, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
