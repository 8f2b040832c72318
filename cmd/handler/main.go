package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"catalogpolicy/internal/app"
	"catalogpolicy/internal/platform/config"
	"catalogpolicy/internal/platform/logger"
)

// main builds the handler once per cold start; warm invocations reuse the
// store clients.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Log)

	a, err := app.New(context.Background(), cfg, log, nil)
	if err != nil {
		log.Error("failed to initialise policy handler", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	lambda.Start(a.Handler.Handle)
}
