package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"realty-bot/handler"
	"realty-bot/internal/app"
	"realty-bot/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv("REALTYBOT_CONFIG"), os.LookupEnv)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	log := app.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(log)

	// ---- Services ----
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		slog.Error("failed to build services", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Inbound, log)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		defer a.Flush()
		return h.Handle(ctx, event)
	})
}
