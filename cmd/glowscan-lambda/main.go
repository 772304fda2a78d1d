package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/app"
	"github.com/franckalain/glowscan/internal/config"
	"github.com/franckalain/glowscan/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig(viper.New(), config.GetConfigPath())
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	logger, err := logging.New(cfg.Server.Debug)
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize service", zap.Error(err))
	}
	defer a.Close()

	lambda.Start(a.LambdaHandler())
}
