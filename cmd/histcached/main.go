package main

import (
	"histcache/config"
	"histcache/internal/app"
	"histcache/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load("")

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	// run service
	if err := app.Run(cfg, log); err != nil {
		log.Fatal("service failed", zap.Error(err))
	}
}
