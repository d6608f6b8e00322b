package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aquant/internal/api"
	"aquant/internal/config"
	"aquant/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
		envFile    = flag.String("env", "", "可选的.env文件路径")
	)
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadDotEnv(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:    logger.LogLevel(cfg.Logging.Level),
		Format:   logger.LogFormat(cfg.Logging.Format),
		Output:   cfg.Logging.Output,
		Filename: cfg.Logging.File,
	})
	log := logger.GetGlobalLogger()

	log.Info("Starting aquant",
		"version", cfg.App.Version,
		"env", cfg.App.Env,
	)

	server, err := api.NewServer(cfg, log)
	if err != nil {
		log.Fatal("Failed to create server", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("Server exited", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("Shutdown failed", "error", err)
		os.Exit(1)
	}
}
