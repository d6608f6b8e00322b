package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"aquant/internal/config"
	"aquant/internal/database"
	"aquant/internal/ingest"
	"aquant/internal/logger"
	marketstore "aquant/internal/market/storage"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
		dataPath   = flag.String("data", "", "CSV文件或目录路径, 缺省使用配置中的data_dir")
		timeout    = flag.Duration("timeout", 30*time.Minute, "导入超时时间")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  logger.LogLevel(cfg.Logging.Level),
		Format: logger.FormatText,
		Output: "stdout",
	})
	log := logger.GetGlobalLogger()

	path := *dataPath
	if path == "" {
		path = cfg.Ingest.DataDir
	}
	if path == "" {
		log.Fatal("No data path given: use -data or set ingest.data_dir")
	}

	db, err := database.NewConnection(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxOpen:  cfg.Database.MaxOpen,
		MaxIdle:  cfg.Database.MaxIdle,
		Timeout:  cfg.Database.Timeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	importer := ingest.NewImporter(marketstore.NewStorage(db.DB), log)

	info, err := os.Stat(path)
	if err != nil {
		log.Fatal("Failed to stat data path", "path", path, "error", err)
	}

	start := time.Now()
	var bars int
	if info.IsDir() {
		bars, err = importer.ImportDir(ctx, path)
	} else {
		bars, err = importer.ImportFile(ctx, path)
	}
	if err != nil {
		log.Fatal("Import failed", "error", err)
	}

	log.Info("Import finished",
		"bars", bars,
		"path", path,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}
