package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"aquant/internal/config"
	"aquant/internal/database"
	"aquant/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
		up         = flag.Bool("up", false, "运行数据库迁移")
		down       = flag.Bool("down", false, "回滚全部迁移")
		version    = flag.Bool("version", false, "显示当前迁移版本")
		force      = flag.Int("force", -1, "强制设置迁移版本（用于修复脏状态）")
		help       = flag.Bool("help", false, "显示帮助信息")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	logger.Init(logger.Config{Level: logger.LevelInfo, Format: logger.FormatText, Output: "stdout"})

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
	}, logger.GetGlobalLogger())
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, cfg.Database.MigrationsPath)
	if err != nil {
		log.Fatalf("创建迁移器失败: %v", err)
	}
	defer migrator.Close()

	switch {
	case *up:
		if err := migrator.Up(); err != nil {
			log.Fatalf("迁移失败: %v", err)
		}
		fmt.Println("迁移完成")
	case *down:
		if err := migrator.Down(); err != nil {
			log.Fatalf("回滚失败: %v", err)
		}
		fmt.Println("回滚完成")
	case *version:
		v, err := migrator.Version()
		if err != nil {
			log.Fatalf("获取版本失败: %v", err)
		}
		fmt.Printf("当前迁移版本: %d\n", v)
	case *force >= 0:
		if err := migrator.Force(*force); err != nil {
			log.Fatalf("强制设置版本失败: %v", err)
		}
		fmt.Printf("版本已强制设置为 %d\n", *force)
	default:
		showHelp()
		os.Exit(2)
	}
}

func showHelp() {
	fmt.Println(`用法: migrate [选项]

选项:
  -config string  配置文件路径 (默认 "configs/config.yaml")
  -up             运行数据库迁移
  -down           回滚全部迁移
  -version        显示当前迁移版本
  -force N        强制设置迁移版本（用于修复脏状态）
  -help           显示帮助信息`)
}
