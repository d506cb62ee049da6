package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xinyuan_tech/fulfillment-service/internal/conf"
	"xinyuan_tech/fulfillment-service/internal/constants"

	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// 初始化配置
	bc, err := conf.Load(flagconf)
	if err != nil {
		panic(err)
	}
	if err := bc.Validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}

	// 初始化应用
	app, cleanup, err := wireApp(bc)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	interval := constants.DefaultChargeInterval
	if bc.Charge != nil {
		interval = conf.ParseDuration(bc.Charge.Interval, constants.DefaultChargeInterval)
	}

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 扣款调度：多个进程实例可并发运行，单订单由分布式锁去重
	_, err = cronScheduler.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		log.Println("[CRON] Starting charge run...")
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()

		stats, err := app.charge.Run(ctx)
		if err != nil {
			log.Printf("[CRON] Charge run error: %v", err)
			return
		}
		log.Printf("[CRON] Charge run finished: processed=%d, succeeded=%d, cancelled=%d, failed=%d, skipped=%d",
			stats.Processed, stats.Succeeded, stats.Cancelled, stats.Failed, stats.Skipped)
	})
	if err != nil {
		log.Printf("Failed to add charge job: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	log.Println("========================================")
	log.Println("Cron jobs started successfully")
	log.Printf("  - Charge scheduler:  every %s", interval)
	log.Println("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	// 停止定时任务
	stopCtx := cronScheduler.Stop()
	select {
	case <-stopCtx.Done():
		log.Println("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Println("Cron jobs forced to stop after timeout")
	}
}
