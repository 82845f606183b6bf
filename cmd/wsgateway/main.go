package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bkohler93/peermatch/internal/app/gateway"
	"github.com/bkohler93/peermatch/internal/shared/config"
	"github.com/bkohler93/peermatch/internal/shared/logging"
	"github.com/bkohler93/peermatch/internal/shared/utils"
	"github.com/bkohler93/peermatch/internal/shared/utils/redisutils"
)

func main() {
	utils.LoadEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(os.Stderr, cfg.LogLevel)

	redisClient, err := redisutils.NewRedisClient(ctx, redisutils.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		panic(err)
	}
	defer redisClient.Close()

	hub := gateway.NewHub(log)
	instance, _ := os.Hostname()
	if instance == "" {
		instance = "wsgateway-1"
	}
	notifier, err := gateway.NewRedisNotifier(ctx, redisClient, instance, hub, log)
	if err != nil {
		panic(err)
	}

	g := gateway.NewGateway(strconv.Itoa(cfg.GatewayPort), hub, notifier, log)
	err = g.Start(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := notifier.Close(closeCtx); cerr != nil {
		log.Warn("failed to remove gateway consumer group", "err", cerr)
	}
	if err != nil {
		log.Error("gateway stopped", "err", err)
		os.Exit(1)
	}
}
