package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/N23083/uritomo-transcriber/internal/config"
	"github.com/N23083/uritomo-transcriber/internal/dispatch"
	"github.com/N23083/uritomo-transcriber/internal/logging"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogLevel)

	if cfg.RoomName == "" {
		logging.Fail(logging.CategoryDispatch, "ROOM_NAME is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := dispatch.New(cfg).Run(ctx, cfg.RoomName, cfg.AgentName); err != nil {
		logging.Fail(logging.CategoryDispatch, "dispatch failed: %v", err)
		os.Exit(1)
	}
}
