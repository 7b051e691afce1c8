package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/oneiroi/api/internal/config"
	"github.com/oneiroi/api/internal/database"
	"github.com/oneiroi/api/internal/eventbus"
	"github.com/oneiroi/api/internal/flux"
	"github.com/oneiroi/api/internal/logger"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	zl, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}

	ok := true

	if cfg.RedisURL != "" {
		fmt.Println("Connecting to redis:", cfg.RedisURL)
		rdb, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			fmt.Printf("Error connecting to redis: %v\n", err)
			ok = false
		} else {
			fmt.Println("Redis connection successful!")
			rdb.Close()
		}
	} else {
		fmt.Println("REDIS_URL not set, skipping redis")
	}

	if cfg.NATSURL != "" {
		fmt.Println("Connecting to nats:", cfg.NATSURL)
		nc, err := eventbus.Connect(cfg.NATSURL, zl)
		if err != nil {
			fmt.Printf("Error connecting to nats: %v\n", err)
			ok = false
		} else {
			if err := nc.FlushTimeout(2 * time.Second); err != nil {
				fmt.Printf("Error flushing nats: %v\n", err)
				ok = false
			} else {
				fmt.Println("NATS connection successful!")
			}
			nc.Close()
		}
	} else {
		fmt.Println("NATS_URL not set, skipping nats")
	}

	client := flux.NewClient(cfg.Flux, nil, zl)
	fmt.Println("Reaching generation service:", client.BaseURL())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.BaseURL(), nil)
	if err != nil {
		fmt.Printf("Error building request: %v\n", err)
		os.Exit(1)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error reaching generation service: %v\n", err)
		ok = false
	} else {
		resp.Body.Close()
		fmt.Printf("Generation service answered %d\n", resp.StatusCode)
	}
	if cfg.Flux.APIKey == "" {
		fmt.Println("Warning: FLUX_API_KEY is not set")
	}

	if !ok {
		os.Exit(1)
	}
}
