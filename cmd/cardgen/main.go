package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/oneiroi/api/internal/config"
	"github.com/oneiroi/api/internal/fallback"
	"github.com/oneiroi/api/internal/flux"
	"github.com/oneiroi/api/internal/generation"
	"github.com/oneiroi/api/internal/logger"
	"github.com/oneiroi/api/internal/models"
	"github.com/oneiroi/api/internal/progress"
	"github.com/oneiroi/api/internal/proxy"
)

func main() {
	var (
		prompt   = flag.String("prompt", "", "image prompt (required)")
		aspect   = flag.String("aspect", models.DefaultAspectRatio, "aspect ratio, e.g. 2:3")
		format   = flag.String("format", models.DefaultOutputFormat, "output format: png or jpeg")
		theme    = flag.String("theme", "minimal", "fallback card theme: minimal or colorful")
		title    = flag.String("title", "", "fallback card title")
		subtitle = flag.String("subtitle", "", "fallback card subtitle")
		keywords = flag.String("keywords", "", "comma separated fallback card keywords")
		out      = flag.String("out", "card", "output path without extension")
	)
	flag.Parse()

	if strings.TrimSpace(*prompt) == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	allow := proxy.NewAllowList(cfg.Proxy.AllowedHosts...)
	fetcher := proxy.NewDirectFetcher(allow, &http.Client{Timeout: cfg.Proxy.Timeout}, cfg.Proxy.MaxBytes, zl)
	client := flux.NewClient(cfg.Flux, nil, zl)
	orchestrator := generation.NewOrchestrator(
		generation.NewSubmitter(client, zl),
		generation.NewPoller(client, cfg.Flux.MaxAttempts, cfg.Flux.PollInterval, zl),
		generation.NewMaterializer(allow, fetcher, zl),
		zl,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := progress.SinkFunc(func(_ context.Context, ev models.ProgressEvent) {
		fmt.Printf("[%3d%%] %-11s %s\n", ev.Percent, ev.Phase, ev.Message)
	})

	var words []string
	if *keywords != "" {
		words = strings.Split(*keywords, ",")
	}

	artifact, err := orchestrator.Generate(ctx, generation.Input{
		Request: models.GenerationRequest{
			Prompt:       *prompt,
			AspectRatio:  *aspect,
			OutputFormat: *format,
		},
		APIKey: cfg.Flux.APIKey,
		Card:   fallback.Card{Theme: *theme, Title: *title, Subtitle: *subtitle, Keywords: words},
	}, printer)
	if err != nil {
		log.Fatalf("Generation failed: %v", err)
	}

	path := *out + extension(artifact.MimeType)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := os.WriteFile(path, artifact.Bytes, 0o644); err != nil {
		log.Fatalf("Failed to write artifact: %v", err)
	}
	fmt.Printf("Wrote %s artifact (%s, %d bytes) to %s\n", artifact.Kind, artifact.MimeType, len(artifact.Bytes), path)
}

func extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case fallback.MimeType:
		return ".svg"
	default:
		return ".png"
	}
}
