package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oneiroi/api/internal/eventbus"
	"github.com/oneiroi/api/internal/handlers"
	"github.com/oneiroi/api/internal/logger"
	"github.com/oneiroi/api/internal/models"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080", "running server")
	natsURL := flag.String("nats-url", "", "optional NATS server to watch progress events on")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Minute}

	// Retry loop for server startup
	var err error
	for i := 0; i < 10; i++ {
		var resp *http.Response
		resp, err = client.Get(*baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		log.Printf("Waiting for server... %v", err)
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatalf("Server not reachable after retries: %v", err)
	}

	// 1. Proxy must refuse hosts outside the allow-list
	log.Println("Checking proxy host rejection...")
	resp, err := client.Get(*baseURL + "/proxy?url=" + url.QueryEscape("https://example.com/a.png"))
	if err != nil {
		log.Fatalf("Proxy request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		log.Fatalf("Expected 400 for untrusted host, got %d. Body: %s", resp.StatusCode, body)
	}

	// 2. Optionally watch the progress fan-out
	var (
		mu   sync.Mutex
		seen []models.ProgressEvent
	)
	if *natsURL != "" {
		zl, _ := logger.New(logger.Config{Level: "warn", Encoding: "console"})
		nc, err := eventbus.Connect(*natsURL, zl)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer nc.Close()
		sub, err := eventbus.SubscribeProgress(nc, "*", func(ev models.ProgressEvent) {
			mu.Lock()
			seen = append(seen, ev)
			mu.Unlock()
		})
		if err != nil {
			log.Fatalf("Failed to subscribe: %v", err)
		}
		defer sub.Unsubscribe()
	}

	// 3. A card request always yields an artifact
	log.Println("Requesting a card...")
	payload, _ := json.Marshal(map[string]any{
		"request": map[string]any{"prompt": "a tarot card of the moon", "aspect_ratio": "2:3"},
		"theme":   "colorful",
		"title":   "The Moon",
	})
	resp, err = client.Post(*baseURL+"/api/v1/cards", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("Card request failed: %v", err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Expected 200 OK, got %d. Body: %s", resp.StatusCode, buf.String())
	}

	var card handlers.CardResponse
	if err := json.Unmarshal(buf.Bytes(), &card); err != nil {
		log.Fatalf("Failed to decode card response: %v", err)
	}
	if !strings.HasPrefix(card.DataURL, "data:"+card.MimeType) {
		log.Fatalf("Unexpected data url prefix for %s", card.MimeType)
	}
	if len(card.Events) == 0 {
		log.Fatalf("Card response carried no progress events")
	}
	last := card.Events[len(card.Events)-1]
	log.Printf("SUCCESS: %s card (%s), final phase %s at %d%%", card.Kind, card.MimeType, last.Phase, last.Percent)
	if card.Kind == models.ArtifactKindFallback {
		log.Printf("Note: generation failed upstream, invocation %s returned the fallback card", card.InvocationID)
	}

	if *natsURL != "" {
		time.Sleep(500 * time.Millisecond)
		mu.Lock()
		log.Printf("Observed %d progress events over NATS", len(seen))
		mu.Unlock()
	}
}
