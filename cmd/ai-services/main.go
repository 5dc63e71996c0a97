package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/propflow/ai-services/internal/admission"
	"github.com/propflow/ai-services/internal/agent"
	"github.com/propflow/ai-services/internal/api"
	"github.com/propflow/ai-services/internal/chatbot"
	"github.com/propflow/ai-services/internal/config"
	"github.com/propflow/ai-services/internal/counter"
	"github.com/propflow/ai-services/internal/storage"
)

func main() {
	var (
		port       = flag.Int("port", 0, "Port to run the API server on (overrides config)")
		configPath = flag.String("config", "", "Path to configuration file")
		debug      = flag.Bool("debug", false, "Enable debug mode")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, *debug)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// Counter store for rate limiting. Chat stays available if this is
	// unhealthy; admission fails open.
	counterStore, err := counter.NewBadgerStore(cfg.Storage.CounterDB)
	if err != nil {
		log.Printf("Warning: counter store unavailable, rate limiting disabled: %v", err)
		counterStore, err = counter.NewInMemoryStore()
		if err != nil {
			log.Fatalf("Failed to open in-memory counter store: %v", err)
		}
	}
	defer counterStore.Close()

	conversationStore, err := storage.NewConversationStore(cfg.Storage.ConversationDB)
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}
	defer conversationStore.Close()

	delegate, err := agent.NewDelegate(cfg.Delegate)
	if err != nil {
		log.Fatalf("Failed to build delegate: %v", err)
	}

	suggestions := agent.NewServiceSuggestions(cfg.Services)

	controller := admission.NewController(counterStore,
		cfg.RateLimit.Threshold, cfg.RateLimit.Window, cfg.Storage.AdmitTimeout)

	router := chatbot.NewRouter(controller, conversationStore, delegate, suggestions,
		cfg.Delegate.Timeout, cfg.Storage.PersistTimeout)

	server := api.NewServer(cfg, router, conversationStore, suggestions)

	fmt.Printf("Starting PropFlow AI Services\n")
	fmt.Printf("Server:    http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Health:    http://localhost:%d/api/v1/health\n", cfg.Server.Port)
	fmt.Printf("Chat:      http://localhost:%d/api/v1/chatbot/chat\n", cfg.Server.Port)
	fmt.Printf("WebSocket: ws://localhost:%d/api/v1/chatbot/ws/{userId}\n", cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-stop:
		log.Printf("Received %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			log.Printf("Warning: shutdown error: %v", err)
		}
	}
}
