package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"storyfeed/internal/api"
	"storyfeed/internal/cache"
	"storyfeed/internal/config"
	"storyfeed/internal/feed"
	"storyfeed/internal/findex"
	"storyfeed/internal/models"
	"storyfeed/internal/realtime"
	"storyfeed/internal/remote"
	"storyfeed/internal/snapshot"
)

func main() {
	// Load .env if present, then configuration
	if err := godotenv.Load(); err == nil {
		log.Printf("Loaded configuration overrides from .env")
	}
	cfg := config.Load()

	// Initialize cache for hot data
	cacheManager := cache.NewManager(cfg.CacheTTL)

	// Initialize the cold-start snapshot store
	store, err := snapshot.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatal("Failed to initialize snapshot store:", err)
	}
	defer store.Close()

	// Remote content source client
	client := remote.NewClient(nil, cfg.RemoteBaseURL, cfg.RemoteAPIKey, remote.NetworkProfile(cfg.NetworkProfile))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One engine, index builder and reconciler per configured topic
	engines := make(map[string]*feed.Engine)
	builders := make(map[string]*findex.Builder)
	indexes := make(map[string]*findex.Index)
	var reconcilers []*realtime.Reconciler

	for slug, topic := range cfg.Topics {
		index := findex.NewIndex()
		builder := findex.NewBuilder(client, index)
		builders[slug] = builder
		indexes[slug] = index

		eng := feed.New(topic, client, store, cacheManager, index, feed.Options{
			PageSize:        cfg.PageSize,
			DebounceDelay:   cfg.DebounceDelay,
			RepairMinSlides: cfg.RepairMinSlides,
		})
		engines[slug] = eng

		// Cold start: snapshot first, then remote sync with bounded retry
		log.Printf("Cold-starting feed for topic '%s'", slug)
		eng.ColdStart(ctx)

		// Build the filter index in the background; filtering degrades
		// gracefully until it completes
		go func(b *findex.Builder, t models.Topic) {
			if err := b.Build(ctx, t); err != nil {
				log.Printf("Warning: filter index build for topic '%s' incomplete: %v", t.Slug, err)
			}
		}(builder, topic)

		if cfg.EnableRealtime {
			rec := realtime.New(cfg.RealtimeURL, eng, client, builder, cacheManager)
			rec.SetDebounce(cfg.RealtimeDebounce)
			if err := rec.Subscribe(ctx); err != nil {
				log.Printf("Warning: realtime subscription for topic '%s' failed: %v", slug, err)
			} else {
				reconcilers = append(reconcilers, rec)
			}
		}
	}

	// Initialize API server
	server := api.NewServer(engines, builders, indexes, cacheManager, cfg)

	log.Printf("Starting story feed server on port %d", cfg.Port)
	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Remote source: %s", cfg.RemoteBaseURL)
	log.Printf("Topics: %d", len(cfg.Topics))

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, stopping services...")
		for _, rec := range reconcilers {
			rec.Close()
		}
		for _, eng := range engines {
			eng.Close()
		}
		cancel()
	}()

	if err := server.StartWithContext(ctx); err != nil && err != context.Canceled {
		log.Fatal("Failed to start server:", err)
	}
}
