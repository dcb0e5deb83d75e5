package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warden/antispam/internal/cascade"
	"github.com/warden/antispam/internal/classify"
	"github.com/warden/antispam/internal/dispatch"
	"github.com/warden/antispam/internal/gate"
	"github.com/warden/antispam/internal/gateway"
	"github.com/warden/antispam/internal/group"
	"github.com/warden/antispam/internal/messaging"
	"github.com/warden/antispam/internal/metrics"
	"github.com/warden/antispam/internal/ratelimit"
)

func main() {
	log.Println("Starting Warden anti-spam bot...")

	// --- Gateway ---
	cfg := gateway.DefaultConfig()
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("KEEP_ALIVE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.KeepAliveInterval = d
		}
	}
	if v := os.Getenv("MARK_ONLINE_ON_CONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MarkOnlineOnConnect = b
		}
	}

	interval := gate.DefaultInterval
	if v := os.Getenv("MIN_API_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}

	client := gateway.NewClient(cfg)
	apiGate := gate.New(interval)
	resolver := group.NewResolver(client, apiGate)
	runner := cascade.NewRunner(client, resolver, apiGate)

	// --- Classifier: local pattern rules, or the NATS worker ---
	var predicate classify.Predicate = classify.NewPatternPredicate()
	var natsClient *messaging.NATSClient
	if os.Getenv("CLASSIFIER") == "remote" {
		natsConfig := messaging.DefaultNATSConfig()
		if v := os.Getenv("NATS_URL"); v != "" {
			natsConfig.URL = v
		}
		natsConfig.Name = "warden-bot"

		var err error
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		predicate = classify.NewRemotePredicate(natsClient, classify.DefaultRemoteTimeout)
	}

	dispatcher := dispatch.New(client, resolver, runner, predicate, apiGate)

	// --- Redis warning throttle (optional) ---
	var rdb *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()

		limiter := ratelimit.NewLimiter(rdb)
		dispatcher.WarnAllowed = func(ctx context.Context, groupID string) bool {
			ok, _ := limiter.Allow(ctx, groupID, ratelimit.RuleWarn)
			return ok
		}
	}

	// --- Metrics endpoint ---
	metricsAddr := ":9102"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("[metrics] server stopped: %v", err)
		}
	}()

	log.Printf("Warden anti-spam bot running")
	log.Printf("  gateway_url:      %s", cfg.URL)
	log.Printf("  min_api_interval: %s", interval)
	log.Printf("  classifier:       %s", classifierName(natsClient))
	log.Printf("  warn_throttle:    %v", rdb != nil)
	log.Printf("  metrics_addr:     %s", metricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	// Batches are consumed strictly one at a time: enforcement side effects
	// stay ordered relative to detection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for batch := range client.Events() {
			dispatcher.HandleBatch(ctx, batch)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
		<-runErr
	case err := <-runErr:
		log.Printf("gateway stopped: %v", err)
	}
	<-done

	if natsClient != nil {
		natsClient.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
}

func classifierName(natsClient *messaging.NATSClient) string {
	if natsClient != nil {
		return "remote"
	}
	return "local"
}
