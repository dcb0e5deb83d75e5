package main

import (
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/warden/antispam/internal/classify"
	"github.com/warden/antispam/internal/messaging"
)

func main() {
	log.Println("Starting Warden classifier service...")

	// Pattern set: defaults, or SPAM_PATTERNS as comma-separated regexes.
	predicate := classify.NewPatternPredicate()
	if v := os.Getenv("SPAM_PATTERNS"); v != "" {
		p, err := classify.NewPatternPredicateFrom(strings.Split(v, ","))
		if err != nil {
			log.Fatalf("invalid SPAM_PATTERNS: %v", err)
		}
		predicate = p
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "warden-classifier"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Serve classification requests.
	err = natsClient.SubscribeSpamCheck(func(data []byte) []byte {
		var req classify.CheckRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[classifier] failed to unmarshal request: %v", err)
			return nil
		}

		spam, rule := predicate.Match(req.Text)
		if spam {
			log.Printf("[classifier] SPAM rule=%s len=%d", rule, len(req.Text))
		} else {
			log.Printf("[classifier] CLEAN len=%d", len(req.Text))
		}

		resp, err := json.Marshal(classify.CheckVerdict{Spam: spam, Rule: rule})
		if err != nil {
			log.Printf("[classifier] failed to marshal verdict: %v", err)
			return nil
		}
		return resp
	})
	if err != nil {
		log.Fatalf("failed to subscribe to spam checks: %v", err)
	}

	log.Printf("Warden classifier service running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
}
