package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rawblock/qubic-flow-engine/internal/analytics"
	"github.com/rawblock/qubic-flow-engine/internal/api"
	"github.com/rawblock/qubic-flow-engine/internal/db"
	"github.com/rawblock/qubic-flow-engine/internal/epochs"
	"github.com/rawblock/qubic-flow-engine/internal/flow"
	"github.com/rawblock/qubic-flow-engine/internal/labels"
	"github.com/rawblock/qubic-flow-engine/internal/push"
	"github.com/rawblock/qubic-flow-engine/internal/rpc"
	"github.com/rawblock/qubic-flow-engine/internal/snapshots"
)

func main() {
	log.Println("Starting Qubic Flow Engine (Microservice: qubic-ingest-analytics)...")

	// .env is optional; production deployments set real environment variables.
	_ = godotenv.Load()

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	chURL := requireEnv("CLICKHOUSE_URL")

	store, err := db.Connect(chURL)
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to ClickHouse: %v", err)
	}
	defer store.Close()
	if err := store.InitSchema(); err != nil {
		log.Fatalf("FATAL: Schema init failed: %v", err)
	}

	rpcURL := requireEnv("QUBIC_RPC_URL")
	node, err := rpc.NewClient(rpc.Config{URL: rpcURL})
	if err != nil {
		log.Fatalf("FATAL: Failed to connect to node RPC at %s: %v", rpcURL, err)
	}
	defer node.Close()

	registry := labels.New(getEnvOrDefault("LABEL_BUNDLE_URL", ""))

	keys, err := push.LoadOrGenerateVAPID(
		os.Getenv("VAPID_PUBLIC_KEY"), os.Getenv("VAPID_PRIVATE_KEY"), os.Getenv("VAPID_SUBJECT"))
	if err != nil {
		log.Fatalf("FATAL: VAPID setup failed: %v", err)
	}
	sender := push.NewSender(keys)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Setup WebSocket hub and the live-tick feed.
	wsHub := api.NewHub()
	go wsHub.Run()
	if ticks, err := node.SubscribeTicks(ctx); err != nil {
		log.Printf("Warning: live-tick subscription failed: %v", err)
	} else {
		go wsHub.RunTickFeed(ticks)
	}

	// Worker fleet.
	epochMgr := epochs.NewManager(store, node)
	epochMgr.RewardContract = getEnvOrDefault("REWARD_CONTRACT", "")
	go epochMgr.RunMetaSync(ctx)
	go epochMgr.RunTransitionValidator(ctx)

	go registry.Run(ctx)

	snapshotBase := getEnvOrDefault("SNAPSHOT_BASE_URL", "")
	if snapshotBase != "" {
		go snapshots.NewDriver(store, snapshotBase).Run(ctx)
	} else {
		log.Println("Warning: SNAPSHOT_BASE_URL not set, spectrum/universe auto-import disabled")
	}

	tracker := flow.NewTracker(store, registry)
	tracker.Multicast = getEnvOrDefault("MULTICAST_CONTRACT", "")

	go analytics.NewSnapshotter(store, registry, tracker).Run(ctx)
	go push.NewMonitor(store, sender).Run(ctx)

	// Setup the Gin router.
	r := api.SetupRouter(store, node, registry, tracker, epochMgr, sender, wsHub)

	port := getEnvOrDefault("PORT", "5340")

	log.Printf("Engine running on :%s (API Node: qubic-ingest-analytics)\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
