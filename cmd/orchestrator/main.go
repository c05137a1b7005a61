// Command orchestrator runs the Orchestrator Worker (spec §4.4,
// Component D): it claims create_sandbox, restore_session, space_build,
// and terminate tasks and drives the container runtime to realize them.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/raworc/tsbx/pkg/database"
	"github.com/raworc/tsbx/pkg/orchestrator"
	"github.com/raworc/tsbx/pkg/queue"
	"github.com/raworc/tsbx/pkg/runtime/docker"
	"github.com/raworc/tsbx/pkg/sandbox"
	"github.com/raworc/tsbx/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to an .env file")
	workerID := flag.String("worker-id", getEnv("TSBX_WORKER_ID", "orchestrator-0"), "Unique id for this dispatcher's lease records")
	image := flag.String("sandbox-image", getEnv("TSBX_SANDBOX_IMAGE", "tsbx/sandbox:latest"), "Container image run for each sandbox")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: could not load %s: %v", *envFile, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", *envFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL database")

	s := store.New(dbClient.Client)
	sandboxMgr := sandbox.New(s)

	rt, err := docker.New(*image)
	if err != nil {
		log.Fatalf("Failed to initialize container runtime: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Printf("Error closing container runtime: %v", err)
		}
	}()

	orc := orchestrator.New(rt, sandboxMgr, s)

	dispatcher := queue.NewDispatcher(*workerID, s, queue.DefaultConfig(), store.TaskClaimFilter{
		TaskTypes: orchestrator.EligibleTaskTypes,
	}, orc)

	log.Printf("Orchestrator worker %s starting, image %s", *workerID, *image)
	dispatcher.Start(ctx)

	<-ctx.Done()
	log.Println("Shutting down orchestrator worker")
	dispatcher.Stop()
}
