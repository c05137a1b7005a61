// Command api runs the REST control plane (spec §6.1): the process
// operators and agents talk to directly. It owns the state store
// connection and the sandbox lifecycle manager, but never touches the
// container runtime or an inference provider — those belong to the
// orchestrator and executor binaries.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/raworc/tsbx/pkg/api"
	"github.com/raworc/tsbx/pkg/auth"
	"github.com/raworc/tsbx/pkg/database"
	"github.com/raworc/tsbx/pkg/rbac"
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
	addr := flag.String("addr", getEnv("API_ADDR", ":8080"), "HTTP listen address")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: could not load %s: %v", *envFile, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", *envFile)
	}

	tokenSecret := os.Getenv("TSBX_TOKEN_SECRET")
	if tokenSecret == "" {
		log.Fatal("TSBX_TOKEN_SECRET must be set")
	}

	ctx := context.Background()

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
	verifier := auth.New(tokenSecret)
	evaluator := rbac.New(s)

	srv := api.NewServer(s, dbClient, sandboxMgr, verifier, evaluator)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("API server listening on %s", *addr)
		errCh <- srv.Start(*addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}
}
