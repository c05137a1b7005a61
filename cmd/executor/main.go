// Command executor runs the in-sandbox executor (spec §4.5, Component
// E): it runs inside a sandbox's own container, claims that sandbox's
// own tasks, and executes sh/py/js directly or drives pkg/agent's
// inference loop for nl and create_response tasks. SANDBOX_ID is
// injected by the orchestrator's runtime.Create call (pkg/runtime/docker);
// everything else is read from the environment the image was built with.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/raworc/tsbx/pkg/agent"
	"github.com/raworc/tsbx/pkg/config"
	"github.com/raworc/tsbx/pkg/database"
	"github.com/raworc/tsbx/pkg/executor"
	"github.com/raworc/tsbx/pkg/guardrails"
	"github.com/raworc/tsbx/pkg/inference"
	"github.com/raworc/tsbx/pkg/mcp"
	"github.com/raworc/tsbx/pkg/queue"
	"github.com/raworc/tsbx/pkg/sandbox"
	"github.com/raworc/tsbx/pkg/store"
	"github.com/raworc/tsbx/pkg/tools"
)

// mcpServerID names the single optional MCP server this binary will
// connect to when TSBX_MCP_SERVER_URL is set. Multi-server sandboxes
// need a real per-sandbox config file, not yet built.
const mcpServerID = "default"

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	sandboxID := os.Getenv("SANDBOX_ID")
	if sandboxID == "" {
		log.Fatal("SANDBOX_ID must be set")
	}
	sandboxRoot := getEnv("TSBX_SANDBOX_ROOT", "/sandbox")
	provider := getEnv("TSBX_INFERENCE_PROVIDER", "")
	model := getEnv("TSBX_INFERENCE_MODEL", "")

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

	s := store.New(dbClient.Client)
	sandboxMgr := sandbox.New(s)

	inferenceRegistry, err := inference.NewRegistry([]inference.Provider{{
		Name:     getEnv("TSBX_INFERENCE_NAME", "default"),
		URL:      os.Getenv("TSBX_INFERENCE_URL"),
		APIKey:   os.Getenv("TSBX_INFERENCE_API_KEY"),
		Model:    model,
		Template: getEnv("TSBX_INFERENCE_TEMPLATE", "openai"),
	}})
	if err != nil {
		log.Fatalf("Failed to build inference registry: %v", err)
	}
	httpClient := inference.NewHTTPClient(900 * time.Second)

	toolRegistry := tools.NewRegistry(sandboxRoot)
	guardrailFilter := guardrails.New()

	if mcpURL := os.Getenv("TSBX_MCP_SERVER_URL"); mcpURL != "" {
		mcpRegistry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
			mcpServerID: {
				Transport: config.TransportConfig{
					Type:        config.TransportTypeHTTP,
					URL:         mcpURL,
					BearerToken: os.Getenv("TSBX_MCP_BEARER_TOKEN"),
				},
			},
		})
		mcpClient, err := mcp.NewClientFactory(mcpRegistry).CreateClient(ctx, []string{mcpServerID})
		if err != nil {
			log.Fatalf("Failed to connect to MCP server: %v", err)
		}
		defer func() {
			if err := mcpClient.Close(); err != nil {
				log.Printf("Error closing MCP client: %v", err)
			}
		}()
		if err := mcp.RegisterMCPTools(ctx, toolRegistry, mcpClient, []string{mcpServerID}, nil, guardrailFilter); err != nil {
			log.Printf("Warning: failed to register MCP tools: %v", err)
		}
	}

	loop := agent.New(s, inferenceRegistry, httpClient, toolRegistry, guardrailFilter)
	exec := executor.New(s, sandboxMgr, loop, sandboxID, sandboxRoot, provider, model)

	if err := exec.Startup(ctx); err != nil {
		log.Fatalf("Executor startup failed: %v", err)
	}

	cfg := queue.DefaultConfig()
	if n, err := strconv.Atoi(getEnv("TSBX_EXECUTOR_WORKERS", "")); err == nil && n > 0 {
		cfg.WorkerCount = n
	}

	dispatcher := queue.NewDispatcher(sandboxID, s, cfg, store.TaskClaimFilter{
		SandboxName: sandboxID,
		TaskTypes:   executor.EligibleTaskTypes,
	}, exec)

	log.Printf("Executor for sandbox %s starting", sandboxID)
	dispatcher.Start(ctx)

	<-ctx.Done()
	log.Println("Shutting down executor")
	dispatcher.Stop()
}
