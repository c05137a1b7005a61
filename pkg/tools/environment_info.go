package tools

import (
	"context"
	"fmt"
	"os"
	"runtime"
)

// EnvironmentInfoTool reports basic facts about the sandbox's runtime
// environment to help the model decide what's available to it.
type EnvironmentInfoTool struct{}

// NewEnvironmentInfoTool constructs the environment_info tool.
func NewEnvironmentInfoTool() *EnvironmentInfoTool { return &EnvironmentInfoTool{} }

func (t *EnvironmentInfoTool) Name() string        { return "environment_info" }
func (t *EnvironmentInfoTool) Description() string { return "Report sandbox environment facts." }

func (t *EnvironmentInfoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"info_type": map[string]interface{}{"type": "string", "enum": []string{"os", "hostname", "cwd", "env"}},
		},
		"required": []string{"info_type"},
	}
}

func (t *EnvironmentInfoTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	infoType, _ := args["info_type"].(string)
	switch infoType {
	case "os":
		return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH), nil
	case "hostname":
		h, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("environment_info: %w", err)
		}
		return h, nil
	case "cwd":
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("environment_info: %w", err)
		}
		return wd, nil
	case "env":
		sandboxID := os.Getenv("SANDBOX_ID")
		return fmt.Sprintf("SANDBOX_ID=%s", sandboxID), nil
	default:
		return "", fmt.Errorf("environment_info: unknown info_type %q", infoType)
	}
}
