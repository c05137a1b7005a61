package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
	args map[string]interface{}
}

func (s *stubTool) Name() string                       { return s.name }
func (s *stubTool) Description() string                { return "stub" }
func (s *stubTool) Parameters() map[string]interface{} { return map[string]interface{}{} }
func (s *stubTool) Execute(_ context.Context, args map[string]interface{}) (string, error) {
	s.args = args
	return "ok", nil
}

func TestRegistry_DispatchDirect(t *testing.T) {
	r := &Registry{tools: make(map[string]Tool), aliases: make(map[string]Alias)}
	r.Register(&stubTool{name: "kubernetes.get_pods"})

	content, err := r.Dispatch(context.Background(), "kubernetes.get_pods", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
}

func TestRegistry_DispatchUnknownTool(t *testing.T) {
	r := &Registry{tools: make(map[string]Tool), aliases: make(map[string]Alias)}
	_, err := r.Dispatch(context.Background(), "nonexistent", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestRegistry_DispatchNormalizesDoubleUnderscore(t *testing.T) {
	r := &Registry{tools: make(map[string]Tool), aliases: make(map[string]Alias)}
	r.Register(&stubTool{name: "kubernetes.get_pods"})

	content, err := r.Dispatch(context.Background(), "kubernetes__get_pods", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
}

func TestRegistry_DispatchAliasRemapsParams(t *testing.T) {
	r := &Registry{tools: make(map[string]Tool), aliases: make(map[string]Alias)}
	stub := &stubTool{name: "kubernetes.get_pods"}
	r.Register(stub)
	r.RegisterAlias("k8s_pods", Alias{
		Canonical: "kubernetes.get_pods",
		ParamMap:  map[string]string{"ns": "namespace"},
	})

	_, err := r.Dispatch(context.Background(), "k8s_pods", map[string]interface{}{"ns": "default"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"namespace": "default"}, stub.args)
}

func TestNormalizeToolName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"double underscore to dot", "kubernetes__get_pods", "kubernetes.get_pods"},
		{"already dotted passthrough", "kubernetes.get_pods", "kubernetes.get_pods"},
		{"no separator passthrough", "bash", "bash"},
		{"both dot and underscore keeps dot", "server.tool__name", "server.tool__name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeToolName(tt.input))
		})
	}
}
