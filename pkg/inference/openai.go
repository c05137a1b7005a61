package inference

import (
	"encoding/json"
	"fmt"
)

// openAITemplate implements the openai-style wire format: POST
// /chat/completions with {model, messages, tools?, stream:false}.
type openAITemplate struct{}

// NewOpenAITemplate constructs the openai-style Template.
func NewOpenAITemplate() Template { return &openAITemplate{} }

func (t *openAITemplate) Name() string { return "openai" }

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type openAIRequestBody struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

func (t *openAITemplate) BuildRequest(url, apiKey, model string, messages []Message, tools []ToolSpec) (*Request, error) {
	body := openAIRequestBody{Model: model, Stream: false}
	for _, m := range messages {
		body.Messages = append(body.Messages, openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.ToolName,
		})
	}
	for _, ts := range tools {
		var tool openAITool
		tool.Type = "function"
		tool.Function.Name = ts.Name
		tool.Function.Description = ts.Description
		tool.Function.Parameters = ts.Parameters
		body.Tools = append(body.Tools, tool)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal openai request: %w", err)
	}
	return &Request{URL: url, APIKey: apiKey, Model: model, Body: raw}, nil
}

type openAIResponseBody struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (t *openAITemplate) ParseResponse(raw []byte) (*Response, error) {
	var body openAIResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return &Response{ParseFailure: fmt.Sprintf("malformed JSON response: %v", err)}, nil
	}
	if len(body.Choices) == 0 {
		return &Response{ParseFailure: "response contained no choices"}, nil
	}

	msg := body.Choices[0].Message
	resp := &Response{}
	if body.Usage.TotalTokens > 0 {
		resp.Usage = &Usage{
			PromptTokens:     body.Usage.PromptTokens,
			CompletionTokens: body.Usage.CompletionTokens,
			TotalTokens:      body.Usage.TotalTokens,
		}
	}

	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		resp.ToolCall = &ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		return resp, nil
	}

	if msg.Content == "" {
		return &Response{ParseFailure: "response message had neither content nor tool call"}, nil
	}
	resp.FinalText = msg.Content
	return resp, nil
}
