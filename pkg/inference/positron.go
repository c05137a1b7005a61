package inference

import (
	"encoding/json"
	"fmt"
)

// positronTemplate implements the xml-command wire format: the request
// body is the same openai-shaped chat/completions JSON (model/messages/
// stream), but the assistant's reply is expected to be a single strict
// XML element such as <run_bash>...</run_bash> or <output>...</output>
// rather than a tool_calls array — grounded on the original Rust
// implementation's positron.rs template plus its hand-rolled
// command.rs parser (reimplemented in command_xml.go using
// encoding/xml's token stream for the same single-root strictness).
type positronTemplate struct{}

// NewPositronTemplate constructs the xml-command Template.
func NewPositronTemplate() Template { return &positronTemplate{} }

func (t *positronTemplate) Name() string { return "positron" }

// outputElementName is the root element name meaning "final answer",
// matching the original's <output> convention.
const outputElementName = "output"

// FormatHint is appended as a system message on a parse-retry, the Go
// equivalent of the original template's format_hint().
const FormatHint = "Format notice: respond with a single XML element (e.g. <run_bash>...</run_bash> or <output>...</output>)."

func (t *positronTemplate) BuildRequest(url, apiKey, model string, messages []Message, tools []ToolSpec) (*Request, error) {
	body := openAIRequestBody{Model: model, Stream: false}
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		body.Messages = append(body.Messages, openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.ToolName,
		})
	}
	if len(body.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	// The xml-command template has no native tool-calling wire format;
	// available tools are instead described in the system prompt text
	// the caller builds, so `tools` is intentionally not serialized here.

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal positron request: %w", err)
	}
	return &Request{URL: url, APIKey: apiKey, Model: model, Body: raw}, nil
}

func (t *positronTemplate) ParseResponse(raw []byte) (*Response, error) {
	var body openAIResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return &Response{ParseFailure: fmt.Sprintf("malformed JSON response: %v", err)}, nil
	}
	if len(body.Choices) == 0 {
		return &Response{ParseFailure: "response contained no choices"}, nil
	}

	resp := &Response{}
	if body.Usage.TotalTokens > 0 {
		resp.Usage = &Usage{
			PromptTokens:     body.Usage.PromptTokens,
			CompletionTokens: body.Usage.CompletionTokens,
			TotalTokens:      body.Usage.TotalTokens,
		}
	}

	content := body.Choices[0].Message.Content
	inv, err := parseCommandXML(content)
	if err != nil {
		return &Response{ParseFailure: err.Error(), Usage: resp.Usage}, nil
	}

	if inv.Name == outputElementName {
		resp.FinalText = inv.Body
		return resp, nil
	}

	resp.ToolCall = &ToolCall{Name: inv.Name, Arguments: encodeInvocationArgs(inv)}
	return resp, nil
}

// encodeInvocationArgs flattens a commandInvocation's attributes,
// children, and body into the JSON object shape the tool registry
// expects, so positron and openai tool calls share one downstream
// dispatch path.
func encodeInvocationArgs(inv *commandInvocation) string {
	args := make(map[string]interface{}, len(inv.Attributes)+len(inv.Children)+1)
	for k, v := range inv.Attributes {
		args[k] = v
	}
	for _, c := range inv.Children {
		args[c.Name] = c.Content
	}
	if inv.Body != "" {
		if _, exists := args["content"]; !exists {
			args["content"] = inv.Body
		}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
