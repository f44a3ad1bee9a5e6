// Package llm provides engine.LLMCaller implementations. The engine itself
// never imports a provider SDK directly (§6's "swappable, out of scope"
// seam); this package is where a concrete provider gets wired in, borrowed
// from the goa-ai example's own provider stack.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lyzr/soe/engine"
)

// OpenAICaller implements engine.LLMCaller against the Chat Completions API.
type OpenAICaller struct {
	client *openai.Client
	model  string
}

// NewOpenAICaller builds a caller for the given model, reading credentials
// from the usual OPENAI_API_KEY / OPENAI_BASE_URL environment variables
// unless overridden by opts.
func NewOpenAICaller(model string, opts ...option.RequestOption) *OpenAICaller {
	client := openai.NewClient(opts...)
	return &OpenAICaller{client: &client, model: model}
}

// Call satisfies engine.LLMCaller.
func (o *OpenAICaller) Call(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ engine.LLMCaller = (*OpenAICaller)(nil)
