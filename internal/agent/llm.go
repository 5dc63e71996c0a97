package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/propflow/ai-services/internal/config"
	"github.com/propflow/ai-services/internal/storage"
)

// systemPrompt frames the assistant for property-management conversations.
const systemPrompt = `You are PropFlow AI, an intelligent property management assistant. You help with:

1. Property search and booking
2. Payment processing and status checks
3. Maintenance requests and tracking
4. Lease management and documentation
5. General property management questions

Guidelines:
- Be helpful, professional, and friendly
- Always verify user identity when handling sensitive operations
- Provide clear, actionable responses
- Ask for clarification when needed
- Handle errors gracefully and suggest alternatives`

// historyWindow caps how many prior messages are replayed to the model.
const historyWindow = 10

// NewDelegate builds the configured LLM delegate.
func NewDelegate(cfg config.DelegateConfig) (Delegate, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIDelegate(cfg), nil
	case "anthropic":
		return NewAnthropicDelegate(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported delegate provider: %s", cfg.Provider)
	}
}

// OpenAIDelegate implements Delegate using the official OpenAI Go SDK
type OpenAIDelegate struct {
	cfg    config.DelegateConfig
	client *openai.Client
}

// NewOpenAIDelegate creates an OpenAI-backed delegate
func NewOpenAIDelegate(cfg config.DelegateConfig) *OpenAIDelegate {
	client := openai.NewClient(
		openaioption.WithAPIKey(cfg.APIKey),
	)

	return &OpenAIDelegate{
		cfg:    cfg,
		client: &client,
	}
}

// Invoke sends the conversation to OpenAI and returns the completion text
func (d *OpenAIDelegate) Invoke(ctx context.Context, input, userID string, history []storage.Message) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))

	for _, msg := range trimHistory(history) {
		switch msg.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	messages = append(messages, openai.UserMessage(input))

	completion, err := d.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               openai.ChatModel(d.cfg.Model),
		MaxCompletionTokens: openai.Int(d.cfg.MaxTokens),
		Temperature:         openai.Float(d.cfg.Temperature),
		User:                openai.String(userID),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	return completion.Choices[0].Message.Content, nil
}

// AnthropicDelegate implements Delegate using the official Anthropic SDK
type AnthropicDelegate struct {
	cfg    config.DelegateConfig
	client *anthropic.Client
}

// NewAnthropicDelegate creates an Anthropic-backed delegate
func NewAnthropicDelegate(cfg config.DelegateConfig) *AnthropicDelegate {
	client := anthropic.NewClient(
		anthropicoption.WithAPIKey(cfg.APIKey),
	)

	return &AnthropicDelegate{
		cfg:    cfg,
		client: &client,
	}
}

// Invoke sends the conversation to Anthropic and returns the response text
func (d *AnthropicDelegate) Invoke(ctx context.Context, input, userID string, history []storage.Message) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)

	for _, msg := range trimHistory(history) {
		switch msg.Role {
		case "assistant":
			messages = append(messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(input)))

	response, err := d.client.Messages.New(ctx, anthropic.MessageNewParams{
		MaxTokens: d.cfg.MaxTokens,
		Messages:  messages,
		Model:     anthropic.Model(d.cfg.Model),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}

	return sb.String(), nil
}

// trimHistory keeps the most recent messages within the replay window
func trimHistory(history []storage.Message) []storage.Message {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}
