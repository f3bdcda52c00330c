package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// Message is a minimal chat message carried between turns so the extractor
// sees the conversation so far. Role must be one of: "system", "user", or
// "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Extractor turns free-form user text into structured stage data. The
// reply is either a JSON document with the stage's expected keys or a
// natural-language clarifying question; ParseJSON distinguishes the two.
type Extractor interface {
	Extract(ctx context.Context, instruction string, history []Message, userText string) (string, error)
}

// OpenAIExtractor calls the OpenAI chat completion API with a per-stage
// system instruction.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
}

// NewOpenAIExtractor constructs an OpenAI-backed extractor.
func NewOpenAIExtractor(apiKey, model string) *OpenAIExtractor {
	return &OpenAIExtractor{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Extract sends the stage instruction, prior history and latest user text
// to the completion API and returns the raw assistant reply.
func (e *OpenAIExtractor) Extract(ctx context.Context, instruction string, history []Message, userText string) (string, error) {
	if e.client == nil {
		return "", errors.New("openai client not initialized")
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: instruction,
	})
	for _, m := range history {
		role := m.Role
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			// coerce anything unknown to user
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	if userText != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: userText,
		})
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Messages:    msgs,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
