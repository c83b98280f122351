package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"webforge/internal/llm"
)

// Client implements llm.ChatProvider against any OpenAI-compatible endpoint
// (Ollama, LM Studio, OpenAI itself).
type Client struct {
	api   *openai.Client
	model string
}

func NewFromEnv() *Client {
	base := os.Getenv("WEBFORGE_OPENAI_BASE_URL")
	if base == "" {
		base = "http://localhost:11434/v1"
	}
	key := os.Getenv("WEBFORGE_OPENAI_API_KEY")
	cfg := openai.DefaultConfig(key)
	cfg.BaseURL = strings.TrimRight(base, "/")
	model := os.Getenv("WEBFORGE_CHAT_MODEL")
	if model == "" {
		model = "qwen2.5-coder"
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

// New returns a client for a fixed base URL and model; used by tests.
func New(baseURL, apiKey, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}
}

func (c *Client) Model() string { return c.model }

func (c *Client) Chat(ctx context.Context, messages []llm.Message, stream bool, temperature float32) (llm.ChatStream, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAI(messages),
		Temperature: temperature,
		Stream:      stream,
	}
	if stream {
		s, err := c.api.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("chat stream: %w", err)
		}
		return &chatStream{s: s}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat: empty response")
	}
	return &staticStream{s: resp.Choices[0].Message.Content}, nil
}

type chatStream struct {
	s *openai.ChatCompletionStream
}

func (c *chatStream) Recv() (string, bool, error) {
	resp, err := c.s.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", true, nil
		}
		return "", true, err
	}
	if len(resp.Choices) > 0 {
		return resp.Choices[0].Delta.Content, false, nil
	}
	return "", false, nil
}

func (c *chatStream) Close() error { return c.s.Close() }

type staticStream struct{ s string }

func (s *staticStream) Recv() (string, bool, error) {
	if s.s == "" {
		return "", true, nil
	}
	v := s.s
	s.s = ""
	return v, false, nil
}

func (s *staticStream) Close() error { return nil }

func toOpenAI(messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}
