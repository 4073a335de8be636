// Package openai talks to OpenAI-compatible embedding and chat endpoints.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/resilience"
)

const DefaultTemperature = 0.1

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

func newClient(opts Options) *goopenai.Client {
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	return goopenai.NewClientWithConfig(cfg)
}

type Embedder struct {
	client   *goopenai.Client
	model    string
	executor *resilience.Executor
}

func NewEmbedder(opts Options, executor *resilience.Executor) *Embedder {
	return &Embedder{client: newClient(opts), model: opts.Model, executor: executor}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := resilience.Do(ctx, e.executor, "openai.embed", func(ctx context.Context) (goopenai.EmbeddingResponse, error) {
		resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
			Input: texts,
			Model: goopenai.EmbeddingModel(e.model),
		})
		return resp, wrapError("openai embed", err)
	}, resilience.TemporaryClassifier)
	if err != nil {
		return nil, resilience.WrapCircuitOpen("openai embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, item := range data {
		out[i] = item.Embedding
	}
	return out, nil
}

type Generator struct {
	client   *goopenai.Client
	model    string
	prompt   prompt.Options
	executor *resilience.Executor
}

func NewGenerator(opts Options, promptOpts prompt.Options, executor *resilience.Executor) *Generator {
	return &Generator{client: newClient(opts), model: opts.Model, prompt: promptOpts, executor: executor}
}

func (g *Generator) GenerateAnswer(ctx context.Context, question string, contexts []string) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: DefaultTemperature,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt.BuildAnswer(question, contexts, g.prompt)},
		},
	}
	resp, err := resilience.Do(ctx, g.executor, "openai.chat", func(ctx context.Context) (goopenai.ChatCompletionResponse, error) {
		resp, err := g.client.CreateChatCompletion(ctx, req)
		return resp, wrapError("openai chat", err)
	}, resilience.TemporaryClassifier)
	if err != nil {
		return "", resilience.WrapCircuitOpen("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func statusCode(err error) (int, bool) {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

// wrapError gives an API failure its error kind. Connection failures are
// temporary and cancellation keeps its own error.
func wrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if code, ok := statusCode(err); ok && code > 0 {
		return domain.WrapError(resilience.KindForStatus(code), operation, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
