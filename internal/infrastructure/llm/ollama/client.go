package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tenantiq/ragcore/internal/core/domain"
	"github.com/tenantiq/ragcore/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return NewWithOptions(baseURL, genModel, embedModel, Options{})
}

func NewWithOptions(baseURL, genModel, embedModel string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

// Embedder implements the embedding-provider port on the ollama embed API.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	if len(texts) == 0 {
		return nil, 0, fmt.Errorf("embed: empty input")
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, 0, fmt.Errorf("embed: empty input")
		}
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings      [][]float32 `json:"embeddings"`
		PromptEvalCount int         `json:"prompt_eval_count"`
	}
	err := e.client.execute(ctx, "ollama.embed", func(callCtx context.Context) error {
		return e.client.postJSON(callCtx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, 0, wrapTemporaryIfNeeded("embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, 0, fmt.Errorf("embed: provider returned %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, response.PromptEvalCount, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, int, error) {
	vectors, tokens, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	return vectors[0], tokens, nil
}

// Generator implements the text-generator port on the ollama chat API.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

func (g *Generator) Complete(
	ctx context.Context,
	messages []domain.ChatMessage,
	opts domain.GenerationOptions,
) (string, domain.TokenUsage, error) {
	request := g.chatRequest(messages, opts, false)

	var response chatResponse
	err := g.client.execute(ctx, "ollama.chat", func(callCtx context.Context) error {
		return g.client.postJSON(callCtx, "/api/chat", request, &response, "chat")
	})
	if err != nil {
		return "", domain.TokenUsage{}, wrapTemporaryIfNeeded("chat", err)
	}

	usage := domain.TokenUsage{
		PromptTokens:     response.PromptEvalCount,
		CompletionTokens: response.EvalCount,
	}
	return strings.TrimSpace(response.Message.Content), usage, nil
}

// StreamComplete reads the newline-delimited JSON stream from the chat API,
// invoking onDelta per fragment, and returns the full transcript plus usage
// from the terminal object. Streaming is not retried: a mid-stream failure
// surfaces to the caller, who may already have shown partial output.
func (g *Generator) StreamComplete(
	ctx context.Context,
	messages []domain.ChatMessage,
	opts domain.GenerationOptions,
	onDelta func(string),
) (string, domain.TokenUsage, error) {
	request := g.chatRequest(messages, opts, true)

	resp, err := g.client.postStream(ctx, "/api/chat", request, "chat stream")
	if err != nil {
		return "", domain.TokenUsage{}, wrapTemporaryIfNeeded("chat stream", err)
	}
	defer resp.Body.Close()

	var (
		transcript strings.Builder
		usage      domain.TokenUsage
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var delta chatResponse
		if err := json.Unmarshal([]byte(line), &delta); err != nil {
			return transcript.String(), usage, fmt.Errorf("decode chat stream line: %w", err)
		}
		if delta.Message.Content != "" {
			transcript.WriteString(delta.Message.Content)
			if onDelta != nil {
				onDelta(delta.Message.Content)
			}
		}
		if delta.Done {
			usage.PromptTokens = delta.PromptEvalCount
			usage.CompletionTokens = delta.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return transcript.String(), usage, fmt.Errorf("read chat stream: %w", err)
	}
	return transcript.String(), usage, nil
}

func (g *Generator) chatRequest(messages []domain.ChatMessage, opts domain.GenerationOptions, stream bool) map[string]any {
	wire := make([]chatMessage, 0, len(messages))
	for _, message := range messages {
		wire = append(wire, chatMessage{Role: message.Role, Content: message.Content})
	}

	options := map[string]any{}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}

	return map[string]any{
		"model":    g.client.genModel,
		"messages": wire,
		"stream":   stream,
		"options":  options,
	}
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyProviderError)
}
