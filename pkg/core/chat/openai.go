package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dialhaus/switchboard/pkg/core/convo"
)

// DefaultSystemPrompt keeps responses short and speakable. Markdown
// and list formatting read terribly when synthesized.
const DefaultSystemPrompt = "You are a helpful AI assistant on a phone call. " +
	"Keep your responses concise and natural for voice conversation. " +
	"Be friendly, professional, and helpful. " +
	"Avoid using markdown, bullet points, or formatting that doesn't translate to speech."

// OpenAIConfig tunes the generator.
type OpenAIConfig struct {
	// BaseURL overrides the API endpoint, for proxies or compatible
	// services. Empty uses the public endpoint.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// MaxTokens defaults to 150; phone answers should stay short.
	MaxTokens int

	// Temperature defaults to 0.7.
	Temperature float32

	// Timeout bounds one full generation. Exceeding it is a generator
	// failure. Defaults to 30s.
	Timeout time.Duration

	// SystemPrompt defaults to DefaultSystemPrompt.
	SystemPrompt string

	// HistoryTurns caps the context window. Defaults to the history
	// store's own bound.
	HistoryTurns int
}

// OpenAI implements Generator on the OpenAI streaming chat API.
type OpenAI struct {
	client  *openai.Client
	history *convo.Store
	logger  *slog.Logger
	cfg     OpenAIConfig
}

// NewOpenAI builds a generator. The history store is shared with other
// sessions and must not be nil.
func NewOpenAI(apiKey string, history *convo.Store, cfg OpenAIConfig, logger *slog.Logger) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = convo.DefaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		history: history,
		logger:  logger,
		cfg:     cfg,
	}
}

// Respond records the transcript, opens a completion stream over the
// caller's recent history, and relays tokens as they arrive. The
// assistant turn is recorded only when generation finishes cleanly.
func (g *OpenAI) Respond(ctx context.Context, callerID, transcript string) (*TokenStream, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, errors.New("empty transcript")
	}

	g.history.Append(callerID, convo.RoleUser, transcript)

	messages := make([]openai.ChatCompletionMessage, 0, g.cfg.HistoryTurns+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: g.cfg.SystemPrompt,
	})
	for _, turn := range g.history.Window(callerID, g.cfg.HistoryTurns) {
		role := openai.ChatMessageRoleUser
		if turn.Role == convo.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Stream:      true,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open completion stream: %w", err)
	}

	ts := newTokenStream(cancel)
	go g.relay(ctx, callerID, stream, ts)
	return ts, nil
}

// ClearHistory implements Generator.
func (g *OpenAI) ClearHistory(callerID string) {
	g.history.Clear(callerID)
}

func (g *OpenAI) relay(ctx context.Context, callerID string, stream *openai.ChatCompletionStream, ts *TokenStream) {
	defer ts.finish()
	defer stream.Close()
	defer ts.cancel()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if full.Len() > 0 {
				g.history.Append(callerID, convo.RoleAssistant, full.String())
			}
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				ts.setErr(fmt.Errorf("completion stream: %w", err))
				g.logger.Warn("generation stream failed", "caller_id", callerID, "error", err)
			} else if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				ts.setErr(fmt.Errorf("completion stream: %w", ctx.Err()))
				g.logger.Warn("generation timed out", "caller_id", callerID)
			}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		full.WriteString(token)
		select {
		case ts.tokens <- token:
		case <-ctx.Done():
			return
		}
	}
}
