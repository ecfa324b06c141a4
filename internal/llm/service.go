package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/mentorfy/internal/db"
	"github.com/RichardoC/mentorfy/internal/models"
	"github.com/RichardoC/mentorfy/internal/sse"
	"github.com/RichardoC/mentorfy/internal/upstream"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

const (
	searchingStatus = "Searching knowledge base..."
	defaultPrompt   = "You are a helpful mentor. Answer clearly and concisely."
)

type Store interface {
	GetBot(ctx context.Context, orgID, id string) (*models.Bot, error)
	SearchKnowledge(ctx context.Context, orgID, query string, limit int) ([]models.KnowledgeEntry, error)
}

// Emitter receives the frames of a response.
type Emitter interface {
	Write(event sse.EventType, payload any) error
}

type Options struct {
	Temperature      float64
	MaxHistoryTokens int
	KnowledgeResults int
	Timeout          time.Duration
	Counter          Counter
}

type Service struct {
	llm    llms.Model
	store  Store
	opts   Options
	logger *zap.Logger
}

// NewOpenAI builds a client for any OpenAI-compatible endpoint.
func NewOpenAI(baseURL, token, model string) (llms.Model, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return llm, nil
}

func New(model llms.Model, store Store, logger *zap.Logger, opts Options) *Service {
	if opts.Counter == nil {
		opts.Counter = EstimateCounter{}
	}
	if opts.MaxHistoryTokens <= 0 {
		opts.MaxHistoryTokens = 3000
	}
	if opts.KnowledgeResults <= 0 {
		opts.KnowledgeResults = 5
	}
	return &Service{llm: model, store: store, opts: opts, logger: logger}
}

// Respond answers one chat request, streaming tool_status, text_delta and
// finally done or error frames to w. The returned error is only non-nil
// when w itself failed.
func (s *Service) Respond(ctx context.Context, req upstream.ChatRequest, w Emitter) error {
	if err := w.Write(sse.EventToolStatus, sse.ToolStatus{Message: searchingStatus}); err != nil {
		return err
	}

	bot, err := s.store.GetBot(ctx, req.OrgID, req.BotID)
	if errors.Is(err, db.ErrNotFound) {
		return w.Write(sse.EventError, sse.ErrorPayload{Error: "bot not found"})
	}
	if err != nil {
		s.logger.Error("Failed to load bot", zap.String("bot_id", req.BotID), zap.Error(err))
		return w.Write(sse.EventError, sse.ErrorPayload{Error: "failed to load bot"})
	}

	knowledge, err := s.store.SearchKnowledge(ctx, req.OrgID, req.Message, s.opts.KnowledgeResults)
	if err != nil {
		// Log but don't fail if knowledge search fails
		s.logger.Warn("Failed to search knowledge", zap.String("org_id", req.OrgID), zap.Error(err))
		knowledge = nil
	}

	messages := s.buildMessages(bot, knowledge, req)

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	var streamed strings.Builder
	var writeErr error
	opts := []llms.CallOption{
		llms.WithTemperature(s.temperature(bot)),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed.Write(chunk)
			if err := w.Write(sse.EventTextDelta, sse.TextDelta{Delta: string(chunk)}); err != nil {
				writeErr = err
				return err
			}
			return nil
		}),
	}
	if bot.Model != "" {
		opts = append(opts, llms.WithModel(bot.Model))
	}

	start := time.Now()
	resp, err := s.llm.GenerateContent(ctx, messages, opts...)
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		s.logger.Error("Failed to generate completion",
			zap.String("conversation_id", req.ConversationID), zap.Error(err))
		return w.Write(sse.EventError, sse.ErrorPayload{Error: fmt.Sprintf("failed to generate completion: %v", err)})
	}

	content := streamed.String()
	if len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
		// providers that don't stream still return the full answer
		if content == "" {
			if err := w.Write(sse.EventTextDelta, sse.TextDelta{Delta: resp.Choices[0].Content}); err != nil {
				return err
			}
		}
		content = resp.Choices[0].Content
	}
	if content == "" {
		return w.Write(sse.EventError, sse.ErrorPayload{Error: "model returned an empty response"})
	}

	s.logger.Info("Generated response",
		zap.String("conversation_id", req.ConversationID),
		zap.Int("knowledge", len(knowledge)),
		zap.Duration("elapsed", time.Since(start)))
	return w.Write(sse.EventDone, sse.Done{Content: content})
}

func (s *Service) temperature(bot *models.Bot) float64 {
	if bot.Temperature > 0 {
		return bot.Temperature
	}
	return s.opts.Temperature
}

func (s *Service) buildMessages(bot *models.Bot, knowledge []models.KnowledgeEntry, req upstream.ChatRequest) []llms.MessageContent {
	var system strings.Builder
	if bot.SystemPrompt != "" {
		system.WriteString(bot.SystemPrompt)
	} else {
		system.WriteString(defaultPrompt)
	}
	if len(knowledge) > 0 {
		system.WriteString("\n\nRelevant knowledge from the knowledge base:\n")
		for _, k := range knowledge {
			if k.Title != "" {
				fmt.Fprintf(&system, "- %s: %s\n", k.Title, k.Content)
			} else {
				fmt.Fprintf(&system, "- %s\n", k.Content)
			}
		}
	}

	history := TrimHistory(req.PreviousMessages, s.opts.MaxHistoryTokens, s.opts.Counter)
	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, system.String()))
	for _, m := range history {
		role := schema.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, m.Content))
	}

	prompt := req.Message
	if len(req.FileAttachments) > 0 {
		names := make([]string, len(req.FileAttachments))
		for i, a := range req.FileAttachments {
			names[i] = a.Name
		}
		prompt += "\n\nAttached files: " + strings.Join(names, ", ")
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, prompt))
	return messages
}
