package conversation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/repositories"
)

const memoryTailRunes = 60

// FallbackRecorder is notified whenever a model sub-call is replaced by its
// deterministic fallback. stage is "rewrite" or "compaction".
type FallbackRecorder interface {
	RecordFallback(stage string)
}

type nopRecorder struct{}

func (nopRecorder) RecordFallback(string) {}

// promptDebug dumps full prompts when enabled
type promptDebug struct {
	logger  *zap.Logger
	enabled bool
	maxLen  int
}

func (d promptDebug) dump(title string, messages []repositories.ChatMessage) {
	if !d.enabled {
		return
	}
	d.logger.Info(title, zap.String("messages", formatForLog(messages, d.maxLen)))
}

// Rewriter turns the latest utterance into a self-contained retrieval query
type Rewriter struct {
	llm      repositories.LargeLanguageModel
	logger   *zap.Logger
	debug    promptDebug
	recorder FallbackRecorder
}

// NewRewriter creates a new query rewriter
func NewRewriter(llm repositories.LargeLanguageModel, logger *zap.Logger) *Rewriter {
	return &Rewriter{
		llm:      llm,
		logger:   logger,
		debug:    promptDebug{logger: logger},
		recorder: nopRecorder{},
	}
}

// Rewrite never fails: model errors and empty replies fall back to a
// concatenation of context and utterance
func (r *Rewriter) Rewrite(ctx context.Context, utterance, lastQuery, memory string) string {
	rewritten, err := r.rewriteWithModel(ctx, utterance, lastQuery, memory)
	if err == nil && rewritten != "" {
		r.logger.Info("Query rewritten",
			zap.String("utterance", utterance),
			zap.String("query", rewritten))
		return rewritten
	}

	if err != nil {
		r.logger.Warn("Query rewrite failed, using concatenation", zap.Error(err))
	}
	r.recorder.RecordFallback("rewrite")
	return fallbackQuery(utterance, lastQuery, memory)
}

func (r *Rewriter) rewriteWithModel(ctx context.Context, utterance, lastQuery, memory string) (string, error) {
	messages := []repositories.ChatMessage{
		repositories.SystemMessage(rewriteSystemPrompt),
		repositories.UserMessage(rewriteBlock(utterance, lastQuery, memory)),
	}
	r.debug.dump("Rewrite request", messages)

	completion, err := r.llm.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	return stripQuotes(strings.TrimSpace(completion.Text)), nil
}

func fallbackQuery(utterance, lastQuery, memory string) string {
	if mem := strings.TrimSpace(memory); mem != "" {
		return tail(mem, memoryTailRunes) + " " + utterance
	}
	if lastQuery != "" {
		return lastQuery + " " + utterance
	}
	return utterance
}

// stripQuotes removes one layer of wrapping ASCII or curly quotes
func stripQuotes(s string) string {
	for _, pair := range [][2]string{{`"`, `"`}, {"“", "”"}} {
		if len(s) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			return strings.TrimSpace(s[len(pair[0]) : len(s)-len(pair[1])])
		}
	}
	return s
}

func tail(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	return string(r[len(r)-n:])
}

func head(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return s
	}
	return string(r[:n])
}
