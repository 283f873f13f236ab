package conversation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain/repositories"
)

const answerHeadRunes = 40

// Compactor merges the rolling memory with the latest turn
type Compactor struct {
	llm      repositories.LargeLanguageModel
	logger   *zap.Logger
	debug    promptDebug
	recorder FallbackRecorder
}

// NewCompactor creates a new memory compactor
func NewCompactor(llm repositories.LargeLanguageModel, logger *zap.Logger) *Compactor {
	return &Compactor{
		llm:      llm,
		logger:   logger,
		debug:    promptDebug{logger: logger},
		recorder: nopRecorder{},
	}
}

// Compact never fails: model errors and empty replies fall back to
// appending a clipped transcript of the turn
func (c *Compactor) Compact(ctx context.Context, oldSummary, utterance, aiText string) string {
	messages := []repositories.ChatMessage{
		repositories.SystemMessage(compactSystemPrompt),
		repositories.UserMessage(compactBlock(oldSummary, utterance, aiText)),
	}
	c.debug.dump("Memory compaction request", messages)

	completion, err := c.llm.Complete(ctx, messages)
	if err == nil {
		if summary := strings.TrimSpace(completion.Text); summary != "" {
			return summary
		}
	} else {
		c.logger.Warn("Memory compaction failed, using concatenation", zap.Error(err))
	}

	c.recorder.RecordFallback("compaction")
	return fallbackMemory(oldSummary, utterance, aiText)
}

func fallbackMemory(oldSummary, utterance, aiText string) string {
	base := ""
	if oldSummary != "" {
		base = oldSummary + " "
	}
	return strings.TrimSpace(base + "用户:" + utterance + " | AI:" + head(aiText, answerHeadRunes))
}
