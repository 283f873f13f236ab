package conversation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

// Retriever is the role-scoped similarity search used by the orchestrator
type Retriever interface {
	SearchByRole(ctx context.Context, query, roleID string, maxResults int, minScore float64) ([]entities.RetrievedSegment, error)
	FindBestRoleID(ctx context.Context, query string, maxResults int, minScore float64) (string, bool, error)
}

// Options tunes retrieval and prompt construction
type Options struct {
	PrimaryMaxResults    int
	EscalationMaxResults int
	MinScore             float64
	MaxFewShot           int

	Templates Templates

	DebugPrompts   bool
	DebugMaxLogLen int

	Recorder FallbackRecorder
}

// DefaultOptions returns the production retrieval parameters
func DefaultOptions() Options {
	return Options{
		PrimaryMaxResults:    5,
		EscalationMaxResults: 3,
		MinScore:             0.75,
		MaxFewShot:           5,
		Templates:            DefaultTemplates(),
		DebugMaxLogLen:       -1,
	}
}

// TurnInput is everything one turn needs. Role must already be resolved.
type TurnInput struct {
	Utterance string
	Role      *entities.RoleProfile
	State     entities.ConversationState
}

// Orchestrator sequences rewrite, retrieval, escalation, answer and memory
// update for one turn. It holds no per-session state.
type Orchestrator struct {
	llm       repositories.LargeLanguageModel
	retriever Retriever
	roles     repositories.RoleRegistry
	rewriter  *Rewriter
	compactor *Compactor
	logger    *zap.Logger
	debug     promptDebug
	opts      Options
}

// NewOrchestrator creates a new conversation orchestrator
func NewOrchestrator(llm repositories.LargeLanguageModel, retriever Retriever, roles repositories.RoleRegistry, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.Templates.System == "" || opts.Templates.Transfer == "" {
		defaults := DefaultTemplates()
		if opts.Templates.System == "" {
			opts.Templates.System = defaults.System
		}
		if opts.Templates.Transfer == "" {
			opts.Templates.Transfer = defaults.Transfer
		}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	debug := promptDebug{logger: logger, enabled: opts.DebugPrompts, maxLen: opts.DebugMaxLogLen}

	rewriter := NewRewriter(llm, logger)
	rewriter.debug = debug
	rewriter.recorder = opts.Recorder

	compactor := NewCompactor(llm, logger)
	compactor.debug = debug
	compactor.recorder = opts.Recorder

	return &Orchestrator{
		llm:       llm,
		retriever: retriever,
		roles:     roles,
		rewriter:  rewriter,
		compactor: compactor,
		logger:    logger,
		debug:     debug,
		opts:      opts,
	}
}

// HandleTurn runs one turn and returns the new state for the caller to
// persist. Retrieval and answer generation failures abort the turn with an
// error matching domain.ErrUpstreamUnavailable.
func (o *Orchestrator) HandleTurn(ctx context.Context, in TurnInput) (entities.TurnResult, error) {
	if in.Role == nil {
		return entities.TurnResult{}, domain.ErrRoleNotFound
	}

	utterance := strings.TrimSpace(in.Utterance)
	state := in.State
	query := o.rewriter.Rewrite(ctx, utterance, state.LastQuery, state.MemorySummary)

	segments, err := o.retriever.SearchByRole(ctx, query, in.Role.ID, o.opts.PrimaryMaxResults, o.opts.MinScore)
	if err != nil {
		return entities.TurnResult{}, err
	}
	o.logger.Info("Role scoped retrieval",
		zap.String("roleId", in.Role.ID),
		zap.String("query", query),
		zap.Int("segments", len(segments)))

	result := entities.TurnResult{Outcome: entities.TurnOutcomeAnswered}

	if len(segments) == 0 {
		bestRole, err := o.findBestRole(ctx, query, in.Role.ID)
		if err != nil {
			return entities.TurnResult{}, err
		}

		if bestRole == nil {
			result.Outcome = entities.TurnOutcomeNoKnowledge
			result.FinalText, err = o.generateAnswer(ctx, in.Role, state.MemorySummary, "", directReplyRequest(utterance))
			if err != nil {
				return entities.TurnResult{}, err
			}
			return o.finish(ctx, utterance, state, result), nil
		}

		repeated := state.LastEscalatedRoleID == bestRole.ID
		result.Outcome = entities.TurnOutcomeEscalated
		result.TransferText = o.generateTransfer(ctx, in.Role, bestRole, repeated, state.MemorySummary)
		result.AnsweringRoleID = bestRole.ID

		segments, err = o.retriever.SearchByRole(ctx, query, bestRole.ID, o.opts.EscalationMaxResults, o.opts.MinScore)
		if err != nil {
			return entities.TurnResult{}, err
		}
		o.logger.Info("Escalated retrieval",
			zap.String("fromRoleId", in.Role.ID),
			zap.String("toRoleId", bestRole.ID),
			zap.Bool("repeated", repeated),
			zap.Int("segments", len(segments)))

		result.FinalText, err = o.generateAnswer(ctx, bestRole, state.MemorySummary, BuildContext(segments), "问题："+query)
		if err != nil {
			return entities.TurnResult{}, err
		}
		result = o.finish(ctx, utterance, state, result)
		result.State.LastEscalatedRoleID = bestRole.ID
		return result, nil
	}

	result.FinalText, err = o.generateAnswer(ctx, in.Role, state.MemorySummary, BuildContext(segments), "问题："+query)
	if err != nil {
		return entities.TurnResult{}, err
	}
	return o.finish(ctx, utterance, state, result), nil
}

// findBestRole returns nil when no other role holds relevant knowledge
func (o *Orchestrator) findBestRole(ctx context.Context, query, currentRoleID string) (*entities.RoleProfile, error) {
	bestRoleID, found, err := o.retriever.FindBestRoleID(ctx, query, o.opts.EscalationMaxResults, o.opts.MinScore)
	if err != nil {
		return nil, err
	}
	if !found || bestRoleID == currentRoleID {
		return nil, nil
	}

	bestRole, ok := o.roles.GetByID(bestRoleID)
	if !ok {
		o.logger.Warn("Indexed role is not configured", zap.String("roleId", bestRoleID))
		return nil, nil
	}
	return bestRole, nil
}

// finish fills the state shared by every successful path
func (o *Orchestrator) finish(ctx context.Context, utterance string, state entities.ConversationState, result entities.TurnResult) entities.TurnResult {
	topic := state.TopicSummary
	if topic == "" {
		topic = utterance
	}
	result.State = entities.ConversationState{
		LastQuery:     utterance,
		TopicSummary:  topic,
		MemorySummary: o.compactor.Compact(ctx, state.MemorySummary, utterance, result.FinalText),
	}
	return result
}

// deflection is spoken when the model returns nothing usable
const deflection = "我不清楚。"

func (o *Orchestrator) generateAnswer(ctx context.Context, role *entities.RoleProfile, memory, retrieved, question string) (string, error) {
	messages := []repositories.ChatMessage{
		repositories.SystemMessage(o.opts.Templates.SystemPrompt(role)),
		repositories.UserMessage(answerBlock(role, role.FewShot(o.opts.MaxFewShot), memory, retrieved, question)),
	}
	o.debug.dump("Answer request", messages)

	completion, err := o.llm.Complete(ctx, messages)
	if err != nil {
		return "", domain.NewUpstreamError("llm", err)
	}
	text := strings.TrimSpace(completion.Text)
	if text == "" {
		o.logger.Warn("Empty answer from model, deflecting", zap.String("role_id", role.ID))
		return deflection, nil
	}
	return text, nil
}

// generateTransfer asks the requesting role to hand over. The unpolished
// template line is used when the model fails.
func (o *Orchestrator) generateTransfer(ctx context.Context, role, bestRole *entities.RoleProfile, repeated bool, memory string) string {
	line := TransitionLine(bestRole.Name, repeated)
	messages := []repositories.ChatMessage{
		repositories.SystemMessage(o.opts.Templates.TransferPrompt(role, bestRole.Name)),
		repositories.UserMessage(requestBlock(transferRequest(line), memory)),
	}
	o.debug.dump("Transfer request", messages)

	completion, err := o.llm.Complete(ctx, messages)
	if err != nil {
		o.logger.Warn("Transfer line generation failed, using template", zap.Error(err))
		return line
	}
	if text := strings.TrimSpace(completion.Text); text != "" {
		return text
	}
	return line
}
