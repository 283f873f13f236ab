package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/maverick/chatbot/server/domain"
	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

type callKind string

const (
	kindRewrite  callKind = "rewrite"
	kindCompact  callKind = "compact"
	kindTransfer callKind = "transfer"
	kindAnswer   callKind = "answer"
)

type reply struct {
	text string
	err  error
}

// scriptedLLM answers by call kind and records every request
type scriptedLLM struct {
	mu      sync.Mutex
	replies map[callKind]reply
	calls   map[callKind][][]repositories.ChatMessage
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		replies: map[callKind]reply{},
		calls:   map[callKind][][]repositories.ChatMessage{},
	}
}

func classify(messages []repositories.ChatMessage) callKind {
	system := messages[0].Content
	user := messages[len(messages)-1].Content
	switch {
	case strings.Contains(system, "查询改写器"):
		return kindRewrite
	case strings.Contains(system, "会话记忆提炼器"):
		return kindCompact
	case strings.HasPrefix(user, "<user_request>"):
		return kindTransfer
	default:
		return kindAnswer
	}
}

func (s *scriptedLLM) Complete(ctx context.Context, messages []repositories.ChatMessage) (repositories.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind := classify(messages)
	s.calls[kind] = append(s.calls[kind], messages)
	r := s.replies[kind]
	return repositories.Completion{Text: r.text}, r.err
}

func (s *scriptedLLM) lastUserBlock(kind callKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := s.calls[kind]
	if len(calls) == 0 {
		return ""
	}
	last := calls[len(calls)-1]
	return last[len(last)-1].Content
}

type fakeRetriever struct {
	byRole  map[string][]entities.RetrievedSegment
	best    string
	err     error
	queries []string
}

func (f *fakeRetriever) SearchByRole(ctx context.Context, query, roleID string, maxResults int, minScore float64) ([]entities.RetrievedSegment, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	segs := f.byRole[roleID]
	if len(segs) > maxResults {
		segs = segs[:maxResults]
	}
	return append([]entities.RetrievedSegment{}, segs...), nil
}

func (f *fakeRetriever) FindBestRoleID(ctx context.Context, query string, maxResults int, minScore float64) (string, bool, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return "", false, f.err
	}
	return f.best, f.best != "", nil
}

type fakeRoles map[string]*entities.RoleProfile

func (f fakeRoles) GetByID(id string) (*entities.RoleProfile, bool) {
	r, ok := f[id]
	return r, ok
}

func (f fakeRoles) List() []*entities.RoleProfile {
	out := make([]*entities.RoleProfile, 0, len(f))
	for _, r := range f {
		out = append(out, r)
	}
	return out
}

type countingRecorder struct {
	stages []string
}

func (c *countingRecorder) RecordFallback(stage string) {
	c.stages = append(c.stages, stage)
}

var (
	zhuge = &entities.RoleProfile{
		ID:            "zhuge",
		Name:          "诸葛亮",
		Series:        "三国演义",
		PersonaPrompt: "蜀汉丞相",
		Examples: []entities.Example{
			{User: "先生何人", AI: "亮乃南阳一布衣"},
		},
	}
	guanyu = &entities.RoleProfile{ID: "guanyu", Name: "关羽", Series: "三国演义"}
	roles  = fakeRoles{"zhuge": zhuge, "guanyu": guanyu}
)

func seg(text, roleID string) entities.RetrievedSegment {
	return entities.RetrievedSegment{Text: text, Metadata: map[string]string{entities.MetadataKeyRoleID: roleID}}
}

func TestRewriteFallback(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindRewrite] = reply{err: errors.New("model down")}
	recorder := &countingRecorder{}
	rewriter := NewRewriter(llm, zaptest.NewLogger(t))
	rewriter.recorder = recorder

	longMemory := strings.Repeat("忆", 70) + "尾"

	tests := []struct {
		name      string
		utterance string
		lastQuery string
		memory    string
		want      string
	}{
		{"memory wins", "烦请问下", "昨天天气", "用户关心天气", "用户关心天气 烦请问下"},
		{"memory tail in runes", "呢", "", longMemory, tail(longMemory, 60) + " 呢"},
		{"last query", "那明天呢", "今天天气", "", "今天天气 那明天呢"},
		{"no context", "你好", "", "", "你好"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rewriter.Rewrite(context.Background(), tt.utterance, tt.lastQuery, tt.memory)
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	if len(recorder.stages) != len(tests) {
		t.Errorf("Expected %d recorded fallbacks, got %d", len(tests), len(recorder.stages))
	}
}

func TestRewriteEmptyReplyFallsBack(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindRewrite] = reply{text: "   "}
	rewriter := NewRewriter(llm, zaptest.NewLogger(t))

	got := rewriter.Rewrite(context.Background(), "烦请问下", "昨天天气", "")
	if got != "昨天天气 烦请问下" {
		t.Errorf("Expected fallback, got %q", got)
	}
}

func TestRewriteStripsQuotes(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{`"诸葛亮的出师表讲了什么"`, "诸葛亮的出师表讲了什么"},
		{"“关羽过五关的经过”", "关羽过五关的经过"},
		{"“只剥一层”", "只剥一层"},
		{"没有引号", "没有引号"},
		{`"不配对”`, `"不配对”`},
	}

	for _, tt := range tests {
		llm := newScriptedLLM()
		llm.replies[kindRewrite] = reply{text: tt.reply}
		rewriter := NewRewriter(llm, zaptest.NewLogger(t))

		if got := rewriter.Rewrite(context.Background(), "它讲了什么", "", ""); got != tt.want {
			t.Errorf("Reply %q: expected %q, got %q", tt.reply, tt.want, got)
		}
	}
}

func TestRewritePromptCarriesContext(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindRewrite] = reply{text: "出师表的内容"}
	rewriter := NewRewriter(llm, zaptest.NewLogger(t))

	rewriter.Rewrite(context.Background(), "它讲了什么", "出师表", "用户在问诸葛亮")

	block := llm.lastUserBlock(kindRewrite)
	for _, want := range []string{"<memory>\n用户在问诸葛亮\n</memory>", "<last_query>\n出师表\n</last_query>", "<current_utterance>\n它讲了什么\n</current_utterance>"} {
		if !strings.Contains(block, want) {
			t.Errorf("Expected rewrite block to contain %q, got %q", want, block)
		}
	}
}

func TestCompactFallback(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindCompact] = reply{err: errors.New("model down")}
	compactor := NewCompactor(llm, zaptest.NewLogger(t))

	longAnswer := strings.Repeat("答", 45)

	tests := []struct {
		name      string
		old       string
		utterance string
		aiText    string
		want      string
	}{
		{"first turn", "", "你好", "你好呀", "用户:你好 | AI:你好呀"},
		{"appends to old", "用户喜欢三国", "你好", "你好呀", "用户喜欢三国 用户:你好 | AI:你好呀"},
		{"clips answer", "", "讲讲", longAnswer, "用户:讲讲 | AI:" + strings.Repeat("答", 40)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compactor.Compact(context.Background(), tt.old, tt.utterance, tt.aiText)
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCompactUsesModelSummary(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindCompact] = reply{text: " 用户喜欢三国；关注诸葛亮 "}
	compactor := NewCompactor(llm, zaptest.NewLogger(t))

	got := compactor.Compact(context.Background(), "用户喜欢三国", "诸葛亮是谁", "卧龙先生")
	if got != "用户喜欢三国；关注诸葛亮" {
		t.Errorf("Expected model summary, got %q", got)
	}

	block := llm.lastUserBlock(kindCompact)
	if !strings.Contains(block, "用户: 诸葛亮是谁\nAI: 卧龙先生") {
		t.Errorf("Expected new turn in compaction block, got %q", block)
	}
}

func newTestOrchestrator(t *testing.T, llm *scriptedLLM, retriever *fakeRetriever) *Orchestrator {
	opts := DefaultOptions()
	opts.DebugPrompts = true
	opts.DebugMaxLogLen = 80
	return NewOrchestrator(llm, retriever, roles, zaptest.NewLogger(t), opts)
}

func TestHandleTurnAnswersFromOwnRole(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindRewrite] = reply{text: "出师表的内容"}
	llm.replies[kindAnswer] = reply{text: "臣本布衣，躬耕于南阳。"}
	llm.replies[kindCompact] = reply{text: "用户关注出师表"}
	retriever := &fakeRetriever{byRole: map[string][]entities.RetrievedSegment{
		"zhuge": {seg("先帝创业未半", "zhuge"), seg("臣本布衣", "zhuge")},
	}}
	o := newTestOrchestrator(t, llm, retriever)

	result, err := o.HandleTurn(context.Background(), TurnInput{
		Utterance: "  出师表讲了什么  ",
		Role:      zhuge,
		State:     entities.ConversationState{TopicSummary: "三国", LastEscalatedRoleID: "guanyu"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Outcome != entities.TurnOutcomeAnswered {
		t.Errorf("Expected answered outcome, got %s", result.Outcome)
	}
	if result.TransferText != "" || result.AnsweringRoleID != "" {
		t.Errorf("Expected no escalation fields, got %+v", result)
	}
	if result.FinalText != "臣本布衣，躬耕于南阳。" {
		t.Errorf("Unexpected final text %q", result.FinalText)
	}

	want := entities.ConversationState{
		LastQuery:     "出师表讲了什么",
		TopicSummary:  "三国",
		MemorySummary: "用户关注出师表",
	}
	if result.State != want {
		t.Errorf("Expected state %+v, got %+v", want, result.State)
	}

	block := llm.lastUserBlock(kindAnswer)
	for _, part := range []string{
		"<few_shot_examples>\n用户: 先生何人\n诸葛亮: 亮乃南阳一布衣\n\n</few_shot_examples>",
		"[片段 1]\n先帝创业未半\n\n[片段 2]\n臣本布衣\n\n",
		"<user_question>\n问题：出师表的内容\n</user_question>",
	} {
		if !strings.Contains(block, part) {
			t.Errorf("Expected answer block to contain %q, got %q", part, block)
		}
	}
	if strings.Contains(block, "<conversation_memory>") {
		t.Error("Expected no memory block when memory is empty")
	}

	for _, q := range retriever.queries {
		if q != "出师表的内容" {
			t.Errorf("Expected retrieval with rewritten query, got %q", q)
		}
	}
}

func TestHandleTurnNoKnowledge(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindRewrite] = reply{err: errors.New("model down")}
	llm.replies[kindAnswer] = reply{text: "我不清楚。"}
	llm.replies[kindCompact] = reply{err: errors.New("model down")}
	o := newTestOrchestrator(t, llm, &fakeRetriever{})

	result, err := o.HandleTurn(context.Background(), TurnInput{Utterance: "你是谁", Role: zhuge})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Outcome != entities.TurnOutcomeNoKnowledge {
		t.Errorf("Expected no_knowledge outcome, got %s", result.Outcome)
	}
	if result.TransferText != "" {
		t.Errorf("Expected no transfer text, got %q", result.TransferText)
	}
	if result.AnsweringRoleID != "" || result.State.LastEscalatedRoleID != "" {
		t.Errorf("Expected no escalation fields, got %+v", result)
	}
	if result.FinalText != "我不清楚。" {
		t.Errorf("Expected deflection, got %q", result.FinalText)
	}
	if result.State.MemorySummary != "用户:你是谁 | AI:我不清楚。" {
		t.Errorf("Expected fallback memory, got %q", result.State.MemorySummary)
	}
	if result.State.TopicSummary != "你是谁" || result.State.LastQuery != "你是谁" {
		t.Errorf("Unexpected state %+v", result.State)
	}

	block := llm.lastUserBlock(kindAnswer)
	if !strings.Contains(block, "用户说：你是谁") || !strings.Contains(block, "我不清楚。") {
		t.Errorf("Expected direct reply instruction, got %q", block)
	}
	if len(llm.calls[kindTransfer]) != 0 {
		t.Error("Expected no transfer generation")
	}
}

func TestHandleTurnBlankAnswerDeflects(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindRewrite] = reply{text: "出师表"}
	llm.replies[kindAnswer] = reply{text: " \n "}
	llm.replies[kindCompact] = reply{text: "用户问出师表"}
	retriever := &fakeRetriever{byRole: map[string][]entities.RetrievedSegment{"zhuge": {seg("出师表", "zhuge")}}}
	o := newTestOrchestrator(t, llm, retriever)

	result, err := o.HandleTurn(context.Background(), TurnInput{Utterance: "出师表", Role: zhuge})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.FinalText != "我不清楚。" {
		t.Errorf("Expected deflection for blank answer, got %q", result.FinalText)
	}
}

func TestHandleTurnEmptyUtterance(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindAnswer] = reply{text: "请讲。"}
	o := newTestOrchestrator(t, llm, &fakeRetriever{})

	result, err := o.HandleTurn(context.Background(), TurnInput{Utterance: "", Role: zhuge})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.FinalText != "请讲。" {
		t.Errorf("Expected a reply to an empty utterance, got %q", result.FinalText)
	}
}

func TestHandleTurnEscalates(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindRewrite] = reply{text: "过五关斩六将"}
	llm.replies[kindTransfer] = reply{text: "此事还请云长来说。"}
	llm.replies[kindAnswer] = reply{text: "某当年过五关斩六将。"}
	llm.replies[kindCompact] = reply{text: "用户问过五关"}
	retriever := &fakeRetriever{
		byRole: map[string][]entities.RetrievedSegment{"guanyu": {seg("过五关", "guanyu")}},
		best:   "guanyu",
	}
	o := newTestOrchestrator(t, llm, retriever)

	result, err := o.HandleTurn(context.Background(), TurnInput{
		Utterance: "过五关斩六将是谁",
		Role:      zhuge,
		State:     entities.ConversationState{MemorySummary: "用户喜欢三国"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if result.Outcome != entities.TurnOutcomeEscalated {
		t.Errorf("Expected escalated outcome, got %s", result.Outcome)
	}
	if result.TransferText != "此事还请云长来说。" {
		t.Errorf("Unexpected transfer text %q", result.TransferText)
	}
	if result.AnsweringRoleID != "guanyu" || result.State.LastEscalatedRoleID != "guanyu" {
		t.Errorf("Expected guanyu to answer, got %+v", result)
	}
	if result.State.MemorySummary != "用户问过五关" {
		t.Errorf("Expected escalated answer to update memory, got %q", result.State.MemorySummary)
	}

	transfer := llm.lastUserBlock(kindTransfer)
	if !strings.Contains(transfer, TransitionLine("关羽", false)) {
		t.Errorf("Expected first-time template, got %q", transfer)
	}
	if !strings.Contains(transfer, "<conversation_memory>\n用户喜欢三国\n</conversation_memory>") {
		t.Errorf("Expected memory in transfer request, got %q", transfer)
	}

	answerCalls := llm.calls[kindAnswer]
	system := answerCalls[len(answerCalls)-1][0].Content
	if !strings.Contains(system, "关羽") {
		t.Errorf("Expected answer in best role persona, got %q", system)
	}
}

func TestHandleTurnRepeatedEscalation(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindRewrite] = reply{text: "过五关"}
	llm.replies[kindTransfer] = reply{err: errors.New("model down")}
	llm.replies[kindAnswer] = reply{text: "正是某。"}
	retriever := &fakeRetriever{
		byRole: map[string][]entities.RetrievedSegment{"guanyu": {seg("过五关", "guanyu")}},
		best:   "guanyu",
	}
	o := newTestOrchestrator(t, llm, retriever)

	state := entities.ConversationState{}
	for i := 0; i < 2; i++ {
		result, err := o.HandleTurn(context.Background(), TurnInput{Utterance: "过五关", Role: zhuge, State: state})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		state = result.State

		want := TransitionLine("关羽", i == 1)
		if result.TransferText != want {
			t.Errorf("Turn %d: expected transfer %q, got %q", i, want, result.TransferText)
		}
		if !strings.Contains(llm.lastUserBlock(kindTransfer), want) {
			t.Errorf("Turn %d: expected prompt to use %q", i, want)
		}
	}
}

func TestHandleTurnFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("retrieval failure propagates", func(t *testing.T) {
		llm := newScriptedLLM()
		o := newTestOrchestrator(t, llm, &fakeRetriever{err: domain.NewUpstreamError("vector store", boom)})

		_, err := o.HandleTurn(context.Background(), TurnInput{Utterance: "你好", Role: zhuge})
		if !errors.Is(err, domain.ErrUpstreamUnavailable) {
			t.Errorf("Expected upstream error, got %v", err)
		}
		if len(llm.calls[kindCompact]) != 0 {
			t.Error("Expected no memory update on failed turn")
		}
	})

	t.Run("answer failure propagates", func(t *testing.T) {
		llm := newScriptedLLM()
		llm.replies[kindAnswer] = reply{err: boom}
		retriever := &fakeRetriever{byRole: map[string][]entities.RetrievedSegment{"zhuge": {seg("a", "zhuge")}}}
		o := newTestOrchestrator(t, llm, retriever)

		_, err := o.HandleTurn(context.Background(), TurnInput{Utterance: "你好", Role: zhuge})
		if !errors.Is(err, domain.ErrUpstreamUnavailable) || !errors.Is(err, boom) {
			t.Errorf("Expected wrapped upstream error, got %v", err)
		}
	})

	t.Run("missing role", func(t *testing.T) {
		o := newTestOrchestrator(t, newScriptedLLM(), &fakeRetriever{})
		if _, err := o.HandleTurn(context.Background(), TurnInput{Utterance: "你好"}); !errors.Is(err, domain.ErrRoleNotFound) {
			t.Errorf("Expected role not found, got %v", err)
		}
	})
}

func TestHandleTurnUnknownBestRoleIsNoKnowledge(t *testing.T) {
	llm := newScriptedLLM()
	llm.replies[kindAnswer] = reply{text: "我不清楚。"}
	o := newTestOrchestrator(t, llm, &fakeRetriever{best: "caocao"})

	result, err := o.HandleTurn(context.Background(), TurnInput{Utterance: "官渡之战", Role: zhuge})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Outcome != entities.TurnOutcomeNoKnowledge || result.AnsweringRoleID != "" {
		t.Errorf("Expected no_knowledge without escalation, got %+v", result)
	}
}

func TestTemplates(t *testing.T) {
	tpl := DefaultTemplates()

	system := tpl.SystemPrompt(zhuge)
	if !strings.Contains(system, "act like 诸葛亮 from 三国演义") || !strings.Contains(system, "蜀汉丞相") {
		t.Errorf("Expected persona placeholders filled, got %q", system)
	}
	if strings.Contains(system, "{{") {
		t.Errorf("Expected no unfilled placeholders, got %q", system)
	}

	transfer := tpl.TransferPrompt(zhuge, "关羽")
	if !strings.Contains(transfer, "关羽") || strings.Contains(transfer, "{{") {
		t.Errorf("Expected transfer placeholders filled, got %q", transfer)
	}
}

func TestFormatForLogTruncates(t *testing.T) {
	messages := []repositories.ChatMessage{repositories.UserMessage(strings.Repeat("字", 10))}

	got := formatForLog(messages, 4)
	if !strings.Contains(got, "字字字字...<truncated>") {
		t.Errorf("Expected truncated body, got %q", got)
	}

	got = formatForLog(messages, -1)
	if strings.Contains(got, "truncated") {
		t.Errorf("Expected full body, got %q", got)
	}
}
