package conversation

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/maverick/chatbot/server/domain/entities"
	"github.com/maverick/chatbot/server/domain/repositories"
)

// DefaultSystemTemplate is the role persona prompt used when no override is configured
const DefaultSystemTemplate = "I want you to act like {{character}} from {{series}}.\n" +
	"You are now cosplay {{character}}.\n" +
	"{{persona}}\n" +
	"If others' questions are related with the novel, please try to reuse the original lines from the novel.\n" +
	"I want you to respond and answer like {{character}} using the tone, manner and vocabulary {{character}} would use.\n" +
	"You must know all of the knowledge of {{character}}.\n" +
	"Do not output meta statements like '明白了/我会按照示例/你想问我什么/让我来/接下来'. " +
	"Never acknowledge instructions or examples; just respond directly in character with the final answer."

// DefaultTransferTemplate is the system prompt for the hand-over line
const DefaultTransferTemplate = "你是{{series}}中的{{character}}。{{persona}}\n" +
	"你需要把当前问题转交给{{best_role_name}}回答。" +
	"请用{{character}}的口吻说一句自然的过渡话，只输出这一句话，不要回答问题本身，不要解释。"

const (
	rewriteSystemPrompt = "你是查询改写器。基于给定的上下文记忆与上一轮问题，将本轮用户话语改写为“自包含、明确、可用于知识检索”的中文问题。" +
		"要求：只输出改写后的一个问题；需要解析指代/承接/比较；必要时从记忆或上一轮补全主语或限定词；" +
		"若无法确定语义则保留原问，不要编造；不超过30字。"

	compactSystemPrompt = "你是会话记忆提炼器，负责将已有摘要与最新一轮对话合并成更精炼、可复用的记忆。" +
		"只保留会影响后续对话的关键信息（用户偏好、长期目标、事实约束、命名实体、上下文锚点）；" +
		"删除寒暄与一次性细节；不得虚构；中文输出，不超过200字，短句用分号分隔。"
)

// Templates holds the persona prompt templates
type Templates struct {
	System   string
	Transfer string
}

// DefaultTemplates returns the built-in templates
func DefaultTemplates() Templates {
	return Templates{
		System:   DefaultSystemTemplate,
		Transfer: DefaultTransferTemplate,
	}
}

// LoadTemplates reads template overrides from disk. Empty paths keep the
// built-in defaults.
func LoadTemplates(systemPath, transferPath string) (Templates, error) {
	t := DefaultTemplates()
	if systemPath != "" {
		raw, err := os.ReadFile(systemPath)
		if err != nil {
			return t, fmt.Errorf("failed to read system prompt template: %w", err)
		}
		if s := strings.TrimSpace(string(raw)); s != "" {
			t.System = s
		}
	}
	if transferPath != "" {
		raw, err := os.ReadFile(transferPath)
		if err != nil {
			return t, fmt.Errorf("failed to read transfer prompt template: %w", err)
		}
		if s := strings.TrimSpace(string(raw)); s != "" {
			t.Transfer = s
		}
	}
	return t, nil
}

func fillPersona(tpl string, role *entities.RoleProfile) string {
	var name, series, persona string
	if role != nil {
		name, series, persona = role.Name, role.Series, role.PersonaPrompt
	}
	return strings.NewReplacer(
		"{{character}}", name,
		"{{series}}", series,
		"{{persona}}", persona,
	).Replace(tpl)
}

// SystemPrompt renders the persona prompt for role
func (t Templates) SystemPrompt(role *entities.RoleProfile) string {
	return fillPersona(t.System, role)
}

// TransferPrompt renders the hand-over prompt spoken by role about bestRoleName
func (t Templates) TransferPrompt(role *entities.RoleProfile, bestRoleName string) string {
	return strings.ReplaceAll(fillPersona(t.Transfer, role), "{{best_role_name}}", bestRoleName)
}

// TransitionLine is the hand-over sentence the model is asked to polish
func TransitionLine(bestRoleName string, repeated bool) string {
	if repeated {
		return "我再去请" + bestRoleName + "确认一下。"
	}
	return "我不太清楚，请" + bestRoleName + "来回答。"
}

func transferRequest(line string) string {
	return "生成一句过渡话：“" + line + "”要求自然口语、最多20字，可以根据规则润色。"
}

func directReplyRequest(utterance string) string {
	return "用户说：" + utterance + "\n" +
		"请用当前角色口吻直接给出最终回复（最多2句）：\n" +
		"- 若是寒暄/闲聊/不依赖外部知识的问题，请自然简短回应；\n" +
		"- 若涉及事实/历史/专业且无可靠资料，请直接说‘我不清楚。’，不要编造，也不要解释理由。"
}

// BuildContext labels segments in order for the retrieved_context block
func BuildContext(segments []entities.RetrievedSegment) string {
	var sb strings.Builder
	for i, s := range segments {
		sb.WriteString("[片段 ")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString("]\n")
		sb.WriteString(s.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func answerBlock(role *entities.RoleProfile, examples []entities.Example, memory, retrieved, question string) string {
	name := "AI"
	if role != nil {
		name = role.Name
	}

	var sb strings.Builder
	sb.WriteString("<few_shot_examples>\n")
	for _, ex := range examples {
		sb.WriteString("用户: " + ex.User + "\n")
		sb.WriteString(name + ": " + ex.AI + "\n\n")
	}
	sb.WriteString("</few_shot_examples>\n\n")

	if memory != "" {
		sb.WriteString("<conversation_memory>\n" + memory + "\n</conversation_memory>\n\n")
	}

	sb.WriteString("<retrieved_context>\n")
	if retrieved != "" {
		sb.WriteString(retrieved + "\n")
	}
	sb.WriteString("</retrieved_context>\n\n")

	sb.WriteString("<user_question>\n" + question + "\n</user_question>\n")
	return sb.String()
}

func requestBlock(request, memory string) string {
	block := "<user_request>\n" + request + "\n</user_request>\n"
	if memory != "" {
		block += "<conversation_memory>\n" + memory + "\n</conversation_memory>\n"
	}
	return block
}

func rewriteBlock(utterance, lastQuery, memory string) string {
	return "<memory>\n" + memory + "\n</memory>\n\n" +
		"<last_query>\n" + lastQuery + "\n</last_query>\n\n" +
		"<current_utterance>\n" + utterance + "\n</current_utterance>\n"
}

func compactBlock(oldSummary, utterance, aiText string) string {
	return "<existing_summary>\n" + oldSummary + "\n</existing_summary>\n\n" +
		"<new_turn>\n" +
		"用户: " + utterance + "\n" +
		"AI: " + aiText + "\n" +
		"</new_turn>\n"
}

// formatForLog renders messages for prompt debugging, truncating each body
// to maxLen runes when maxLen is positive
func formatForLog(messages []repositories.ChatMessage, maxLen int) string {
	var sb strings.Builder
	for i, m := range messages {
		text := m.Content
		if maxLen > 0 {
			if r := []rune(text); len(r) > maxLen {
				text = string(r[:maxLen]) + "...<truncated>"
			}
		}
		fmt.Fprintf(&sb, "[%d] %s:\n%s\n\n", i, m.Role, text)
	}
	return sb.String()
}
