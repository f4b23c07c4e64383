// Package prompt implements the prompt builder (C8): composing the
// two-message [system, user] array the LLM client consumes, following
// the section-ordering and escaping rules of the conversation
// orchestration pipeline. The section-concatenation shape is grounded
// on the teacher's Gateway.buildSystemPrompt (strings.Builder,
// blank-line-joined optional blocks).
package prompt

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/myclaw/internal/contextbuilder"
	"github.com/stellarlinkco/myclaw/internal/convlog"
	"github.com/stellarlinkco/myclaw/internal/persona"
)

// Message is one entry of the [system, user] array handed to the LLM.
type Message struct {
	Role    string
	Content string
}

// DynamicStyleParams blends a persona's baseline with the current
// mode/intimacy/energy signals, as derived by the reply pipeline.
type DynamicStyleParams struct {
	Tone                     string
	SlangLevel               float64
	IntimacyLevel            float64
	Verbosity                float64
	MultiUtterancePreference float64
}

// Input bundles everything needed to build the two messages.
type Input struct {
	Persona    persona.Profile
	Style      DynamicStyleParams
	Context    contextbuilder.Context
	TargetTurn *convlog.TurnRecord
	TargetText string
}

const instructionBlock = `[INSTRUCTION]
1. 只回复 TARGET 中的内容，HISTORICAL 和 NEW_WINDOW 仅作为背景参考。
2. 使用 HISTORICAL/NEW_WINDOW 理解上下文，不要在回复中复述它们。
3. 严格遵守 STYLE 的语气和表达约束。
4. 如果需要分段发送，最多使用 3 个 <brk> 分隔的片段；否则只输出一段内容，不要换行。`

// Build produces the [system, user] message array for in.
func Build(in Input) []Message {
	system := buildSystemMessage(in.Persona)
	user := buildUserMessage(in)
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func buildSystemMessage(p persona.Profile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "你是 %s, %s\n", p.Name, p.Description)
	fmt.Fprintf(&sb, "人设风格：%s\n", p.Tone)
	sb.WriteString("语言约束：禁止AI腔、讲大道理、格式化、分点、括号动作")
	for _, c := range p.Constraints {
		sb.WriteString("\n")
		sb.WriteString(c)
	}
	return sb.String()
}

func buildUserMessage(in Input) string {
	sections := []string{
		instructionBlock,
		styleBlock(in.Style),
		summaryBlock(in.Context.TopicSummary),
		memoryBlock(in.Context.LongTermMemory),
		historicalBlock(in.Context),
		newWindowBlock(in.Context),
		targetBlock(in.TargetTurn, in.TargetText),
	}

	var parts []string
	for _, s := range sections {
		if strings.TrimSpace(s) == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

func styleBlock(s DynamicStyleParams) string {
	var fields []string
	if s.Tone != "" {
		fields = append(fields, fmt.Sprintf("tone=%s", s.Tone))
	}
	if s.SlangLevel != 0 {
		fields = append(fields, fmt.Sprintf("slang=%.2f", s.SlangLevel))
	}
	if s.IntimacyLevel != 0 {
		fields = append(fields, fmt.Sprintf("intimacy=%.2f", s.IntimacyLevel))
	}
	if len(fields) == 0 {
		return ""
	}
	return "[STYLE] " + strings.Join(fields, "; ")
}

func summaryBlock(summary string) string {
	if strings.TrimSpace(summary) == "" {
		return ""
	}
	return "[SUMMARY]\n" + summary
}

func memoryBlock(facts []string) string {
	if len(facts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("[MEMORY]\n")
	for i, f := range facts {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(f)
	}
	return sb.String()
}

// historicalBlock renders everything in ctx.RecentTurns before
// ctx.NewWindowStart; the rest belongs to NEW_WINDOW.
func historicalBlock(ctx contextbuilder.Context) string {
	start := ctx.NewWindowStart
	if start > len(ctx.RecentTurns) {
		start = len(ctx.RecentTurns)
	}
	turns := ctx.RecentTurns[:start]
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("[HISTORICAL]\n")
	for i, t := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(renderTurn(t))
	}
	return sb.String()
}

// newWindowBlock renders every turn from ctx.NewWindowStart onward: the
// full same-speaker burst since the last bot turn, not just its last
// message.
func newWindowBlock(ctx contextbuilder.Context) string {
	start := ctx.NewWindowStart
	if start < 0 {
		start = 0
	}
	if start > len(ctx.RecentTurns) {
		return ""
	}
	turns := ctx.RecentTurns[start:]
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("[NEW_WINDOW]\n")
	for i, t := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(renderTurn(t))
	}
	return sb.String()
}

func targetBlock(target *convlog.TurnRecord, targetText string) string {
	text := targetText
	if text == "" && target != nil {
		text = target.Content
	}
	if text == "" {
		return ""
	}
	return "[TARGET]\n" + escapeNewlines(text)
}

func renderTurn(t convlog.TurnRecord) string {
	name := t.UserName
	if t.Role == "bot" {
		name = "你"
	} else if name == "" {
		name = t.UserID
	}
	text := escapeNewlines(t.Content)
	if t.MentionsBot && !strings.HasPrefix(text, "@你 ") {
		text = "@你 " + text
	}
	return fmt.Sprintf("%s: %s", name, text)
}

func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}
