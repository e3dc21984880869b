// Package validate applies the two-stage answer policy check: deterministic
// rules first, an LLM review only when the rules fail.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wakamiya-lab/grantbot/internal/domain"
	"github.com/wakamiya-lab/grantbot/internal/openai"
)

// UnknownMarker is the literal an answer must carry when it has no sources:
// an honest "unknown" is acceptable, an unsourced claim is not.
const UnknownMarker = "不明"

// Rule violation identifiers, surfaced in traces.
const (
	ViolationNoEvidence = "根拠なし回答"
	ViolationTooLong    = "長すぎ"
	// ReasonParseError marks an unparseable LLM review, which fails closed.
	ReasonParseError = "llm_validator_parse_error"
)

const reviewerSystem = "あなたは回答レビュワーです。方針に適合するかを判定し、JSONで返します。温度0。"

const reviewerPromptFormat = "方針:\n" +
	"- テーマは補助金/助成制度。対象外の話題は不可\n" +
	"- 根拠に基づく。根拠が不足なら『不明』と明記\n" +
	"- 個人情報や推測は不可\n" +
	"出力: {\"ok\":true|false,\"reasons\":[\"...\"]}（日本語）\n\n" +
	"質問: %s\n回答: %s"

// ChatCompleter is the completion gateway the LLM stage depends on.
type ChatCompleter interface {
	Chat(ctx context.Context, req openai.ChatRequest) (openai.ChatResult, error)
}

// Validator accepts a draft when the rule stage passes, or failing that,
// when the LLM policy stage independently passes.
type Validator struct {
	chat           ChatCompleter
	model          string
	maxAnswerChars int
}

func NewValidator(chat ChatCompleter, model string, maxAnswerChars int) *Validator {
	if maxAnswerChars <= 0 {
		maxAnswerChars = 1200
	}
	return &Validator{chat: chat, model: model, maxAnswerChars: maxAnswerChars}
}

// Validate runs both stages. The returned outcome carries the violated rule
// identifiers and, when the LLM stage ran, its reasons.
func (v *Validator) Validate(ctx context.Context, query, answer string, sources []domain.Source) (domain.ValidationOutcome, error) {
	violations := v.ruleStage(answer, sources)
	if len(violations) == 0 {
		return domain.ValidationOutcome{Pass: true, RuleViolations: []string{}}, nil
	}

	ok, reasons, err := v.llmStage(ctx, query, answer)
	if err != nil {
		return domain.ValidationOutcome{}, err
	}
	return domain.ValidationOutcome{
		Pass:           ok,
		RuleViolations: violations,
		LLMReasons:     reasons,
	}, nil
}

// ruleStage is deterministic: an unsourced answer must admit 不明, and
// answers must stay under the character ceiling (counted in runes).
func (v *Validator) ruleStage(answer string, sources []domain.Source) []string {
	var violations []string
	if len(sources) == 0 && !strings.Contains(answer, UnknownMarker) {
		violations = append(violations, ViolationNoEvidence)
	}
	if len([]rune(answer)) > v.maxAnswerChars {
		violations = append(violations, ViolationTooLong)
	}
	return violations
}

type reviewerOutput struct {
	OK      bool     `json:"ok"`
	Reasons []string `json:"reasons"`
}

// llmStage asks the completion service, at zero temperature, to judge topic
// adherence, grounding, and absence of personal data or speculation. A
// completion-service failure propagates; an unparseable review fails closed.
func (v *Validator) llmStage(ctx context.Context, query, answer string) (bool, []string, error) {
	result, err := v.chat.Chat(ctx, openai.ChatRequest{
		System:      reviewerSystem,
		User:        fmt.Sprintf(reviewerPromptFormat, query, answer),
		Model:       v.model,
		Temperature: 0,
		MaxTokens:   64,
	})
	if err != nil {
		return false, nil, err
	}

	var out reviewerOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Text)), &out); err != nil {
		return false, []string{ReasonParseError}, nil
	}
	if out.Reasons == nil {
		out.Reasons = []string{}
	}
	return out.OK, out.Reasons, nil
}
