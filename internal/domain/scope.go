package domain

// Scope labels returned by the classifier. Anything else coerces to UNSURE.
const (
	ScopeIn     = "IN"
	ScopeOut    = "OUT"
	ScopeUnsure = "UNSURE"
)

// ScopeDecision is the classifier verdict for one query. Produced once per
// request and never mutated afterwards. RawText and Model are diagnostic
// only and must not reach the end user.
type ScopeDecision struct {
	Label   string  `json:"label"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
	RawText string  `json:"-"`
	Model   string  `json:"-"`
	Usage   *Usage  `json:"-"`
}

// Usage is the token accounting reported by the completion service, absent
// when the service returns none.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ValidationOutcome is the two-stage validator verdict. LLMReasons is nil
// when the rule stage passed and the LLM stage never ran.
type ValidationOutcome struct {
	Pass           bool     `json:"pass"`
	RuleViolations []string `json:"rule"`
	LLMReasons     []string `json:"llm,omitempty"`
}
