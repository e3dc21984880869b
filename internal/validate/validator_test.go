package validate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wakamiya-lab/grantbot/internal/domain"
	"github.com/wakamiya-lab/grantbot/internal/openai"
)

type MockChat struct {
	mock.Mock
}

func (m *MockChat) Chat(ctx context.Context, req openai.ChatRequest) (openai.ChatResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(openai.ChatResult), args.Error(1)
}

func someSources() []domain.Source {
	score := 0.9
	return []domain.Source{{Title: "a.pdf", Kind: domain.SourceKindDoc, Score: &score}}
}

func TestValidator_Validate_RulePassSkipsLLM(t *testing.T) {
	mockChat := new(MockChat)
	validator := NewValidator(mockChat, "", 1200)

	outcome, err := validator.Validate(context.Background(), "q", "根拠のある回答です。", someSources())

	require.NoError(t, err)
	assert.True(t, outcome.Pass)
	assert.Empty(t, outcome.RuleViolations)
	assert.Nil(t, outcome.LLMReasons)
	mockChat.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestValidator_Validate_UnsourcedUnknownIsAcceptable(t *testing.T) {
	mockChat := new(MockChat)
	validator := NewValidator(mockChat, "", 1200)

	outcome, err := validator.Validate(context.Background(), "q", "資料が不足のため不明です。", nil)

	require.NoError(t, err)
	assert.True(t, outcome.Pass)
	mockChat.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestValidator_Validate_UnsourcedClaimGoesToLLM(t *testing.T) {
	mockChat := new(MockChat)
	validator := NewValidator(mockChat, "", 1200)

	ctx := context.Background()
	mockChat.On("Chat", ctx, mock.MatchedBy(func(req openai.ChatRequest) bool {
		return req.Temperature == 0 && req.MaxTokens == 64
	})).Return(openai.ChatResult{Text: `{"ok":true,"reasons":[]}`}, nil)

	outcome, err := validator.Validate(ctx, "q", "断定的な回答。", nil)

	require.NoError(t, err)
	assert.True(t, outcome.Pass)
	assert.Equal(t, []string{ViolationNoEvidence}, outcome.RuleViolations)
	assert.Empty(t, outcome.LLMReasons)
	mockChat.AssertExpectations(t)
}

func TestValidator_Validate_LLMRejects(t *testing.T) {
	mockChat := new(MockChat)
	validator := NewValidator(mockChat, "", 1200)

	ctx := context.Background()
	mockChat.On("Chat", ctx, mock.Anything).
		Return(openai.ChatResult{Text: `{"ok":false,"reasons":["根拠不足"]}`}, nil)

	outcome, err := validator.Validate(ctx, "q", "断定的な回答。", nil)

	require.NoError(t, err)
	assert.False(t, outcome.Pass)
	assert.Equal(t, []string{"根拠不足"}, outcome.LLMReasons)
}

func TestValidator_Validate_UnparseableReviewFailsClosed(t *testing.T) {
	mockChat := new(MockChat)
	validator := NewValidator(mockChat, "", 1200)

	ctx := context.Background()
	mockChat.On("Chat", ctx, mock.Anything).
		Return(openai.ChatResult{Text: "問題ありません"}, nil)

	outcome, err := validator.Validate(ctx, "q", "断定的な回答。", nil)

	require.NoError(t, err)
	assert.False(t, outcome.Pass)
	assert.Equal(t, []string{ReasonParseError}, outcome.LLMReasons)
}

func TestValidator_Validate_LengthCountsRunes(t *testing.T) {
	mockChat := new(MockChat)
	validator := NewValidator(mockChat, "", 10)

	ctx := context.Background()
	mockChat.On("Chat", ctx, mock.Anything).
		Return(openai.ChatResult{Text: `{"ok":false,"reasons":["長い"]}`}, nil)

	// 11 runes, far more than 11 bytes.
	long := strings.Repeat("補", 11)
	outcome, err := validator.Validate(ctx, "q", long, someSources())

	require.NoError(t, err)
	assert.False(t, outcome.Pass)
	assert.Equal(t, []string{ViolationTooLong}, outcome.RuleViolations)

	// 10 runes is within the ceiling; no LLM call needed.
	outcome, err = validator.Validate(ctx, "q", strings.Repeat("補", 10), someSources())
	require.NoError(t, err)
	assert.True(t, outcome.Pass)
}

func TestValidator_Validate_ChatErrorPropagates(t *testing.T) {
	mockChat := new(MockChat)
	validator := NewValidator(mockChat, "", 1200)

	ctx := context.Background()
	mockChat.On("Chat", ctx, mock.Anything).
		Return(openai.ChatResult{}, errors.New("service down"))

	_, err := validator.Validate(ctx, "q", "断定的な回答。", nil)

	assert.Error(t, err)
}
