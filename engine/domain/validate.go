package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxQuestionRunes bounds the text sent to the embedding provider. Visitor
// questions and KB entries are short; anything longer is a caller bug.
const maxQuestionRunes = 8192

// ValidateQuestion checks free text destined for the embedding provider.
func ValidateQuestion(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NewValidationError("question", text, ErrEmptyQuestion)
	}
	if utf8.RuneCountInString(trimmed) > maxQuestionRunes {
		return NewValidationError("question", truncate(trimmed, 32)+"...", ErrQuestionTooLong)
	}
	return nil
}

// truncate returns at most n leading runes of s, never splitting a rune.
func truncate(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// ValidateChatbotID checks a tenant key.
func ValidateChatbotID(id string) error {
	if strings.TrimSpace(id) == "" {
		return NewValidationError("chatbot_id", id, ErrEmptyChatbotID)
	}
	return nil
}

// ValidateTopK rejects non-positive result counts before any network call.
func ValidateTopK(topK int) error {
	if topK <= 0 {
		return NewValidationError("top_k", fmt.Sprintf("%d", topK), ErrInvalidTopK)
	}
	return nil
}

// ValidateQAPair checks a knowledge-base entry before it is synced.
func ValidateQAPair(qa QAPair) error {
	if strings.TrimSpace(qa.ID) == "" {
		return NewValidationError("id", qa.ID, ErrEmptyQAID)
	}
	if err := ValidateChatbotID(qa.ChatbotID); err != nil {
		return err
	}
	return ValidateQuestion(qa.Question)
}
