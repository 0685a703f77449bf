package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ChatLimits bounds an inbound chat request.
type ChatLimits struct {
	MaxMessages     int
	MaxContentChars int
}

// DefaultChatLimits mirrors the server defaults.
func DefaultChatLimits() ChatLimits {
	return ChatLimits{MaxMessages: 50, MaxContentChars: 4000}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// CleanMessages defaults empty roles to user. Content is kept verbatim.
func CleanMessages(in []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(in))
	for i, m := range in {
		role := Role(strings.ToLower(strings.TrimSpace(string(m.Role))))
		if role == "" {
			role = RoleUser
		}
		out[i] = ChatMessage{Role: role, Content: m.Content}
	}
	return out
}

// ValidateChatRequest checks a cleaned message sequence against limits.
// All failures wrap ErrInvalidArgument.
func ValidateChatRequest(msgs []ChatMessage, limits ChatLimits) error {
	v := getValidator()
	if msgs == nil {
		return fmt.Errorf("%w: messages array is required", ErrInvalidArgument)
	}
	if err := v.Var(msgs, fmt.Sprintf("min=1,max=%d", limits.MaxMessages)); err != nil {
		if len(msgs) == 0 {
			return fmt.Errorf("%w: messages array must not be empty", ErrInvalidArgument)
		}
		return fmt.Errorf("%w: too many messages (max %d)", ErrInvalidArgument, limits.MaxMessages)
	}
	contentTag := fmt.Sprintf("max=%d", limits.MaxContentChars)
	for i, m := range msgs {
		if err := v.Var(string(m.Role), "required,oneof=user assistant system"); err != nil {
			return fmt.Errorf("%w: messages[%d].role %q is not allowed", ErrInvalidArgument, i, m.Role)
		}
		if err := v.Var(m.Content, contentTag); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				return fmt.Errorf("%w: messages[%d].content exceeds %d characters", ErrInvalidArgument, i, limits.MaxContentChars)
			}
			return fmt.Errorf("%w: messages[%d].content: %v", ErrInvalidArgument, i, err)
		}
	}
	return nil
}
