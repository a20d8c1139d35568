package service

import (
	"errors"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/talkline-io/talkline-api/internal/dto"
)

// MaxMessageLength bounds message content after trimming.
const MaxMessageLength = 1000

var (
	// ErrEmptyMessage rejects blank content after trimming.
	ErrEmptyMessage = errors.New("message content empty")
	// ErrMessageTooLong rejects content over the length bound.
	ErrMessageTooLong = errors.New("message content too long")
)

// Angle brackets are escaped so neither client executes markup. The widget
// renders the entities literally, so `&` must pass through untouched.
var angleEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

// ValidateMessageContent trims, bounds, and escapes chat content for
// persistence and broadcast.
func ValidateMessageContent(content string, maxLength int) (string, error) {
	if maxLength <= 0 {
		maxLength = MaxMessageLength
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if len(trimmed) > maxLength {
		return "", ErrMessageTooLong
	}

	return angleEscaper.Replace(trimmed), nil
}

// ScrubVisitorInfo strips markup out of visitor-supplied contact fields
// before they touch storage or an admin dashboard.
func ScrubVisitorInfo(policy *bluemonday.Policy, info dto.VisitorInfo) dto.VisitorInfo {
	if policy == nil {
		policy = bluemonday.StrictPolicy()
	}
	return dto.VisitorInfo{
		Name:      strings.TrimSpace(policy.Sanitize(info.Name)),
		Email:     strings.TrimSpace(info.Email),
		PageURL:   strings.TrimSpace(policy.Sanitize(info.PageURL)),
		PageTitle: strings.TrimSpace(policy.Sanitize(info.PageTitle)),
	}
}
