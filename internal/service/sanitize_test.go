package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talkline-io/talkline-api/internal/dto"
)

func TestValidateMessageContentEscapesAngleBrackets(t *testing.T) {
	content, err := ValidateMessageContent("<script>alert('x')</script>", 0)
	require.NoError(t, err)
	require.Equal(t, "&lt;script&gt;alert('x')&lt;/script&gt;", content)
}

func TestValidateMessageContentLeavesAmpersandAlone(t *testing.T) {
	content, err := ValidateMessageContent("fish & chips", 0)
	require.NoError(t, err)
	require.Equal(t, "fish & chips", content)
}

func TestValidateMessageContentTrims(t *testing.T) {
	content, err := ValidateMessageContent("  hello  ", 0)
	require.NoError(t, err)
	require.Equal(t, "hello", content)
}

func TestValidateMessageContentRejectsEmpty(t *testing.T) {
	_, err := ValidateMessageContent("   \t\n ", 0)
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestValidateMessageContentLengthBound(t *testing.T) {
	_, err := ValidateMessageContent(strings.Repeat("a", 1001), 0)
	require.ErrorIs(t, err, ErrMessageTooLong)

	content, err := ValidateMessageContent(strings.Repeat("a", 1000), 0)
	require.NoError(t, err)
	require.Len(t, content, 1000)
}

func TestValidateMessageContentBoundAppliesAfterTrim(t *testing.T) {
	padded := "  " + strings.Repeat("a", 1000) + "  "
	content, err := ValidateMessageContent(padded, 0)
	require.NoError(t, err)
	require.Len(t, content, 1000)
}

func TestScrubVisitorInfoStripsMarkup(t *testing.T) {
	info := ScrubVisitorInfo(nil, dto.VisitorInfo{
		Name:      "<b>Alice</b>",
		Email:     " alice@example.com ",
		PageURL:   "https://example.com/pricing",
		PageTitle: "<script>Pricing</script>",
	})

	require.Equal(t, "Alice", info.Name)
	require.Equal(t, "alice@example.com", info.Email)
	require.Equal(t, "https://example.com/pricing", info.PageURL)
	require.Equal(t, "", info.PageTitle)
}
