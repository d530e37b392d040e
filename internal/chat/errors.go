package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrTurnInFlight is returned by SendMessage while another turn is running.
var ErrTurnInFlight = errors.New("chat: a turn is already in flight")

// DescribeError turns an agent failure into a short message safe to show.
// Raw API payloads are never exposed.
func DescribeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timed out. Please try again."
	}
	if errors.Is(err, context.Canceled) {
		return "Request cancelled."
	}

	raw := err.Error()
	lower := strings.ToLower(raw)

	if isContextOverflow(lower) {
		return "Context overflow: the conversation is too large for this model. Clear the history and try again."
	}
	if containsAny(lower, "rate limit", "rate_limit", "too many requests", "429", "quota exceeded", "resource_exhausted") {
		return "API rate limit reached. Please try again later."
	}
	if strings.Contains(lower, "overloaded") || containsAny(lower, "503", "service unavailable") {
		return "The agent service is temporarily unavailable. Please try again in a moment."
	}
	if containsAny(lower, "invalid api key", "unauthorized", "forbidden", "authentication", "401", "403") {
		return "Authentication error. Check the configured API token."
	}
	if containsAny(lower, "timeout", "timed out", "deadline exceeded") {
		return "Request timed out. Please try again."
	}
	if containsAny(lower, "connection refused", "no such host", "connection reset") {
		return "Cannot reach the agent service."
	}

	slog.Warn("chat: unclassified agent error", "error", raw)
	return "Sorry, something went wrong processing your message. Please try again."
}

func isContextOverflow(lower string) bool {
	return containsAny(lower,
		"request_too_large",
		"context length exceeded",
		"maximum context length",
		"prompt is too long",
		"exceeds model context window",
	) || (strings.Contains(lower, "context") &&
		containsAny(lower, "overflow", "too large", "too long", "exceeded"))
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
