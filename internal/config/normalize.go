package config

import (
	"regexp"
	"strings"
)

const DefaultGroupID = "default"

var (
	validGroupRe  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	invalidGroup  = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
	edgeSeparator = regexp.MustCompile(`^[-_]+|[-_]+$`)
)

// NormalizeGroupID turns user input into a group id usable in storage keys
// and query parameters:
//   - at most 64 characters of [A-Za-z0-9_-], case preserved
//   - runs of other characters become "-"
//   - leading and trailing separators are stripped
//   - an empty result becomes "default"
func NormalizeGroupID(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return DefaultGroupID
	}
	if validGroupRe.MatchString(trimmed) {
		return trimmed
	}

	result := invalidGroup.ReplaceAllString(trimmed, "-")
	result = edgeSeparator.ReplaceAllString(result, "")
	if len(result) > 64 {
		result = strings.TrimRight(result[:64], "-_")
	}
	if result == "" {
		return DefaultGroupID
	}
	return result
}
