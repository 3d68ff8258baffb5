package types

import (
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Display defaults used when a participant omits a name
const (
	DefaultStudentName = "Student"
	DefaultTeacherName = "Teacher"
)

// IsValidIdentifier checks a client-supplied id (student resume id, option id).
// 1-64 characters, alphanumeric plus underscore/hyphen; covers UUIDs.
func IsValidIdentifier(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return identifierRegex.MatchString(id)
}

// IsValidRole checks if the role is teacher or student
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// IsValidCommandType checks if the command type is one of the inbound commands
func IsValidCommandType(commandType string) bool {
	switch commandType {
	case CommandTeacherJoin,
		CommandTeacherAskQuestion,
		CommandTeacherKickStudent,
		CommandTeacherRequestHistory,
		CommandStudentJoin,
		CommandStudentAnswer,
		CommandChatMessage:
		return true
	default:
		return false
	}
}

// Truncate cuts s to at most max runes
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// NormalizeName trims and caps a display name, falling back when it ends up empty
func NormalizeName(name string, max int, fallback string) string {
	trimmed := strings.TrimSpace(Truncate(strings.TrimSpace(name), max))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

// NormalizeChatContent trims and caps chat text; an empty result means "drop it"
func NormalizeChatContent(content string, max int) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	return Truncate(trimmed, max)
}

// ClampDuration turns a requested duration in seconds into whole seconds
// inside [min, max]. Zero, negative or non-finite input takes the default.
func ClampDuration(seconds float64, def, min, max time.Duration) int {
	requested := time.Duration(0)
	switch {
	case math.IsNaN(seconds) || seconds <= 0:
	case seconds >= max.Seconds():
		requested = max
	default:
		requested = time.Duration(seconds * float64(time.Second))
	}
	if requested <= 0 {
		requested = def
	}
	if requested < min {
		requested = min
	}
	if requested > max {
		requested = max
	}
	return int(requested / time.Second)
}
