package webhook

import (
	"strings"
	"unicode"
)

// IsSelf reports whether a sender login is the agent's own account.
// GitHub App accounts comment as "<name>[bot]", so both spellings match.
func IsSelf(login, self string) bool {
	if login == "" || self == "" {
		return false
	}
	return strings.EqualFold(login, self) || strings.EqualFold(login, self+"[bot]")
}

// ContainsNameToken reports whether text addresses the agent by name: a
// case-insensitive whole-word match, so "stagehand" and "@stagehand" hit
// while "stagehands" and "my-stagehand-fork" do not.
func ContainsNameToken(text, token string) bool {
	if token == "" {
		return false
	}
	lowText := strings.ToLower(text)
	lowToken := strings.ToLower(token)

	for i := 0; ; {
		j := strings.Index(lowText[i:], lowToken)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(lowToken)
		if boundaryBefore(lowText, start) && boundaryAfter(lowText, end) {
			return true
		}
		i = start + 1
	}
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	return !isWordChar(rune(s[idx-1]))
}

func boundaryAfter(s string, idx int) bool {
	if idx >= len(s) {
		return true
	}
	return !isWordChar(rune(s[idx]))
}

// isWordChar treats letters, digits, hyphens, and underscores as part of a
// name, so token matches inside longer identifiers don't count.
func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}
