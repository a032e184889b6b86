// Package convkey derives stable conversation keys from external identities
// and parses those identities back out of keys and URLs. A conversation key
// correlates every webhook event and chat turn belonging to one exchange, so
// derivation must be deterministic: the same issue or pull request always
// maps to the same key.
package convkey

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Kind distinguishes the two GitHub conversation families.
type Kind string

const (
	KindPR    Kind = "pr"
	KindIssue Kind = "issue"
)

const (
	jiraPrefix  = "jira-"
	ghPRPrefix  = "gh-pr~"
	ghIssPrefix = "gh-issue~"
)

// PlatformRef identifies a GitHub pull request or issue.
type PlatformRef struct {
	Kind   Kind
	Owner  string
	Repo   string
	Number int
}

// JiraKey returns the conversation key for a Jira issue, e.g. "jira-ABC-123".
func JiraKey(issueKey string) string {
	return jiraPrefix + issueKey
}

// PlatformKey returns the conversation key for a GitHub pull request or
// issue, e.g. "gh-pr~octo~repo~42".
func PlatformKey(kind Kind, owner, repo string, number int) string {
	prefix := ghIssPrefix
	if kind == KindPR {
		prefix = ghPRPrefix
	}
	return fmt.Sprintf("%s%s~%s~%d", prefix, owner, repo, number)
}

// DecodePlatformKey parses a platform conversation key back into its parts.
// It returns false for anything malformed: wrong prefix, wrong segment
// count, non-numeric or non-positive number. It never panics.
func DecodePlatformKey(key string) (PlatformRef, bool) {
	var kind Kind
	var rest string
	switch {
	case strings.HasPrefix(key, ghPRPrefix):
		kind = KindPR
		rest = strings.TrimPrefix(key, ghPRPrefix)
	case strings.HasPrefix(key, ghIssPrefix):
		kind = KindIssue
		rest = strings.TrimPrefix(key, ghIssPrefix)
	default:
		return PlatformRef{}, false
	}

	parts := strings.Split(rest, "~")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return PlatformRef{}, false
	}
	number, err := strconv.Atoi(parts[2])
	if err != nil || number <= 0 {
		return PlatformRef{}, false
	}

	return PlatformRef{Kind: kind, Owner: parts[0], Repo: parts[1], Number: number}, true
}

// ParseError reports that no Jira issue key could be derived from a URL.
// This is a hard error: without an issue key there is no conversation.
type ParseError struct {
	URL string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no issue key found in URL %q", e.URL)
}

// issueKeyPattern matches a Jira issue key inside a URL path segment:
// two or more leading letters/digits, a hyphen, then digits.
var issueKeyPattern = regexp.MustCompile(`(^|/)([A-Za-z][A-Za-z0-9]+-[0-9]+)($|/|\?)`)

// IssueKeyFromURL extracts a Jira issue key from an issue URL. The
// "selectedIssue" query parameter wins when present (board/backlog links
// carry the key there, not in the path); otherwise the path is scanned for
// a key-shaped segment. The result is uppercased. Returns *ParseError when
// neither source yields a key.
func IssueKeyFromURL(rawURL string) (string, error) {
	if u, err := url.Parse(rawURL); err == nil {
		if selected := u.Query().Get("selectedIssue"); selected != "" {
			return strings.ToUpper(selected), nil
		}
	}

	m := issueKeyPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", &ParseError{URL: rawURL}
	}
	return strings.ToUpper(m[2]), nil
}
