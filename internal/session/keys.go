package session

import (
	"strings"

	"github.com/stagehandlabs/stagehand/internal/convkey"
)

// Store key layout. Jira records are written twice: under the conversation
// key and under an issue-key alias, so context survives even when the two
// diverge (an upstream-assigned conversation id instead of a derived one).
const (
	jiraMetaPrefix   = "jira-meta-"
	githubMetaPrefix = "gh-meta-"
)

// MetaKey returns the primary context-record key for a conversation key.
func MetaKey(conversationKey string) string {
	if strings.HasPrefix(conversationKey, "gh-") {
		return githubMetaPrefix + conversationKey
	}
	return jiraMetaPrefix + conversationKey
}

// JiraAliasKey returns the issue-key-derived alias under which Jira context
// records are additionally stored.
func JiraAliasKey(issueKey string) string {
	return jiraMetaPrefix + convkey.JiraKey(issueKey)
}
