package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stagehandlabs/stagehand/internal/convkey"
)

// The footer is a machine-readable block appended to every composed user
// message, repeating the conversation identity in plain text. It is the
// fallback channel for context recovery: if the store misses, the most
// recent user message still carries everything needed to rebuild a Record.
//
// Line grammar (one field per line, order fixed, unknown lines ignored):
//
//	ISSUE_URL: <url>
//	MENTION_ACCOUNT_ID: <id>
//	TARGET: <owner>/<repo> #<number>
//	event: <provider event name>
const (
	footerIssueURL  = "ISSUE_URL:"
	footerAccountID = "MENTION_ACCOUNT_ID:"
	footerTarget    = "TARGET:"
	footerEvent     = "event:"
)

// EncodeFooter renders the footer block for a record. Only present fields
// are emitted. Returns "" when the record carries no identity at all.
func EncodeFooter(r Record, eventName string) string {
	var lines []string
	if r.JiraIssueURL != "" {
		lines = append(lines, footerIssueURL+" "+r.JiraIssueURL)
	}
	if r.RequesterID != "" {
		lines = append(lines, footerAccountID+" "+r.RequesterID)
	}
	if r.HasGitHub() {
		lines = append(lines, fmt.Sprintf("%s %s/%s #%d", footerTarget, r.Owner, r.Repo, r.Number))
	}
	if eventName != "" {
		lines = append(lines, footerEvent+" "+eventName)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

// ParseFooter scans free text for footer lines and returns whatever partial
// record they describe. It never fails; text without a footer yields a zero
// record. The event line disambiguates the platform kind: review and
// pull-request events mark the target as a PR, anything else as an issue.
func ParseFooter(text string) Record {
	var r Record
	var eventName string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, footerIssueURL):
			r.JiraIssueURL = strings.TrimSpace(strings.TrimPrefix(line, footerIssueURL))
			if key, err := convkey.IssueKeyFromURL(r.JiraIssueURL); err == nil {
				r.JiraIssueKey = key
			}
		case strings.HasPrefix(line, footerAccountID):
			r.RequesterID = strings.TrimSpace(strings.TrimPrefix(line, footerAccountID))
		case strings.HasPrefix(line, footerTarget):
			parseTarget(strings.TrimSpace(strings.TrimPrefix(line, footerTarget)), &r)
		case strings.HasPrefix(line, footerEvent):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, footerEvent))
		}
	}

	if r.HasGitHub() {
		r.PlatformKind = kindFromEvent(eventName)
	}
	return r
}

// parseTarget parses "owner/repo #42" into the record's platform fields.
// Malformed targets are ignored.
func parseTarget(s string, r *Record) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return
	}
	owner, repo, ok := strings.Cut(fields[0], "/")
	if !ok || owner == "" || repo == "" {
		return
	}
	numStr := strings.TrimPrefix(fields[1], "#")
	number, err := strconv.Atoi(numStr)
	if err != nil || number <= 0 {
		return
	}
	r.Owner = owner
	r.Repo = repo
	r.Number = number
}

// kindFromEvent maps a provider event name to the platform kind. Review and
// pull-request events concern a PR; a bare issue comment concerns an issue.
func kindFromEvent(eventName string) convkey.Kind {
	if strings.Contains(eventName, "pull_request") || strings.Contains(eventName, "review") || strings.Contains(eventName, "check_run") {
		return convkey.KindPR
	}
	return convkey.KindIssue
}
