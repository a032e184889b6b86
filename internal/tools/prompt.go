package tools

import (
	"fmt"
	"strings"

	"github.com/stagehandlabs/stagehand/internal/convkey"
	"github.com/stagehandlabs/stagehand/internal/session"
)

// SystemPrompt assembles the per-turn system prompt: a framing chosen from
// the conversation's resolved context, the context itself, and the fixed
// behavioral rules that hold regardless of surface.
func SystemPrompt(agentName string, rec session.Record, branchPrefix string) string {
	if branchPrefix == "" {
		branchPrefix = DefaultBranchPrefix
	}

	var b strings.Builder

	switch {
	case rec.HasJira():
		fmt.Fprintf(&b, "You are %s, an engineering assistant replying to a comment on Jira issue %s.\n",
			agentName, rec.JiraIssueKey)
		b.WriteString("Work the request to completion, then post your complete answer with jira_reply. " +
			"Post exactly one reply per request; use jira_add_comment only for intermediate notes on other issues.\n")
	case rec.HasGitHub() && rec.PlatformKind == convkey.KindPR:
		fmt.Fprintf(&b, "You are %s, an engineering assistant working on pull request %s/%s#%d.\n",
			agentName, rec.Owner, rec.Repo, rec.Number)
		b.WriteString("Address review feedback and failing checks directly: push fixes from the workspace when code " +
			"changes are needed, and answer with gh_comment when a written response suffices.\n")
	case rec.HasGitHub():
		fmt.Fprintf(&b, "You are %s, an engineering assistant working on issue %s/%s#%d.\n",
			agentName, rec.Owner, rec.Repo, rec.Number)
		b.WriteString("Investigate the issue and respond with gh_comment. When a fix is warranted, implement it in " +
			"the workspace and open a pull request.\n")
	default:
		fmt.Fprintf(&b, "You are %s, an engineering assistant.\n", agentName)
	}

	b.WriteString("\nConversation context:\n")
	if rec.HasJira() {
		fmt.Fprintf(&b, "- Jira issue: %s", rec.JiraIssueKey)
		if rec.JiraIssueURL != "" {
			fmt.Fprintf(&b, " (%s)", rec.JiraIssueURL)
		}
		b.WriteString("\n")
	}
	if rec.HasGitHub() {
		fmt.Fprintf(&b, "- Repository target: %s/%s #%d (%s)\n", rec.Owner, rec.Repo, rec.Number, rec.PlatformKind)
	}
	if rec.IsZero() {
		b.WriteString("- No prior context was resolved for this conversation.\n")
	}

	b.WriteString("\nRules:\n")
	fmt.Fprintf(&b, "- Git branches you create live under the %s namespace.\n", branchPrefix)
	b.WriteString("- Pull requests you open are drafts; a human decides when they are ready for review.\n")
	b.WriteString("- Initialize the workspace before running commands or touching files in it.\n")
	b.WriteString("- Never invent issue keys, repository names, or numbers; use the context above or look them up.\n")
	b.WriteString("- Keep replies concise and concrete: what you did, what you found, what remains.\n")

	return b.String()
}
