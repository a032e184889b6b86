package tools

import (
	"github.com/stagehandlabs/stagehand/internal/session"
	"github.com/stagehandlabs/stagehand/internal/workspace"
)

// DefaultBranchPrefix is the branch namespace all agent-created pull
// requests must come from.
const DefaultBranchPrefix = "stagehand/"

// Composer assembles the tool set for one turn from the conversation's
// resolved context. Nil clients simply remove the corresponding family,
// which is how partially configured deployments degrade.
type Composer struct {
	Jira         JiraAPI
	GitHub       GitHubAPI
	Workspaces   Workspaces
	BranchPrefix string
}

// turnState is shared across a turn's tool closures: the single-shot reply
// flag and the workspace connection established by workspace_initialize.
type turnState struct {
	replied bool
	ws      *workspace.Connection
}

// Compose returns the tools for one turn. The date utility and the
// workspace family are always present; the Jira family requires a resolved
// tracker issue, the GitHub family a resolved repository target.
func (c *Composer) Compose(conversationKey string, rec session.Record) []Tool {
	prefix := c.BranchPrefix
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}

	st := &turnState{}
	out := []Tool{DateTool()}

	if c.Jira != nil && rec.HasJira() {
		out = append(out, jiraTools(c.Jira, rec, st)...)
	}
	if c.GitHub != nil && rec.HasGitHub() {
		out = append(out, githubTools(c.GitHub, rec, prefix)...)
	}
	if c.Workspaces != nil {
		out = append(out, workspaceTools(c.Workspaces, conversationKey, rec, st)...)
	}
	return out
}
