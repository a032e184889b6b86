package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stagehandlabs/stagehand/internal/convkey"
	"github.com/stagehandlabs/stagehand/internal/jira"
	"github.com/stagehandlabs/stagehand/internal/session"
)

// JiraAPI is the tracker surface the Jira tool family needs. Implemented by
// *jira.Client.
type JiraAPI interface {
	GetIssue(ctx context.Context, issueKey string) (jira.Issue, error)
	GetIssueContext(ctx context.Context, issueKey string) (jira.IssueContext, error)
	ListProjects(ctx context.Context) ([]jira.Project, error)
	SearchIssues(ctx context.Context, jql string, maxResults int) ([]jira.Issue, error)
	CreateIssue(ctx context.Context, projectKey, issueType, summary, description string) (string, error)
	UpdateIssue(ctx context.Context, issueKey string, updates map[string]any) error
	ListTransitions(ctx context.Context, issueKey string) ([]jira.Transition, error)
	ApplyTransition(ctx context.Context, issueKey, idOrName string) error
	LinkIssues(ctx context.Context, inwardKey, outwardKey, linkType string) error
	FindUsers(ctx context.Context, query string) ([]jira.User, error)
	AddComment(ctx context.Context, issueKey, text string) (string, error)
	ReplyWithMention(ctx context.Context, issueKey, accountID, text string) (string, error)
}

// jiraTools builds the tracker tool family for a conversation whose context
// names a Jira issue. The reply tool is bound to the conversation's issue
// and requester; everything else takes explicit issue keys so the model can
// work across issues.
func jiraTools(api JiraAPI, rec session.Record, st *turnState) []Tool {
	return []Tool{
		{
			Name: "jira_reply",
			Description: "Post the final answer as a comment on the current Jira issue, mentioning the requester. " +
				"Call this exactly once, at the end, with the complete response.",
			Schema: obj(map[string]any{
				"text": str("The complete reply text."),
			}, "text"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					Text string `json:"text"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if st.replied {
					return "", fmt.Errorf("reply already posted on %s; jira_reply can only be used once per turn", rec.JiraIssueKey)
				}
				id, err := api.ReplyWithMention(ctx, rec.JiraIssueKey, rec.RequesterID, args.Text)
				if err != nil {
					return "", err
				}
				st.replied = true
				return jsonResult(map[string]string{"commentId": id, "issueKey": rec.JiraIssueKey})
			},
		},
		{
			Name:        "jira_add_comment",
			Description: "Add a plain comment to any Jira issue. Does not notify the requester; use jira_reply for the final answer.",
			Schema: obj(map[string]any{
				"issue_key": str("Issue key, e.g. PROJ-42."),
				"text":      str("Comment text."),
			}, "issue_key", "text"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					IssueKey string `json:"issue_key"`
					Text     string `json:"text"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				id, err := api.AddComment(ctx, args.IssueKey, args.Text)
				if err != nil {
					return "", err
				}
				return jsonResult(map[string]string{"commentId": id})
			},
		},
		{
			Name:        "jira_get_issue",
			Description: "Fetch a Jira issue by key or by browse URL.",
			Schema: obj(map[string]any{
				"issue": str("Issue key (PROJ-42) or a Jira URL containing one."),
			}, "issue"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					Issue string `json:"issue"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				key := args.Issue
				if strings.Contains(key, "/") {
					extracted, err := convkey.IssueKeyFromURL(key)
					if err != nil {
						return "", fmt.Errorf("no issue key found in %q: %w", key, err)
					}
					key = extracted
				}
				issue, err := api.GetIssue(ctx, strings.ToUpper(key))
				if err != nil {
					return "", err
				}
				return jsonResult(issue)
			},
		},
		{
			Name:        "jira_issue_context",
			Description: "Fetch a Jira issue together with all of its comments, flattened to plain text.",
			Schema: obj(map[string]any{
				"issue_key": str("Issue key, e.g. PROJ-42."),
			}, "issue_key"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					IssueKey string `json:"issue_key"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				ic, err := api.GetIssueContext(ctx, args.IssueKey)
				if err != nil {
					return "", err
				}
				return jsonResult(ic)
			},
		},
		{
			Name:        "jira_find_user",
			Description: "Search Jira users by display name or email. Returns account ids usable for assignment.",
			Schema: obj(map[string]any{
				"query": str("Name or email fragment."),
			}, "query"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					Query string `json:"query"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				users, err := api.FindUsers(ctx, args.Query)
				if err != nil {
					return "", err
				}
				return jsonResult(users)
			},
		},
		{
			Name:        "jira_list_projects",
			Description: "List the Jira projects visible to the agent.",
			Schema:      obj(map[string]any{}),
			Run: func(ctx context.Context, _ json.RawMessage) (string, error) {
				projects, err := api.ListProjects(ctx)
				if err != nil {
					return "", err
				}
				return jsonResult(projects)
			},
		},
		{
			Name:        "jira_search_issues",
			Description: "Search Jira issues with a JQL query.",
			Schema: obj(map[string]any{
				"jql":         str("JQL query, e.g. 'project = PROJ AND status = \"In Progress\"'."),
				"max_results": integer("Maximum issues to return (default 50)."),
			}, "jql"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					JQL        string `json:"jql"`
					MaxResults int    `json:"max_results"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				issues, err := api.SearchIssues(ctx, args.JQL, args.MaxResults)
				if err != nil {
					return "", err
				}
				return jsonResult(issues)
			},
		},
		{
			Name:        "jira_create_issue",
			Description: "Create a Jira issue. Omitting project_key uses the configured default project.",
			Schema: obj(map[string]any{
				"project_key": str("Project key; optional when a default is configured."),
				"issue_type":  str("Issue type name (default Task)."),
				"summary":     str("One-line summary."),
				"description": str("Plain-text description."),
			}, "summary"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					ProjectKey  string `json:"project_key"`
					IssueType   string `json:"issue_type"`
					Summary     string `json:"summary"`
					Description string `json:"description"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				key, err := api.CreateIssue(ctx, args.ProjectKey, args.IssueType, args.Summary, args.Description)
				if err != nil {
					return "", err
				}
				return jsonResult(map[string]string{"issueKey": key})
			},
		},
		{
			Name: "jira_update_issue",
			Description: "Update fields on a Jira issue. Supported fields: summary, description, labels, " +
				"priority (name), assignee (account id).",
			Schema: obj(map[string]any{
				"issue_key": str("Issue key."),
				"fields":    map[string]any{"type": "object", "description": "Field name to new value."},
			}, "issue_key", "fields"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					IssueKey string         `json:"issue_key"`
					Fields   map[string]any `json:"fields"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := api.UpdateIssue(ctx, args.IssueKey, args.Fields); err != nil {
					return "", err
				}
				return "updated " + args.IssueKey, nil
			},
		},
		{
			Name:        "jira_list_transitions",
			Description: "List the workflow transitions currently available on a Jira issue.",
			Schema: obj(map[string]any{
				"issue_key": str("Issue key."),
			}, "issue_key"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					IssueKey string `json:"issue_key"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				transitions, err := api.ListTransitions(ctx, args.IssueKey)
				if err != nil {
					return "", err
				}
				return jsonResult(transitions)
			},
		},
		{
			Name:        "jira_transition_issue",
			Description: "Move a Jira issue through a workflow transition, by transition name or id.",
			Schema: obj(map[string]any{
				"issue_key":  str("Issue key."),
				"transition": str("Transition name (case-insensitive) or id."),
			}, "issue_key", "transition"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					IssueKey   string `json:"issue_key"`
					Transition string `json:"transition"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := api.ApplyTransition(ctx, args.IssueKey, args.Transition); err != nil {
					return "", err
				}
				return fmt.Sprintf("applied %q on %s", args.Transition, args.IssueKey), nil
			},
		},
		{
			Name:        "jira_link_issues",
			Description: "Link two Jira issues, e.g. with link type 'Relates' or 'Blocks'.",
			Schema: obj(map[string]any{
				"inward_key":  str("Issue on the inward side of the link."),
				"outward_key": str("Issue on the outward side of the link."),
				"link_type":   str("Link type name (default Relates)."),
			}, "inward_key", "outward_key"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					InwardKey  string `json:"inward_key"`
					OutwardKey string `json:"outward_key"`
					LinkType   string `json:"link_type"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := api.LinkIssues(ctx, args.InwardKey, args.OutwardKey, args.LinkType); err != nil {
					return "", err
				}
				return fmt.Sprintf("linked %s to %s", args.InwardKey, args.OutwardKey), nil
			},
		},
	}
}
