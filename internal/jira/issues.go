package jira

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stagehandlabs/stagehand/internal/adf"
)

// Issue is the normalized view of a Jira issue the agent works with.
type Issue struct {
	Key         string
	Summary     string
	Description string
	Status      string
	IssueType   string
	Priority    string
	Assignee    string
	Reporter    string
	Labels      []string
}

// rawIssue mirrors the REST wire shape before normalization.
type rawIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description adf.Node        `json:"description"`
		Status      struct{ Name string } `json:"status"`
		IssueType   struct{ Name string } `json:"issuetype"`
		Priority    struct{ Name string } `json:"priority"`
		Assignee    *User           `json:"assignee"`
		Reporter    *User           `json:"reporter"`
		Labels      []string        `json:"labels"`
	} `json:"fields"`
}

func (r rawIssue) normalize() Issue {
	iss := Issue{
		Key:         r.Key,
		Summary:     r.Fields.Summary,
		Description: adf.PlainText(r.Fields.Description.Content),
		Status:      r.Fields.Status.Name,
		IssueType:   r.Fields.IssueType.Name,
		Priority:    r.Fields.Priority.Name,
		Labels:      r.Fields.Labels,
	}
	if r.Fields.Assignee != nil {
		iss.Assignee = r.Fields.Assignee.DisplayName
	}
	if r.Fields.Reporter != nil {
		iss.Reporter = r.Fields.Reporter.DisplayName
	}
	return iss
}

// GetIssue fetches one issue by key.
func (c *Client) GetIssue(ctx context.Context, issueKey string) (Issue, error) {
	var raw rawIssue
	path := "/rest/api/3/issue/" + url.PathEscape(issueKey)
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return Issue{}, fmt.Errorf("fetching issue %s: %w", issueKey, err)
	}
	return raw.normalize(), nil
}

// IssueContext bundles an issue with its comments, for the
// aggregate-context tool.
type IssueContext struct {
	Issue    Issue
	Comments []CommentText
}

// CommentText is a comment flattened to plain text.
type CommentText struct {
	ID     string
	Author string
	Text   string
}

// GetIssueContext fetches an issue together with all its comments,
// flattened for model consumption.
func (c *Client) GetIssueContext(ctx context.Context, issueKey string) (IssueContext, error) {
	issue, err := c.GetIssue(ctx, issueKey)
	if err != nil {
		return IssueContext{}, err
	}

	var page struct {
		Comments []Comment `json:"comments"`
	}
	path := fmt.Sprintf("/rest/api/3/issue/%s/comment?maxResults=100", url.PathEscape(issueKey))
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return IssueContext{}, fmt.Errorf("fetching comments for %s: %w", issueKey, err)
	}

	ic := IssueContext{Issue: issue}
	for _, cm := range page.Comments {
		ic.Comments = append(ic.Comments, CommentText{
			ID:     cm.ID,
			Author: cm.Author.DisplayName,
			Text:   adf.PlainText(cm.Body),
		})
	}
	return ic, nil
}

// Project is a Jira project reference.
type Project struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ListProjects returns the projects visible to the service account.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var page struct {
		Values []Project `json:"values"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/project/search?maxResults=100", nil, &page); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return page.Values, nil
}

// SearchIssues runs a JQL query and returns the matching issues.
func (c *Client) SearchIssues(ctx context.Context, jql string, maxResults int) ([]Issue, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	var page struct {
		Issues []rawIssue `json:"issues"`
	}
	path := fmt.Sprintf("/rest/api/3/search/jql?jql=%s&maxResults=%d&fields=summary,description,status,issuetype,priority,assignee,reporter,labels",
		url.QueryEscape(jql), maxResults)
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}
	issues := make([]Issue, 0, len(page.Issues))
	for _, raw := range page.Issues {
		issues = append(issues, raw.normalize())
	}
	return issues, nil
}

// CreateIssue creates an issue and returns its key. An empty projectKey
// falls back to the client's default project.
func (c *Client) CreateIssue(ctx context.Context, projectKey, issueType, summary, description string) (string, error) {
	if projectKey == "" {
		projectKey = c.projectKey
	}
	if projectKey == "" {
		return "", fmt.Errorf("no project key given and no default project configured")
	}
	if issueType == "" {
		issueType = "Task"
	}

	fields := map[string]any{
		"project":   map[string]any{"key": projectKey},
		"issuetype": map[string]any{"name": issueType},
		"summary":   summary,
	}
	if description != "" {
		fields["description"] = textDoc(description)
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issue", map[string]any{"fields": fields}, &created); err != nil {
		return "", fmt.Errorf("creating issue: %w", err)
	}
	return created.Key, nil
}

// UpdateIssue applies field updates to an issue. Supported fields: summary,
// description (plain text, wrapped in ADF), labels, priority, assignee
// (account id). Unknown field names are rejected so the model gets a clear
// error instead of a silent no-op.
func (c *Client) UpdateIssue(ctx context.Context, issueKey string, updates map[string]any) error {
	fields := map[string]any{}
	for name, value := range updates {
		switch name {
		case "summary", "labels":
			fields[name] = value
		case "description":
			text, _ := value.(string)
			fields[name] = textDoc(text)
		case "priority":
			fields[name] = map[string]any{"name": value}
		case "assignee":
			fields[name] = map[string]any{"accountId": value}
		default:
			return fmt.Errorf("unsupported field %q (supported: summary, description, labels, priority, assignee)", name)
		}
	}
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}

	path := "/rest/api/3/issue/" + url.PathEscape(issueKey)
	if err := c.do(ctx, http.MethodPut, path, map[string]any{"fields": fields}, nil); err != nil {
		return fmt.Errorf("updating issue %s: %w", issueKey, err)
	}
	return nil
}

// Transition is an available workflow transition.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   struct {
		Name string `json:"name"`
	} `json:"to"`
}

// ListTransitions returns the workflow transitions currently available on
// an issue.
func (c *Client) ListTransitions(ctx context.Context, issueKey string) ([]Transition, error) {
	var page struct {
		Transitions []Transition `json:"transitions"`
	}
	path := fmt.Sprintf("/rest/api/3/issue/%s/transitions", url.PathEscape(issueKey))
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, fmt.Errorf("listing transitions for %s: %w", issueKey, err)
	}
	return page.Transitions, nil
}

// ApplyTransition moves an issue through the named or id-referenced
// transition. The name match is case-insensitive.
func (c *Client) ApplyTransition(ctx context.Context, issueKey, idOrName string) error {
	transitions, err := c.ListTransitions(ctx, issueKey)
	if err != nil {
		return err
	}

	var id string
	for _, tr := range transitions {
		if tr.ID == idOrName || strings.EqualFold(tr.Name, idOrName) {
			id = tr.ID
			break
		}
	}
	if id == "" {
		names := make([]string, len(transitions))
		for i, tr := range transitions {
			names[i] = tr.Name
		}
		return fmt.Errorf("transition %q not available on %s (available: %s)", idOrName, issueKey, strings.Join(names, ", "))
	}

	path := fmt.Sprintf("/rest/api/3/issue/%s/transitions", url.PathEscape(issueKey))
	payload := map[string]any{"transition": map[string]any{"id": id}}
	if err := c.do(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("applying transition on %s: %w", issueKey, err)
	}
	return nil
}

// LinkIssues creates a link of the given type (e.g. "Relates", "Blocks")
// between two issues.
func (c *Client) LinkIssues(ctx context.Context, inwardKey, outwardKey, linkType string) error {
	if linkType == "" {
		linkType = "Relates"
	}
	payload := map[string]any{
		"type":         map[string]any{"name": linkType},
		"inwardIssue":  map[string]any{"key": inwardKey},
		"outwardIssue": map[string]any{"key": outwardKey},
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/3/issueLink", payload, nil); err != nil {
		return fmt.Errorf("linking %s to %s: %w", inwardKey, outwardKey, err)
	}
	return nil
}
