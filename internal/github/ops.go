package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v68/github"
)

// Repo is a repository summary.
type Repo struct {
	FullName      string
	Description   string
	DefaultBranch string
	Private       bool
	OpenIssues    int
}

// Issue is an issue summary.
type Issue struct {
	Number int
	Title  string
	Body   string
	State  string
	User   string
	Labels []string
}

// PR is a pull request summary.
type PR struct {
	Number  int
	Title   string
	Body    string
	State   string
	Draft   bool
	HeadRef string
	HeadSHA string
	BaseRef string
	HTMLURL string
	User    string
}

// Comment is an issue or review comment.
type Comment struct {
	ID   int64
	Body string
	User string
	Path string
}

// Review is a pull request review.
type Review struct {
	ID    int64
	State string
	Body  string
	User  string
}

// CheckRun is a CI check run.
type CheckRun struct {
	ID         int64
	Name       string
	Status     string
	Conclusion string
	HeadSHA    string
	HTMLURL    string
}

// WorkflowRun is an Actions workflow run.
type WorkflowRun struct {
	ID         int64
	Name       string
	Status     string
	Conclusion string
	HeadSHA    string
	HTMLURL    string
}

// GetRepo fetches a repository.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (Repo, error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return Repo{}, wrapErr("fetching repository", err)
	}
	return Repo{
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		DefaultBranch: r.GetDefaultBranch(),
		Private:       r.GetPrivate(),
		OpenIssues:    r.GetOpenIssuesCount(),
	}, nil
}

// GetIssue fetches one issue.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (Issue, error) {
	iss, _, err := c.gh.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return Issue{}, wrapErr("fetching issue", err)
	}
	return issueFromGH(iss), nil
}

// ListIssues lists open issues in a repository.
func (c *Client) ListIssues(ctx context.Context, owner, repo, state string) ([]Issue, error) {
	if state == "" {
		state = "open"
	}
	raw, _, err := c.gh.Issues.ListByRepo(ctx, owner, repo, &gh.IssueListByRepoOptions{
		State:       state,
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, wrapErr("listing issues", err)
	}
	var issues []Issue
	for _, iss := range raw {
		if iss.IsPullRequest() {
			continue
		}
		issues = append(issues, issueFromGH(iss))
	}
	return issues, nil
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string) (Issue, error) {
	iss, _, err := c.gh.Issues.Create(ctx, owner, repo, &gh.IssueRequest{
		Title: gh.Ptr(title),
		Body:  gh.Ptr(body),
	})
	if err != nil {
		return Issue{}, wrapErr("creating issue", err)
	}
	return issueFromGH(iss), nil
}

// UpdateIssue edits an issue's title, body, or state. Empty fields are left
// untouched.
func (c *Client) UpdateIssue(ctx context.Context, owner, repo string, number int, title, body, state string) (Issue, error) {
	req := &gh.IssueRequest{}
	if title != "" {
		req.Title = gh.Ptr(title)
	}
	if body != "" {
		req.Body = gh.Ptr(body)
	}
	if state != "" {
		req.State = gh.Ptr(state)
	}
	iss, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, req)
	if err != nil {
		return Issue{}, wrapErr("updating issue", err)
	}
	return issueFromGH(iss), nil
}

// CommentOnIssue posts a comment on an issue or pull request.
func (c *Client) CommentOnIssue(ctx context.Context, owner, repo string, number int, body string) (Comment, error) {
	cm, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return Comment{}, wrapErr("posting comment", err)
	}
	return Comment{ID: cm.GetID(), Body: cm.GetBody(), User: cm.GetUser().GetLogin()}, nil
}

// ListComments lists issue comments on an issue or pull request.
func (c *Client) ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	raw, _, err := c.gh.Issues.ListComments(ctx, owner, repo, number, &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, wrapErr("listing comments", err)
	}
	comments := make([]Comment, 0, len(raw))
	for _, cm := range raw {
		comments = append(comments, Comment{ID: cm.GetID(), Body: cm.GetBody(), User: cm.GetUser().GetLogin()})
	}
	return comments, nil
}

// GetPR fetches one pull request.
func (c *Client) GetPR(ctx context.Context, owner, repo string, number int) (PR, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return PR{}, wrapErr("fetching pull request", err)
	}
	return prFromGH(pr), nil
}

// NewPR describes a pull request to create.
type NewPR struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo string, newPR NewPR) (PR, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &gh.NewPullRequest{
		Title: gh.Ptr(newPR.Title),
		Body:  gh.Ptr(newPR.Body),
		Head:  gh.Ptr(newPR.Head),
		Base:  gh.Ptr(newPR.Base),
		Draft: gh.Ptr(newPR.Draft),
	})
	if err != nil {
		return PR{}, wrapErr("creating pull request", err)
	}
	return prFromGH(pr), nil
}

// UpdatePullRequest edits a pull request's title, body, or state. Empty
// fields are left untouched.
func (c *Client) UpdatePullRequest(ctx context.Context, owner, repo string, number int, title, body, state string) (PR, error) {
	req := &gh.PullRequest{}
	if title != "" {
		req.Title = gh.Ptr(title)
	}
	if body != "" {
		req.Body = gh.Ptr(body)
	}
	if state != "" {
		req.State = gh.Ptr(state)
	}
	pr, _, err := c.gh.PullRequests.Edit(ctx, owner, repo, number, req)
	if err != nil {
		return PR{}, wrapErr("updating pull request", err)
	}
	return prFromGH(pr), nil
}

// ListPRFiles lists the files changed in a pull request.
func (c *Client) ListPRFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	raw, _, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, wrapErr("listing pull request files", err)
	}
	files := make([]string, 0, len(raw))
	for _, f := range raw {
		files = append(files, f.GetFilename())
	}
	return files, nil
}

// ListReviews lists reviews on a pull request.
func (c *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	raw, _, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, number, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, wrapErr("listing reviews", err)
	}
	reviews := make([]Review, 0, len(raw))
	for _, r := range raw {
		reviews = append(reviews, Review{ID: r.GetID(), State: r.GetState(), Body: r.GetBody(), User: r.GetUser().GetLogin()})
	}
	return reviews, nil
}

// ListReviewComments lists inline review comments on a pull request.
func (c *Client) ListReviewComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	raw, _, err := c.gh.PullRequests.ListComments(ctx, owner, repo, number, &gh.PullRequestListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, wrapErr("listing review comments", err)
	}
	comments := make([]Comment, 0, len(raw))
	for _, cm := range raw {
		comments = append(comments, Comment{ID: cm.GetID(), Body: cm.GetBody(), User: cm.GetUser().GetLogin(), Path: cm.GetPath()})
	}
	return comments, nil
}

// GetFileContents reads a file from the repository at the given ref
// (empty ref means the default branch).
func (c *Client) GetFileContents(ctx context.Context, owner, repo, path, ref string) (string, error) {
	opts := &gh.RepositoryContentGetOptions{}
	if ref != "" {
		opts.Ref = ref
	}
	file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return "", wrapErr("fetching file contents", err)
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding file contents: %w", err)
	}
	return content, nil
}

// SearchCode searches code in a repository. The query is combined with a
// repo: qualifier.
func (c *Client) SearchCode(ctx context.Context, owner, repo, query string) ([]string, error) {
	q := fmt.Sprintf("%s repo:%s/%s", query, owner, repo)
	result, _, err := c.gh.Search.Code(ctx, q, &gh.SearchOptions{ListOptions: gh.ListOptions{PerPage: 50}})
	if err != nil {
		return nil, wrapErr("searching code", err)
	}
	paths := make([]string, 0, len(result.CodeResults))
	for _, r := range result.CodeResults {
		paths = append(paths, r.GetPath())
	}
	return paths, nil
}

// ListCheckRuns lists CI check runs for a git ref.
func (c *Client) ListCheckRuns(ctx context.Context, owner, repo, ref string) ([]CheckRun, error) {
	result, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, wrapErr("listing check runs", err)
	}
	runs := make([]CheckRun, 0, len(result.CheckRuns))
	for _, cr := range result.CheckRuns {
		runs = append(runs, CheckRun{
			ID:         cr.GetID(),
			Name:       cr.GetName(),
			Status:     cr.GetStatus(),
			Conclusion: cr.GetConclusion(),
			HeadSHA:    cr.GetHeadSHA(),
			HTMLURL:    cr.GetHTMLURL(),
		})
	}
	return runs, nil
}

// ListWorkflowRuns lists recent Actions workflow runs for a branch.
func (c *Client) ListWorkflowRuns(ctx context.Context, owner, repo, branch string) ([]WorkflowRun, error) {
	opts := &gh.ListWorkflowRunsOptions{ListOptions: gh.ListOptions{PerPage: 30}}
	if branch != "" {
		opts.Branch = branch
	}
	result, _, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
	if err != nil {
		return nil, wrapErr("listing workflow runs", err)
	}
	runs := make([]WorkflowRun, 0, len(result.WorkflowRuns))
	for _, wr := range result.WorkflowRuns {
		runs = append(runs, WorkflowRun{
			ID:         wr.GetID(),
			Name:       wr.GetName(),
			Status:     wr.GetStatus(),
			Conclusion: wr.GetConclusion(),
			HeadSHA:    wr.GetHeadSHA(),
			HTMLURL:    wr.GetHTMLURL(),
		})
	}
	return runs, nil
}

func issueFromGH(iss *gh.Issue) Issue {
	out := Issue{
		Number: iss.GetNumber(),
		Title:  iss.GetTitle(),
		Body:   iss.GetBody(),
		State:  iss.GetState(),
		User:   iss.GetUser().GetLogin(),
	}
	for _, l := range iss.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}

func prFromGH(pr *gh.PullRequest) PR {
	out := PR{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		State:   pr.GetState(),
		Draft:   pr.GetDraft(),
		HTMLURL: pr.GetHTMLURL(),
		User:    pr.GetUser().GetLogin(),
	}
	if pr.Head != nil {
		out.HeadRef = pr.Head.GetRef()
		out.HeadSHA = pr.Head.GetSHA()
	}
	if pr.Base != nil {
		out.BaseRef = pr.Base.GetRef()
	}
	return out
}
