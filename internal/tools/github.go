package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stagehandlabs/stagehand/internal/github"
	"github.com/stagehandlabs/stagehand/internal/session"
)

// GitHubAPI is the platform surface the GitHub tool family needs.
// Implemented by *github.Client.
type GitHubAPI interface {
	GetRepo(ctx context.Context, owner, repo string) (github.Repo, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (github.Issue, error)
	ListIssues(ctx context.Context, owner, repo, state string) ([]github.Issue, error)
	CreateIssue(ctx context.Context, owner, repo, title, body string) (github.Issue, error)
	UpdateIssue(ctx context.Context, owner, repo string, number int, title, body, state string) (github.Issue, error)
	CommentOnIssue(ctx context.Context, owner, repo string, number int, body string) (github.Comment, error)
	ListComments(ctx context.Context, owner, repo string, number int) ([]github.Comment, error)
	GetPR(ctx context.Context, owner, repo string, number int) (github.PR, error)
	CreatePullRequest(ctx context.Context, owner, repo string, newPR github.NewPR) (github.PR, error)
	UpdatePullRequest(ctx context.Context, owner, repo string, number int, title, body, state string) (github.PR, error)
	ListPRFiles(ctx context.Context, owner, repo string, number int) ([]string, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]github.Review, error)
	ListReviewComments(ctx context.Context, owner, repo string, number int) ([]github.Comment, error)
	GetFileContents(ctx context.Context, owner, repo, path, ref string) (string, error)
	SearchCode(ctx context.Context, owner, repo, query string) ([]string, error)
	ListCheckRuns(ctx context.Context, owner, repo, ref string) ([]github.CheckRun, error)
	ListWorkflowRuns(ctx context.Context, owner, repo, branch string) ([]github.WorkflowRun, error)
}

// repoArgs is the owner/repo pair most GitHub tools take. Empty values fall
// back to the conversation's resolved repository.
type repoArgs struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

func (a *repoArgs) defaults(rec session.Record) error {
	if a.Owner == "" {
		a.Owner = rec.Owner
	}
	if a.Repo == "" {
		a.Repo = rec.Repo
	}
	if a.Owner == "" || a.Repo == "" {
		return fmt.Errorf("owner and repo are required (no repository in the conversation context)")
	}
	return nil
}

func repoProps(extra map[string]any) map[string]any {
	props := map[string]any{
		"owner": str("Repository owner; defaults to the conversation's repository."),
		"repo":  str("Repository name; defaults to the conversation's repository."),
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

// githubTools builds the GitHub tool family. The two pull request mutation
// tools are guarded: created pull requests are always drafts, and head
// branches must live under the agent's branch namespace.
func githubTools(api GitHubAPI, rec session.Record, branchPrefix string) []Tool {
	return []Tool{
		{
			Name:        "gh_get_repo",
			Description: "Fetch repository metadata: description, default branch, open issue count.",
			Schema:      obj(repoProps(nil)),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args repoArgs
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				r, err := api.GetRepo(ctx, args.Owner, args.Repo)
				if err != nil {
					return "", err
				}
				return jsonResult(r)
			},
		},
		{
			Name:        "gh_get_issue",
			Description: "Fetch one GitHub issue.",
			Schema: obj(repoProps(map[string]any{
				"number": integer("Issue number."),
			}), "number"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Number int `json:"number"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				iss, err := api.GetIssue(ctx, args.Owner, args.Repo, args.Number)
				if err != nil {
					return "", err
				}
				return jsonResult(iss)
			},
		},
		{
			Name:        "gh_list_issues",
			Description: "List issues in a repository (pull requests excluded).",
			Schema: obj(repoProps(map[string]any{
				"state": str("open, closed, or all (default open)."),
			})),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					State string `json:"state"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				issues, err := api.ListIssues(ctx, args.Owner, args.Repo, args.State)
				if err != nil {
					return "", err
				}
				return jsonResult(issues)
			},
		},
		{
			Name:        "gh_create_issue",
			Description: "Open a new GitHub issue.",
			Schema: obj(repoProps(map[string]any{
				"title": str("Issue title."),
				"body":  str("Issue body in Markdown."),
			}), "title"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Title string `json:"title"`
					Body  string `json:"body"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				iss, err := api.CreateIssue(ctx, args.Owner, args.Repo, args.Title, args.Body)
				if err != nil {
					return "", err
				}
				return jsonResult(iss)
			},
		},
		{
			Name:        "gh_update_issue",
			Description: "Edit a GitHub issue's title, body, or state. Omitted fields are left untouched.",
			Schema: obj(repoProps(map[string]any{
				"number": integer("Issue number."),
				"title":  str("New title."),
				"body":   str("New body."),
				"state":  str("open or closed."),
			}), "number"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Number int    `json:"number"`
					Title  string `json:"title"`
					Body   string `json:"body"`
					State  string `json:"state"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				iss, err := api.UpdateIssue(ctx, args.Owner, args.Repo, args.Number, args.Title, args.Body, args.State)
				if err != nil {
					return "", err
				}
				return jsonResult(iss)
			},
		},
		{
			Name:        "gh_comment",
			Description: "Post a comment on a GitHub issue or pull request. This is how the final answer reaches the requester.",
			Schema: obj(repoProps(map[string]any{
				"number": integer("Issue or pull request number."),
				"body":   str("Comment body in Markdown."),
			}), "number", "body"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Number int    `json:"number"`
					Body   string `json:"body"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				cm, err := api.CommentOnIssue(ctx, args.Owner, args.Repo, args.Number, args.Body)
				if err != nil {
					return "", err
				}
				return jsonResult(cm)
			},
		},
		{
			Name:        "gh_list_comments",
			Description: "List comments on a GitHub issue or pull request.",
			Schema: obj(repoProps(map[string]any{
				"number": integer("Issue or pull request number."),
			}), "number"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Number int `json:"number"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				comments, err := api.ListComments(ctx, args.Owner, args.Repo, args.Number)
				if err != nil {
					return "", err
				}
				return jsonResult(comments)
			},
		},
		{
			Name:        "gh_get_pull_request",
			Description: "Fetch one pull request, including head/base refs and draft state.",
			Schema: obj(repoProps(map[string]any{
				"number": integer("Pull request number."),
			}), "number"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Number int `json:"number"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				pr, err := api.GetPR(ctx, args.Owner, args.Repo, args.Number)
				if err != nil {
					return "", err
				}
				return jsonResult(pr)
			},
		},
		{
			Name: "gh_create_pull_request",
			Description: "Open a pull request. It is always created as a draft, and the head branch must be under " +
				"the " + branchPrefix + " namespace.",
			Schema: obj(repoProps(map[string]any{
				"title": str("Pull request title."),
				"body":  str("Pull request body in Markdown."),
				"head":  str("Head branch; must start with " + branchPrefix + "."),
				"base":  str("Base branch, e.g. main."),
			}), "title", "head", "base"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Title string `json:"title"`
					Body  string `json:"body"`
					Head  string `json:"head"`
					Base  string `json:"base"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				if !strings.HasPrefix(args.Head, branchPrefix) {
					return "", fmt.Errorf("head branch %q is outside the agent namespace; push the branch as %s<name> and retry", args.Head, branchPrefix)
				}
				pr, err := api.CreatePullRequest(ctx, args.Owner, args.Repo, github.NewPR{
					Title: args.Title,
					Body:  args.Body,
					Head:  args.Head,
					Base:  args.Base,
					Draft: true,
				})
				if err != nil {
					return "", err
				}
				return jsonResult(pr)
			},
		},
		{
			Name: "gh_update_pull_request",
			Description: "Edit a pull request's title, body, or state. Omitted fields are left untouched. " +
				"Draft status cannot be changed; a human marks the pull request ready for review.",
			Schema: obj(repoProps(map[string]any{
				"number": integer("Pull request number."),
				"title":  str("New title."),
				"body":   str("New body."),
				"state":  str("open or closed."),
			}), "number"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Number int    `json:"number"`
					Title  string `json:"title"`
					Body   string `json:"body"`
					State  string `json:"state"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				pr, err := api.UpdatePullRequest(ctx, args.Owner, args.Repo, args.Number, args.Title, args.Body, args.State)
				if err != nil {
					return "", err
				}
				return jsonResult(pr)
			},
		},
		{
			Name:        "gh_list_pr_files",
			Description: "List the files changed in a pull request.",
			Schema: obj(repoProps(map[string]any{
				"number": integer("Pull request number."),
			}), "number"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Number int `json:"number"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				files, err := api.ListPRFiles(ctx, args.Owner, args.Repo, args.Number)
				if err != nil {
					return "", err
				}
				return jsonResult(files)
			},
		},
		{
			Name:        "gh_list_reviews",
			Description: "List reviews on a pull request.",
			Schema: obj(repoProps(map[string]any{
				"number": integer("Pull request number."),
			}), "number"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Number int `json:"number"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				reviews, err := api.ListReviews(ctx, args.Owner, args.Repo, args.Number)
				if err != nil {
					return "", err
				}
				return jsonResult(reviews)
			},
		},
		{
			Name:        "gh_list_review_comments",
			Description: "List inline review comments on a pull request, with the file each one refers to.",
			Schema: obj(repoProps(map[string]any{
				"number": integer("Pull request number."),
			}), "number"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Number int `json:"number"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				comments, err := api.ListReviewComments(ctx, args.Owner, args.Repo, args.Number)
				if err != nil {
					return "", err
				}
				return jsonResult(comments)
			},
		},
		{
			Name:        "gh_read_file",
			Description: "Read a file from the repository at a ref (default branch when omitted).",
			Schema: obj(repoProps(map[string]any{
				"path": str("File path within the repository."),
				"ref":  str("Branch, tag, or commit SHA."),
			}), "path"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Path string `json:"path"`
					Ref  string `json:"ref"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				return api.GetFileContents(ctx, args.Owner, args.Repo, args.Path, args.Ref)
			},
		},
		{
			Name:        "gh_search_code",
			Description: "Search code within the repository. Returns matching file paths.",
			Schema: obj(repoProps(map[string]any{
				"query": str("Search terms."),
			}), "query"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Query string `json:"query"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				paths, err := api.SearchCode(ctx, args.Owner, args.Repo, args.Query)
				if err != nil {
					return "", err
				}
				return jsonResult(paths)
			},
		},
		{
			Name:        "gh_list_check_runs",
			Description: "List CI check runs for a git ref (branch or commit SHA).",
			Schema: obj(repoProps(map[string]any{
				"ref": str("Branch name or commit SHA."),
			}), "ref"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Ref string `json:"ref"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				runs, err := api.ListCheckRuns(ctx, args.Owner, args.Repo, args.Ref)
				if err != nil {
					return "", err
				}
				return jsonResult(runs)
			},
		},
		{
			Name:        "gh_list_workflow_runs",
			Description: "List recent Actions workflow runs, optionally filtered to a branch.",
			Schema: obj(repoProps(map[string]any{
				"branch": str("Branch name filter."),
			})),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					repoArgs
					Branch string `json:"branch"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := args.defaults(rec); err != nil {
					return "", err
				}
				runs, err := api.ListWorkflowRuns(ctx, args.Owner, args.Repo, args.Branch)
				if err != nil {
					return "", err
				}
				return jsonResult(runs)
			},
		},
	}
}
