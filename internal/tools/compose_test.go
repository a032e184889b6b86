package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stagehandlabs/stagehand/internal/convkey"
	"github.com/stagehandlabs/stagehand/internal/github"
	"github.com/stagehandlabs/stagehand/internal/jira"
	"github.com/stagehandlabs/stagehand/internal/session"
	"github.com/stagehandlabs/stagehand/internal/workspace"
)

// fakeJira implements JiraAPI. Only the methods a test exercises carry
// behavior; the rest return zero values.
type fakeJira struct {
	replies      int
	lastIssueKey string
	lastMention  string
}

func (f *fakeJira) GetIssue(context.Context, string) (jira.Issue, error) { return jira.Issue{}, nil }
func (f *fakeJira) GetIssueContext(context.Context, string) (jira.IssueContext, error) {
	return jira.IssueContext{}, nil
}
func (f *fakeJira) ListProjects(context.Context) ([]jira.Project, error) { return nil, nil }
func (f *fakeJira) SearchIssues(context.Context, string, int) ([]jira.Issue, error) {
	return nil, nil
}
func (f *fakeJira) CreateIssue(context.Context, string, string, string, string) (string, error) {
	return "PROJ-1", nil
}
func (f *fakeJira) UpdateIssue(context.Context, string, map[string]any) error { return nil }
func (f *fakeJira) ListTransitions(context.Context, string) ([]jira.Transition, error) {
	return nil, nil
}
func (f *fakeJira) ApplyTransition(context.Context, string, string) error    { return nil }
func (f *fakeJira) LinkIssues(context.Context, string, string, string) error { return nil }
func (f *fakeJira) FindUsers(context.Context, string) ([]jira.User, error)   { return nil, nil }
func (f *fakeJira) AddComment(context.Context, string, string) (string, error) {
	return "10001", nil
}

func (f *fakeJira) ReplyWithMention(_ context.Context, issueKey, accountID, _ string) (string, error) {
	f.replies++
	f.lastIssueKey = issueKey
	f.lastMention = accountID
	return "10002", nil
}

// fakeGitHub implements GitHubAPI and captures pull request creation.
type fakeGitHub struct {
	lastNewPR github.NewPR
	created   int
}

func (f *fakeGitHub) GetRepo(context.Context, string, string) (github.Repo, error) {
	return github.Repo{}, nil
}
func (f *fakeGitHub) GetIssue(context.Context, string, string, int) (github.Issue, error) {
	return github.Issue{}, nil
}
func (f *fakeGitHub) ListIssues(context.Context, string, string, string) ([]github.Issue, error) {
	return nil, nil
}
func (f *fakeGitHub) CreateIssue(context.Context, string, string, string, string) (github.Issue, error) {
	return github.Issue{}, nil
}
func (f *fakeGitHub) UpdateIssue(context.Context, string, string, int, string, string, string) (github.Issue, error) {
	return github.Issue{}, nil
}
func (f *fakeGitHub) CommentOnIssue(context.Context, string, string, int, string) (github.Comment, error) {
	return github.Comment{}, nil
}
func (f *fakeGitHub) ListComments(context.Context, string, string, int) ([]github.Comment, error) {
	return nil, nil
}
func (f *fakeGitHub) GetPR(context.Context, string, string, int) (github.PR, error) {
	return github.PR{}, nil
}

func (f *fakeGitHub) CreatePullRequest(_ context.Context, _, _ string, newPR github.NewPR) (github.PR, error) {
	f.created++
	f.lastNewPR = newPR
	return github.PR{Number: 7, Draft: newPR.Draft}, nil
}

func (f *fakeGitHub) UpdatePullRequest(context.Context, string, string, int, string, string, string) (github.PR, error) {
	return github.PR{}, nil
}
func (f *fakeGitHub) ListPRFiles(context.Context, string, string, int) ([]string, error) {
	return nil, nil
}
func (f *fakeGitHub) ListReviews(context.Context, string, string, int) ([]github.Review, error) {
	return nil, nil
}
func (f *fakeGitHub) ListReviewComments(context.Context, string, string, int) ([]github.Comment, error) {
	return nil, nil
}
func (f *fakeGitHub) GetFileContents(context.Context, string, string, string, string) (string, error) {
	return "", nil
}
func (f *fakeGitHub) SearchCode(context.Context, string, string, string) ([]string, error) {
	return nil, nil
}
func (f *fakeGitHub) ListCheckRuns(context.Context, string, string, string) ([]github.CheckRun, error) {
	return nil, nil
}
func (f *fakeGitHub) ListWorkflowRuns(context.Context, string, string, string) ([]github.WorkflowRun, error) {
	return nil, nil
}

// fakeSandboxAPI backs the workspace connection handed out by fakeWorkspaces.
type fakeSandboxAPI struct {
	lastExec workspace.ExecRequest
}

func (f *fakeSandboxAPI) Create(context.Context, workspace.CreateRequest) (workspace.Sandbox, error) {
	return workspace.Sandbox{}, nil
}
func (f *fakeSandboxAPI) Connect(context.Context, string) error { return nil }
func (f *fakeSandboxAPI) Exec(_ context.Context, _ string, req workspace.ExecRequest) (workspace.ExecResult, error) {
	f.lastExec = req
	return workspace.ExecResult{ExitCode: 0, Output: "ok"}, nil
}
func (f *fakeSandboxAPI) ReadFile(context.Context, string, string) (string, error) { return "", nil }
func (f *fakeSandboxAPI) WriteFile(context.Context, string, string, string) error  { return nil }

type fakeWorkspaces struct {
	api     *fakeSandboxAPI
	ensured int
}

func (f *fakeWorkspaces) Ensure(context.Context, string) (*workspace.Connection, error) {
	f.ensured++
	return workspace.NewConnection("sb-1", f.api), nil
}

func (f *fakeWorkspaces) AuthenticateGit(context.Context, string, string, []string) error {
	return nil
}

func newComposer() (*Composer, *fakeJira, *fakeGitHub, *fakeWorkspaces) {
	jc := &fakeJira{}
	gc := &fakeGitHub{}
	wc := &fakeWorkspaces{api: &fakeSandboxAPI{}}
	return &Composer{Jira: jc, GitHub: gc, Workspaces: wc}, jc, gc, wc
}

func names(ts []Tool) map[string]Tool {
	m := make(map[string]Tool, len(ts))
	for _, t := range ts {
		m[t.Name] = t
	}
	return m
}

func run(t *testing.T, tool Tool, args string) (string, error) {
	t.Helper()
	return tool.Run(context.Background(), json.RawMessage(args))
}

func TestCompose_JiraContextExcludesGitHubTools(t *testing.T) {
	c, _, _, _ := newComposer()
	rec := session.Record{JiraIssueKey: "PROJ-42", RequesterID: "acc-1"}

	got := names(c.Compose("jira-PROJ-42", rec))

	if _, ok := got["jira_reply"]; !ok {
		t.Error("jira_reply missing from a tracker conversation")
	}
	if _, ok := got["current_datetime"]; !ok {
		t.Error("current_datetime must always be present")
	}
	if _, ok := got["workspace_initialize"]; !ok {
		t.Error("workspace tools must always be present")
	}
	for name := range got {
		if strings.HasPrefix(name, "gh_") {
			t.Errorf("github tool %s present without a repository target", name)
		}
	}
}

func TestCompose_GitHubContextExcludesJiraTools(t *testing.T) {
	c, _, _, _ := newComposer()
	rec := session.Record{PlatformKind: convkey.KindPR, Owner: "o", Repo: "r", Number: 5}

	got := names(c.Compose("gh-pr~o~r~5", rec))

	if _, ok := got["gh_get_pull_request"]; !ok {
		t.Error("gh tools missing from a repository conversation")
	}
	for name := range got {
		if strings.HasPrefix(name, "jira_") {
			t.Errorf("jira tool %s present without a tracker issue", name)
		}
	}
}

func TestCompose_MixedContextGetsBothFamilies(t *testing.T) {
	c, _, _, _ := newComposer()
	rec := session.Record{
		JiraIssueKey: "PROJ-42",
		PlatformKind: convkey.KindPR,
		Owner:        "o", Repo: "r", Number: 5,
	}

	got := names(c.Compose("jira-PROJ-42", rec))

	if _, ok := got["jira_reply"]; !ok {
		t.Error("jira family missing from mixed context")
	}
	if _, ok := got["gh_comment"]; !ok {
		t.Error("github family missing from mixed context")
	}
}

func TestCompose_NilClientRemovesFamily(t *testing.T) {
	c := &Composer{Workspaces: &fakeWorkspaces{api: &fakeSandboxAPI{}}}
	rec := session.Record{JiraIssueKey: "PROJ-42", Owner: "o", Repo: "r", Number: 5, PlatformKind: convkey.KindIssue}

	got := names(c.Compose("jira-PROJ-42", rec))

	for name := range got {
		if strings.HasPrefix(name, "jira_") || strings.HasPrefix(name, "gh_") {
			t.Errorf("tool %s present with no configured client", name)
		}
	}
}

func TestCreatePullRequest_AlwaysDraft(t *testing.T) {
	c, _, gc, _ := newComposer()
	rec := session.Record{PlatformKind: convkey.KindPR, Owner: "o", Repo: "r", Number: 5}
	tool := names(c.Compose("gh-pr~o~r~5", rec))["gh_create_pull_request"]

	// draft:false in the arguments must be overridden.
	_, err := run(t, tool, `{"title":"t","head":"stagehand/fix-1","base":"main","draft":false}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gc.lastNewPR.Draft {
		t.Error("pull request created without draft status")
	}
}

func TestCreatePullRequest_RejectsForeignBranch(t *testing.T) {
	c, _, gc, _ := newComposer()
	rec := session.Record{PlatformKind: convkey.KindPR, Owner: "o", Repo: "r", Number: 5}
	tool := names(c.Compose("gh-pr~o~r~5", rec))["gh_create_pull_request"]

	_, err := run(t, tool, `{"title":"t","head":"main","base":"develop"}`)
	if err == nil {
		t.Fatal("expected rejection of a head branch outside the agent namespace")
	}
	if gc.created != 0 {
		t.Errorf("pull request was created despite rejection: %d", gc.created)
	}
	if !strings.Contains(err.Error(), "stagehand/") {
		t.Errorf("error should name the required prefix: %v", err)
	}
}

func TestJiraReply_SingleShot(t *testing.T) {
	c, jc, _, _ := newComposer()
	rec := session.Record{JiraIssueKey: "PROJ-42", RequesterID: "acc-9"}
	tool := names(c.Compose("jira-PROJ-42", rec))["jira_reply"]

	if _, err := run(t, tool, `{"text":"done"}`); err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if jc.lastIssueKey != "PROJ-42" || jc.lastMention != "acc-9" {
		t.Errorf("reply not bound to conversation context: %s / %s", jc.lastIssueKey, jc.lastMention)
	}

	if _, err := run(t, tool, `{"text":"again"}`); err == nil {
		t.Fatal("second reply in the same turn must fail")
	}
	if jc.replies != 1 {
		t.Errorf("posted %d replies, want 1", jc.replies)
	}
}

func TestWorkspaceTools_GatedOnInitialize(t *testing.T) {
	c, _, _, wc := newComposer()
	got := names(c.Compose("jira-PROJ-42", session.Record{JiraIssueKey: "PROJ-42"}))

	if _, err := run(t, got["workspace_exec"], `{"command":"ls"}`); err == nil {
		t.Fatal("exec before initialize must fail")
	}

	if _, err := run(t, got["workspace_initialize"], `{}`); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if wc.ensured != 1 {
		t.Errorf("ensured %d times, want 1", wc.ensured)
	}

	out, err := run(t, got["workspace_exec"], `{"command":"ls"}`)
	if err != nil {
		t.Fatalf("exec after initialize: %v", err)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("exec output: %q", out)
	}
	if wc.api.lastExec.Command != "ls" {
		t.Errorf("command not forwarded: %q", wc.api.lastExec.Command)
	}
}

func TestCompose_FreshStatePerTurn(t *testing.T) {
	c, jc, _, _ := newComposer()
	rec := session.Record{JiraIssueKey: "PROJ-42", RequesterID: "acc-9"}

	first := names(c.Compose("jira-PROJ-42", rec))["jira_reply"]
	if _, err := run(t, first, `{"text":"done"}`); err != nil {
		t.Fatalf("first turn reply: %v", err)
	}

	// A new composition is a new turn; the single-shot flag must reset.
	second := names(c.Compose("jira-PROJ-42", rec))["jira_reply"]
	if _, err := run(t, second, `{"text":"done again"}`); err != nil {
		t.Fatalf("reply on a fresh turn: %v", err)
	}
	if jc.replies != 2 {
		t.Errorf("posted %d replies across two turns, want 2", jc.replies)
	}
}

func TestSystemPrompt_FramingFollowsContext(t *testing.T) {
	jiraPrompt := SystemPrompt("stagehand", session.Record{JiraIssueKey: "PROJ-42"}, "")
	if !strings.Contains(jiraPrompt, "PROJ-42") || !strings.Contains(jiraPrompt, "jira_reply") {
		t.Errorf("tracker framing missing: %q", jiraPrompt)
	}

	prPrompt := SystemPrompt("stagehand", session.Record{
		PlatformKind: convkey.KindPR, Owner: "o", Repo: "r", Number: 5,
	}, "")
	if !strings.Contains(prPrompt, "pull request o/r#5") {
		t.Errorf("pull request framing missing: %q", prPrompt)
	}

	if !strings.Contains(prPrompt, DefaultBranchPrefix) {
		t.Errorf("branch namespace rule missing: %q", prPrompt)
	}
}
