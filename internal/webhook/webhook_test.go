package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stagehandlabs/stagehand/internal/jira"
	"github.com/stagehandlabs/stagehand/internal/session"
	"github.com/stagehandlabs/stagehand/internal/store"
)

type dispatched struct {
	key     string
	message string
}

type fakeDispatcher struct {
	calls []dispatched
	err   error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, conversationKey, message string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, dispatched{key: conversationKey, message: message})
	return nil
}

type fakeIdentity struct {
	id  string
	err error
}

func (f *fakeIdentity) AccountID(context.Context) (string, error) { return f.id, f.err }

type fakeJiraSource struct {
	comment jira.Comment
	err     error
}

func (f *fakeJiraSource) GetComment(context.Context, string, string) (jira.Comment, error) {
	return f.comment, f.err
}

func (f *fakeJiraSource) BrowseURL(issueKey string) string {
	return "https://org.atlassian.net/browse/" + issueKey
}

type env struct {
	server     *Server
	store      *store.Memory
	dispatcher *fakeDispatcher
}

func newEnv(t *testing.T, mutate func(*Config)) *env {
	t.Helper()
	e := &env{
		store:      store.NewMemory(),
		dispatcher: &fakeDispatcher{},
	}
	cfg := Config{
		Store:        e.store,
		Dispatcher:   e.dispatcher,
		Jira:         &fakeJiraSource{},
		JiraIdentity: &fakeIdentity{id: "agent-1"},
		JiraSecret:   "jira-secret",
		GitHubSecret: []byte("gh-secret"),
		BotLogin:     "stagehand",
		NameToken:    "stagehand",
		Logger:       slog.Default(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New("127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("starting server: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	e.server = srv
	return e
}

func (e *env) url(path string) string {
	return "http://" + e.server.Addr() + path
}

func postJira(t *testing.T, e *env, secret, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, e.url("/jira"), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("posting jira webhook: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// jiraCommentPayload builds a comment_created delivery whose ADF body
// mentions the given account before the text.
func jiraCommentPayload(issueKey, authorID, mentionID, text string) string {
	return fmt.Sprintf(`{
		"webhookEvent": "comment_created",
		"issue": {"key": %q},
		"comment": {
			"id": "10001",
			"author": {"accountId": %q},
			"body": {
				"type": "doc",
				"version": 1,
				"content": [{
					"type": "paragraph",
					"content": [
						{"type": "mention", "attrs": {"id": %q, "text": "@stagehand"}},
						{"type": "text", "text": %q}
					]
				}]
			}
		}
	}`, issueKey, authorID, mentionID, text)
}

func TestJiraWebhook_RejectsBadBearer(t *testing.T) {
	e := newEnv(t, nil)

	resp := postJira(t, e, "wrong", jiraCommentPayload("PROJ-1", "user-1", "agent-1", " hello"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("dispatched despite bad auth")
	}
}

func TestJiraWebhook_NoSecretAcceptsAnything(t *testing.T) {
	e := newEnv(t, func(cfg *Config) { cfg.JiraSecret = "" })

	resp := postJira(t, e, "", jiraCommentPayload("PROJ-1", "user-1", "agent-1", " hello"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(e.dispatcher.calls))
	}
}

func TestJiraWebhook_MalformedJSON(t *testing.T) {
	e := newEnv(t, nil)

	resp := postJira(t, e, "jira-secret", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestJiraWebhook_IgnoresDeliveriesWithoutComment(t *testing.T) {
	e := newEnv(t, nil)

	resp := postJira(t, e, "jira-secret", `{"webhookEvent":"jira:issue_updated","issue":{"key":"PROJ-1"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("dispatched a comment-less delivery")
	}
}

func TestJiraWebhook_DropsOwnComments(t *testing.T) {
	e := newEnv(t, nil)

	// Author is the agent itself; body even mentions the agent.
	resp := postJira(t, e, "jira-secret", jiraCommentPayload("PROJ-1", "agent-1", "agent-1", " done"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("agent replied to its own comment")
	}
}

func TestJiraWebhook_DropsUnmentionedComments(t *testing.T) {
	e := newEnv(t, nil)

	// Mention targets someone else.
	resp := postJira(t, e, "jira-secret", jiraCommentPayload("PROJ-1", "user-1", "other-account", " thoughts?"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("dispatched a comment not addressed to the agent")
	}
}

func TestJiraWebhook_ClassifiesMentionedComment(t *testing.T) {
	e := newEnv(t, nil)

	resp := postJira(t, e, "jira-secret", jiraCommentPayload("proj-7", "user-1", "agent-1", " please check CI"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(e.dispatcher.calls))
	}

	call := e.dispatcher.calls[0]
	if call.key != "jira-PROJ-7" {
		t.Errorf("conversation key: got %q, want jira-PROJ-7", call.key)
	}
	if !strings.Contains(call.message, "please check CI") {
		t.Errorf("message lost the comment text: %q", call.message)
	}
	if !strings.Contains(call.message, "ISSUE_URL: https://org.atlassian.net/browse/PROJ-7") {
		t.Errorf("footer missing issue url: %q", call.message)
	}
	if !strings.Contains(call.message, "MENTION_ACCOUNT_ID: user-1") {
		t.Errorf("footer missing requester: %q", call.message)
	}

	// Context must be stored under the conversation key and the alias.
	ctx := context.Background()
	for _, key := range []string{"jira-meta-jira-PROJ-7"} {
		raw, ok, _ := e.store.Get(ctx, key)
		if !ok {
			t.Fatalf("no record under %s", key)
		}
		rec := session.UnmarshalRecord(raw)
		if rec.JiraIssueKey != "PROJ-7" || rec.RequesterID != "user-1" {
			t.Errorf("record under %s: %+v", key, rec)
		}
	}
}

func TestJiraWebhook_RefetchesMissingBody(t *testing.T) {
	var mentionBody jira.Comment
	if err := json.Unmarshal([]byte(`{
		"id": "10001",
		"body": {
			"type": "doc",
			"content": [{"type": "paragraph", "content": [
				{"type": "mention", "attrs": {"id": "agent-1"}},
				{"type": "text", "text": " from refetch"}
			]}]
		}
	}`), &mentionBody); err != nil {
		t.Fatalf("building fixture: %v", err)
	}

	e := newEnv(t, func(cfg *Config) {
		cfg.Jira = &fakeJiraSource{comment: mentionBody}
	})

	payload := `{
		"webhookEvent": "comment_created",
		"issue": {"key": "PROJ-1"},
		"comment": {"id": "10001", "author": {"accountId": "user-1"}}
	}`
	resp := postJira(t, e, "jira-secret", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(e.dispatcher.calls))
	}
	if !strings.Contains(e.dispatcher.calls[0].message, "from refetch") {
		t.Errorf("refetched body not used: %q", e.dispatcher.calls[0].message)
	}
}

func TestJiraWebhook_DispatchFailureStillAcknowledged(t *testing.T) {
	e := newEnv(t, nil)
	e.dispatcher.err = errors.New("queue closed")

	// A non-2xx would make Jira redeliver the comment into a fresh turn.
	resp := postJira(t, e, "jira-secret", jiraCommentPayload("PROJ-1", "user-1", "agent-1", " hi"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("recorded a dispatch that failed: %v", e.dispatcher.calls)
	}
}

func TestJiraWebhook_TopLevelKeyAlias(t *testing.T) {
	e := newEnv(t, nil)

	payload := `{
		"webhookEvent": "comment_created",
		"key": "proj-3",
		"comment": {
			"id": "10002",
			"author": {"accountId": "user-1"},
			"body": {
				"type": "doc",
				"content": [{"type": "paragraph", "content": [
					{"type": "mention", "attrs": {"id": "agent-1"}},
					{"type": "text", "text": " flattened payload"}
				]}]
			}
		}
	}`
	resp := postJira(t, e, "jira-secret", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(e.dispatcher.calls))
	}
	if e.dispatcher.calls[0].key != "jira-PROJ-3" {
		t.Errorf("conversation key: got %q, want jira-PROJ-3", e.dispatcher.calls[0].key)
	}
}

func signPayload(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postGitHub(t *testing.T, e *env, event, payload string, sign bool) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, e.url("/github"), bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Delivery", "d-1")
	req.Header.Set("X-GitHub-Event", event)
	if sign {
		req.Header.Set("X-Hub-Signature-256", signPayload([]byte("gh-secret"), payload))
	} else {
		req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("posting github webhook: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func issueCommentPayload(login, body string, number int, isPR bool) string {
	prField := ""
	if isPR {
		prField = `"pull_request": {"url": "https://api.github.com/repos/o/r/pulls/5"},`
	}
	return fmt.Sprintf(`{
		"action": "created",
		"issue": {"number": %d, %s "title": "t"},
		"comment": {"body": %q, "user": {"login": %q}},
		"repository": {"name": "r", "owner": {"login": "o"}}
	}`, number, prField, body, login)
}

func TestGitHubWebhook_RequiresHeaders(t *testing.T) {
	e := newEnv(t, nil)

	req, _ := http.NewRequest(http.MethodPost, e.url("/github"), strings.NewReader("{}"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("posting: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", resp.StatusCode)
	}
}

func TestGitHubWebhook_RejectsBadSignature(t *testing.T) {
	e := newEnv(t, nil)

	resp := postGitHub(t, e, "issue_comment", issueCommentPayload("alice", "hey stagehand", 5, true), false)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want 500", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("dispatched despite bad signature")
	}
}

func TestGitHubWebhook_DropsOwnComments(t *testing.T) {
	e := newEnv(t, nil)

	resp := postGitHub(t, e, "issue_comment", issueCommentPayload("stagehand[bot]", "stagehand is done", 5, true), true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("agent replied to its own comment")
	}
}

func TestGitHubWebhook_DropsUnaddressedComments(t *testing.T) {
	e := newEnv(t, nil)

	cases := []string{
		"could someone look at this?",
		"the stagehands moved the set",  // superstring, not a word match
		"see my-stagehand-fork instead", // inside an identifier
	}
	for _, body := range cases {
		resp := postGitHub(t, e, "issue_comment", issueCommentPayload("alice", body, 5, true), true)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status for %q: got %d, want 200", body, resp.StatusCode)
		}
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("dispatched unaddressed comments: %v", e.dispatcher.calls)
	}
}

func TestGitHubWebhook_ClassifiesPRComment(t *testing.T) {
	e := newEnv(t, nil)

	resp := postGitHub(t, e, "issue_comment", issueCommentPayload("alice", "@stagehand fix the lint error", 5, true), true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(e.dispatcher.calls))
	}

	call := e.dispatcher.calls[0]
	if call.key != "gh-pr~o~r~5" {
		t.Errorf("conversation key: got %q, want gh-pr~o~r~5", call.key)
	}
	if !strings.Contains(call.message, "fix the lint error") {
		t.Errorf("message lost the comment text: %q", call.message)
	}
	if !strings.Contains(call.message, "TARGET: o/r #5") {
		t.Errorf("footer missing target: %q", call.message)
	}

	raw, ok, _ := e.store.Get(context.Background(), "gh-meta-gh-pr~o~r~5")
	if !ok {
		t.Fatal("no context record stored")
	}
	rec := session.UnmarshalRecord(raw)
	if rec.Owner != "o" || rec.Repo != "r" || rec.Number != 5 {
		t.Errorf("stored record: %+v", rec)
	}
}

func TestGitHubWebhook_IssueCommentUsesIssueKey(t *testing.T) {
	e := newEnv(t, nil)

	resp := postGitHub(t, e, "issue_comment", issueCommentPayload("alice", "stagehand, triage this", 9, false), true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(e.dispatcher.calls))
	}
	if e.dispatcher.calls[0].key != "gh-issue~o~r~9" {
		t.Errorf("conversation key: got %q, want gh-issue~o~r~9", e.dispatcher.calls[0].key)
	}
}

func checkRunPayload(conclusion, headSHA string, prHeadSHA string) string {
	return fmt.Sprintf(`{
		"action": "completed",
		"check_run": {
			"name": "tests",
			"status": "completed",
			"conclusion": %q,
			"head_sha": %q,
			"html_url": "https://github.com/o/r/runs/1",
			"pull_requests": [{
				"number": 5,
				"head": {"sha": %q, "ref": "stagehand/fix-1"}
			}]
		},
		"repository": {"name": "r", "owner": {"login": "o"}}
	}`, conclusion, headSHA, prHeadSHA)
}

func TestGitHubWebhook_FailedCheckRunDispatches(t *testing.T) {
	e := newEnv(t, nil)

	resp := postGitHub(t, e, "check_run", checkRunPayload("failure", "abc123", "abc123"), true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 1 {
		t.Fatalf("dispatched %d times, want 1", len(e.dispatcher.calls))
	}
	call := e.dispatcher.calls[0]
	if call.key != "gh-pr~o~r~5" {
		t.Errorf("conversation key: got %q", call.key)
	}
	if !strings.Contains(call.message, `"tests"`) || !strings.Contains(call.message, "failure") {
		t.Errorf("message missing check identity: %q", call.message)
	}
}

func TestGitHubWebhook_StaleCheckRunDropped(t *testing.T) {
	e := newEnv(t, nil)

	// The check ran against abc123 but the PR head has moved on.
	resp := postGitHub(t, e, "check_run", checkRunPayload("failure", "abc123", "def456"), true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("dispatched a stale check run: %v", e.dispatcher.calls)
	}
}

func TestGitHubWebhook_SuccessfulCheckRunIgnored(t *testing.T) {
	e := newEnv(t, nil)

	resp := postGitHub(t, e, "check_run", checkRunPayload("success", "abc123", "abc123"), true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	if len(e.dispatcher.calls) != 0 {
		t.Errorf("dispatched a successful check run")
	}
}

func TestServer_UnknownPathAcknowledged(t *testing.T) {
	e := newEnv(t, nil)

	resp, err := http.Get(e.url("/retired-provider"))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
}
