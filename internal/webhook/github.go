package webhook

import (
	"fmt"
	"log/slog"
	"net/http"

	gh "github.com/google/go-github/v68/github"

	"github.com/stagehandlabs/stagehand/internal/convkey"
	"github.com/stagehandlabs/stagehand/internal/hub"
	"github.com/stagehandlabs/stagehand/internal/session"
	"github.com/stagehandlabs/stagehand/internal/store"
)

// githubHandler processes GitHub webhooks: verify the signature, drop the
// agent's own activity, require the agent to be addressed by name in
// comment text, persist the conversation context, and dispatch. Check runs
// skip the name gate but are filtered against stale head commits.
type githubHandler struct {
	store      store.Store
	dispatcher Dispatcher
	secret     []byte
	botLogin   string
	nameToken  string
	hub        *hub.Hub
	logger     *slog.Logger
}

func (h *githubHandler) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-GitHub-Delivery") == "" ||
		r.Header.Get("X-GitHub-Event") == "" ||
		r.Header.Get("X-Hub-Signature-256") == "" {
		http.Error(w, "missing webhook headers", http.StatusUnauthorized)
		return
	}

	payload, err := gh.ValidatePayload(r, h.secret)
	if err != nil {
		h.logger.Error("validating github payload", "error", err)
		http.Error(w, "signature verification failed", http.StatusInternalServerError)
		return
	}

	eventName := gh.WebHookType(r)
	event, err := gh.ParseWebHook(eventName, payload)
	if err != nil {
		http.Error(w, "unparseable payload", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *gh.IssueCommentEvent:
		h.handleIssueComment(w, r, e)
	case *gh.PullRequestReviewCommentEvent:
		h.handleReviewComment(w, r, e)
	case *gh.PullRequestReviewEvent:
		h.handleReview(w, r, e)
	case *gh.CheckRunEvent:
		h.handleCheckRun(w, r, e)
	default:
		// Unsubscribed event types still get delivered on config changes.
		w.WriteHeader(http.StatusOK)
	}
}

func (h *githubHandler) handleIssueComment(w http.ResponseWriter, r *http.Request, e *gh.IssueCommentEvent) {
	if e.GetAction() != "created" {
		w.WriteHeader(http.StatusOK)
		return
	}

	login := e.GetComment().GetUser().GetLogin()
	body := e.GetComment().GetBody()
	if IsSelf(login, h.botLogin) {
		h.drop(w, "issue_comment", "self_comment")
		return
	}
	if !ContainsNameToken(body, h.nameToken) {
		h.drop(w, "issue_comment", "not_addressed")
		return
	}

	kind := convkey.KindIssue
	noun := "issue"
	if e.GetIssue().IsPullRequest() {
		kind = convkey.KindPR
		noun = "pull request"
	}

	ref := convkey.PlatformRef{
		Kind:   kind,
		Owner:  e.GetRepo().GetOwner().GetLogin(),
		Repo:   e.GetRepo().GetName(),
		Number: e.GetIssue().GetNumber(),
	}
	message := fmt.Sprintf("%s commented on %s %s/%s#%d:\n\n%s",
		login, noun, ref.Owner, ref.Repo, ref.Number, body)

	h.classify(w, r, "issue_comment", ref, message)
}

func (h *githubHandler) handleReviewComment(w http.ResponseWriter, r *http.Request, e *gh.PullRequestReviewCommentEvent) {
	if e.GetAction() != "created" {
		w.WriteHeader(http.StatusOK)
		return
	}

	login := e.GetComment().GetUser().GetLogin()
	body := e.GetComment().GetBody()
	if IsSelf(login, h.botLogin) {
		h.drop(w, "pull_request_review_comment", "self_comment")
		return
	}
	if !ContainsNameToken(body, h.nameToken) {
		h.drop(w, "pull_request_review_comment", "not_addressed")
		return
	}

	ref := convkey.PlatformRef{
		Kind:   convkey.KindPR,
		Owner:  e.GetRepo().GetOwner().GetLogin(),
		Repo:   e.GetRepo().GetName(),
		Number: e.GetPullRequest().GetNumber(),
	}
	message := fmt.Sprintf("%s left a review comment on %s/%s#%d (%s):\n\n%s",
		login, ref.Owner, ref.Repo, ref.Number, e.GetComment().GetPath(), body)

	h.classify(w, r, "pull_request_review_comment", ref, message)
}

func (h *githubHandler) handleReview(w http.ResponseWriter, r *http.Request, e *gh.PullRequestReviewEvent) {
	if e.GetAction() != "submitted" {
		w.WriteHeader(http.StatusOK)
		return
	}

	login := e.GetReview().GetUser().GetLogin()
	body := e.GetReview().GetBody()
	if IsSelf(login, h.botLogin) {
		h.drop(w, "pull_request_review", "self_comment")
		return
	}
	if !ContainsNameToken(body, h.nameToken) {
		h.drop(w, "pull_request_review", "not_addressed")
		return
	}

	ref := convkey.PlatformRef{
		Kind:   convkey.KindPR,
		Owner:  e.GetRepo().GetOwner().GetLogin(),
		Repo:   e.GetRepo().GetName(),
		Number: e.GetPullRequest().GetNumber(),
	}
	message := fmt.Sprintf("%s submitted a %s review on %s/%s#%d:\n\n%s",
		login, e.GetReview().GetState(), ref.Owner, ref.Repo, ref.Number, body)

	h.classify(w, r, "pull_request_review", ref, message)
}

// handleCheckRun reacts to failed check runs on the agent's pull requests.
// The payload lists the pull requests a check is associated with together
// with their current head; a check whose head commit no longer matches any
// of them is from a superseded push and gets dropped without an API call.
func (h *githubHandler) handleCheckRun(w http.ResponseWriter, r *http.Request, e *gh.CheckRunEvent) {
	cr := e.GetCheckRun()
	if e.GetAction() != "completed" {
		w.WriteHeader(http.StatusOK)
		return
	}
	switch cr.GetConclusion() {
	case "failure", "timed_out":
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()

	var current []*gh.PullRequest
	for _, pr := range cr.PullRequests {
		if pr.GetHead().GetSHA() == cr.GetHeadSHA() {
			current = append(current, pr)
		}
	}
	if len(current) == 0 {
		h.drop(w, "check_run", "stale_head")
		return
	}

	for _, pr := range current {
		ref := convkey.PlatformRef{
			Kind:   convkey.KindPR,
			Owner:  owner,
			Repo:   repo,
			Number: pr.GetNumber(),
		}
		message := fmt.Sprintf("Check %q concluded %s on %s/%s#%d (head %s). Details: %s",
			cr.GetName(), cr.GetConclusion(), owner, repo, ref.Number,
			cr.GetHeadSHA(), cr.GetHTMLURL())

		h.classify(w, r, "check_run", ref, message)
	}
	w.WriteHeader(http.StatusOK)
}

// classify persists the conversation context and dispatches the composed
// message. Dispatch failures stay internal; the delivery is acknowledged
// either way so the sender does not retry it.
func (h *githubHandler) classify(w http.ResponseWriter, r *http.Request, eventName string, ref convkey.PlatformRef, message string) {
	conversationKey := convkey.PlatformKey(ref.Kind, ref.Owner, ref.Repo, ref.Number)
	rec := h.upsert(r, conversationKey, session.Record{
		PlatformKind: ref.Kind,
		Owner:        ref.Owner,
		Repo:         ref.Repo,
		Number:       ref.Number,
	})

	if footer := session.EncodeFooter(rec, eventName); footer != "" {
		message += "\n\n" + footer
	}

	if err := h.dispatcher.Dispatch(r.Context(), conversationKey, message); err != nil {
		h.logger.Error("dispatching github event", "conversation_key", conversationKey, "error", err)
	} else {
		h.hub.Publish(hub.EventClassified, map[string]string{
			"source":          "github",
			"event":           eventName,
			"conversationKey": conversationKey,
		})
		h.logger.Info("github event classified",
			"event", eventName,
			"conversation_key", conversationKey)
	}

	if eventName != "check_run" {
		w.WriteHeader(http.StatusOK)
	}
}

// upsert merges the incoming record into the stored one, keeping whatever
// earlier events established (notably the Jira side of a linked
// conversation). Store failures are logged and tolerated.
func (h *githubHandler) upsert(r *http.Request, conversationKey string, incoming session.Record) session.Record {
	ctx := r.Context()
	rec := incoming
	if raw, ok, err := h.store.Get(ctx, session.MetaKey(conversationKey)); err == nil && ok {
		rec = session.UnmarshalRecord(raw).Merge(incoming)
	}
	if err := h.store.Set(ctx, session.MetaKey(conversationKey), rec.Marshal()); err != nil {
		h.logger.Warn("persisting context record", "key", session.MetaKey(conversationKey), "error", err)
	}
	return rec
}

func (h *githubHandler) drop(w http.ResponseWriter, event, reason string) {
	h.hub.Publish(hub.EventDropped, map[string]string{
		"source": "github",
		"event":  event,
		"reason": reason,
	})
	h.logger.Info("github event dropped", "event", event, "reason", reason)
	w.WriteHeader(http.StatusOK)
}
