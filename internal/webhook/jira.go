package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stagehandlabs/stagehand/internal/adf"
	"github.com/stagehandlabs/stagehand/internal/convkey"
	"github.com/stagehandlabs/stagehand/internal/hub"
	"github.com/stagehandlabs/stagehand/internal/session"
	"github.com/stagehandlabs/stagehand/internal/store"
)

// jiraHandler processes Jira comment webhooks: authenticate, drop the
// agent's own comments, require a structural mention, persist the
// conversation context, and dispatch.
type jiraHandler struct {
	store      store.Store
	dispatcher Dispatcher
	jira       JiraSource
	identity   SelfIdentity
	secret     string
	hub        *hub.Hub
	logger     *slog.Logger
}

// jiraDelivery is the slice of the webhook payload the classifier reads.
// Automation rules can flatten the issue key to the top level, so Key is
// accepted as an alias for issue.key.
type jiraDelivery struct {
	WebhookEvent string `json:"webhookEvent"`
	Key          string `json:"key"`
	Issue        *struct {
		Key string `json:"key"`
	} `json:"issue"`
	Comment *struct {
		ID     string `json:"id"`
		Author struct {
			AccountID string `json:"accountId"`
		} `json:"author"`
		Body json.RawMessage `json:"body"`
	} `json:"comment"`
}

func (h *jiraHandler) handle(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		if r.Header.Get("Authorization") != "Bearer "+h.secret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var delivery jiraDelivery
	if err := json.NewDecoder(r.Body).Decode(&delivery); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	issueKey := delivery.Key
	if delivery.Issue != nil && delivery.Issue.Key != "" {
		issueKey = delivery.Issue.Key
	}
	// Deliveries without an issue and a comment (issue field updates,
	// sprint events) are acknowledged and ignored.
	if issueKey == "" || delivery.Comment == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	issueKey = strings.ToUpper(issueKey)

	// No identity resolver means the Jira integration is off; acknowledge
	// so the sender does not retry against a half-configured instance.
	if h.identity == nil {
		h.drop(w, issueKey, delivery.WebhookEvent, "jira_disabled")
		return
	}

	selfID, err := h.identity.AccountID(r.Context())
	if err != nil {
		// Without the agent's own id there is no loop guard; refuse rather
		// than risk replying to ourselves.
		h.logger.Error("resolving agent jira identity", "error", err)
		http.Error(w, "identity unavailable", http.StatusInternalServerError)
		return
	}

	if delivery.Comment.Author.AccountID == selfID {
		h.drop(w, issueKey, delivery.WebhookEvent, "self_comment")
		return
	}

	body := h.commentBody(r, issueKey, delivery)
	if !adf.ContainsMention(body, selfID) {
		h.drop(w, issueKey, delivery.WebhookEvent, "not_addressed")
		return
	}

	conversationKey := convkey.JiraKey(issueKey)
	rec := session.Record{
		JiraIssueKey: issueKey,
		RequesterID:  delivery.Comment.Author.AccountID,
	}
	if h.jira != nil {
		rec.JiraIssueURL = h.jira.BrowseURL(issueKey)
	}
	rec = h.upsert(r, conversationKey, rec)

	message := adf.PlainText(body)
	if footer := session.EncodeFooter(rec, delivery.WebhookEvent); footer != "" {
		message += "\n\n" + footer
	}

	// Jira retries non-2xx deliveries, which would replay the same comment
	// into a fresh turn. Dispatch failures stay internal.
	if err := h.dispatcher.Dispatch(r.Context(), conversationKey, message); err != nil {
		h.logger.Error("dispatching jira event", "conversation_key", conversationKey, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.hub.Publish(hub.EventClassified, map[string]string{
		"source":          "jira",
		"event":           delivery.WebhookEvent,
		"conversationKey": conversationKey,
	})
	h.logger.Info("jira event classified",
		"event", delivery.WebhookEvent,
		"issue_key", issueKey,
		"conversation_key", conversationKey)
	w.WriteHeader(http.StatusOK)
}

// commentBody returns the comment's ADF content, refetching when the
// delivery carried only a reference. A failed refetch yields an empty body,
// which then fails the mention gate and drops the event.
func (h *jiraHandler) commentBody(r *http.Request, issueKey string, delivery jiraDelivery) adf.Body {
	if len(delivery.Comment.Body) > 0 {
		var doc adf.Node
		if err := json.Unmarshal(delivery.Comment.Body, &doc); err == nil && len(doc.Content) > 0 {
			return doc.Content
		}
	}
	if h.jira == nil {
		return nil
	}
	cm, err := h.jira.GetComment(r.Context(), issueKey, delivery.Comment.ID)
	if err != nil {
		h.logger.Warn("refetching comment body",
			"issue_key", issueKey,
			"comment_id", delivery.Comment.ID,
			"error", err)
		return nil
	}
	return cm.Body
}

// upsert merges the incoming record into what the store already holds and
// writes the result under both the conversation key and the issue alias.
// Store failures are logged and tolerated: the footer still carries the
// context.
func (h *jiraHandler) upsert(r *http.Request, conversationKey string, incoming session.Record) session.Record {
	ctx := r.Context()
	rec := incoming
	if raw, ok, err := h.store.Get(ctx, session.MetaKey(conversationKey)); err == nil && ok {
		rec = session.UnmarshalRecord(raw).Merge(incoming)
	}

	for _, key := range []string{session.MetaKey(conversationKey), session.JiraAliasKey(rec.JiraIssueKey)} {
		if err := h.store.Set(ctx, key, rec.Marshal()); err != nil {
			h.logger.Warn("persisting context record", "key", key, "error", err)
		}
	}
	return rec
}

func (h *jiraHandler) drop(w http.ResponseWriter, issueKey, event, reason string) {
	h.hub.Publish(hub.EventDropped, map[string]string{
		"source": "jira",
		"event":  event,
		"reason": reason,
	})
	h.logger.Info("jira event dropped", "event", event, "issue_key", issueKey, "reason", reason)
	w.WriteHeader(http.StatusOK)
}
