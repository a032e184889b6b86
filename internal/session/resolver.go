package session

import (
	"context"
	"log/slog"

	"github.com/stagehandlabs/stagehand/internal/store"
)

// Resolver reconstructs the working context at the start of a turn. Three
// sources, in order: the store keyed by conversation key, the footer
// embedded in the latest user message, and the issue-key alias in the store
// when the footer recovered a Jira issue. Absence of all three is not an
// error — the turn simply runs without tracker or platform context.
type Resolver struct {
	store  store.Store
	logger *slog.Logger
}

// NewResolver creates a Resolver reading from the given store.
func NewResolver(s store.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: s, logger: logger}
}

// Resolve returns the best-available Record for the conversation. Store
// failures degrade to misses.
func (r *Resolver) Resolve(ctx context.Context, conversationKey, latestUserMessage string) Record {
	var rec Record

	if raw, ok := r.get(ctx, MetaKey(conversationKey)); ok {
		rec = UnmarshalRecord(raw)
	}

	if rec.IsZero() && latestUserMessage != "" {
		rec = ParseFooter(latestUserMessage)

		// The footer may have recovered an issue key for a conversation
		// whose primary key never got a record (store write lost, or the
		// conversation key was assigned upstream). The alias keyed purely
		// by issue key covers that gap.
		if rec.JiraIssueKey != "" {
			if raw, ok := r.get(ctx, JiraAliasKey(rec.JiraIssueKey)); ok {
				rec = rec.Merge(UnmarshalRecord(raw))
			}
		}

		if !rec.IsZero() {
			r.logger.Info("context recovered from message footer",
				"conversation_key", conversationKey,
				"issue_key", rec.JiraIssueKey)
		}
	}

	return rec
}

// get wraps store access, degrading errors to misses.
func (r *Resolver) get(ctx context.Context, key string) (string, bool) {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("reading context record", "key", key, "error", err)
		return "", false
	}
	return raw, ok
}
