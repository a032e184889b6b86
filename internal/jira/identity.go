package jira

import (
	"context"
	"fmt"
	"sync"
)

// SelfFetcher resolves the authenticated account. Implemented by *Client.
type SelfFetcher interface {
	Myself(ctx context.Context) (User, error)
}

// IdentityResolver yields the service account's id: a configured override
// when present, otherwise a "who am I" lookup memoized for the process
// lifetime. It is an explicit value passed to its consumers rather than
// package state, so tests can run several identities side by side.
type IdentityResolver struct {
	override string
	client   SelfFetcher

	mu     sync.Mutex
	cached string
}

// NewIdentityResolver creates a resolver. A non-empty override wins
// unconditionally and suppresses the lookup.
func NewIdentityResolver(override string, client SelfFetcher) *IdentityResolver {
	return &IdentityResolver{override: override, client: client}
}

// AccountID returns the service account id. Lookup failures are returned to
// the caller and nothing is cached, so a later call retries.
func (r *IdentityResolver) AccountID(ctx context.Context) (string, error) {
	if r.override != "" {
		return r.override, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != "" {
		return r.cached, nil
	}

	me, err := r.client.Myself(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving service account id: %w", err)
	}
	if me.AccountID == "" {
		return "", fmt.Errorf("myself returned an empty account id")
	}
	r.cached = me.AccountID
	return r.cached, nil
}
