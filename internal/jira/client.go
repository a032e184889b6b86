// Package jira provides a typed client for the Jira Cloud REST API v3,
// covering the operations the agent's tracker tools and webhook pipeline
// need. It is a thin wrapper: field normalization and comment construction,
// no retries, no caching beyond the memoized self identity.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/stagehandlabs/stagehand/internal/adf"
)

// APIError carries a non-2xx upstream response. It is propagated as-is;
// callers (tool handlers) surface it to the model, which can react.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API returned %d: %s", e.Status, e.Body)
}

// Client accesses one Jira Cloud site with basic auth (email + API token).
type Client struct {
	baseURL        string
	email          string
	apiToken       string
	acceptLanguage string
	projectKey     string
	httpClient     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAcceptLanguage sets the Accept-Language header on every request.
func WithAcceptLanguage(lang string) Option {
	return func(c *Client) { c.acceptLanguage = lang }
}

// WithDefaultProject sets the project key used when issue creation and
// listing omit one.
func WithDefaultProject(key string) Option {
	return func(c *Client) { c.projectKey = key }
}

// New creates a Jira client for the given site base URL
// (e.g. "https://yourorg.atlassian.net").
func New(baseURL, email, apiToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		apiToken:   apiToken,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the site base URL (used to build browse links).
func (c *Client) BaseURL() string { return c.baseURL }

// DefaultProject returns the configured default project key, if any.
func (c *Client) DefaultProject() string { return c.projectKey }

// BrowseURL returns the human-readable link for an issue.
func (c *Client) BrowseURL(issueKey string) string {
	return c.baseURL + "/browse/" + issueKey
}

// do performs an authenticated request against the REST API. A non-2xx
// response becomes an *APIError carrying status and body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.acceptLanguage != "" {
		req.Header.Set("Accept-Language", c.acceptLanguage)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// User is a Jira account.
type User struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	Active       bool   `json:"active"`
}

// Myself returns the account the client authenticates as.
func (c *Client) Myself(ctx context.Context) (User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/rest/api/3/myself", nil, &u); err != nil {
		return User{}, fmt.Errorf("fetching myself: %w", err)
	}
	return u, nil
}

// FindUsers searches users by display name or email.
func (c *Client) FindUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	path := "/rest/api/3/user/search?query=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	return users, nil
}

// Comment is a Jira issue comment with its ADF body.
type Comment struct {
	ID     string   `json:"id"`
	Author User     `json:"author"`
	Body   adf.Body `json:"-"`

	// RawBody holds the ADF document as delivered; Body is derived from
	// its content in UnmarshalJSON.
	RawBody json.RawMessage `json:"body"`
}

func (cm *Comment) UnmarshalJSON(data []byte) error {
	type alias Comment
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*cm = Comment(a)
	if len(cm.RawBody) > 0 {
		var doc adf.Node
		if err := json.Unmarshal(cm.RawBody, &doc); err == nil {
			cm.Body = doc.Content
		}
	}
	return nil
}

// GetComment fetches one comment by id, for events that deliver a comment
// reference without an inline body.
func (c *Client) GetComment(ctx context.Context, issueKey, commentID string) (Comment, error) {
	var cm Comment
	path := fmt.Sprintf("/rest/api/3/issue/%s/comment/%s", url.PathEscape(issueKey), url.PathEscape(commentID))
	if err := c.do(ctx, http.MethodGet, path, nil, &cm); err != nil {
		return Comment{}, fmt.Errorf("fetching comment %s on %s: %w", commentID, issueKey, err)
	}
	return cm, nil
}

// AddComment posts a plain-text comment on an issue, wrapped in a minimal
// ADF document. Returns the created comment id.
func (c *Client) AddComment(ctx context.Context, issueKey, text string) (string, error) {
	payload := map[string]any{"body": textDoc(text)}
	var created struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/rest/api/3/issue/%s/comment", url.PathEscape(issueKey))
	if err := c.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return "", fmt.Errorf("adding comment to %s: %w", issueKey, err)
	}
	return created.ID, nil
}

// ReplyWithMention posts a comment that opens with a structural mention of
// the given account, then the text. Used by the single-shot reply tool so
// the requester is notified.
func (c *Client) ReplyWithMention(ctx context.Context, issueKey, accountID, text string) (string, error) {
	content := []map[string]any{}
	if accountID != "" {
		content = append(content,
			map[string]any{"type": "mention", "attrs": map[string]any{"id": accountID}},
			map[string]any{"type": "text", "text": " "},
		)
	}
	content = append(content, map[string]any{"type": "text", "text": text})

	payload := map[string]any{
		"body": map[string]any{
			"type":    "doc",
			"version": 1,
			"content": []map[string]any{
				{"type": "paragraph", "content": content},
			},
		},
	}
	var created struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/rest/api/3/issue/%s/comment", url.PathEscape(issueKey))
	if err := c.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return "", fmt.Errorf("replying on %s: %w", issueKey, err)
	}
	return created.ID, nil
}

// textDoc wraps plain text in a single-paragraph ADF document.
func textDoc(text string) map[string]any {
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []map[string]any{
			{"type": "paragraph", "content": []map[string]any{
				{"type": "text", "text": text},
			}},
		},
	}
}
