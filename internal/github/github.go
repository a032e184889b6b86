// Package github wraps go-github with the typed operations the agent's
// platform tools need, plus GitHub App authentication and on-demand scoped
// installation tokens for workspace git access.
package github

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	jwt "github.com/golang-jwt/jwt/v4"
	gh "github.com/google/go-github/v68/github"
)

// AppCredentials holds GitHub App authentication parameters. AppID accepts
// either the numeric App ID or the newer Client ID string; both are valid
// JWT issuers.
type AppCredentials struct {
	AppID          string
	InstallationID int64
	PrivateKeyB64  string
}

// Client is a typed GitHub API client authenticated as a GitHub App
// installation.
type Client struct {
	gh             *gh.Client
	apps           *gh.Client
	installationID int64
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL string
}

// WithBaseURL overrides the GitHub API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// New creates a GitHub client authenticated as the given App installation.
// Two underlying clients are kept: one on the installation transport for
// normal API calls, and one on the bare App JWT transport for minting
// scoped installation tokens.
func New(app AppCredentials, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}

	keyData, err := base64.StdEncoding.DecodeString(app.PrivateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	signer := &issuerSigner{
		issuer: app.AppID,
		method: jwt.SigningMethodRS256,
		key:    key,
	}

	atr, err := ghinstallation.NewAppsTransportWithOptions(
		http.DefaultTransport, 0, // appID unused — the signer sets the issuer
		ghinstallation.WithSigner(signer),
	)
	if err != nil {
		return nil, fmt.Errorf("creating apps transport: %w", err)
	}
	if cfg.baseURL != "" {
		atr.BaseURL = cfg.baseURL
	}

	itr := ghinstallation.NewFromAppsTransport(atr, app.InstallationID)
	if cfg.baseURL != "" {
		itr.BaseURL = cfg.baseURL
	}

	client := gh.NewClient(&http.Client{Transport: itr})
	apps := gh.NewClient(&http.Client{Transport: atr})
	if cfg.baseURL != "" {
		client, _ = client.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL)
		apps, _ = apps.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL)
	}

	return &Client{gh: client, apps: apps, installationID: app.InstallationID}, nil
}

// issuerSigner implements ghinstallation.Signer with a fixed issuer,
// so the same code path serves numeric App IDs and Client ID strings.
type issuerSigner struct {
	issuer string
	method jwt.SigningMethod
	key    any
}

func (s *issuerSigner) Sign(claims jwt.Claims) (string, error) {
	if rc, ok := claims.(*jwt.RegisteredClaims); ok {
		rc.Issuer = s.issuer
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}

// InstallationToken mints a short-lived installation token scoped to the
// named repositories. The token is what gets injected into a workspace for
// authenticated git operations — never the App's private key.
func (c *Client) InstallationToken(ctx context.Context, repos []string) (string, error) {
	tok, _, err := c.apps.Apps.CreateInstallationToken(ctx, c.installationID, &gh.InstallationTokenOptions{
		Repositories: repos,
	})
	if err != nil {
		return "", wrapErr("creating installation token", err)
	}
	return tok.GetToken(), nil
}

// APIError carries a non-2xx upstream response status. Tool handlers
// surface it to the model unmodified; nothing in this layer retries.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github API returned %d: %s", e.Status, e.Msg)
}

// wrapErr converts go-github error responses into *APIError and wraps
// everything else with the operation name.
func wrapErr(op string, err error) error {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return fmt.Errorf("%s: %w", op, &APIError{Status: ghErr.Response.StatusCode, Msg: ghErr.Message})
	}
	return fmt.Errorf("%s: %w", op, err)
}
