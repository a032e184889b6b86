package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stagehandlabs/stagehand/internal/store"
)

// Handle is the persisted reference to a conversation's sandbox. The remote
// environment may have expired by the time the handle is read back, so every
// use connects first and recreates on failure.
type Handle struct {
	WorkspaceID string `json:"workspaceId"`
}

const workspaceKeyPrefix = "daytona-workspace-"

// Provisioner is the sandbox API surface the manager needs. Implemented by
// *Daytona.
type Provisioner interface {
	Create(ctx context.Context, req CreateRequest) (Sandbox, error)
	Connect(ctx context.Context, sandboxID string) error
	Exec(ctx context.Context, sandboxID string, req ExecRequest) (ExecResult, error)
	ReadFile(ctx context.Context, sandboxID, filePath string) (string, error)
	WriteFile(ctx context.Context, sandboxID, filePath, content string) error
}

// TokenMinter mints short-lived repository-scoped credentials for git
// access inside a sandbox. Implemented by the GitHub client.
type TokenMinter interface {
	InstallationToken(ctx context.Context, repos []string) (string, error)
}

// Manager creates, recovers, and reconnects one sandbox per conversation.
type Manager struct {
	api      Provisioner
	tokens   TokenMinter
	store    store.Store
	snapshot string
	ttl      int
	logger   *slog.Logger
}

// NewManager creates a Manager. api may be nil when no provisioning
// credential is configured; creation then fails with a configuration
// error.
func NewManager(api Provisioner, tokens TokenMinter, s store.Store, snapshot string, ttlMinutes int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		api:      api,
		tokens:   tokens,
		store:    s,
		snapshot: snapshot,
		ttl:      ttlMinutes,
		logger:   logger,
	}
}

// Connection is a live link to a conversation's sandbox.
type Connection struct {
	SandboxID string
	api       Provisioner
}

// NewConnection builds a connection directly from a sandbox id and API.
// Used by callers that hold their own Provisioner, and by tests.
func NewConnection(sandboxID string, api Provisioner) *Connection {
	return &Connection{SandboxID: sandboxID, api: api}
}

// Exec runs a command in the sandbox.
func (c *Connection) Exec(ctx context.Context, req ExecRequest) (ExecResult, error) {
	return c.api.Exec(ctx, c.SandboxID, req)
}

// ReadFile reads a file from the sandbox.
func (c *Connection) ReadFile(ctx context.Context, path string) (string, error) {
	return c.api.ReadFile(ctx, c.SandboxID, path)
}

// WriteFile writes a file into the sandbox.
func (c *Connection) WriteFile(ctx context.Context, path, content string) error {
	return c.api.WriteFile(ctx, c.SandboxID, path, content)
}

// Ensure returns a live connection for the conversation: the persisted
// handle when it still connects, otherwise a freshly created sandbox. A
// stale handle is replaced exactly once per call — a failure of the
// replacement propagates.
func (m *Manager) Ensure(ctx context.Context, conversationKey string) (*Connection, error) {
	if handle, ok := m.loadHandle(ctx, conversationKey); ok {
		if err := m.connect(ctx, handle); err == nil {
			return &Connection{SandboxID: handle.WorkspaceID, api: m.api}, nil
		} else {
			m.logger.Info("workspace handle stale, recreating",
				"conversation_key", conversationKey,
				"workspace_id", handle.WorkspaceID,
				"error", err)
		}
	}
	return m.create(ctx, conversationKey)
}

// create provisions a new sandbox, persists its handle (overwriting any
// stale one), and returns a connection.
func (m *Manager) create(ctx context.Context, conversationKey string) (*Connection, error) {
	if m.api == nil {
		return nil, fmt.Errorf("workspace provisioning is not configured (missing API key)")
	}

	sb, err := m.api.Create(ctx, CreateRequest{
		Snapshot:        m.snapshot,
		AutoStopMinutes: m.ttl,
		AutoDeleteAfter: m.ttl,
		Labels:          map[string]string{"stagehand/conversation": conversationKey},
	})
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	handle := Handle{WorkspaceID: sb.ID}
	if data, err := json.Marshal(handle); err == nil {
		if err := m.store.Set(ctx, workspaceKeyPrefix+conversationKey, string(data)); err != nil {
			// Losing the handle only costs a recreate on the next turn.
			m.logger.Warn("persisting workspace handle", "conversation_key", conversationKey, "error", err)
		}
	}

	m.logger.Info("workspace created", "conversation_key", conversationKey, "workspace_id", sb.ID)
	return &Connection{SandboxID: sb.ID, api: m.api}, nil
}

// AuthenticateGit ensures a connection and installs a short-lived
// installation token scoped to the named repositories as the sandbox's git
// credential. The App private key never enters the sandbox.
func (m *Manager) AuthenticateGit(ctx context.Context, conversationKey, owner string, repos []string) error {
	if m.tokens == nil {
		return fmt.Errorf("github app credentials are not configured")
	}

	conn, err := m.Ensure(ctx, conversationKey)
	if err != nil {
		return err
	}

	token, err := m.tokens.InstallationToken(ctx, repos)
	if err != nil {
		return fmt.Errorf("minting scoped token: %w", err)
	}

	script := `git config --global credential.helper store && ` +
		`printf 'https://x-access-token:%s@github.com\n' "$GIT_TOKEN" > ~/.git-credentials && ` +
		`printf 'export GIT_TOKEN=%s\n' "$GIT_TOKEN" > ~/.stagehand_env`
	result, err := conn.Exec(ctx, ExecRequest{
		Command: "sh -c " + ShellQuote(script),
		Env:     map[string]string{"GIT_TOKEN": token, "GIT_OWNER": owner},
	})
	if err != nil {
		return fmt.Errorf("installing git credentials: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("installing git credentials: exit %d: %s", result.ExitCode, result.Output)
	}

	m.logger.Info("git authenticated in workspace",
		"conversation_key", conversationKey,
		"owner", owner,
		"repos", len(repos))
	return nil
}

// loadHandle reads the persisted handle; store failures degrade to a miss.
func (m *Manager) loadHandle(ctx context.Context, conversationKey string) (Handle, bool) {
	raw, ok, err := m.store.Get(ctx, workspaceKeyPrefix+conversationKey)
	if err != nil {
		m.logger.Warn("reading workspace handle", "conversation_key", conversationKey, "error", err)
		return Handle{}, false
	}
	if !ok {
		return Handle{}, false
	}
	var handle Handle
	if err := json.Unmarshal([]byte(raw), &handle); err != nil || handle.WorkspaceID == "" {
		return Handle{}, false
	}
	return handle, true
}

func (m *Manager) connect(ctx context.Context, handle Handle) error {
	if m.api == nil {
		return fmt.Errorf("workspace provisioning is not configured (missing API key)")
	}
	return m.api.Connect(ctx, handle.WorkspaceID)
}

// ShellQuote wraps s in single quotes, escaping embedded single quotes.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
