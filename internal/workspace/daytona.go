// Package workspace manages the per-conversation ephemeral remote
// environment: a Daytona sandbox created lazily on first use, reconnected
// on later turns, and transparently recreated when the provider's TTL has
// expired it.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Sandbox is the provider's view of one environment.
type Sandbox struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// CreateRequest describes a new sandbox.
type CreateRequest struct {
	Snapshot        string            `json:"snapshot,omitempty"`
	AutoStopMinutes int               `json:"autoStopInterval,omitempty"`
	AutoDeleteAfter int               `json:"autoDeleteInterval,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
}

// ExecRequest is one command execution inside a sandbox.
type ExecRequest struct {
	Command        string            `json:"command"`
	Cwd            string            `json:"cwd,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout,omitempty"`
}

// ExecResult is the outcome of a command execution.
type ExecResult struct {
	ExitCode int    `json:"exitCode"`
	Output   string `json:"result"`
}

// APIError carries a non-2xx provisioning API response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daytona API returned %d: %s", e.Status, e.Body)
}

// Daytona is a thin typed client for the Daytona sandbox API.
type Daytona struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

const defaultDaytonaURL = "https://app.daytona.io/api"

// NewDaytona creates a client. An empty baseURL uses the public API.
func NewDaytona(apiKey, baseURL string, httpClient *http.Client) *Daytona {
	if baseURL == "" {
		baseURL = defaultDaytonaURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Daytona{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (d *Daytona) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
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

// Create provisions a new sandbox.
func (d *Daytona) Create(ctx context.Context, req CreateRequest) (Sandbox, error) {
	var sb Sandbox
	if err := d.do(ctx, http.MethodPost, "/sandbox", req, &sb); err != nil {
		return Sandbox{}, fmt.Errorf("creating sandbox: %w", err)
	}
	return sb, nil
}

// Connect verifies a sandbox is reachable, starting it when the provider
// auto-stopped it. Any failure means the handle is stale.
func (d *Daytona) Connect(ctx context.Context, sandboxID string) error {
	var sb Sandbox
	if err := d.do(ctx, http.MethodGet, "/sandbox/"+url.PathEscape(sandboxID), nil, &sb); err != nil {
		return fmt.Errorf("looking up sandbox %s: %w", sandboxID, err)
	}

	switch sb.State {
	case "started":
		return nil
	case "stopped":
		if err := d.do(ctx, http.MethodPost, "/sandbox/"+url.PathEscape(sandboxID)+"/start", nil, nil); err != nil {
			return fmt.Errorf("starting sandbox %s: %w", sandboxID, err)
		}
		return nil
	default:
		return fmt.Errorf("sandbox %s is %s", sandboxID, sb.State)
	}
}

// Exec runs a command inside a sandbox and waits for it to finish.
func (d *Daytona) Exec(ctx context.Context, sandboxID string, req ExecRequest) (ExecResult, error) {
	var result ExecResult
	path := fmt.Sprintf("/toolbox/%s/toolbox/process/execute", url.PathEscape(sandboxID))
	if err := d.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return ExecResult{}, fmt.Errorf("executing command: %w", err)
	}
	return result, nil
}

// ReadFile downloads a file from a sandbox.
func (d *Daytona) ReadFile(ctx context.Context, sandboxID, filePath string) (string, error) {
	path := fmt.Sprintf("/toolbox/%s/toolbox/files/download?path=%s", url.PathEscape(sandboxID), url.QueryEscape(filePath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", filePath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return string(body), nil
}

// WriteFile uploads file contents into a sandbox.
func (d *Daytona) WriteFile(ctx context.Context, sandboxID, filePath, content string) error {
	path := fmt.Sprintf("/toolbox/%s/toolbox/files/upload?path=%s", url.PathEscape(sandboxID), url.QueryEscape(filePath))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", filePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
