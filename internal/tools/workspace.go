package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stagehandlabs/stagehand/internal/session"
	"github.com/stagehandlabs/stagehand/internal/workspace"
)

// Workspaces is the sandbox lifecycle surface the workspace tool family
// needs. Implemented by *workspace.Manager.
type Workspaces interface {
	Ensure(ctx context.Context, conversationKey string) (*workspace.Connection, error)
	AuthenticateGit(ctx context.Context, conversationKey, owner string, repos []string) error
}

// errNotInitialized is returned by every workspace tool except
// workspace_initialize until the workspace has been initialized this turn.
var errNotInitialized = fmt.Errorf("workspace not initialized; call workspace_initialize first")

// workspaceTools builds the remote environment tool family. The tools are
// always listed so the model knows the capability exists, but everything
// except workspace_initialize fails until initialization has happened in
// the current turn.
func workspaceTools(mgr Workspaces, conversationKey string, rec session.Record, st *turnState) []Tool {
	return []Tool{
		{
			Name: "workspace_initialize",
			Description: "Create or reconnect the conversation's remote workspace. Must be called before any " +
				"other workspace tool. Safe to call again; the same workspace is reused while it lives.",
			Schema: obj(map[string]any{}),
			Run: func(ctx context.Context, _ json.RawMessage) (string, error) {
				conn, err := mgr.Ensure(ctx, conversationKey)
				if err != nil {
					return "", err
				}
				st.ws = conn
				return jsonResult(map[string]string{"workspaceId": conn.SandboxID})
			},
		},
		{
			Name: "workspace_authenticate_git",
			Description: "Install a short-lived repository-scoped git credential inside the workspace, " +
				"enabling clone and push for the named repositories.",
			Schema: obj(map[string]any{
				"owner": str("Repository owner; defaults to the conversation's repository."),
				"repos": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Repository names the credential should cover; defaults to the conversation's repository.",
				},
			}),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				if st.ws == nil {
					return "", errNotInitialized
				}
				var args struct {
					Owner string   `json:"owner"`
					Repos []string `json:"repos"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if args.Owner == "" {
					args.Owner = rec.Owner
				}
				if len(args.Repos) == 0 && rec.Repo != "" {
					args.Repos = []string{rec.Repo}
				}
				if args.Owner == "" || len(args.Repos) == 0 {
					return "", fmt.Errorf("owner and repos are required (no repository in the conversation context)")
				}
				if err := mgr.AuthenticateGit(ctx, conversationKey, args.Owner, args.Repos); err != nil {
					return "", err
				}
				return fmt.Sprintf("git authenticated for %s (%d repos)", args.Owner, len(args.Repos)), nil
			},
		},
		{
			Name:        "workspace_exec",
			Description: "Run a shell command in the workspace and wait for it to finish. Returns exit code and output.",
			Schema: obj(map[string]any{
				"command": str("Shell command line."),
				"cwd":     str("Working directory (optional)."),
				"timeout": integer("Timeout in seconds (optional)."),
			}, "command"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				if st.ws == nil {
					return "", errNotInitialized
				}
				var args struct {
					Command string `json:"command"`
					Cwd     string `json:"cwd"`
					Timeout int    `json:"timeout"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				result, err := st.ws.Exec(ctx, workspace.ExecRequest{
					Command:        args.Command,
					Cwd:            args.Cwd,
					TimeoutSeconds: args.Timeout,
				})
				if err != nil {
					return "", err
				}
				return jsonResult(result)
			},
		},
		{
			Name: "workspace_exec_background",
			Description: "Start a long-running command in the workspace without waiting. Output goes to a log " +
				"file under /tmp; returns the process id and log path.",
			Schema: obj(map[string]any{
				"command": str("Shell command line."),
				"name":    str("Short name for the log file (default 'job')."),
				"cwd":     str("Working directory (optional)."),
			}, "command"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				if st.ws == nil {
					return "", errNotInitialized
				}
				var args struct {
					Command string `json:"command"`
					Name    string `json:"name"`
					Cwd     string `json:"cwd"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if args.Name == "" {
					args.Name = "job"
				}
				logPath := "/tmp/" + args.Name + ".log"
				wrapped := fmt.Sprintf("nohup sh -c %s > %s 2>&1 & echo $!",
					workspace.ShellQuote(args.Command), logPath)
				result, err := st.ws.Exec(ctx, workspace.ExecRequest{Command: wrapped, Cwd: args.Cwd})
				if err != nil {
					return "", err
				}
				if result.ExitCode != 0 {
					return "", fmt.Errorf("starting background command: exit %d: %s", result.ExitCode, result.Output)
				}
				return jsonResult(map[string]string{"pid": result.Output, "log": logPath})
			},
		},
		{
			Name:        "workspace_list_processes",
			Description: "List running processes in the workspace with pid, elapsed time, and command line.",
			Schema:      obj(map[string]any{}),
			Run: func(ctx context.Context, _ json.RawMessage) (string, error) {
				if st.ws == nil {
					return "", errNotInitialized
				}
				result, err := st.ws.Exec(ctx, workspace.ExecRequest{Command: "ps -eo pid,etime,args"})
				if err != nil {
					return "", err
				}
				return result.Output, nil
			},
		},
		{
			Name:        "workspace_kill_process",
			Description: "Terminate a process in the workspace by pid.",
			Schema: obj(map[string]any{
				"pid": integer("Process id to terminate."),
			}, "pid"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				if st.ws == nil {
					return "", errNotInitialized
				}
				var args struct {
					PID int `json:"pid"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				result, err := st.ws.Exec(ctx, workspace.ExecRequest{Command: fmt.Sprintf("kill %d", args.PID)})
				if err != nil {
					return "", err
				}
				if result.ExitCode != 0 {
					return "", fmt.Errorf("kill %d: exit %d: %s", args.PID, result.ExitCode, result.Output)
				}
				return fmt.Sprintf("killed %d", args.PID), nil
			},
		},
		{
			Name:        "workspace_read_file",
			Description: "Read a file from the workspace filesystem.",
			Schema: obj(map[string]any{
				"path": str("Absolute file path in the workspace."),
			}, "path"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				if st.ws == nil {
					return "", errNotInitialized
				}
				var args struct {
					Path string `json:"path"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				return st.ws.ReadFile(ctx, args.Path)
			},
		},
		{
			Name:        "workspace_write_file",
			Description: "Write a file into the workspace filesystem, creating or overwriting it.",
			Schema: obj(map[string]any{
				"path":    str("Absolute file path in the workspace."),
				"content": str("Full file contents."),
			}, "path", "content"),
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				if st.ws == nil {
					return "", errNotInitialized
				}
				var args struct {
					Path    string `json:"path"`
					Content string `json:"content"`
				}
				if err := decode(input, &args); err != nil {
					return "", err
				}
				if err := st.ws.WriteFile(ctx, args.Path, args.Content); err != nil {
					return "", err
				}
				return "wrote " + args.Path, nil
			},
		},
	}
}
