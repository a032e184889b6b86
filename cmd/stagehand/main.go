package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stagehandlabs/stagehand/internal/agent"
	"github.com/stagehandlabs/stagehand/internal/config"
	"github.com/stagehandlabs/stagehand/internal/dispatch"
	"github.com/stagehandlabs/stagehand/internal/github"
	"github.com/stagehandlabs/stagehand/internal/hub"
	"github.com/stagehandlabs/stagehand/internal/jira"
	"github.com/stagehandlabs/stagehand/internal/session"
	"github.com/stagehandlabs/stagehand/internal/store"
	"github.com/stagehandlabs/stagehand/internal/tools"
	"github.com/stagehandlabs/stagehand/internal/webhook"
	"github.com/stagehandlabs/stagehand/internal/workspace"
)

var version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `stagehand — conversational Jira/GitHub automation agent

Usage:
  stagehand serve [flags]   Start the webhook server

Flags:
  --addr          Address to listen on (env: STAGEHAND_LISTEN_ADDR, default :8090)
  --config-dir    Credentials directory (default: ~/.stagehand)
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	subcmd := os.Args[1]
	rest := os.Args[2:]

	var err error
	switch subcmd {
	case "serve":
		err = runServe(rest)
	case "--version", "version":
		fmt.Println("stagehand " + version)
		return
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "stagehand %s: %v\n", subcmd, err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	addr := ""
	configDir := config.DefaultDir()

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			if i+1 < len(args) {
				addr = args[i+1]
				i++
			}
		case "--config-dir":
			if i+1 < len(args) {
				configDir = args[i+1]
				i++
			}
		}
	}

	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if addr == "" {
		addr = cfg.ListenAddr
	}

	// Correlation store: Redis when configured, local sqlite otherwise.
	var st store.Store
	if cfg.RedisURL != "" {
		st, err = store.OpenRedis(ctx, cfg.RedisURL)
	} else {
		st, err = store.OpenSQLite(cfg.DBPath)
	}
	if err != nil {
		return fmt.Errorf("opening correlation store: %w", err)
	}
	defer st.Close()

	var jiraClient *jira.Client
	var jiraIdentity *jira.IdentityResolver
	if cfg.HasJira() {
		var opts []jira.Option
		if cfg.Jira.AcceptLanguage != "" {
			opts = append(opts, jira.WithAcceptLanguage(cfg.Jira.AcceptLanguage))
		}
		if cfg.Jira.DefaultProject != "" {
			opts = append(opts, jira.WithDefaultProject(cfg.Jira.DefaultProject))
		}
		jiraClient = jira.New(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken, opts...)
		jiraIdentity = jira.NewIdentityResolver(cfg.Jira.AccountID, jiraClient)
		logger.Info("jira integration configured", "site", cfg.Jira.BaseURL)
	}

	var ghClient *github.Client
	if cfg.HasGitHub() {
		ghClient, err = github.New(github.AppCredentials{
			AppID:          cfg.GitHub.AppID,
			InstallationID: cfg.GitHub.InstallationID,
			PrivateKeyB64:  cfg.GitHub.PrivateKeyB64,
		})
		if err != nil {
			return fmt.Errorf("creating github client: %w", err)
		}
		logger.Info("github integration configured", "app_id", cfg.GitHub.AppID)
	}

	composer := &tools.Composer{BranchPrefix: cfg.BranchPrefix}
	if jiraClient != nil {
		composer.Jira = jiraClient
	}
	if ghClient != nil {
		composer.GitHub = ghClient
	}
	if cfg.HasDaytona() {
		api := workspace.NewDaytona(cfg.Daytona.APIKey, cfg.Daytona.BaseURL, nil)
		var minter workspace.TokenMinter
		if ghClient != nil {
			minter = ghClient
		}
		composer.Workspaces = workspace.NewManager(api, minter, st, cfg.Daytona.Snapshot, cfg.Daytona.TTLMinutes, logger)
		logger.Info("workspace provisioning configured", "snapshot", cfg.Daytona.Snapshot, "ttl_minutes", cfg.Daytona.TTLMinutes)
	}

	anthropicClient := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))
	executor := agent.NewExecutor(agent.Config{
		Model:         &anthropicClient.Messages,
		ModelID:       cfg.Model,
		Resolver:      session.NewResolver(st, logger),
		Tools:         composer,
		AgentName:     cfg.AgentName,
		BranchPrefix:  cfg.BranchPrefix,
		MaxIterations: cfg.MaxIterations,
		Logger:        logger,
	})

	activity := hub.New(logger)
	dispatcher := dispatch.New(executor, activity, logger)
	defer dispatcher.Close()

	webhookCfg := webhook.Config{
		Store:        st,
		Dispatcher:   dispatcher,
		JiraSecret:   cfg.Jira.WebhookSecret,
		GitHubSecret: []byte(cfg.GitHub.WebhookSecret),
		BotLogin:     cfg.GitHub.BotLogin,
		NameToken:    cfg.AgentName,
		Hub:          activity,
		Logger:       logger,
	}
	if jiraClient != nil {
		webhookCfg.Jira = jiraClient
		webhookCfg.JiraIdentity = jiraIdentity
	}

	srv, err := webhook.New(addr, webhookCfg)
	if err != nil {
		return fmt.Errorf("starting webhook server: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()
	logger.Info("stagehand listening", "addr", srv.Addr(), "version", version)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		srv.Close()
		<-serveErr
		return nil
	case err := <-serveErr:
		return fmt.Errorf("webhook server: %w", err)
	}
}
