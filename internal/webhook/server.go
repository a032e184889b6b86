// Package webhook is the event ingress: it receives Jira and GitHub
// webhooks, authenticates them, decides which deliveries are actually
// addressed to the agent, derives the conversation each one belongs to, and
// hands the composed message to the dispatcher. Everything that arrives and
// is not addressed to the agent is acknowledged and dropped here, before
// any model call happens.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/stagehandlabs/stagehand/internal/hub"
	"github.com/stagehandlabs/stagehand/internal/jira"
	"github.com/stagehandlabs/stagehand/internal/store"
)

// Dispatcher starts a turn for a conversation. Implemented by
// *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, conversationKey, message string) error
}

// JiraSource is the Jira surface the ingress needs: fetching comment bodies
// that arrive without inline content, and building browse links.
type JiraSource interface {
	GetComment(ctx context.Context, issueKey, commentID string) (jira.Comment, error)
	BrowseURL(issueKey string) string
}

// SelfIdentity resolves the agent's own Jira account id, for loop
// prevention and mention gating.
type SelfIdentity interface {
	AccountID(ctx context.Context) (string, error)
}

// Config holds the ingress dependencies and authentication material.
type Config struct {
	// Store persists context records as events classify.
	Store store.Store
	// Dispatcher receives every classified event.
	Dispatcher Dispatcher

	// Jira fetches comment bodies and builds links. Optional; without it,
	// deliveries lacking an inline body are dropped.
	Jira JiraSource
	// JiraIdentity resolves the agent's Jira account id. Required for the
	// Jira endpoint to accept anything.
	JiraIdentity SelfIdentity
	// JiraSecret is the shared bearer token for the Jira endpoint. Jira's
	// outgoing webhooks cannot sign payloads, so this is optional; an empty
	// value leaves the endpoint open and logs a warning at startup.
	JiraSecret string

	// GitHubSecret verifies GitHub webhook signatures. Required for the
	// GitHub endpoint.
	GitHubSecret []byte
	// BotLogin is the agent's GitHub account login (without the "[bot]"
	// suffix), used to drop its own comments.
	BotLogin string
	// NameToken is the word that addresses the agent in GitHub comment
	// text, e.g. "stagehand".
	NameToken string

	// Hub receives the activity feed. Optional.
	Hub *hub.Hub

	Logger *slog.Logger
}

// Server is the webhook ingress HTTP server.
type Server struct {
	mux      *http.ServeMux
	listener net.Listener
	logger   *slog.Logger
}

// New creates a Server bound to the given address (e.g. ":8090"). It does
// not start serving; call Serve for that.
func New(addr string, cfg Config) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JiraSecret == "" {
		logger.Warn("jira webhook endpoint is unauthenticated; set a webhook secret to require a bearer token")
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, listener: ln, logger: logger}
	s.registerRoutes(cfg)
	return s, nil
}

// Addr returns the listener's address (useful when binding to :0 in tests).
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve starts accepting connections. It blocks until the listener is
// closed.
func (s *Server) Serve() error {
	return http.Serve(s.listener, s.mux)
}

// Close shuts down the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) registerRoutes(cfg Config) {
	jh := &jiraHandler{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		jira:       cfg.Jira,
		identity:   cfg.JiraIdentity,
		secret:     cfg.JiraSecret,
		hub:        cfg.Hub,
		logger:     s.logger,
	}
	gh := &githubHandler{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		secret:     cfg.GitHubSecret,
		botLogin:   cfg.BotLogin,
		nameToken:  cfg.NameToken,
		hub:        cfg.Hub,
		logger:     s.logger,
	}

	s.mux.HandleFunc("POST /jira", jh.handle)
	s.mux.HandleFunc("POST /github", gh.handle)

	s.mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Hub != nil {
		s.mux.HandleFunc("GET /api/events", cfg.Hub.ServeWS)
	}

	// Providers probe endpoints with GETs and deliver retired event types;
	// acknowledge everything else so they don't disable the subscription.
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
