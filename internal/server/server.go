// Package server exposes a thread session over HTTP for embedding pages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/sandwichfarm/zapthreads/internal/aggregates"
	"github.com/sandwichfarm/zapthreads/internal/authoring"
	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/entities"
	"github.com/sandwichfarm/zapthreads/internal/metrics"
	"github.com/sandwichfarm/zapthreads/internal/ops"
	"github.com/sandwichfarm/zapthreads/internal/render"
	"github.com/sandwichfarm/zapthreads/internal/session"
	"github.com/sandwichfarm/zapthreads/internal/signer"
	"github.com/sandwichfarm/zapthreads/internal/storage"
	"github.com/sandwichfarm/zapthreads/internal/store"
	"github.com/sandwichfarm/zapthreads/internal/thread"
)

// maximum accepted reply body
const maxBodyBytes = 64 << 10

// Server is the HTTP surface of a session
type Server struct {
	session  *session.Session
	archive  *storage.Storage
	mentions *entities.Resolver
	diag     *ops.DiagnosticsCollector
	config   *config.Server
	logger   *ops.Logger

	httpServer *http.Server
}

// New creates a server. archive may be nil.
func New(cfg *config.Server, sess *session.Session, archive *storage.Storage, logger *ops.Logger) *Server {
	if logger == nil {
		logger = ops.Default()
	}
	return &Server{
		session:  sess,
		archive:  archive,
		mentions: entities.NewResolver(sess.UserStore(), sess.Events()),
		diag:     ops.NewDiagnosticsCollector("dev", "unknown", sess, archive),
		config:   cfg,
		logger:   logger.WithComponent("server"),
	}
}

// SetDiagnostics replaces the collector behind /api/diagnostics
func (s *Server) SetDiagnostics(d *ops.DiagnosticsCollector) {
	s.diag = d
}

// Handler returns the routes wrapped in the CORS policy
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/thread", s.handleThread)
	mux.HandleFunc("POST /api/reply", s.handleReply)
	mux.HandleFunc("GET /api/diagnostics", s.handleDiagnostics)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.archive != nil {
		mux.Handle("/relay", s.archive.Relay())
	}

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)
}

// Start listens on the configured address until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("http server listening", "address", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the listener down, waiting briefly for open requests
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type commentJSON struct {
	ID        string             `json:"id"`
	Pubkey    string             `json:"pubkey"`
	Author    string             `json:"author"`
	Content   string             `json:"content"`
	HTML      string             `json:"html"`
	CreatedAt int64              `json:"created_at"`
	Counts    *aggregates.Counts `json:"counts,omitempty"`
	Replies   []commentJSON      `json:"replies"`
}

type userJSON struct {
	Pubkey  string `json:"pubkey"`
	Npub    string `json:"npub,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

type featuresJSON struct {
	Likes   bool `json:"likes"`
	Zaps    bool `json:"zaps"`
	Replies bool `json:"replies"`
}

type threadJSON struct {
	Anchor   string              `json:"anchor"`
	Comments []commentJSON       `json:"comments"`
	Users    map[string]userJSON `json:"users"`
	Totals   aggregates.Totals   `json:"totals"`
	Features featuresJSON        `json:"features"`
}

func (s *Server) handleThread(w http.ResponseWriter, _ *http.Request) {
	forest := s.session.Forest()
	counts := s.session.Counts()
	users := s.session.Users()
	features := s.session.Features()

	resp := threadJSON{
		Anchor:   s.session.Reference().String(),
		Comments: s.comments(forest, users, counts),
		Users:    make(map[string]userJSON),
		Totals:   s.session.Totals(),
		Features: featuresJSON{
			Likes:   !features.DisableLikes,
			Zaps:    !features.DisableZaps,
			Replies: s.config.AllowReplies,
		},
	}
	for key, u := range users {
		if key == store.AnonymousKey {
			continue
		}
		resp.Users[key] = userJSON{Pubkey: u.Pubkey, Npub: u.Npub, Name: u.Name, Picture: u.ImgURL}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) comments(nodes []*thread.Node, users map[string]store.User, counts map[string]aggregates.Counts) []commentJSON {
	out := make([]commentJSON, 0, len(nodes))
	for _, n := range nodes {
		html, err := render.HTML(s.mentions.ReplaceEntities(n.Event.Content, entities.Markdown))
		if err != nil {
			s.logger.Debug("markdown conversion failed", "event_id", n.Event.ID, "error", err)
		}

		c := commentJSON{
			ID:        n.Event.ID,
			Pubkey:    n.Event.PubKey,
			Author:    render.DisplayName(users[n.Event.PubKey], n.Event.PubKey),
			Content:   n.Event.Content,
			HTML:      html,
			CreatedAt: int64(n.Event.CreatedAt),
			Replies:   s.comments(n.Children, users, counts),
		}
		if cnt, ok := counts[n.Event.ID]; ok && cnt.HasInteractions() {
			c.Counts = &cnt
		}
		out = append(out, c)
	}
	return out
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	diag, err := s.diag.CollectAll(r.Context())
	if err != nil {
		s.logger.Warn("diagnostics failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(diag.FormatAsText()))
		return
	}
	writeJSON(w, http.StatusOK, diag)
}

type replyRequest struct {
	Content string `json:"content"`
	ReplyTo string `json:"reply_to"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if !s.config.AllowReplies {
		writeError(w, http.StatusForbidden, "replies are disabled")
		return
	}

	var req replyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// web callers never sign as the operator's logged-in identity
	evt, err := s.session.ReplyAnonymous(r.Context(), req.ReplyTo, req.Content)
	if err != nil {
		status := replyStatus(err)
		s.logger.Debug("reply rejected", "status", status, "error", err)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, evt)
}

func replyStatus(err error) int {
	switch {
	case errors.Is(err, authoring.ErrEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, authoring.ErrNoAnchor):
		return http.StatusConflict
	case errors.Is(err, authoring.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, authoring.ErrSignFailed), errors.Is(err, signer.ErrNoSigner):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
