package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/zapthreads/internal/config"
	"github.com/sandwichfarm/zapthreads/internal/metadata"
	"github.com/sandwichfarm/zapthreads/internal/ops"
	"github.com/sandwichfarm/zapthreads/internal/session"
	"github.com/sandwichfarm/zapthreads/internal/signer"
	"github.com/sandwichfarm/zapthreads/internal/storage"
	"github.com/sandwichfarm/zapthreads/internal/store"
)

const authorPK = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

type idleRelay struct{}

func (idleRelay) FetchEvents(context.Context, []string, nostr.Filter) ([]*nostr.Event, error) {
	return nil, nil
}

func (idleRelay) SubscribeEvents(ctx context.Context, _ []string, _ nostr.Filters) <-chan *nostr.Event {
	ch := make(chan *nostr.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (idleRelay) PublishEvent(context.Context, []string, *nostr.Event) error {
	return nil
}

type noProfiles struct{}

func (noProfiles) Resolve(context.Context, []string) ([]metadata.Profile, error) {
	return nil, nil
}

func setupServer(t *testing.T, mutate func(*config.Config)) (*Server, *session.Session) {
	t.Helper()
	return setupServerWith(t, mutate, session.Deps{})
}

func setupServerWith(t *testing.T, mutate func(*config.Config), deps session.Deps) (*Server, *session.Session) {
	t.Helper()

	naddr, err := nip19.EncodeEntity(authorPK, 30023, "post", nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Anchor = naddr
	cfg.Ingest.VerifySignatures = false
	cfg.Scheduler.NestDebounceMs = 1
	if mutate != nil {
		mutate(cfg)
	}

	deps.Relay = idleRelay{}
	deps.Resolver = noProfiles{}
	deps.Logger = ops.Discard()
	sess, err := session.New(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(func() { sess.Close() })

	return New(&cfg.Server, sess, nil, ops.Discard()), sess
}

func comment(id, parent, content string) *nostr.Event {
	tags := nostr.Tags{{"a", "30023:" + authorPK + ":post", "", "root"}}
	if parent != "" {
		tags = append(tags, nostr.Tag{"e", parent, "", "reply"})
	}
	return &nostr.Event{ID: id, PubKey: authorPK, Kind: 1, Content: content, CreatedAt: 1, Tags: tags}
}

func TestThreadEndpoint(t *testing.T) {
	srv, sess := setupServer(t, nil)
	require.True(t, sess.Ingest(comment("A", "", "**hello**")))
	require.True(t, sess.Ingest(comment("B", "A", "reply")))
	require.True(t, sess.Ingest(&nostr.Event{ID: "L", Kind: 7, Content: "+", Tags: nostr.Tags{{"e", "A"}}}))
	sess.Flush()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/thread", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body threadJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.Len(t, body.Comments, 1)
	assert.Equal(t, "A", body.Comments[0].ID)
	assert.Contains(t, body.Comments[0].HTML, "<strong>hello</strong>")
	require.Len(t, body.Comments[0].Replies, 1)
	assert.Equal(t, "B", body.Comments[0].Replies[0].ID)
	require.NotNil(t, body.Comments[0].Counts)
	assert.Equal(t, 1, body.Comments[0].Counts.Likes)

	assert.Equal(t, 2, body.Totals.Comments)
	assert.Equal(t, 1, body.Totals.Likes)
	assert.True(t, body.Features.Likes)
	assert.True(t, body.Features.Replies)
}

func TestReplyEndpoint(t *testing.T) {
	srv, sess := setupServer(t, nil)
	require.True(t, sess.Ingest(comment("A", "", "hello")))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/reply", strings.NewReader(`{"content":"hi there","reply_to":"A"}`))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var evt nostr.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evt))
	assert.Equal(t, "hi there", evt.Content)
	ok, err := evt.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)

	sess.Flush()
	assert.NotNil(t, sess.Forest().Find(evt.ID))
}

func TestReplyEndpointIgnoresOperatorLogin(t *testing.T) {
	operator, err := signer.NewEphemeral()
	require.NoError(t, err)
	operatorPK, _ := operator.PublicKey(context.Background())

	srv, sess := setupServerWith(t, nil, session.Deps{
		Bunkers: func(context.Context, string) (signer.Signer, error) { return operator, nil },
	})
	_, err = sess.Login(context.Background(), "bunker://operator")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/reply", strings.NewReader(`{"content":"hi from the page"}`))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var evt nostr.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evt))
	assert.NotEqual(t, operatorPK, evt.PubKey)

	anon, ok := sess.UserStore().Get(store.AnonymousKey)
	require.True(t, ok)
	assert.Equal(t, anon.Pubkey, evt.PubKey)

	user, ok := sess.UserStore().LoggedIn()
	require.True(t, ok)
	assert.Equal(t, operatorPK, user.Pubkey, "operator stays logged in")
}

func TestReplyEndpointErrors(t *testing.T) {
	srv, _ := setupServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty draft", `{"content":"   "}`, http.StatusUnprocessableEntity},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reply", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRepliesDisabled(t *testing.T) {
	srv, _ := setupServer(t, func(c *config.Config) { c.Server.AllowReplies = false })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reply", strings.NewReader(`{"content":"hi"}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := setupServer(t, nil)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "zapthreads_recomputations_total")
}

func TestDiagnosticsEndpoint(t *testing.T) {
	srv, sess := setupServer(t, nil)
	srv.SetDiagnostics(ops.NewDiagnosticsCollector("1.2.3", "abc", sess, nil))
	require.True(t, sess.Ingest(comment("A", "", "hi")))
	sess.Flush()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/diagnostics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var diag ops.Diagnostics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diag))
	assert.Equal(t, "1.2.3", diag.System.Version)
	require.NotNil(t, diag.Thread)
	assert.Equal(t, 1, diag.Thread.Nodes)
	assert.Nil(t, diag.Archive)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/diagnostics?format=text", nil))
	assert.Contains(t, rec.Body.String(), "=== zapthreads Diagnostics ===")
}

func TestMentionsRenderAsLinks(t *testing.T) {
	srv, sess := setupServer(t, nil)
	sess.UserStore().MergeProfile(authorPK, "fiatjaf", "", 1)
	npub, err := nip19.EncodePublicKey(authorPK)
	require.NoError(t, err)
	require.True(t, sess.Ingest(comment("A", "", "hi nostr:"+npub)))
	sess.Flush()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/thread", nil))

	var body threadJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Comments, 1)
	assert.Contains(t, body.Comments[0].HTML, `<a href="https://njump.me/`+npub+`">@fiatjaf</a>`)
	assert.Equal(t, "hi nostr:"+npub, body.Comments[0].Content, "raw content is left alone")
}

func TestCORS(t *testing.T) {
	srv, _ := setupServer(t, func(c *config.Config) { c.Server.AllowedOrigins = []string{"https://blog.example"} })

	req := httptest.NewRequest(http.MethodGet, "/api/thread", nil)
	req.Header.Set("Origin", "https://blog.example")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://blog.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/thread", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRelayMountedWithArchive(t *testing.T) {
	_, sess := setupServer(t, nil)
	archive, err := storage.New(context.Background(), &config.Archive{Driver: "memory"})
	require.NoError(t, err)
	defer archive.Close()

	srv := New(&config.Server{AllowReplies: true}, sess, archive, ops.Discard())

	req := httptest.NewRequest(http.MethodGet, "/relay", nil)
	req.Header.Set("Accept", "application/nostr+json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "zapthreads archive")
}
