package interactions

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-gateway/pkg/blocks"
	"github.com/Mindburn-Labs/helm-gateway/pkg/eventsink"
	"github.com/Mindburn-Labs/helm-gateway/pkg/messagestore"
)

const testAccount = "acct"

type harness struct {
	svc      *Service
	sink     *eventsink.Memory
	store    *messagestore.Memory
	mu       sync.Mutex
	outcomes []Outcome
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		sink:  eventsink.NewMemory(16, 64),
		store: messagestore.NewMemory(),
	}
	opts := Options{
		Sink:   h.sink,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnOutcome: func(o Outcome) {
			h.mu.Lock()
			h.outcomes = append(h.outcomes, o)
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewService(opts)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterAccount(Account{ID: testAccount, Credential: "bot-token", Store: h.store}))
	h.svc = svc
	return h
}

func (h *harness) lastOutcome(t *testing.T) Outcome {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.outcomes)
	return h.outcomes[len(h.outcomes)-1]
}

func (h *harness) signed(t *testing.T, ctx map[string]any) map[string]any {
	t.Helper()
	out, err := h.svc.Codec().SignContext(testAccount, ctx)
	require.NoError(t, err)
	return out
}

func payloadBody(t *testing.T, postID string, ctx map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"user_id":    "u1",
		"user_name":  "alice",
		"channel_id": "chan-1",
		"post_id":    postID,
		"context":    ctx,
	})
	require.NoError(t, err)
	return string(raw)
}

func (h *harness) do(method, body, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/interactions/"+testAccount, strings.NewReader(body))
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.svc.ServeHTTP(rec, req)
	return rec
}

func (h *harness) post(body string) *httptest.ResponseRecorder {
	return h.do(http.MethodPost, body, "127.0.0.1:50123")
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func approvalLayout() blocks.Layout {
	return blocks.Layout{
		blocks.Section{BlockID: "summary", Text: &blocks.Text{Type: "mrkdwn", Text: "Deploy *api* to prod?"}},
		blocks.Actions{BlockID: "item-1", Elements: []blocks.Control{
			{Type: "button", ActionID: "approve", Text: blocks.PlainText("Approve"), Style: blocks.StylePrimary},
			{Type: "button", ActionID: "reject", Text: blocks.PlainText("Reject"), Style: blocks.StyleDanger},
		}},
		blocks.Divider{},
		blocks.Actions{BlockID: "bulk", Elements: []blocks.Control{
			{Type: "button", ActionID: "approve__bulk", Text: blocks.PlainText("Approve all")},
		}},
	}
}

func TestServeHTTP_ResolverSession(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Resolver = SessionResolverFunc(func(_ context.Context, accountID string, p *Payload) (string, error) {
			assert.Equal(t, testAccount, accountID)
			assert.Equal(t, "chan-1", p.ChannelID)
			return "sess-1", nil
		})
	})

	rec := h.post(payloadBody(t, "", h.signed(t, map[string]any{"action_id": "approve"})))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	envs := h.sink.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "sess-1", envs[0].Event.SessionKey)
	assert.Equal(t, "interaction::approve", envs[0].Event.ContextKey)
	assert.Equal(t, "Interaction: approve by @alice", envs[0].Label)

	out := h.lastOutcome(t)
	assert.Equal(t, StateResponded, out.Reached)
	assert.True(t, out.Dispatch.OK())
	assert.True(t, out.Update.Skipped)
}

func TestServeHTTP_ResolverFailureFallsBack(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Resolver = SessionResolverFunc(func(context.Context, string, *Payload) (string, error) {
			return "", errors.New("session directory down")
		})
	})

	rec := h.post(payloadBody(t, "post-1", h.signed(t, map[string]any{"action_id": "approve"})))
	require.Equal(t, http.StatusOK, rec.Code)

	envs := h.sink.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "acct:chan-1", envs[0].Event.SessionKey)
	assert.Equal(t, "interaction:post-1:approve", envs[0].Event.ContextKey)
}

func TestServeHTTP_MissingToken(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.post(payloadBody(t, "post-1", map[string]any{"action_id": "approve"}))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Missing token"}`, rec.Body.String())
	assert.Empty(t, h.sink.Envelopes())

	out := h.lastOutcome(t)
	require.NotNil(t, out.Rejection)
	assert.Equal(t, StateTokenVerified, out.Rejection.Gate)
	assert.Equal(t, StateContextPresent, out.Reached)
}

func TestServeHTTP_Gates(t *testing.T) {
	h := newHarness(t, nil)
	valid := payloadBody(t, "", h.signed(t, map[string]any{"action_id": "approve"}))

	tampered := h.signed(t, map[string]any{"action_id": "approve"})
	tampered["action_id"] = "reject"

	noAction := h.signed(t, map[string]any{"item": "42"})

	tests := []struct {
		name    string
		method  string
		remote  string
		body    string
		status  int
		message string
	}{
		{"method", http.MethodGet, "127.0.0.1:1", valid, http.StatusMethodNotAllowed, "Method not allowed"},
		{"remote host", http.MethodPost, "10.1.2.3:1", valid, http.StatusForbidden, "Forbidden"},
		{"remote v6", http.MethodPost, "[2001:db8::1]:1", valid, http.StatusForbidden, "Forbidden"},
		{"not json", http.MethodPost, "127.0.0.1:1", "not json", http.StatusBadRequest, "Invalid JSON"},
		{"json array", http.MethodPost, "127.0.0.1:1", "[1,2]", http.StatusBadRequest, "Invalid JSON"},
		{"json null", http.MethodPost, "127.0.0.1:1", "null", http.StatusBadRequest, "Invalid JSON"},
		{"no context", http.MethodPost, "127.0.0.1:1", `{"user_id":"u1"}`, http.StatusBadRequest, "Missing context"},
		{"null context", http.MethodPost, "127.0.0.1:1", `{"context":null}`, http.StatusBadRequest, "Missing context"},
		{"string context", http.MethodPost, "127.0.0.1:1", `{"context":"x"}`, http.StatusBadRequest, "Invalid context"},
		{"number token", http.MethodPost, "127.0.0.1:1", `{"context":{"_token":5,"action_id":"a"}}`, http.StatusForbidden, "Invalid token"},
		{"short token", http.MethodPost, "127.0.0.1:1", `{"context":{"_token":"abc","action_id":"a"}}`, http.StatusForbidden, "Invalid token"},
		{"tampered", http.MethodPost, "127.0.0.1:1", payloadBody(t, "", tampered), http.StatusForbidden, "Invalid token"},
		{"no action", http.MethodPost, "127.0.0.1:1", payloadBody(t, "", noAction), http.StatusBadRequest, "Missing action_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(tt.method, tt.body, tt.remote)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, errorOf(t, rec))
			if tt.status == http.StatusMethodNotAllowed {
				assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
			}
		})
	}
	assert.Empty(t, h.sink.Envelopes(), "rejected requests must never dispatch")
	assert.Zero(t, h.store.Updates())
}

func TestServeHTTP_LoopbackForms(t *testing.T) {
	for _, remote := range []string{"127.0.0.1:4000", "[::1]:4000", "[::ffff:127.0.0.1]:4000"} {
		t.Run(remote, func(t *testing.T) {
			h := newHarness(t, nil)
			rec := h.do(http.MethodPost, payloadBody(t, "", h.signed(t, map[string]any{"action_id": "go"})), remote)
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestServeHTTP_UnknownAccountSecret(t *testing.T) {
	h := newHarness(t, nil)
	body := payloadBody(t, "", h.signed(t, map[string]any{"action_id": "approve"}))

	req := httptest.NewRequest(http.MethodPost, "/interactions/ghost", strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()
	h.svc.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Invalid token", errorOf(t, rec))
}

func TestServeHTTP_OversizeRecorder(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.post(strings.Repeat("a", MaxBodyBytes+1))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "close", rec.Header().Get("Connection"))
	out := h.lastOutcome(t)
	assert.True(t, out.Aborted)
	assert.Equal(t, StateOriginChecked, out.Reached)
}

func TestServeHTTP_UpdatesPost(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Put("post-1", messagestore.Message{Text: "Deploy request", Blocks: approvalLayout()})

	rec := h.post(payloadBody(t, "post-1", h.signed(t, map[string]any{"action_id": "approve"})))
	require.Equal(t, http.StatusOK, rec.Code)

	msg, err := h.store.FetchOriginal(context.Background(), "post-1")
	require.NoError(t, err)
	assert.Equal(t, "Deploy request", msg.Text)
	require.Len(t, msg.Blocks, 2)
	assert.Equal(t, blocks.KindSection, msg.Blocks[0].Kind())
	conf, ok := msg.Blocks[1].(blocks.Confirmation)
	require.True(t, ok)
	assert.Equal(t, "item-1", conf.BlockID)
	assert.Equal(t, "✓ Approve by @alice", conf.Elements[0].Text)

	out := h.lastOutcome(t)
	assert.True(t, out.Update.OK())
	assert.Equal(t, 1, h.store.Updates())
}

func TestServeHTTP_RedeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Put("post-1", messagestore.Message{Blocks: approvalLayout()})
	body := payloadBody(t, "post-1", h.signed(t, map[string]any{"action_id": "approve"}))

	require.Equal(t, http.StatusOK, h.post(body).Code)
	require.Equal(t, http.StatusOK, h.post(body).Code)

	assert.Equal(t, 1, h.store.Updates())
	out := h.lastOutcome(t)
	assert.True(t, out.Update.Skipped)
}

func TestServeHTTP_StepFailuresDoNotChangeResponse(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Sink = failingSink{} })

	rec := h.post(payloadBody(t, "missing-post", h.signed(t, map[string]any{"action_id": "approve"})))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	out := h.lastOutcome(t)
	require.Error(t, out.Dispatch.Err)
	require.Error(t, out.Update.Err)
	assert.True(t, errors.Is(out.Update.Err, messagestore.ErrNotFound))
	assert.Equal(t, StateResponded, out.Reached)
}

func TestServeHTTP_NoSinkSkipsDispatch(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Sink = nil })

	rec := h.post(payloadBody(t, "", h.signed(t, map[string]any{"action_id": "approve"})))
	require.Equal(t, http.StatusOK, rec.Code)
	out := h.lastOutcome(t)
	assert.True(t, out.Dispatch.Skipped)
}

func TestServeHTTP_PanickingResolverFallsBack(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Resolver = SessionResolverFunc(func(context.Context, string, *Payload) (string, error) {
			panic("resolver blew up")
		})
	})
	h.store.Put("post-1", messagestore.Message{Blocks: approvalLayout()})

	var rec *httptest.ResponseRecorder
	require.NotPanics(t, func() {
		rec = h.post(payloadBody(t, "post-1", h.signed(t, map[string]any{"action_id": "approve"})))
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	envs := h.sink.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "acct:chan-1", envs[0].Event.SessionKey)
	assert.Equal(t, 1, h.store.Updates(), "post update still runs")
}

func TestServeHTTP_PanickingCollaboratorsBecomeStepErrors(t *testing.T) {
	var logs bytes.Buffer
	h := newHarness(t, func(o *Options) {
		o.Sink = panickingSink{}
		o.Logger = slog.New(slog.NewJSONHandler(&logs, nil))
	})
	require.NoError(t, h.svc.RegisterAccount(Account{ID: "other", Credential: "tok-2", Store: panickingStore{}}))

	signed, err := h.svc.Codec().SignContext("other", map[string]any{"action_id": "approve"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/interactions/other", strings.NewReader(payloadBody(t, "post-1", signed)))
	req.RemoteAddr = "127.0.0.1:50123"
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { h.svc.ServeHTTP(rec, req) })

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	out := h.lastOutcome(t)
	require.Error(t, out.Dispatch.Err)
	assert.Contains(t, out.Dispatch.Err.Error(), "panic: sink exploded")
	require.Error(t, out.Update.Err)
	assert.Contains(t, out.Update.Err.Error(), "panic: store exploded")
	assert.Equal(t, StateResponded, out.Reached)
	assert.Contains(t, logs.String(), "interaction step failed")
}

func TestServeHTTP_LenientEnvelopeFields(t *testing.T) {
	h := newHarness(t, nil)
	ctx, err := json.Marshal(h.signed(t, map[string]any{"action_id": "approve"}))
	require.NoError(t, err)
	body := `{"user_id":42,"user_name":null,"channel_id":"chan-1","post_id":1001,"team_id":{"x":1},"context":` + string(ctx) + `}`

	rec := h.post(body)
	require.Equal(t, http.StatusOK, rec.Code)

	envs := h.sink.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "interaction:1001:approve", envs[0].Event.ContextKey)
	assert.Equal(t, "Interaction: approve by 42", envs[0].Label)
}

type panickingSink struct{}

func (panickingSink) Enqueue(context.Context, string, eventsink.Event) error {
	panic("sink exploded")
}

type panickingStore struct{}

func (panickingStore) FetchOriginal(context.Context, string) (messagestore.Message, error) {
	panic("store exploded")
}

func (panickingStore) Update(context.Context, string, messagestore.Message) error {
	panic("store exploded")
}

type failingSink struct{}

func (failingSink) Enqueue(context.Context, string, eventsink.Event) error {
	return errors.New("queue unavailable")
}

func newLiveServer(t *testing.T, h *harness) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/interactions/{account}", h.svc)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestServeHTTP_OversizeDestroysConnection(t *testing.T) {
	h := newHarness(t, nil)
	srv := newLiveServer(t, h)

	body := strings.Repeat("a", MaxBodyBytes+1)
	resp, err := srv.Client().Post(srv.URL+"/interactions/"+testAccount, "application/json", strings.NewReader(body))
	if err == nil {
		resp.Body.Close()
		t.Fatalf("expected connection to be destroyed, got status %d", resp.StatusCode)
	}
	assert.Empty(t, h.sink.Envelopes())
}

func TestServeHTTP_SlowBodyDestroysConnection(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Limits = BodyLimits{MaxBytes: MaxBodyBytes, Timeout: 100 * time.Millisecond}
	})
	srv := newLiveServer(t, h)

	conn, err := net.Dial("tcp", strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = fmt.Fprintf(conn, "POST /interactions/%s HTTP/1.1\r\nHost: test\r\nContent-Type: application/json\r\nContent-Length: 100\r\n\r\n{\"context\":", testAccount)
	require.NoError(t, err)

	data, _ := io.ReadAll(bufio.NewReader(conn))
	assert.Empty(t, data, "no response is written before the connection is closed")

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.outcomes) == 1 && h.outcomes[0].Aborted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeHTTP_LiveRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	srv := newLiveServer(t, h)

	body := payloadBody(t, "", h.signed(t, map[string]any{"action_id": "approve"}))
	resp, err := srv.Client().Post(srv.URL+"/interactions/"+testAccount, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Len(t, h.sink.Envelopes(), 1)
}

func TestNewService_DefaultTelemetry(t *testing.T) {
	svc, err := NewService(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	assert.Equal(t, "helm-gateway", svc.telemetry.ServiceName())
}

func TestEventHelpers(t *testing.T) {
	assert.Equal(t, "interaction:p:a", ContextKey("p", "a"))
	assert.Equal(t, "Interaction: a", EventLabel("a", ""))
	assert.True(t, IsLoopback("::1"))
	assert.False(t, IsLoopback("localhost"))
}
