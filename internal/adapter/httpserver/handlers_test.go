package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelletix/sudbury-directory/internal/adapter/directory"
	"github.com/intelletix/sudbury-directory/internal/config"
	"github.com/intelletix/sudbury-directory/internal/domain"
	obsctx "github.com/intelletix/sudbury-directory/internal/observability"
	"github.com/intelletix/sudbury-directory/internal/usecase"
)

type stubChat struct {
	source string
	msgs   []domain.ChatMessage
	reply  domain.ChatMessage
	err    error
}

func (s *stubChat) Chat(_ context.Context, source string, msgs []domain.ChatMessage) (domain.ChatMessage, error) {
	s.source, s.msgs = source, msgs
	return s.reply, s.err
}

func newTestServer(t *testing.T, chat ChatService) *Server {
	t.Helper()
	d, err := directory.Embedded()
	require.NoError(t, err)
	cfg := config.Config{AppEnv: "test", Version: "1.2.3", OpenAIAPIKey: "sk", CompletionProvider: "openai", StoreBackend: "memory", MaxBodyBytes: 1 << 20}
	s := NewServer(cfg, chat, usecase.NewDirectoryService(d), nil)
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestChatHandler_Success(t *testing.T) {
	chat := &stubChat{reply: domain.ChatMessage{Role: domain.RoleAssistant, Content: "<p>Bonjour</p>"}}
	s := newTestServer(t, chat)

	rec := postChat(t, s.ChatHandler(), `{"messages":[{"role":"user","content":"salut"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":{"role":"assistant","content":"<p>Bonjour</p>"}}`, rec.Body.String())
	assert.Equal(t, "10.0.0.7", chat.source)
	assert.Equal(t, []domain.ChatMessage{{Role: domain.RoleUser, Content: "salut"}}, chat.msgs)
}

func TestChatHandler_BadBodies(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing":         `{}`,
		"null":            `{"messages":null}`,
		"object":          `{"messages":{"role":"user"}}`,
		"string":          `{"messages":"hi"}`,
		"wrong elem type": `{"messages":[{"role":"user","content":5}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			chat := &stubChat{}
			rec := postChat(t, newTestServer(t, chat).ChatHandler(), body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_ARGUMENT", decodeErr(t, rec).Code)
			assert.Nil(t, chat.msgs, "gatekeeper must not be called")
		})
	}
}

func TestChatHandler_EmptyArrayReachesValidation(t *testing.T) {
	chat := &stubChat{err: domain.ValidateChatRequest([]domain.ChatMessage{}, domain.DefaultChatLimits())}
	rec := postChat(t, newTestServer(t, chat).ChatHandler(), `{"messages":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotNil(t, chat.msgs)
}

func TestChatHandler_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, &stubChat{})
	s.Cfg.MaxBodyBytes = 64
	rec := postChat(t, s.ChatHandler(), `{"messages":[{"role":"user","content":"`+strings.Repeat("x", 200)+`"}]}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", decodeErr(t, rec).Code)
}

func TestChatHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&domain.RateLimitError{RetryAfter: 90*time.Second + time.Millisecond}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{domain.ErrUpstreamRateLimit, http.StatusTooManyRequests, "UPSTREAM_RATE_LIMIT"},
		{domain.ErrUpstreamTimeout, http.StatusRequestTimeout, "UPSTREAM_TIMEOUT"},
		{domain.ErrUpstreamUnavailable, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{domain.ErrUpstreamEmpty, http.StatusInternalServerError, "UPSTREAM_EMPTY"},
		{domain.ErrUpstreamFailure, http.StatusInternalServerError, "UPSTREAM_FAILURE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := postChat(t, newTestServer(t, &stubChat{err: tc.err}).ChatHandler(), `{"messages":[{"content":"x"}]}`)
			require.Equal(t, tc.status, rec.Code)
			body := decodeErr(t, rec)
			assert.Equal(t, tc.code, body.Code)
			assert.NotEmpty(t, body.Error)
			assert.NotContains(t, body.Error, "boom")
		})
	}
}

func TestChatHandler_ErrorCarriesRequestID(t *testing.T) {
	h := newTestServer(t, &stubChat{err: domain.ErrUpstreamTimeout}).ChatHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"content":"x"}]}`))
	req = req.WithContext(obsctx.ContextWithRequestID(req.Context(), "req-42"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.Equal(t, "req-42", decodeErr(t, rec).RequestID)

	rec = postChat(t, h, `{"messages":[{"content":"x"}]}`)
	assert.NotContains(t, rec.Body.String(), "requestId")
}

func TestChatHandler_RetryAfterHeader(t *testing.T) {
	rec := postChat(t, newTestServer(t, &stubChat{err: &domain.RateLimitError{RetryAfter: 90*time.Second + time.Millisecond}}).ChatHandler(), `{"messages":[{"content":"x"}]}`)
	assert.Equal(t, "91", rec.Header().Get("Retry-After"))
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, &stubChat{})
	rec := httptest.NewRecorder()
	s.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","timestamp":"2024-01-02T03:04:05Z","environment":"test","version":"1.2.3","provider":"openai","services":{"openai":"configured","store":"memory"}}`, rec.Body.String())
}

func TestHealthHandler_Degraded(t *testing.T) {
	s := newTestServer(t, &stubChat{})
	s.Cfg.OpenAIAPIKey = ""
	s.Cfg.StoreBackend = "redis"
	s.StoreCheck = func(context.Context) error { return errors.New("down") }
	rec := httptest.NewRecorder()
	s.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "missing", body.Services["openai"])
	assert.Equal(t, "unavailable", body.Services["store"])
}

func TestHealthHandler_StaticProviderNeedsNoKey(t *testing.T) {
	s := newTestServer(t, &stubChat{})
	s.Cfg.OpenAIAPIKey = ""
	s.Cfg.CompletionProvider = "static"
	rec := httptest.NewRecorder()
	s.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "static", body.Provider)
	assert.Equal(t, "configured", body.Services["openai"])
}

func TestReadyzHandler(t *testing.T) {
	s := newTestServer(t, &stubChat{})
	rec := httptest.NewRecorder()
	s.ReadyzHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	s.StoreCheck = func(context.Context) error { return errors.New("down") }
	rec = httptest.NewRecorder()
	s.ReadyzHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func getJSON(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestBusinessesHandler(t *testing.T) {
	h := newTestServer(t, &stubChat{}).BusinessesHandler()

	rec, body := getJSON(t, h, "/api/businesses?id=rest-001")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body["business"]), "Le Bistro du Nickel")

	rec, _ = getJSON(t, h, "/api/businesses?id=nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = getJSON(t, h, "/api/businesses?category=restaurant")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Business
	require.NoError(t, json.Unmarshal(body["businesses"], &list))
	assert.Len(t, list, 2)

	rec, _ = getJSON(t, h, "/api/businesses?term=%3Cscript%3E")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = getJSON(t, h, "/api/businesses")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(body["businesses"], &list))
	assert.Len(t, list, 8)
}

func TestBusinessesHandler_HTMLFormat(t *testing.T) {
	h := newTestServer(t, &stubChat{}).BusinessesHandler()

	rec, body := getJSON(t, h, "/api/businesses?id=rest-001&format=html")
	require.Equal(t, http.StatusOK, rec.Code)
	var card string
	require.NoError(t, json.Unmarshal(body["html"], &card))
	assert.Contains(t, card, "<h2>Le Bistro du Nickel</h2>")
	assert.Contains(t, card, "<strong>Adresse:</strong>")

	rec, body = getJSON(t, h, "/api/businesses?category=restaurant&format=HTML")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(body["html"], &card))
	assert.Equal(t, 1, strings.Count(card, "<hr>"))

	_, body = getJSON(t, h, "/api/businesses?id=rest-001")
	assert.NotContains(t, body, "html")
}

func TestCategoriesAndSuggest(t *testing.T) {
	s := newTestServer(t, &stubChat{})

	rec, body := getJSON(t, s.CategoriesHandler(), "/api/categories")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body["categories"]), "Restaurant")

	rec, body = getJSON(t, s.SuggestHandler(), "/api/businesses/suggest?q=o%C3%B9+manger")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body["businesses"]), "rest-001")

	rec, _ = getJSON(t, s.SuggestHandler(), "/api/businesses/suggest")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
