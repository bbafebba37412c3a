package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fintrack/internal/completion"
	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/extraction"
	"github.com/example/fintrack/internal/fact"
	"github.com/example/fintrack/internal/mutation"
	"github.com/example/fintrack/internal/security"
	"github.com/example/fintrack/internal/session"
	"github.com/example/fintrack/internal/store/memory"
	"github.com/example/fintrack/pkg/audit"
)

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()

	store := memory.NewStore()
	resolver := container.NewResolver(store.Containers())
	service := mutation.NewService(mutation.DefaultRegistry(), store.Containers(), store.Adjustments(), store)
	handler := completion.NewHandler(
		fact.NewEvaluator(resolver),
		resolver,
		service,
		store.Containers(),
		store.Transactions(),
		store.Adjustments(),
		session.NewMemoryStore(),
	)
	extractor := extraction.NewRuleExtractor()
	extractor.Now = func() time.Time { return time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC) }

	return Dependencies{
		Logger:       slog.New(slog.NewTextHandler(testWriter{t}, nil)),
		Conversation: completion.NewConversation(handler, extractor),
		Handler:      handler,
		Containers:   store.Containers(),
		Audits:       store.Adjustments(),
		Auditor:      audit.NewChainLogger(),
		MaxBodyBytes: 1 << 20,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestServer(t *testing.T, deps Dependencies) *httptest.Server {
	t.Helper()
	router, err := NewRouter(deps)
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) resultResponse {
	t.Helper()
	defer resp.Body.Close()
	var out resultResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, newTestDeps(t))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMessageCompletesAndDebitsContainer(t *testing.T) {
	srv := newTestServer(t, newTestDeps(t))

	resp := postJSON(t, srv.URL+"/v1/containers", map[string]any{
		"owner_id":      "u1",
		"name":          "Cash",
		"type":          "CASH",
		"opening_value": "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeResult(t, resp)
	require.NotNil(t, created.Result.Container)

	resp = postJSON(t, srv.URL+"/v1/messages", map[string]any{
		"owner_id":   "u1",
		"session_id": "s1",
		"text":       "spent 40 on groceries in cash yesterday",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decodeResult(t, resp)
	require.Equal(t, completion.KindSaved, saved.Result.Kind)
	require.NotNil(t, saved.Result.Transaction)
	assert.Equal(t, fact.CompletenessFinancial, saved.Result.Transaction.Completeness)
	assert.True(t, saved.Result.Transaction.FinanciallyApplied)
	assert.NotEmpty(t, saved.CorrelationID)

	listResp, err := http.Get(srv.URL + "/v1/containers?owner_id=u1")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list listContainersResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list.Containers, 1)
	assert.Equal(t, "60", list.Containers[0].CurrentValue.String())
}

func TestMessageFollowupRoundTrip(t *testing.T) {
	srv := newTestServer(t, newTestDeps(t))

	resp := postJSON(t, srv.URL+"/v1/containers", map[string]any{
		"owner_id":      "u1",
		"name":          "Cash",
		"type":          "CASH",
		"opening_value": "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/v1/messages", map[string]any{
		"owner_id":   "u1",
		"session_id": "s1",
		"text":       "spent 40 on groceries yesterday",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	followup := decodeResult(t, resp)
	require.Equal(t, completion.KindFollowup, followup.Result.Kind)
	assert.Equal(t, completion.FieldContainerType, followup.Result.MissingField)

	resp = postJSON(t, srv.URL+"/v1/messages", map[string]any{
		"owner_id":   "u1",
		"session_id": "s1",
		"text":       "cash",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decodeResult(t, resp)
	require.Equal(t, completion.KindSaved, saved.Result.Kind)
	require.NotNil(t, saved.Result.Transaction)
	assert.True(t, saved.Result.Transaction.FinanciallyApplied)
}

func TestMessageSchemaRejectsMissingText(t *testing.T) {
	srv := newTestServer(t, newTestDeps(t))

	resp := postJSON(t, srv.URL+"/v1/messages", map[string]any{
		"owner_id":   "u1",
		"session_id": "s1",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body security.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "validation_error", body.Error)
	assert.Contains(t, body.Detail, "text")
}

type recordingAuditor struct {
	chain    *audit.ChainLogger
	payloads []string
}

func (a *recordingAuditor) Append(payload string) *audit.LogEntry {
	a.payloads = append(a.payloads, payload)
	return a.chain.Append(payload)
}

func TestAuditSkipsHealthProbes(t *testing.T) {
	deps := newTestDeps(t)
	rec := &recordingAuditor{chain: audit.NewChainLogger()}
	deps.Auditor = rec
	srv := newTestServer(t, deps)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, rec.payloads, "health probes never enter the chain")

	resp, err = http.Get(srv.URL + "/v1/containers?owner_id=u1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Len(t, rec.payloads, 1)
	assert.Contains(t, rec.payloads[0], "path=/v1/containers")
}

func TestListAdjustmentsUnknownContainer(t *testing.T) {
	srv := newTestServer(t, newTestDeps(t))

	resp, err := http.Get(srv.URL + "/v1/containers/does-not-exist/adjustments")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReverseUnknownTransactionConflicts(t *testing.T) {
	srv := newTestServer(t, newTestDeps(t))

	resp := postJSON(t, srv.URL+"/v1/transactions/nope/reverse", map[string]any{
		"owner_id": "u1",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	result := decodeResult(t, resp)
	assert.Equal(t, completion.KindInvalid, result.Result.Kind)
}

func TestUnknownRouteReturnsJSONError(t *testing.T) {
	srv := newTestServer(t, newTestDeps(t))

	resp, err := http.Get(srv.URL + "/v1/nothing-here")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestRateLimitExhaustion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	deps := newTestDeps(t)
	deps.RateLimiter = &security.RedisTokenBucket{
		Redis:      client,
		Prefix:     "test:rl",
		Capacity:   2,
		RefillRate: 0.001,
	}
	srv := newTestServer(t, deps)

	var last int
	var retryAfter string
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err, fmt.Sprintf("request %d", i))
		resp.Body.Close()
		last = resp.StatusCode
		retryAfter = resp.Header.Get("Retry-After")
		if i < 2 {
			require.Equal(t, http.StatusOK, last, fmt.Sprintf("request %d should pass", i))
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
	assert.NotEmpty(t, retryAfter, "a denied request says when to come back")
}
