package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/cache"
	"github.com/kardiachain/dao-ledger/db"
	"github.com/kardiachain/dao-ledger/metrics"
	"github.com/kardiachain/dao-ledger/server"
	"github.com/kardiachain/dao-ledger/types"
)

const testSecret = "httpTestSecret"

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type testAPI struct {
	t *testing.T
	e *echo.Echo
}

func newTestAPI(t *testing.T, jwtSecret string, opts ...func(cfg *server.Config)) *testAPI {
	t.Helper()
	cfg := server.Config{
		DBAdapter:       db.Memory,
		StoreTimeout:    time.Second,
		ClaimMaxRetries: 3,
		QuorumFraction:  decimal.RequireFromString("0.6"),
		PlatformFeeRate: decimal.RequireFromString("0.025"),
		Metrics:         metrics.New(),
		Logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ledger, err := server.New(cfg)
	require.NoError(t, err)
	srv := New(ledger, Config{HttpRequestSecret: testSecret, JWTSecret: jwtSecret})
	return &testAPI{t: t, e: NewEcho(srv)}
}

func (a *testAPI) do(method, path, body string, header map[string]string) (int, envelope) {
	a.t.Helper()
	req := httptest.NewRequest(method, "/api/v1"+path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	var env envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestAPI_LedgerFlow(t *testing.T) {
	a := newTestAPI(t, "")

	code, _ := a.do(http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, env := a.do(http.MethodPost, "/communities", `{"name":"artists","owner":"u1"}`, nil)
	require.Equal(t, http.StatusOK, code, env.Msg)
	var community types.Community
	decode(t, env, &community)
	code, _ = a.do(http.MethodPost, "/communities/"+community.ID+"/members", `{"userId":"u2"}`, nil)
	require.Equal(t, http.StatusOK, code)
	code, env = a.do(http.MethodGet, "/communities/"+community.ID+"/members", "", nil)
	require.Equal(t, http.StatusOK, code)
	var members []string
	decode(t, env, &members)
	assert.ElementsMatch(t, []string{"u1", "u2"}, members)
	code, _ = a.do(http.MethodGet, "/communities/nope/members", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = a.do(http.MethodPost, "/galleries", `{"communityId":"`+community.ID+`","name":"show"}`, nil)
	require.Equal(t, http.StatusOK, code, env.Msg)
	var gallery types.Gallery
	decode(t, env, &gallery)

	sale := `{"transactionRef":"0xsale","salePrice":"100"}`
	code, _ = a.do(http.MethodPost, "/pools/"+gallery.ID+"/sales", sale, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, env = a.do(http.MethodPost, "/pools/"+gallery.ID+"/sales", sale, map[string]string{echo.HeaderAuthorization: testSecret})
	require.Equal(t, http.StatusOK, code, env.Msg)
	var rows []types.RevenueDistribution
	decode(t, env, &rows)
	assert.Len(t, rows, 2)

	code, env = a.do(http.MethodGet, "/pools/"+gallery.ID+"/balances/u2", "", nil)
	require.Equal(t, http.StatusOK, code)
	var balance struct {
		Pending decimal.Decimal `json:"pending"`
	}
	decode(t, env, &balance)
	assert.Equal(t, "48.75", balance.Pending.String())

	claim := `{"userId":"u2","destination":"0xwallet"}`
	code, env = a.do(http.MethodPost, "/pools/"+gallery.ID+"/claims", claim, nil)
	require.Equal(t, http.StatusOK, code, env.Msg)
	var payout types.PayoutRecord
	decode(t, env, &payout)
	assert.Equal(t, types.PayoutCompleted, payout.Status)

	code, env = a.do(http.MethodPost, "/pools/"+gallery.ID+"/claims", claim, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, types.ErrNothingToClaim.Error(), env.Msg)

	code, env = a.do(http.MethodGet, "/pools/"+gallery.ID+"/payouts/u2", "", nil)
	require.Equal(t, http.StatusOK, code)
	var payouts []types.PayoutRecord
	decode(t, env, &payouts)
	assert.Len(t, payouts, 1)
}

func TestAPI_Voting(t *testing.T) {
	a := newTestAPI(t, "")
	_, env := a.do(http.MethodPost, "/communities", `{"name":"c","owner":"u1"}`, nil)
	var community types.Community
	decode(t, env, &community)

	end := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	code, env := a.do(http.MethodPost, "/proposals",
		`{"communityId":"`+community.ID+`","type":"general","title":"t","creator":"u1","votingEnd":"`+end+`"}`, nil)
	require.Equal(t, http.StatusOK, code, env.Msg)
	var proposal types.Proposal
	decode(t, env, &proposal)

	code, _ = a.do(http.MethodPost, "/proposals/"+proposal.ID+"/votes", `{"voterId":"u1","choice":true}`, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodPost, "/proposals/"+proposal.ID+"/votes", `{"voterId":"u1","choice":false}`, nil)
	assert.Equal(t, http.StatusConflict, code)

	// The single member reached quorum, so the proposal is closed.
	code, env = a.do(http.MethodGet, "/proposals/"+proposal.ID, "", nil)
	require.Equal(t, http.StatusOK, code)
	decode(t, env, &proposal)
	assert.Equal(t, types.ProposalPassed, proposal.Status)

	code, _ = a.do(http.MethodGet, "/proposals/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = a.do(http.MethodPost, "/proposals/"+proposal.ID+"/votes", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.do(http.MethodPost, "/private/sweep", "", map[string]string{echo.HeaderAuthorization: testSecret})
	assert.Equal(t, http.StatusOK, code)
}

// streamCache keeps published events in memory, newest last.
type streamCache struct {
	mu     sync.Mutex
	events []*types.LedgerEvent
}

func (c *streamCache) Ping(context.Context) error { return nil }
func (c *streamCache) Close() error               { return nil }

func (c *streamCache) MemberCount(context.Context, string) (uint64, error) {
	return 0, cache.ErrCacheMiss
}
func (c *streamCache) UpdateMemberCount(context.Context, string, uint64) error { return nil }
func (c *streamCache) InvalidateMemberCount(context.Context, string) error     { return nil }

func (c *streamCache) PublishEvent(_ context.Context, event *types.LedgerEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *streamCache) Events(_ context.Context, count int64) ([]*types.LedgerEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.LedgerEvent
	for i := len(c.events) - 1; i >= 0 && int64(len(out)) < count; i-- {
		out = append(out, c.events[i])
	}
	return out, nil
}

func TestAPI_Events(t *testing.T) {
	private := map[string]string{echo.HeaderAuthorization: testSecret}

	disabled := newTestAPI(t, "")
	code, _ := disabled.do(http.MethodGet, "/private/events", "", private)
	assert.Equal(t, http.StatusNotFound, code)

	stream := &streamCache{}
	a := newTestAPI(t, "", func(cfg *server.Config) { cfg.Cache = stream })
	_, env := a.do(http.MethodPost, "/communities", `{"name":"c","owner":"u1"}`, nil)
	var community types.Community
	decode(t, env, &community)
	_, env = a.do(http.MethodPost, "/galleries", `{"communityId":"`+community.ID+`","name":"show"}`, nil)
	var gallery types.Gallery
	decode(t, env, &gallery)
	for _, ref := range []string{"0xa", "0xb"} {
		code, env = a.do(http.MethodPost, "/pools/"+gallery.ID+"/sales", `{"transactionRef":"`+ref+`","salePrice":"10"}`, private)
		require.Equal(t, http.StatusOK, code, env.Msg)
	}

	code, _ = a.do(http.MethodGet, "/private/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.do(http.MethodGet, "/private/events?limit=zero", "", private)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = a.do(http.MethodGet, "/private/events?limit=1", "", private)
	require.Equal(t, http.StatusOK, code, env.Msg)
	var events []types.LedgerEvent
	decode(t, env, &events)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventRevenueDistributed, events[0].Kind)
	assert.Equal(t, "0xb", events[0].Fields["transactionRef"])

	code, env = a.do(http.MethodGet, "/private/events", "", private)
	require.Equal(t, http.StatusOK, code)
	decode(t, env, &events)
	assert.Len(t, events, 2)
}

func TestAPI_CallerIdentity(t *testing.T) {
	const secret = "jwt-secret"
	a := newTestAPI(t, secret)

	body := `{"name":"c","owner":"spoofed"}`
	code, _ := a.do(http.MethodPost, "/communities", body, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	wrong, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("other"))
	require.NoError(t, err)
	code, _ = a.do(http.MethodPost, "/communities", body, map[string]string{echo.HeaderAuthorization: "Bearer " + wrong})
	assert.Equal(t, http.StatusUnauthorized, code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte(secret))
	require.NoError(t, err)
	code, env := a.do(http.MethodPost, "/communities", body, map[string]string{echo.HeaderAuthorization: "Bearer " + token})
	require.Equal(t, http.StatusOK, code, env.Msg)
	var community types.Community
	decode(t, env, &community)
	assert.Equal(t, "alice", community.Owner)
}

func TestErrorResponse(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"Not found":       {err: types.ErrNotFound, want: http.StatusNotFound},
		"Duplicate vote":  {err: types.ErrDuplicateVote, want: http.StatusConflict},
		"Claim conflict":  {err: types.ErrConcurrentClaimConflict, want: http.StatusConflict},
		"Invalid sale":    {err: types.ErrInvalidSale, want: http.StatusUnprocessableEntity},
		"Store down":      {err: types.ErrStoreUnavailable, want: http.StatusServiceUnavailable},
		"Unknown failure": {err: assert.AnError, want: http.StatusInternalServerError},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			r := errorResponse(c.err)
			assert.Equal(t, c.want, r.StatusCode)
		})
	}
	assert.NotContains(t, errorResponse(assert.AnError).Msg, assert.AnError.Error())

	payerErr := fmt.Errorf("payout p1: %w", fmt.Errorf("%w: dial tcp 10.0.0.7:8545: refused", types.ErrPayoutExecutionFailed))
	r := errorResponse(payerErr)
	assert.Equal(t, http.StatusInternalServerError, r.StatusCode)
	assert.Equal(t, types.ErrPayoutExecutionFailed.Error(), r.Msg)
	assert.Equal(t, http.StatusConflict, errorResponse(types.ErrVersionConflict).StatusCode)
}
