package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/vaultgate/internal/storage/memory"
	"github.com/relves/vaultgate/pkg/clock"
	"github.com/relves/vaultgate/pkg/events"
	"github.com/relves/vaultgate/pkg/governor"
	"github.com/relves/vaultgate/pkg/metrics"
	"github.com/relves/vaultgate/pkg/pause"
	"github.com/relves/vaultgate/pkg/proposal"
	"github.com/relves/vaultgate/pkg/server"
	"github.com/relves/vaultgate/pkg/types"
	"github.com/relves/vaultgate/pkg/types/typestest"
	"github.com/relves/vaultgate/pkg/vault"
)

type fixture struct {
	ts      *httptest.Server
	svc     *governor.Service
	hub     *events.Hub
	clock   *clock.Manual
	members []types.Principal
	sent    []uint64
}

func newFixture(t *testing.T, opts ...server.Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.NewManual(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
		members: typestest.Principals(4),
		hub:     events.NewHub(),
	}
	stores := memory.NewManager()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	svc, err := governor.New(governor.Config{
		Stores: stores,
		Transfer: vault.TransferFunc(func(_ context.Context, _ string, _ types.Principal, amount uint64) error {
			f.sent = append(f.sent, amount)
			return nil
		}),
		Clock: f.clock,
		Events: events.Multi(events.NewChainSink(func(id types.ResourceID) (events.Appender, error) {
			st, err := stores.LookupStore(id)
			if err != nil {
				return nil, err
			}
			return st, nil
		}, nil), f.hub),
		Metrics: m,
	})
	require.NoError(t, err)
	f.svc = svc

	srv, err := server.NewServer(append([]server.Option{
		server.WithService(svc),
		server.WithGatherer(reg),
		server.WithHub(f.hub),
	}, opts...)...)
	require.NoError(t, err)

	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

// do sends a request as principal (empty for none) and decodes the JSON
// response into out when out is non-nil.
func (f *fixture) do(t *testing.T, method, path string, principal types.Principal, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	if principal != "" {
		req.Header.Set(server.DefaultPrincipalHeader, string(principal))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) initTreasury(t *testing.T, id string) {
	t.Helper()
	status := f.do(t, "POST", "/resources/"+id, f.members[0], types.Params{
		Kind:      types.KindTreasury,
		Vault:     "vault-1",
		Members:   f.members[:3],
		Threshold: 2,
		DailyCap:  1000,
	}, nil)
	require.Equal(t, http.StatusCreated, status)
}

func TestNewServer_RequiresService(t *testing.T) {
	_, err := server.NewServer()
	require.Error(t, err)
}

func TestTransferFlow(t *testing.T) {
	f := newFixture(t)
	m := f.members
	f.initTreasury(t, "main")

	var created types.Proposal
	status := f.do(t, "POST", "/resources/main/proposals", m[0], types.TransferPayload(m[3], 300, "invoice 7"), &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, uint64(0), created.ID)
	assert.Equal(t, []types.Principal{m[0]}, created.Approvals)

	var errResp server.ErrorResponse
	status = f.do(t, "POST", "/resources/main/proposals/0/execute", m[1], nil, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INSUFFICIENT_APPROVALS", errResp.Error.Code)
	assert.Equal(t, "lifecycle", errResp.Error.Class)

	var view proposal.View
	status = f.do(t, "POST", "/resources/main/proposals/0/approve", m[1], nil, &view)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, view.CanExecute)

	var executed types.Proposal
	status = f.do(t, "POST", "/resources/main/proposals/0/execute", m[2], nil, &executed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, types.StatusExecuted, executed.Status)
	assert.Equal(t, []uint64{300}, f.sent)

	var st governor.Status
	status = f.do(t, "GET", "/resources/main", "", nil, &st)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(300), st.Spent)
	assert.Equal(t, uint64(700), st.Remaining)

	var views []proposal.View
	status = f.do(t, "GET", "/resources/main/proposals?from=0&limit=10", "", nil, &views)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, views, 1)
	assert.Equal(t, types.StatusExecuted, views[0].Status)

	var records []events.Record
	status = f.do(t, "GET", "/resources/main/events", "", nil, &records)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, records, 4)

	var one events.Record
	status = f.do(t, "GET", "/resources/main/events/"+records[1].CID, "", nil, &one)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, events.ProposalCreated, one.Event.Type)

	status = f.do(t, "GET", "/resources/main/events/bafynotthere", "", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "EVENT_NOT_FOUND", errResp.Error.Code)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	m := f.members
	f.initTreasury(t, "main")

	tests := []struct {
		name      string
		method    string
		path      string
		principal types.Principal
		body      any
		status    int
		code      string
	}{
		{"missing principal", "POST", "/resources/main/proposals", "", types.TransferPayload(m[3], 1, ""), http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"malformed principal", "POST", "/resources/main/proposals", "bob", types.TransferPayload(m[3], 1, ""), http.StatusBadRequest, "INVALID_PRINCIPAL"},
		{"not a member", "POST", "/resources/main/proposals", m[3], types.TransferPayload(m[3], 1, ""), http.StatusForbidden, "NOT_A_MEMBER"},
		{"over cap", "POST", "/resources/main/proposals", m[0], types.TransferPayload(m[3], 5000, ""), http.StatusUnprocessableEntity, "EXCEEDS_SPEND_CAP"},
		{"unknown resource", "GET", "/resources/nope", "", nil, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"unknown proposal", "GET", "/resources/main/proposals/42", "", nil, http.StatusNotFound, "PROPOSAL_NOT_FOUND"},
		{"bad proposal id", "GET", "/resources/main/proposals/x", "", nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad limit", "GET", "/resources/main/events?limit=-1", "", nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown field", "POST", "/resources/main/freeze", m[0], map[string]any{"because": "x"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"pause on treasury", "POST", "/resources/main/pause/votes", m[0], server.ReasonRequest{}, http.StatusConflict, "PAUSE_NOT_SUPPORTED"},
		{"already initialized", "POST", "/resources/main", m[0], types.Params{Kind: types.KindTreasury, Vault: "v", Members: m[:3], Threshold: 2, DailyCap: 1}, http.StatusConflict, "ALREADY_INITIALIZED"},
		{"init by outsider", "POST", "/resources/other", m[3], types.Params{Kind: types.KindTreasury, Vault: "v", Members: m[:3], Threshold: 2, DailyCap: 1}, http.StatusForbidden, "NOT_A_MEMBER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp server.ErrorResponse
			status := f.do(t, tt.method, tt.path, tt.principal, tt.body, &errResp)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, errResp.Error.Code)
		})
	}

	var list server.ResourcesResponse
	require.Equal(t, http.StatusOK, f.do(t, "GET", "/resources", "", nil, &list))
	assert.Equal(t, []types.ResourceID{"main"}, list.Resources)
}

func TestDailyCapStatus(t *testing.T) {
	f := newFixture(t)
	m := f.members
	f.initTreasury(t, "main")

	for i := range 2 {
		require.Equal(t, http.StatusCreated, f.do(t, "POST", "/resources/main/proposals", m[0], types.TransferPayload(m[3], 600, ""), nil))
		path := "/resources/main/proposals/" + strconv.Itoa(i)
		require.Equal(t, http.StatusOK, f.do(t, "POST", path+"/approve", m[1], nil, nil))
	}
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/resources/main/proposals/0/execute", m[2], nil, nil))

	var errResp server.ErrorResponse
	status := f.do(t, "POST", "/resources/main/proposals/1/execute", m[2], nil, &errResp)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "DAILY_CAP_EXCEEDED", errResp.Error.Code)
}

func TestFreezeAndUnfreeze(t *testing.T) {
	f := newFixture(t)
	m := f.members
	f.initTreasury(t, "main")

	var frozen server.FreezeResponse
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/resources/main/freeze", m[2], server.ReasonRequest{Reason: "key leak"}, &frozen))
	assert.True(t, frozen.Frozen)

	var errResp server.ErrorResponse
	status := f.do(t, "POST", "/resources/main/proposals", m[0], types.TransferPayload(m[3], 1, ""), &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "RESOURCE_FROZEN", errResp.Error.Code)

	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/resources/main/proposals", m[0], types.ConfigPayload(types.ConfigPatch{Unfreeze: true}), nil))
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/resources/main/proposals/0/approve", m[1], nil, nil))

	var res types.Resource
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/resources/main/config", m[1], server.ApplyConfigRequest{Proof: 0}, &res))
	assert.False(t, res.Frozen)
	assert.Equal(t, uint64(1), res.ConfigVersion)

	status = f.do(t, "POST", "/resources/main/config", m[1], server.ApplyConfigRequest{Proof: 0}, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_EXECUTED", errResp.Error.Code)
}

func TestPauseEndpoints(t *testing.T) {
	f := newFixture(t)
	g := f.members
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/resources/guard", g[0], types.Params{
		Kind:           types.KindEmergency,
		Members:        g[:3],
		PauseThreshold: 2,
	}, nil))

	var st pause.Status
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/resources/guard/pause/votes", g[0], server.ReasonRequest{Reason: "exploit"}, &st))
	assert.Len(t, st.PauseVotes, 1)

	require.Equal(t, http.StatusOK, f.do(t, "DELETE", "/resources/guard/pause/votes", g[0], nil, &st))
	assert.Empty(t, st.PauseVotes)

	require.Equal(t, http.StatusOK, f.do(t, "POST", "/resources/guard/pause/votes", g[0], server.ReasonRequest{Reason: "exploit"}, nil))
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/resources/guard/pause/votes", g[1], server.ReasonRequest{Reason: "exploit"}, &st))
	assert.True(t, st.Paused)

	require.Equal(t, http.StatusOK, f.do(t, "GET", "/resources/guard/pause", "", nil, &st))
	assert.Equal(t, types.DefaultMaxPauseDuration, st.Remaining)

	var expiry server.ExpiryResponse
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/resources/guard/pause/expire", "", nil, &expiry))
	assert.False(t, expiry.Lifted)

	f.clock.Advance(types.DefaultMaxPauseDuration)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/resources/guard/pause/expire", "", nil, &expiry))
	assert.True(t, expiry.Lifted)

	var errResp server.ErrorResponse
	status := f.do(t, "POST", "/resources/guard/pause/resume", g[2], nil, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NOT_PAUSED", errResp.Error.Code)
}

func TestValidator(t *testing.T) {
	var seen []string
	f := newFixture(t, server.WithValidator(server.ValidatorFunc(
		func(_ context.Context, op string, _ types.ResourceID, _ types.Principal) error {
			seen = append(seen, op)
			if op == "freeze" {
				return server.NewValidationError("ACCOUNT_SUSPENDED", "account suspended")
			}
			if op == "cancel" {
				return errors.New("rate limited")
			}
			return nil
		})))
	m := f.members
	f.initTreasury(t, "main")

	var errResp server.ErrorResponse
	status := f.do(t, "POST", "/resources/main/freeze", m[0], server.ReasonRequest{}, &errResp)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCOUNT_SUSPENDED", errResp.Error.Code)

	status = f.do(t, "POST", "/resources/main/proposals/0/cancel", m[0], nil, &errResp)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "VALIDATION_ERROR", errResp.Error.Code)

	assert.Equal(t, []string{"init", "freeze", "cancel"}, seen)
}

func TestPrincipalResolver(t *testing.T) {
	f := newFixture(t, server.WithPrincipalResolver(server.HeaderPrincipal("X-Forwarded-User")))
	m := f.members

	req, err := http.NewRequest("POST", f.ts.URL+"/resources/main", strings.NewReader(`{"kind":"emergency","members":["`+string(m[0])+`","`+string(m[1])+`"],"pause_threshold":1}`))
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-User", string(m[0]))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// The default header is no longer consulted.
	status := f.do(t, "POST", "/resources/main/pause/votes", m[0], server.ReasonRequest{}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.initTreasury(t, "main")

	resp, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `vaultgate_operations_total{kind="treasury",operation="init",result="ok"} 1`)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/resources/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Len(t, resp.Header.Get(server.RequestIDHeader), 36, "generated uuid")

	req, err := http.NewRequest("GET", f.ts.URL+"/resources/missing", nil)
	require.NoError(t, err)
	req.Header.Set(server.RequestIDHeader, "req-42")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(server.RequestIDHeader))
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	m := f.members
	f.initTreasury(t, "main")
	f.initTreasury(t, "other")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/resources/main/events/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var ready server.StreamReady
	require.NoError(t, wsjson.Read(ctx, conn, &ready))
	assert.Equal(t, "ready", ready.Type)
	assert.Equal(t, types.ResourceID("main"), ready.Resource)
	assert.Equal(t, 1, f.hub.Subscribers())

	// Events of other resources are not forwarded.
	require.NoError(t, f.svc.Freeze(ctx, "other", m[0], "drill"))
	status := f.do(t, "POST", "/resources/main/proposals", m[0], types.TransferPayload(m[3], 10, ""), nil)
	require.Equal(t, http.StatusCreated, status)

	var e events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &e))
	assert.Equal(t, events.ProposalCreated, e.Type)
	assert.Equal(t, types.ResourceID("main"), e.Resource)
	assert.Equal(t, m[0], e.Actor)

	conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return f.hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventStreamUnknownResource(t *testing.T) {
	f := newFixture(t)

	var errResp server.ErrorResponse
	status := f.do(t, "GET", "/resources/missing/events/stream", "", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errResp.Error.Code)
	assert.Equal(t, 0, f.hub.Subscribers())
}
