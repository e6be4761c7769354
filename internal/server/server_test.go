package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/wallet-history/internal/domain/event"
	"github.com/emperorhan/wallet-history/internal/domain/model"
	"github.com/emperorhan/wallet-history/internal/pipeline"
	"github.com/emperorhan/wallet-history/internal/source"
	"github.com/emperorhan/wallet-history/internal/store/memory"
)

const (
	alice = "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"
	bob   = "14E5nqKAp3oAJcmzgZhUD2RcptBeUBScxKHgJKU4HPNcKVf3"
)

type chainMap map[model.Chain]model.ChainInfo

func (m chainMap) Lookup(c model.Chain) (model.ChainInfo, bool) {
	info, ok := m[c]
	return info, ok
}

var testChains = chainMap{
	model.ChainPaseo: {Chain: model.ChainPaseo, Token: "PAS", Decimals: 10},
	model.ChainPolkadot: {
		Chain: model.ChainPolkadot, Token: "DOT", Decimals: 10, GovernanceEnabled: true,
	},
}

// fakeSources serves transfers from a fixed page table and returns no
// governance extrinsics.
type fakeSources struct {
	mu              sync.Mutex
	pages           map[int][]source.RawTransfer
	count           int
	err             error
	governanceCalls int
}

func (f *fakeSources) FetchTransfers(_ context.Context, req event.PageRequest) (event.PageResult[source.RawTransfer], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return event.PageResult[source.RawTransfer]{}, f.err
	}
	return event.PageResult[source.RawTransfer]{For: req.For, Count: f.count, Items: f.pages[req.PageNumber]}, nil
}

func (f *fakeSources) FetchGovernance(_ context.Context, req event.PageRequest) (event.PageResult[source.RawExtrinsic], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.governanceCalls++
	return event.PageResult[source.RawExtrinsic]{For: req.For}, nil
}

func transfer(hash string, ts int64) source.RawTransfer {
	return source.RawTransfer{
		From:           alice,
		To:             bob,
		Success:        true,
		Hash:           hash,
		BlockNum:       ts,
		BlockTimestamp: ts,
		Amount:         "1.5",
		Fee:            "150000000",
		AssetSymbol:    "PAS",
	}
}

func threeTransfers() *fakeSources {
	return &fakeSources{
		count: 3,
		pages: map[int][]source.RawTransfer{
			0: {transfer("0x03", 1_717_200_000), transfer("0x02", 1_717_100_000)},
			1: {transfer("0x01", 1_717_000_000)},
		},
	}
}

type testEnv struct {
	registry *Registry
	handler  http.Handler
	sources  *fakeSources
}

func newTestEnv(t *testing.T, sources *fakeSources) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry(ctx, sources, sources, memory.New(16, 0), testChains,
		RegistryConfig{Session: pipeline.Config{PageSize: 2}}, logger)
	t.Cleanup(func() {
		registry.sessions.Purge()
		cancel()
	})
	return &testEnv{
		registry: registry,
		handler:  NewServer(registry, logger).Handler(),
		sources:  sources,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(method, path, r))
	return rec
}

func (e *testEnv) settle(t *testing.T, id string) {
	t.Helper()
	s, err := e.registry.Get(id)
	require.NoError(t, err)
	s.Wait()
}

func (e *testEnv) create(t *testing.T, account string, chain model.Chain) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/sessions", subjectRequest{Account: account, Chain: string(chain)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID      string `json:"id"`
		Account string `json:"account"`
		Chain   string `json:"chain"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	assert.Equal(t, account, resp.Account)
	assert.Equal(t, string(chain), resp.Chain)
	return resp.ID
}

type historyBody struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	State   string `json:"state"`
	Groups  []struct {
		Date    string `json:"date"`
		Records []struct {
			Hash     string `json:"hash"`
			Category string `json:"category"`
		} `json:"records"`
	} `json:"groups"`
}

func (e *testEnv) history(t *testing.T, id, query string) historyBody {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/v1/sessions/"+id+"/history"+query, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body historyBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func hashes(b historyBody) []string {
	var out []string
	for _, g := range b.Groups {
		for _, r := range g.Records {
			out = append(out, r.Hash)
		}
	}
	return out
}

type stateBody struct {
	CacheLoaded bool `json:"cacheLoaded"`
	Observing   bool `json:"observing"`
	Transfers   struct {
		PageNumber int  `json:"pageNumber"`
		HasMore    bool `json:"hasMore"`
		Failed     bool `json:"failed"`
	} `json:"transfers"`
	Governance struct {
		HasMore bool `json:"hasMore"`
	} `json:"governance"`
}

func (e *testEnv) state(t *testing.T, id string) stateBody {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body stateBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_ScrollToExhaustion(t *testing.T) {
	env := newTestEnv(t, threeTransfers())

	id := env.create(t, alice, model.ChainPaseo)
	env.settle(t, id)

	st := env.state(t, id)
	assert.True(t, st.CacheLoaded)
	assert.True(t, st.Observing)
	assert.True(t, st.Transfers.HasMore)
	assert.Equal(t, 1, st.Transfers.PageNumber)
	assert.False(t, st.Governance.HasMore)

	body := env.history(t, id, "")
	assert.Equal(t, "ready", body.State)
	assert.Equal(t, []string{"0x03", "0x02"}, hashes(body))

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+id+"/visible", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"observing":true}`, rec.Body.String())
	env.settle(t, id)

	body = env.history(t, id, "")
	assert.Equal(t, []string{"0x03", "0x02", "0x01"}, hashes(body))
	assert.Len(t, body.Groups, 3)

	st = env.state(t, id)
	assert.False(t, st.Transfers.HasMore)
	assert.False(t, st.Observing)

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/visible", nil)
	assert.JSONEq(t, `{"observing":false}`, rec.Body.String())

	env.sources.mu.Lock()
	assert.Zero(t, env.sources.governanceCalls)
	env.sources.mu.Unlock()
}

func TestServer_HistoryFilter(t *testing.T) {
	env := newTestEnv(t, threeTransfers())
	id := env.create(t, alice, model.ChainPaseo)
	env.settle(t, id)

	body := env.history(t, id, "?filter=transfers")
	assert.Equal(t, []string{"0x03", "0x02"}, hashes(body))

	body = env.history(t, id, "?filter=governance")
	assert.Equal(t, "loading", body.State, "transfers still has pages")
	assert.Empty(t, body.Groups)

	rec := env.do(t, http.MethodGet, "/v1/sessions/"+id+"/history?filter=nft", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_FailedSourceStopsPaging(t *testing.T) {
	sources := threeTransfers()
	sources.err = errors.New("boom")
	env := newTestEnv(t, sources)

	id := env.create(t, alice, model.ChainPaseo)
	env.settle(t, id)

	st := env.state(t, id)
	assert.True(t, st.Transfers.Failed)
	assert.False(t, st.Transfers.HasMore)
	assert.False(t, st.Observing)
	assert.Equal(t, "empty", env.history(t, id, "").State)
}

func TestServer_SetSubject(t *testing.T) {
	env := newTestEnv(t, threeTransfers())
	id := env.create(t, alice, model.ChainPaseo)
	env.settle(t, id)
	before := env.history(t, id, "").Subject

	rec := env.do(t, http.MethodPut, "/v1/sessions/"+id+"/subject", subjectRequest{Account: bob, Chain: "polkadot"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env.settle(t, id)

	body := env.history(t, id, "")
	assert.NotEqual(t, before, body.Subject)
	assert.True(t, strings.HasPrefix(body.Subject, bob+"@polkadot#"))

	rec = env.do(t, http.MethodPut, "/v1/sessions/"+id+"/subject", subjectRequest{Account: bob, Chain: "solana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SetSubjectOnClosedSession(t *testing.T) {
	env := newTestEnv(t, threeTransfers())
	id := env.create(t, alice, model.ChainPaseo)
	sess, err := env.registry.Get(id)
	require.NoError(t, err)
	sess.Close()

	rec := env.do(t, http.MethodPut, "/v1/sessions/"+id+"/subject", subjectRequest{Account: bob, Chain: "paseo"})
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestServer_CreateValidation(t *testing.T) {
	env := newTestEnv(t, threeTransfers())

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "not json", body: "{", want: http.StatusBadRequest},
		{name: "missing account", body: `{"chain":"paseo"}`, want: http.StatusBadRequest},
		{name: "unknown chain", body: `{"account":"` + alice + `","chain":"solana"}`, want: http.StatusBadRequest},
		{name: "blank account", body: `{"account":"   ","chain":"paseo"}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, env.registry.Len())
}

func TestServer_DeleteAndNotFound(t *testing.T) {
	env := newTestEnv(t, threeTransfers())
	id := env.create(t, alice, model.ChainPaseo)

	rec := env.do(t, http.MethodDelete, "/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for _, c := range []struct{ method, path string }{
		{http.MethodGet, "/v1/sessions/" + id},
		{http.MethodGet, "/v1/sessions/" + id + "/history"},
		{http.MethodPost, "/v1/sessions/" + id + "/visible"},
		{http.MethodDelete, "/v1/sessions/" + id},
	} {
		rec := env.do(t, c.method, c.path, nil)
		assert.Equalf(t, http.StatusNotFound, rec.Code, "%s %s", c.method, c.path)
	}
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, threeTransfers())
	env.create(t, alice, model.ChainPaseo)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":1}`, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "history_http_requests_total")
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = parseFilter([]string{"transfers, Staking", "governance"})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.Transfers)
	assert.True(t, f.Staking)
	assert.True(t, f.Governance)

	_, err = parseFilter([]string{"transfers,bogus"})
	assert.Error(t, err)
}
