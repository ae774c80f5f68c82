package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchwatch/engine/internal/state"
	"github.com/launchwatch/engine/internal/store"
)

const deployer = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"

type fakeDeploys struct {
	counts map[string]int
	err    error
}

func (f fakeDeploys) DeployCount(_ context.Context, scope, address string) (int, error) {
	return f.counts[scope+"/"+address], f.err
}

func (f fakeDeploys) TopDeployers(_ context.Context, scope string, n int) ([]state.ActorCount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []state.ActorCount{{Address: deployer, Count: n}}, nil
}

func newTestServer(t *testing.T, deploys DeployReader) (*Server, *state.Registry) {
	t.Helper()
	reg, err := state.OpenRegistry(context.Background(), state.NewMemoryBackend(), store.WatchList{Keywords: []string{"moon"}})
	require.NoError(t, err)
	srv := NewServer(Options{
		Registry: reg,
		Deploys:  deploys,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("launchwatch_cycles_total 0\n"))
		}),
		Scopes: func() []string { return []string{"global"} },
	})
	return srv, reg
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, fakeDeploys{})

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"global"}, body["scopes"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "launchwatch_cycles_total")
}

func TestTenantLifecycle(t *testing.T) {
	srv, reg := newTestServer(t, fakeDeploys{})

	rec := do(t, srv, http.MethodPut, "/api/tenants/guild-1",
		`{"name":"Guild","general_webhook":"https://discord.example/api/webhooks/123/secret","filter":{"max_items_per_actor":2},"poll_interval_seconds":60}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "guild-1", body["id"])
	assert.Equal(t, true, body["active"])
	assert.NotContains(t, body["general_webhook"], "secret")

	saved, ok := reg.Tenant("guild-1")
	require.True(t, ok)
	assert.Equal(t, "https://discord.example/api/webhooks/123/secret", saved.GeneralWebhook)
	require.NotNil(t, saved.Filter.MaxItemsPerActor)
	assert.Equal(t, 2, *saved.Filter.MaxItemsPerActor)

	rec = do(t, srv, http.MethodGet, "/api/tenants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = do(t, srv, http.MethodGet, "/api/tenants/guild-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/tenants/guild-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/api/tenants/guild-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodGet, "/api/tenants/guild-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTenantRejectsInvalidInput(t *testing.T) {
	srv, _ := newTestServer(t, fakeDeploys{})

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPut, "/api/tenants/x", "{").Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		do(t, srv, http.MethodPut, "/api/tenants/x", `{"poll_interval_seconds":-1}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		do(t, srv, http.MethodPut, "/api/tenants/x", `{"filter":{"max_items_per_actor":-3}}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, srv, http.MethodPut, "/api/tenants/global", `{}`).Code, "global is reserved")
}

func TestWatchEndpoints(t *testing.T) {
	srv, reg := newTestServer(t, fakeDeploys{})

	rec := do(t, srv, http.MethodPost, "/api/scopes/guild/watch/x", `{"value":"@MoonDev"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "moondev", decode(t, rec)["value"])
	assert.Equal(t, []string{"moondev"}, reg.List("guild").HandleA)

	rec = do(t, srv, http.MethodPost, "/api/scopes/guild/watch/address", `{"value":"0x123"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/scopes/guild/watch/keyword", `{"value":"   "}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/scopes/guild/watch/color", `{"value":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/scopes/guild/watch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	entries := body["entries"].(map[string]any)
	assert.Equal(t, []any{"moondev"}, entries["handle_a"])
	defaults := body["defaults"].(map[string]any)
	assert.Equal(t, []any{"moon"}, defaults["keyword"])

	rec = do(t, srv, http.MethodDelete, "/api/scopes/guild/watch/handle_a/MOONDEV", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/api/scopes/guild/watch/handle_a/moondev", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeployEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, fakeDeploys{counts: map[string]int{"guild/" + deployer: 3}})

	rec := do(t, srv, http.MethodGet, "/api/scopes/guild/deploys/"+strings.ToUpper(deployer[2:]), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing 0x prefix")

	rec = do(t, srv, http.MethodGet, "/api/scopes/guild/deploys/0x"+strings.ToUpper(deployer[2:]), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, deployer, body["address"])
	assert.Equal(t, 3.0, body["count"])

	rec = do(t, srv, http.MethodGet, "/api/scopes/guild/deploys?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []state.ActorCount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].Count)

	rec = do(t, srv, http.MethodGet, "/api/scopes/guild/deploys?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeployEndpointsDegrade(t *testing.T) {
	srv, _ := newTestServer(t, fakeDeploys{err: errors.New("backend down")})
	rec := do(t, srv, http.MethodGet, "/api/scopes/guild/deploys/"+deployer, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, fakeDeploys{})
	rec := do(t, srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decode(t, rec)["error"])
}

func TestReadsSeeEditsFromOtherProcesses(t *testing.T) {
	ctx := context.Background()
	backend := state.NewMemoryBackend()
	reg, err := state.OpenRegistry(ctx, backend, store.WatchList{})
	require.NoError(t, err)
	srv := NewServer(Options{Registry: reg, Deploys: fakeDeploys{}})

	other, err := state.OpenRegistry(ctx, backend, store.WatchList{})
	require.NoError(t, err)
	require.NoError(t, other.SetTenant(ctx, store.Tenant{ID: "guild1", Name: "Guild"}))
	_, err = other.Add(ctx, "guild1", store.AxisKeyword, "pepe")
	require.NoError(t, err)

	rec := do(t, srv, http.MethodGet, "/api/tenants/guild1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Guild", decode(t, rec)["name"])

	rec = do(t, srv, http.MethodGet, "/api/scopes/guild1/watch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pepe")
}
