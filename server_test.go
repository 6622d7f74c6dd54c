package radar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/radar/dedup"
	"github.com/coder/radar/ghapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	srv := &Server{
		Log: discardLogger(),
		Runner: &Runner{
			Log:     discardLogger(),
			Catalog: runCatalog(),
			Store:   dedup.NewMemory(),
			Now:     func() time.Time { return testNow },
		},
		Config: listConfig("acme/a"),
		Quota: &fakeQuota{status: ghapi.QuotaStatus{
			Core:   ghapi.Bucket{Name: "core", Limit: 5000, Remaining: 4200},
			Search: ghapi.Bucket{Name: "search", Limit: 30, Remaining: 30},
		}},
	}
	srv.Init()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_Runs(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t)

	var latest runResponse
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, ts.URL+"/runs/latest", "", nil))

	var started runResponse
	status := doJSON(t, http.MethodPost, ts.URL+"/runs?wait=true", `{"repos": ["acme/a", "acme/b"]}`, &started)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "finished", started.Status)
	require.NotNil(t, started.Report)
	assert.Len(t, started.Report.Repositories, 2)
	assert.Len(t, started.Report.Ranked, 4)

	status = doJSON(t, http.MethodGet, ts.URL+"/runs/latest", "", &latest)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "finished", latest.Status)
	assert.Equal(t, started.Report.RunID, latest.Report.RunID)

	// Background runs report 202 and land in latest.
	status = doJSON(t, http.MethodPost, ts.URL+"/runs", `{"allow_reprocess": true}`, &started)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "started", started.Status)
	srv.Wait()

	report, err := srv.Latest()
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.NotEqual(t, latest.Report.RunID, report.RunID)
	// The server config names one repository; reprocessing lets it
	// through again even though every issue was already seen.
	assert.Len(t, report.Repositories, 1)
	assert.Empty(t, report.Ranked)
}

func TestServer_BadRequests(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	var body map[string]any
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/runs", `{"repo": "typo"}`, &body))
	assert.Contains(t, body["error"], "unknown field")

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, ts.URL+"/runs", `{"lists": ["nope"]}`, &body))
	assert.Contains(t, body["error"], ErrConfigInvalid.Error())

	assert.Equal(t, http.StatusMethodNotAllowed, doJSON(t, http.MethodGet, ts.URL+"/runs", "", nil))
}

func TestServer_Conflict(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t)
	require.True(t, srv.begin())
	defer func() {
		srv.running.Store(false)
		srv.wg.Done()
	}()

	var body map[string]any
	assert.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, ts.URL+"/runs?wait=1", "", &body))
	assert.Equal(t, ErrRunInProgress.Error(), body["error"])

	_, err := srv.Trigger(context.Background(), srv.Config)
	require.ErrorIs(t, err, ErrRunInProgress)
}

func TestServer_Quota(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	var q quotaResponse
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, ts.URL+"/quota", "", &q))
	assert.Equal(t, 4200, q.Core.Remaining)
	assert.Equal(t, "search", q.Search.Name)
	assert.False(t, q.Running)
}

func TestRunRequestApply(t *testing.T) {
	t.Parallel()

	base := DefaultRunConfig()
	reprocess := true

	cfg := runRequest{Repos: []string{"a/b"}, MaxRepos: 3, AllowReprocess: &reprocess}.apply(base)
	assert.Equal(t, ModeList, cfg.Mode)
	assert.Equal(t, []string{"a/b"}, cfg.Repos)
	assert.Equal(t, 3, cfg.MaxRepos)
	assert.True(t, cfg.AllowReprocess)

	cfg = runRequest{Topics: []string{"wasm"}}.apply(base)
	assert.Equal(t, ModeTopics, cfg.Mode)
	assert.Equal(t, []string{"wasm"}, cfg.Topics)
	assert.Empty(t, cfg.Categories)

	assert.Equal(t, base, runRequest{}.apply(base))
}
