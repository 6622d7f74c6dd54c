package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/radar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(n int) *radar.Report {
	r := &radar.Report{FinishedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	repo := &radar.Repository{Owner: "acme", Name: "widgets"}
	r.Repositories = []*radar.Repository{repo}
	for i := 0; i < n; i++ {
		r.Ranked = append(r.Ranked, radar.Candidate{
			Repo: repo,
			Issue: &radar.Issue{
				RepoKey: "acme/widgets",
				Number:  i + 1,
				Title:   fmt.Sprintf("Fix `thing` %d", i),
				Labels:  []string{"bug"},
				URL:     fmt.Sprintf("https://github.com/acme/widgets/issues/%d", i+1),
			},
			Score: radar.Score{Total: 0.8},
		})
	}
	return r
}

func TestBuildEmbed(t *testing.T) {
	t.Parallel()

	e := BuildEmbed(report(12))
	require.Len(t, e.Fields, 2)
	assert.Contains(t, e.Fields[0].Value, "#1")
	assert.Contains(t, e.Fields[0].Value, "\\`thing\\`")
	assert.Contains(t, e.Fields[1].Value, "#10")
	assert.NotContains(t, e.Fields[1].Value, "#11")
	assert.Contains(t, e.Description, "ranked 12 issues")

	e = BuildEmbed(report(0))
	require.Len(t, e.Fields, 1)
	assert.Contains(t, e.Fields[0].Value, "No new issues")
}

func TestWebhook_Notify(t *testing.T) {
	t.Parallel()

	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := &Webhook{URL: srv.URL}
	require.NoError(t, w.Notify(context.Background(), report(3)))
	require.Len(t, got.Embeds, 1)
	assert.Len(t, got.Embeds[0].Fields, 1)
}

func TestWebhook_NotifyError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := (&Webhook{URL: srv.URL}).Notify(context.Background(), report(1))
	require.ErrorContains(t, err, "unknown webhook")
}
