package radar

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/radar/ghapi"
	"github.com/coder/radar/httpjson"
	"github.com/go-chi/chi/v5"
)

// ErrRunInProgress is returned when a run is requested while another is
// still going. Runs share a dedup store and quota, so they never overlap.
var ErrRunInProgress = errors.New("a run is already in progress")

// QuotaSource reports the last known quota without a network call.
// *ghapi.Fetcher implements it.
type QuotaSource interface {
	QuotaSnapshot() ghapi.QuotaStatus
}

// Server exposes discovery runs over HTTP.
type Server struct {
	Log    *slog.Logger
	Runner *Runner
	// Config is the base configuration of every run. Requests may narrow
	// it; see runRequest.
	Config RunConfig
	Quota  QuotaSource
	// BaseContext parents runs started in the background. When nil they
	// outlive the request that started them but nothing else.
	BaseContext context.Context

	router  *chi.Mux
	running atomic.Bool
	wg      sync.WaitGroup

	mu        sync.Mutex
	latest    *Report
	latestErr error
}

func (s *Server) Init() {
	s.router = chi.NewRouter()
	s.router.Method(http.MethodPost, "/runs", httpjson.Handler(s.startRun))
	s.router.Method(http.MethodGet, "/runs/latest", httpjson.Handler(s.latestRun))
	s.router.Method(http.MethodGet, "/quota", httpjson.Handler(s.quota))
}

// runRequest narrows the server's configuration for one run.
type runRequest struct {
	Topics         []string `json:"topics,omitempty"`
	Categories     []string `json:"categories,omitempty"`
	Repos          []string `json:"repos,omitempty"`
	Lists          []string `json:"lists,omitempty"`
	MaxRepos       int      `json:"max_repos,omitempty"`
	AllowReprocess *bool    `json:"allow_reprocess,omitempty"`
}

func (req runRequest) apply(cfg RunConfig) RunConfig {
	switch {
	case len(req.Repos) > 0 || len(req.Lists) > 0:
		cfg.Mode = ModeList
		cfg.Repos, cfg.Lists = req.Repos, req.Lists
	case len(req.Topics) > 0 || len(req.Categories) > 0:
		cfg.Mode = ModeTopics
		cfg.Topics, cfg.Categories = req.Topics, req.Categories
	}
	if req.MaxRepos > 0 {
		cfg.MaxRepos = req.MaxRepos
	}
	if req.AllowReprocess != nil {
		cfg.AllowReprocess = *req.AllowReprocess
	}
	return cfg
}

type runResponse struct {
	Status string  `json:"status"`
	Report *Report `json:"report,omitempty"`
	Error  string  `json:"error,omitempty"`
}

func (s *Server) begin() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) execute(ctx context.Context, cfg RunConfig) (*Report, error) {
	defer s.wg.Done()
	defer s.running.Store(false)

	report, err := s.Runner.Run(ctx, cfg)
	if err != nil {
		s.Log.Error("run failed", "error", err)
	}
	s.mu.Lock()
	s.latest, s.latestErr = report, err
	s.mu.Unlock()
	return report, err
}

// Trigger runs discovery synchronously unless another run is in progress.
func (s *Server) Trigger(ctx context.Context, cfg RunConfig) (*Report, error) {
	if !s.begin() {
		return nil, ErrRunInProgress
	}
	return s.execute(ctx, cfg)
}

// Wait blocks until background runs finish.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Latest returns the most recent report and the error its run ended with.
func (s *Server) Latest() (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latestErr
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) *httpjson.Response {
	var req runRequest
	if err := httpjson.Read(r, &req); err != nil {
		return httpjson.ErrorMessage(http.StatusBadRequest, err)
	}
	cfg := req.apply(s.Config)
	if err := cfg.Validate(); err != nil {
		return httpjson.ErrorMessage(http.StatusBadRequest, err)
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !s.begin() {
		return httpjson.ErrorMessage(http.StatusConflict, ErrRunInProgress)
	}

	if wait {
		report, err := s.execute(r.Context(), cfg)
		if err != nil {
			resp := s.serverError(err)
			resp.Body = runResponse{Status: "failed", Report: report, Error: err.Error()}
			return resp
		}
		return httpjson.OK(runResponse{Status: "finished", Report: report})
	}

	ctx := s.BaseContext
	if ctx == nil {
		ctx = context.WithoutCancel(r.Context())
	}
	go s.execute(ctx, cfg)
	return &httpjson.Response{
		Status: http.StatusAccepted,
		Body:   runResponse{Status: "started"},
	}
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) *httpjson.Response {
	report, err := s.Latest()
	switch {
	case report == nil && err == nil:
		return httpjson.Errorf(http.StatusNotFound, "no run has finished yet")
	case err != nil:
		return httpjson.OK(runResponse{Status: "failed", Report: report, Error: err.Error()})
	}
	status := "finished"
	if s.running.Load() {
		status = "running"
	}
	return httpjson.OK(runResponse{Status: status, Report: report})
}

type quotaResponse struct {
	ghapi.QuotaStatus
	Running bool      `json:"running"`
	Now     time.Time `json:"now"`
}

func (s *Server) quota(w http.ResponseWriter, r *http.Request) *httpjson.Response {
	if s.Quota == nil {
		return httpjson.Errorf(http.StatusNotFound, "quota is not tracked")
	}
	return httpjson.OK(quotaResponse{
		QuotaStatus: s.Quota.QuotaSnapshot(),
		Running:     s.running.Load(),
		Now:         time.Now().UTC(),
	})
}

func (s *Server) serverError(msg error) *httpjson.Response {
	s.Log.Error("server error", "error", msg)
	return &httpjson.Response{
		Status: http.StatusInternalServerError,
		Body:   httpjson.M{"error": msg.Error()},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
