package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/digitalrelab/star-export/internal/api/handler"
	"github.com/digitalrelab/star-export/internal/auth"
	"github.com/digitalrelab/star-export/internal/config"
	"github.com/digitalrelab/star-export/internal/domain"
	"github.com/digitalrelab/star-export/internal/media"
	"github.com/digitalrelab/star-export/internal/platform"
	"github.com/digitalrelab/star-export/internal/repository"
	"github.com/digitalrelab/star-export/internal/service"
)

type stubYouTube struct{}

func (stubYouTube) ChannelInfo(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"id":"chan-1"}`), nil
}

func (stubYouTube) Videos(ctx context.Context, max int) ([]platform.YouTubeVideo, error) {
	return []platform.YouTubeVideo{
		{ID: "v1", Title: "first"},
		{ID: "v2", Title: "second"},
	}, nil
}

func (stubYouTube) VideoStatistics(ctx context.Context, videoIDs []string) ([]json.RawMessage, error) {
	stats := make([]json.RawMessage, 0, len(videoIDs))
	for _, id := range videoIDs {
		stats = append(stats, json.RawMessage(`{"id":"`+id+`","statistics":{"viewCount":"3"}}`))
	}
	return stats, nil
}

func (stubYouTube) Playlists(ctx context.Context) ([]json.RawMessage, error)     { return nil, nil }
func (stubYouTube) Subscriptions(ctx context.Context) ([]json.RawMessage, error) { return nil, nil }
func (stubYouTube) ExtractMediaItems(videos []platform.YouTubeVideo) []domain.MediaItem {
	return nil
}

type stubFactory struct{}

func (stubFactory) YouTube(accessToken string) platform.YouTubeAPI { return stubYouTube{} }

func (stubFactory) Facebook(accessToken string) platform.FacebookAPI { return nil }

func (stubFactory) Instagram(accessToken string) platform.InstagramAPI { return nil }

type routerEnv struct {
	router    http.Handler
	svc       *service.ExportService
	sessions  *auth.Sessions
	users     *repository.UserRepository
	userID    string
	userToken string
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))

	users := repository.NewUserRepository()
	user := users.FindOrCreate(repository.CreateUserParams{
		GoogleID:    "g-1",
		Email:       "ada@example.com",
		Name:        "Ada",
		AccessToken: "token-1",
	})

	jobs := repository.NewJobRegistry()
	downloader := media.NewDownloader(5*time.Second, "test-agent", logger)
	svc := service.NewExportService(
		jobs, users, stubFactory{}, downloader,
		config.ExportConfig{Dir: t.TempDir(), MaxItems: 1000, MaxSecondary: 500, MediaConcurrency: 2},
		config.DownloadConfig{Timeout: 5 * time.Second, MaxRetries: 1, RetryDelay: time.Millisecond},
		logger,
	)

	sessions := auth.NewSessions("test-secret", time.Hour)
	oauth := auth.NewOAuthService(config.OAuthConfig{
		CallbackBaseURL: "http://localhost:3000",
		GoogleClientID:  "gid",
	}, users, logger)

	serverCfg := config.ServerConfig{FrontendURL: "http://localhost:5173", RateLimit: 10000}
	router := NewRouter(
		handler.NewExportHandler(svc, users, logger),
		handler.NewAuthHandler(oauth, sessions, users, serverCfg.FrontendURL, logger),
		handler.NewHealthHandler(jobs),
		sessions,
		serverCfg,
	)

	token, _, err := sessions.Issue(user.ID)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	return &routerEnv{
		router:    router,
		svc:       svc,
		sessions:  sessions,
		users:     users,
		userID:    user.ID,
		userToken: token,
	}
}

func (env *routerEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestRouter_RequiresAuth(t *testing.T) {
	env := newRouterEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/export"},
		{http.MethodGet, "/api/history"},
		{http.MethodGet, "/api/status/some-job"},
		{http.MethodDelete, "/api/export/some-job"},
	} {
		w := env.do(tc.method, tc.path, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tc.method, tc.path, w.Code)
		}
		resp := decodeResponse(t, w)
		if resp.Success || resp.Error != "Authentication required" {
			t.Errorf("%s %s body = %+v", tc.method, tc.path, resp)
		}
	}

	w := env.do(http.MethodGet, "/api/history", "not-a-token", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", w.Code)
	}
}

func TestRouter_ExportLifecycle(t *testing.T) {
	env := newRouterEnv(t)

	w := env.do(http.MethodPost, "/api/export", env.userToken, `{"platform":"youtube","format":"json"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", w.Code, w.Body.String())
	}
	var start struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(decodeResponse(t, w).Data, &start); err != nil {
		t.Fatalf("decode start data: %v", err)
	}
	if start.JobID == "" {
		t.Fatal("start returned empty jobId")
	}

	env.svc.Wait()

	w = env.do(http.MethodGet, "/api/status/"+start.JobID, env.userToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status status = %d", w.Code)
	}
	var status handler.JobStatusResponse
	if err := json.Unmarshal(decodeResponse(t, w).Data, &status); err != nil {
		t.Fatalf("decode status data: %v", err)
	}
	if status.Status != "completed" || status.Progress != 100 {
		t.Errorf("job = %s/%d, want completed/100", status.Status, status.Progress)
	}
	if status.RecordsProcessed != 2 || status.TotalRecords != 2 {
		t.Errorf("records = %d/%d, want 2/2", status.RecordsProcessed, status.TotalRecords)
	}
	wantURL := "/api/exports/" + start.JobID + "/youtube-export-" + start.JobID + ".json"
	if status.DownloadURL != wantURL {
		t.Errorf("downloadUrl = %q, want %q", status.DownloadURL, wantURL)
	}

	// Finished jobs refuse cancellation but the request itself is fine.
	w = env.do(http.MethodDelete, "/api/export/"+start.JobID, env.userToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Success || resp.Message != "Job could not be cancelled" {
		t.Errorf("cancel body = %+v", resp)
	}

	w = env.do(http.MethodGet, "/api/history", env.userToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var history struct {
		Jobs       []handler.HistoryEntry `json:"jobs"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(decodeResponse(t, w).Data, &history); err != nil {
		t.Fatalf("decode history data: %v", err)
	}
	if len(history.Jobs) != 1 || history.Pagination.Total != 1 {
		t.Fatalf("history = %d jobs, total %d, want 1/1", len(history.Jobs), history.Pagination.Total)
	}
	if history.Jobs[0].ID != start.JobID || history.Jobs[0].Platform != "youtube" {
		t.Errorf("history entry = %+v", history.Jobs[0])
	}

	w = env.do(http.MethodGet, wantURL, env.userToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("download status = %d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("download Content-Type = %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") {
		t.Errorf("download Content-Disposition = %q", got)
	}
	var artifact map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &artifact); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if artifact["channel"] == nil {
		t.Error("artifact missing channel payload")
	}
}

func TestRouter_StartValidation(t *testing.T) {
	env := newRouterEnv(t)

	cases := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"invalid json", "{not json", http.StatusBadRequest, "Invalid request body"},
		{"missing platform", `{"format":"json"}`, http.StatusBadRequest, "Platform is required"},
		{"missing format", `{"platform":"youtube"}`, http.StatusBadRequest, "Format is required"},
		{"unsupported platform", `{"platform":"myspace","format":"json"}`, http.StatusBadRequest, "Unsupported platform"},
	}
	for _, tc := range cases {
		w := env.do(http.MethodPost, "/api/export", env.userToken, tc.body)
		if w.Code != tc.wantCode {
			t.Errorf("%s: status = %d, want %d", tc.name, w.Code, tc.wantCode)
			continue
		}
		if resp := decodeResponse(t, w); resp.Error != tc.wantErr {
			t.Errorf("%s: error = %q, want %q", tc.name, resp.Error, tc.wantErr)
		}
	}
}

func TestRouter_OwnershipEnforced(t *testing.T) {
	env := newRouterEnv(t)

	w := env.do(http.MethodPost, "/api/export", env.userToken, `{"platform":"youtube","format":"json"}`)
	var start struct {
		JobID string `json:"jobId"`
	}
	json.Unmarshal(decodeResponse(t, w).Data, &start)
	env.svc.Wait()

	other := env.users.FindOrCreate(repository.CreateUserParams{
		GoogleID:    "g-2",
		AccessToken: "token-2",
	})
	otherToken, _, err := env.sessions.Issue(other.ID)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	w = env.do(http.MethodGet, "/api/status/"+start.JobID, otherToken, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("status as other user = %d, want 403", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Error != "Access denied" {
		t.Errorf("error = %q, want Access denied", resp.Error)
	}

	w = env.do(http.MethodDelete, "/api/export/"+start.JobID, otherToken, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("cancel as other user = %d, want 403", w.Code)
	}

	w = env.do(http.MethodGet, "/api/status/unknown-job", env.userToken, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown job = %d, want 404", w.Code)
	}
}

func TestRouter_PlatformStatus(t *testing.T) {
	env := newRouterEnv(t)

	w := env.do(http.MethodGet, "/api/status/platform/youtube", env.userToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var data struct {
		Connected  bool            `json:"connected"`
		LastExport json.RawMessage `json:"lastExport"`
	}
	if err := json.Unmarshal(decodeResponse(t, w).Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !data.Connected {
		t.Error("connected = false, want true for google-linked user")
	}
	if data.LastExport != nil {
		t.Error("lastExport present before any export ran")
	}

	// Facebook is not linked for this user.
	w = env.do(http.MethodGet, "/api/status/platform/facebook", env.userToken, "")
	if err := json.Unmarshal(decodeResponse(t, w).Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.Connected {
		t.Error("connected = true for unlinked facebook")
	}

	w = env.do(http.MethodGet, "/api/status/platform/myspace", env.userToken, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown platform = %d, want 400", w.Code)
	}

	env.do(http.MethodPost, "/api/export", env.userToken, `{"platform":"youtube","format":"json"}`)
	env.svc.Wait()
	w = env.do(http.MethodGet, "/api/status/platform/youtube", env.userToken, "")
	if err := json.Unmarshal(decodeResponse(t, w).Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.LastExport == nil {
		t.Error("lastExport missing after a completed export")
	}
}

func TestRouter_ArtifactTraversalBlocked(t *testing.T) {
	env := newRouterEnv(t)

	w := env.do(http.MethodPost, "/api/export", env.userToken, `{"platform":"youtube","format":"json"}`)
	var start struct {
		JobID string `json:"jobId"`
	}
	json.Unmarshal(decodeResponse(t, w).Data, &start)
	env.svc.Wait()

	for _, name := range []string{"..%2F..%2Fsecrets", "missing.json", ".hidden"} {
		w := env.do(http.MethodGet, "/api/exports/"+start.JobID+"/"+name, env.userToken, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("filename %q status = %d, want 404", name, w.Code)
		}
	}
}

func TestRouter_AuthEndpoints(t *testing.T) {
	env := newRouterEnv(t)

	// Anonymous status.
	w := env.do(http.MethodGet, "/auth/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var status struct {
		Authenticated bool `json:"authenticated"`
		User          *struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(decodeResponse(t, w).Data, &status); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if status.Authenticated || status.User != nil {
		t.Errorf("anonymous status = %+v", status)
	}

	// Authenticated status.
	w = env.do(http.MethodGet, "/auth/status", env.userToken, "")
	if err := json.Unmarshal(decodeResponse(t, w).Data, &status); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !status.Authenticated || status.User == nil || status.User.Email != "ada@example.com" {
		t.Errorf("authenticated status = %+v", status)
	}

	// Login redirect with state cookie.
	w = env.do(http.MethodGet, "/auth/youtube", "", "")
	if w.Code != http.StatusFound {
		t.Fatalf("login status = %d, want 302", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.Contains(loc, "accounts.google.com") || !strings.Contains(loc, "state=") {
		t.Errorf("login redirect = %q", loc)
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "star_oauth_state=") {
		t.Errorf("state cookie missing: %q", w.Header().Get("Set-Cookie"))
	}

	w = env.do(http.MethodGet, "/auth/myspace", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown provider = %d, want 404", w.Code)
	}

	// Callback without a matching state goes to the failure page.
	w = env.do(http.MethodGet, "/auth/youtube/callback?code=c&state=tampered", "", "")
	if w.Code != http.StatusFound {
		t.Fatalf("callback status = %d, want 302", w.Code)
	}
	if got := w.Header().Get("Location"); got != "http://localhost:5173/auth/failure" {
		t.Errorf("callback redirect = %q", got)
	}

	// Logout clears the session cookie.
	w = env.do(http.MethodPost, "/auth/logout", env.userToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}
	if resp := decodeResponse(t, w); !resp.Success || resp.Message != "Logged out successfully" {
		t.Errorf("logout body = %+v", resp)
	}
	cookie := w.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, "star_session=;") || !strings.Contains(cookie, "Max-Age=0") {
		t.Errorf("logout cookie = %q", cookie)
	}
}

func TestRouter_Health(t *testing.T) {
	env := newRouterEnv(t)

	w := env.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	var health handler.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("health status = %q, want ok", health.Status)
	}
}

func TestRouter_SessionCookieAccepted(t *testing.T) {
	env := newRouterEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: env.userToken})
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("cookie auth status = %d, want 200", w.Code)
	}
}
