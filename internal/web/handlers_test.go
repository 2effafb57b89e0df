package web

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/kaia/internal/backend"
	"github.com/hpungsan/kaia/internal/cache"
	"github.com/hpungsan/kaia/internal/config"
	"github.com/hpungsan/kaia/internal/db"
	"github.com/hpungsan/kaia/internal/feeds"
	"github.com/hpungsan/kaia/internal/history"
	"github.com/hpungsan/kaia/internal/present"
	"github.com/hpungsan/kaia/internal/session"
	"github.com/hpungsan/kaia/internal/workspace"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

var fixedNow = time.Date(2026, time.December, 25, 10, 0, 0, 0, time.UTC)

// fakeBackend serves the analysis API and the holiday feed.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"detail": "Invalid email or password."})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok"})
	})
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"full_name": "Omar", "email": "o@example.com", "tier": "Standard", "credits": 3,
		})
	})
	mux.HandleFunc("/api/upload-chart", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"filename": "srv-chart.png"})
	})
	mux.HandleFunc("/api/analyze-chart", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"analysis":          map[string]any{"market_bias": "Bearish", "analysis_text": "Distribution under resistance."},
			"remaining_credits": 2,
			"tier_mode":         "Standard",
		})
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 7, "symbol": "EURUSD", "signal": "sell"}})
	})
	mux.HandleFunc("/holidays/2026/US", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"date":"2026-12-25","name":"Christmas Day","localName":"Christmas Day"},{"date":"2026-01-01","name":"New Year's Day","localName":"New Year's Day"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	srv := fakeBackend(t)

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.BackendURL = srv.URL

	client := backend.New(srv.URL, srv.Client())
	store := session.New(database, client, session.LangEnglish)
	log := history.New(database)
	ws := workspace.New(client, store, present.NewDispatcher(cfg.TierViews), log, workspace.Config{
		MaxImageBytes: cfg.MaxImageBytes,
	})
	feedClient := feeds.NewClient(srv.Client(), nil, srv.URL+"/holidays/{year}/{country}")
	svc := feeds.NewService(feedClient, cache.New(cache.NewMemoryBacking()), time.Hour, time.Hour, "US")
	t.Cleanup(svc.Wait)

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}

	return &Handlers{
		Deps: Deps{
			Config:    cfg,
			Client:    client,
			Session:   store,
			Workspace: ws,
			Feeds:     svc,
			History:   log,
		},
		renderer: NewRenderer(templateSub, "test"),
		now:      func() time.Time { return fixedNow },
	}
}

func login(t *testing.T, h *Handlers) {
	t.Helper()
	_, err := h.Session.Login(t.Context(), "o@example.com", "secret")
	require.NoError(t, err)
}

func chartRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("chart", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/workspace/stage", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	return req
}

func formRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// --- HandleIndex ---

func TestHandleIndex_RendersWorkspace(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, workspace.DropZonePlaceholder)
	assert.Contains(t, body, "Sign in")
	assert.Contains(t, body, `dir="ltr"`)
	assert.Contains(t, body, feeds.DefaultNewsFor(session.LangEnglish)[:10])
}

func TestHandleIndex_HTMXRendersContentOnly(t *testing.T) {
	h := setupTest(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleIndex(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<!DOCTYPE html>")
	assert.Contains(t, rec.Body.String(), workspace.DropZonePlaceholder)
}

func TestHandleIndex_UnverifiedAccountBanner(t *testing.T) {
	h := setupTest(t)
	login(t, h)
	rec := httptest.NewRecorder()
	h.HandleIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "Omar")
	assert.Contains(t, body, "verify your email")
	assert.NotContains(t, body, "Trial account")
}

// --- Stage / Submit ---

func TestHandleStage_JSON(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleStage(rec, chartRequest(t, "eurusd.png", pngData))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeJSON(t, rec)
	assert.Equal(t, string(workspace.StateArmed), out["state"])
	assert.Equal(t, "eurusd.png", out["image_name"])
	assert.NotContains(t, out, "preview")
}

func TestHandleStage_RejectsNonImage(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleStage(rec, chartRequest(t, "notes.txt", []byte("plain text, not a chart")))

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	out := decodeJSON(t, rec)
	errObj := out["error"].(map[string]any)
	assert.Equal(t, "INVALID_IMAGE", errObj["code"])
	assert.Equal(t, workspace.StateIdle, h.Workspace.State())
}

func TestHandleStage_MissingFile(t *testing.T) {
	h := setupTest(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "x"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/workspace/stage", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	rec := httptest.NewRecorder()
	h.HandleStage(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO_IMAGE")
}

func TestHandleSubmit_NotLoggedInIsGate(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleStage(rec, chartRequest(t, "chart.png", pngData))
	require.Equal(t, http.StatusOK, rec.Code)

	req := formRequest("/workspace/submit", url.Values{"timeframe": {"1h"}})
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	h.HandleSubmit(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_LOGGED_IN")
}

func TestHandleSubmit_Success(t *testing.T) {
	h := setupTest(t)
	login(t, h)

	rec := httptest.NewRecorder()
	h.HandleStage(rec, chartRequest(t, "chart.png", pngData))
	require.Equal(t, http.StatusOK, rec.Code)

	req := formRequest("/workspace/submit", url.Values{"timeframe": {"4h"}, "strategy": {"ICT"}})
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	h.HandleSubmit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeJSON(t, rec)
	assert.Equal(t, string(workspace.StateSucceeded), out["state"])
	view := out["view"].(map[string]any)
	assert.Equal(t, "KAIA AI REPORT", view["title"])
	assert.Equal(t, "bearish", view["tone"])
	profile := out["profile"].(map[string]any)
	assert.EqualValues(t, 2, profile["credits"])

	page, err := h.History.List(10, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "4h", page.Items[0].Timeframe)
	assert.Equal(t, "ICT", page.Items[0].Strategy)

	// The rendered page shows the report with its tone.
	rec = httptest.NewRecorder()
	h.HandleIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "bearish-glow")
	assert.Contains(t, rec.Body.String(), "Distribution under resistance.")
}

func TestHandleSubmit_FormRedirects(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, formRequest("/workspace/submit", url.Values{}))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, workspace.MessageGate, h.Workspace.Snapshot().MessageKind)
}

func TestHandleReset(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleStage(rec, chartRequest(t, "chart.png", pngData))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/workspace/reset", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	h.HandleReset(rec, req)

	out := decodeJSON(t, rec)
	assert.Equal(t, string(workspace.StateIdle), out["state"])
	assert.Equal(t, false, out["has_image"])
	assert.Equal(t, workspace.DropZonePlaceholder, out["drop_zone_text"])
}

// --- Auth ---

func TestHandleLogin(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleLogin(rec, formRequest("/login", url.Values{"email": {"O@Example.com"}, "password": {"secret"}}))

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	p, ok := h.Session.Profile()
	require.True(t, ok)
	assert.Equal(t, "Omar", p.DisplayName)
}

func TestHandleLogin_ClearsPreviousWorkspace(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleStage(rec, chartRequest(t, "chart.png", pngData))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, h.Workspace.Snapshot().HasImage)

	rec = httptest.NewRecorder()
	h.HandleLogin(rec, formRequest("/login", url.Values{"email": {"o@example.com"}, "password": {"secret"}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)

	snap := h.Workspace.Snapshot()
	assert.Equal(t, workspace.StateIdle, snap.State)
	assert.False(t, snap.HasImage)
}

func TestHandleLogin_BadPasswordShowsMessage(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleLogin(rec, formRequest("/login", url.Values{"email": {"o@example.com"}, "password": {"wrong"}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid email or password.")
	_, ok := h.Session.Credential()
	assert.False(t, ok)
}

func TestHandleRegister_LocalValidation(t *testing.T) {
	h := setupTest(t)
	req := formRequest("/register", url.Values{
		"email": {"n@example.com"}, "password": {"a"}, "confirm_password": {"b"}, "full_name": {"N"},
	})
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleRegister(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
}

func TestHandleLogout(t *testing.T) {
	h := setupTest(t)
	login(t, h)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleLogout(rec, req)

	out := decodeJSON(t, rec)
	assert.Equal(t, false, out["logged_in"])
	_, ok := h.Session.Credential()
	assert.False(t, ok)
}

// --- Language ---

func TestHandleLanguage_RerendersInPlace(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleLanguage(rec, formRequest("/language", url.Values{"lang": {"ar"}}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dir="rtl"`)
	assert.Contains(t, rec.Body.String(), `lang="ar"`)
	assert.Equal(t, session.LangArabic, h.Session.Language())
}

func TestHandleLanguage_Invalid(t *testing.T) {
	h := setupTest(t)
	req := formRequest("/language", url.Values{"lang": {"fr"}})
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleLanguage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, session.LangEnglish, h.Session.Language())
}

// --- Feeds ---

func TestHandleNews_FallsBackToDefaultCopy(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleNews(rec, httptest.NewRequest(http.MethodGet, "/news?lang=ar", nil))

	out := decodeJSON(t, rec)
	assert.Equal(t, feeds.DefaultNewsFor(session.LangArabic), out["news"])
	assert.Equal(t, false, out["fresh"])
	assert.Equal(t, "ar", out["lang"])
}

func TestHandleNews_LanguageNormalized(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleNews(rec, httptest.NewRequest(http.MethodGet, "/news?lang=%20EN%20", nil))
	assert.Equal(t, "en", decodeJSON(t, rec)["lang"])

	req := httptest.NewRequest(http.MethodGet, "/news?lang=xx", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	h.HandleNews(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHolidays(t *testing.T) {
	h := setupTest(t)

	// The first call schedules the fetch; wait for it to land.
	rec := httptest.NewRecorder()
	h.HandleHolidays(rec, httptest.NewRequest(http.MethodGet, "/holidays", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	h.Feeds.Wait()

	rec = httptest.NewRecorder()
	h.HandleHolidays(rec, httptest.NewRequest(http.MethodGet, "/holidays?year=2026", nil))
	out := decodeJSON(t, rec)
	assert.Equal(t, "US", out["country"])
	assert.EqualValues(t, 2026, out["year"])
	list := out["holidays"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "2026-01-01", list[0].(map[string]any)["date"])
	today := out["today"].(map[string]any)
	assert.Equal(t, "Christmas Day", today["name"])
}

// --- History ---

func TestHandleHistory_EmptyPage(t *testing.T) {
	h := setupTest(t)
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, httptest.NewRequest(http.MethodGet, "/history", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No analyses yet.")
}

func TestHandleHistory_JSON(t *testing.T) {
	h := setupTest(t)
	require.NoError(t, h.History.Record(&history.Entry{Tier: "Standard", View: "compact", Timeframe: "1h"}))

	req := httptest.NewRequest(http.MethodGet, "/history?limit=5", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)

	out := decodeJSON(t, rec)
	assert.EqualValues(t, 1, out["total"])
	assert.EqualValues(t, 5, out["limit"])
	assert.Len(t, out["items"], 1)
}

func TestHandleHistory_Remote(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest(http.MethodGet, "/history?source=remote", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login(t, h)
	rec = httptest.NewRecorder()
	h.HandleHistory(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := decodeJSON(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "EURUSD", items[0].(map[string]any)["symbol"])
}

// --- Router ---

func TestRouter_SecurityHeadersAndStatic(t *testing.T) {
	h := setupTest(t)
	router, err := NewRouter(h.Deps, "test", "127.0.0.1", 8765)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/kaia.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "img-src 'self' data:")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodGet, "/workspace", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workspace/submit", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLocalOrigins(t *testing.T) {
	assert.Equal(t, []string{"http://127.0.0.1:80", "http://localhost:80"}, localOrigins("0.0.0.0", 80))
	assert.Contains(t, localOrigins("192.168.1.5", 80), "http://192.168.1.5:80")
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=abc", 20},
		{"limit=-3", -3},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/history?"+tt.query, nil)
		assert.Equal(t, tt.want, parseIntParam(req, "limit", 20), tt.query)
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", formatSize(512))
	assert.Equal(t, "2.0 KB", formatSize(2048))
	assert.Equal(t, "1.5 MB", formatSize(3<<19))
}
