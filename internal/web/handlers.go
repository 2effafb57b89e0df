package web

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/kaia/internal/backend"
	"github.com/hpungsan/kaia/internal/errors"
	"github.com/hpungsan/kaia/internal/feeds"
	"github.com/hpungsan/kaia/internal/session"
	"github.com/hpungsan/kaia/internal/workspace"
)

// Timeframes and strategies offered by the workspace form.
var (
	Timeframes = []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"}
	Strategies = []string{"SMC", "ICT", "Price Action", "Wyckoff", "Elliott Wave"}
)

// multipartOverhead is the allowance on top of the image limit for form
// boundaries and headers.
const multipartOverhead = 1 << 20

// Handlers contains HTTP route handlers for the control surface.
type Handlers struct {
	Deps
	renderer *Renderer
	now      func() time.Time
}

func (h *Handlers) page(title, nav string) PageData {
	lang := h.Session.Language()
	dir := "ltr"
	if lang == session.LangArabic {
		dir = "rtl"
	}
	return PageData{
		Title:   title,
		Version: h.renderer.version,
		Nav:     nav,
		Lang:    lang,
		Dir:     dir,
	}
}

// HandleIndex handles GET / and renders the workspace page.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderIndex(w, r, http.StatusOK, "")
}

func (h *Handlers) renderIndex(w http.ResponseWriter, r *http.Request, status int, authError string) {
	lang := h.Session.Language()
	news, _ := h.Feeds.News(r.Context(), lang)

	now := h.now()
	data := WorkspacePageData{
		PageData:   h.page("Workspace", "workspace"),
		Snap:       h.Workspace.Snapshot(),
		News:       news,
		AuthError:  authError,
		Timeframes: Timeframes,
		Strategies: Strategies,
		Options: workspace.Options{
			Timeframe: workspace.DefaultTimeframe,
			Strategy:  workspace.DefaultStrategy,
			Language:  lang,
		},
	}
	list, _ := h.Feeds.Holidays(r.Context(), now.Year())
	if hol, ok := feeds.IsHoliday(list, now); ok {
		data.Holiday = &hol
	}
	data.Upcoming = feeds.Upcoming(list, now, 3)

	h.renderer.renderPageStatus(w, r, status, "workspace", data)
}

// HandleSnapshot handles GET /workspace and returns the workspace state as JSON.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.Workspace.Snapshot())
}

// HandleStage handles POST /workspace/stage. It stages the "chart" file.
func (h *Handlers) HandleStage(w http.ResponseWriter, r *http.Request) {
	limit := h.Config.MaxImageBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), errors.NewInvalidRequest("invalid upload form"))
		return
	}
	file, header, err := r.FormFile("chart")
	if err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), errors.NewNoImage())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), errors.NewInvalidRequest("could not read upload"))
		return
	}

	// Browsers and multipart writers fall back to octet-stream when they
	// cannot tell; leave the decision to content sniffing.
	contentType := header.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = ""
	}
	err = h.Workspace.Stage(workspace.Image{
		Name:        header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), err)
		return
	}
	h.afterAction(w, r)
}

// HandleSubmit handles POST /workspace/submit.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), errors.NewInvalidRequest("invalid form data"))
		return
	}
	_, err := h.Workspace.Submit(r.Context(), workspace.Options{
		Timeframe: r.FormValue("timeframe"),
		Strategy:  r.FormValue("strategy"),
		Language:  r.FormValue("lang"),
	})
	if err != nil && wantsJSON(r) {
		h.renderer.renderError(w, r, h.page("", "workspace"), err)
		return
	}
	// Workspace failures are shown on the page itself.
	h.afterAction(w, r)
}

// HandleReset handles POST /workspace/reset.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.Workspace.Reset()
	h.afterAction(w, r)
}

// HandleExpand handles POST /workspace/expand.
func (h *Handlers) HandleExpand(w http.ResponseWriter, r *http.Request) {
	h.Workspace.ToggleExpanded()
	h.afterAction(w, r)
}

// afterAction answers a workspace mutation: JSON snapshot, re-rendered
// content block for htmx, or a redirect back to the page.
func (h *Handlers) afterAction(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, h.Workspace.Snapshot())
		return
	}
	if r.Header.Get("HX-Request") == "true" {
		h.renderIndex(w, r, http.StatusOK, "")
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogin handles POST /login.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), errors.NewInvalidRequest("invalid form data"))
		return
	}
	_, err := h.Session.Login(r.Context(), r.FormValue("email"), r.FormValue("password"))
	if err == nil {
		// A result panel belongs to whoever was signed in before.
		h.Workspace.Reset()
	}
	h.afterAuth(w, r, err)
}

// HandleRegister handles POST /register.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), errors.NewInvalidRequest("invalid form data"))
		return
	}
	_, err := h.Session.Register(r.Context(), backend.RegisterRequest{
		Email:           r.FormValue("email"),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
		FullName:        r.FormValue("full_name"),
		Phone:           r.FormValue("phone"),
		WhatsApp:        r.FormValue("whatsapp"),
		Country:         r.FormValue("country"),
		Tier:            r.FormValue("tier"),
	})
	h.afterAuth(w, r, err)
}

func (h *Handlers) afterAuth(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		if wantsJSON(r) {
			h.renderer.renderError(w, r, h.page("", "workspace"), err)
			return
		}
		status := http.StatusBadRequest
		if kErr, ok := errors.As(err); ok {
			status = kErr.Status
		}
		h.renderIndex(w, r, status, errors.UserMessage(err))
		return
	}
	if wantsJSON(r) {
		p, _ := h.Session.Profile()
		renderJSON(w, http.StatusOK, map[string]any{"profile": p})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout handles POST /logout.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Logout(); err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), err)
		return
	}
	h.Workspace.Reset()
	h.afterAction(w, r)
}

// HandleLanguage handles POST /language. The page is re-rendered in place
// in the new language rather than redirected.
func (h *Handlers) HandleLanguage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), errors.NewInvalidRequest("invalid form data"))
		return
	}
	if err := h.Session.SetLanguage(r.FormValue("lang")); err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"language": h.Session.Language()})
		return
	}
	h.renderIndex(w, r, http.StatusOK, "")
}

// HandleNews handles GET /news with the ticker text for the current language.
func (h *Handlers) HandleNews(w http.ResponseWriter, r *http.Request) {
	lang, err := h.Session.ResolveLanguage(r.URL.Query().Get("lang"))
	if err != nil {
		h.renderer.renderError(w, r, h.page("", "workspace"), err)
		return
	}
	news, fresh := h.Feeds.News(r.Context(), lang)
	renderJSON(w, http.StatusOK, map[string]any{"news": news, "fresh": fresh, "lang": lang})
}

// HandleHolidays handles GET /holidays?year=2026.
func (h *Handlers) HandleHolidays(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	year := parseIntParam(r, "year", now.Year())
	list, fresh := h.Feeds.Holidays(r.Context(), year)
	if list == nil {
		list = []feeds.Holiday{}
	}
	resp := map[string]any{
		"country":  h.Feeds.Country(),
		"year":     year,
		"holidays": list,
		"fresh":    fresh,
	}
	if hol, ok := feeds.IsHoliday(list, now); ok {
		resp["today"] = hol
	}
	renderJSON(w, http.StatusOK, resp)
}

// HandleHistory handles GET /history with the local analysis log. With
// ?source=remote the server-side history is returned instead (JSON only).
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.URL.Query().Get("source"), "remote") {
		token, ok := h.Session.Credential()
		if !ok {
			h.renderer.renderError(w, r, h.page("", "history"), errors.NewNotLoggedIn())
			return
		}
		items, err := h.Client.History(r.Context(), token)
		if err != nil {
			if errors.Is(err, errors.ErrUnauthenticated) {
				_ = h.Session.Clear()
			}
			h.renderer.renderError(w, r, h.page("", "history"), err)
			return
		}
		renderJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	page, err := h.History.List(parseIntParam(r, "limit", 20), parseIntParam(r, "offset", 0))
	if err != nil {
		h.renderer.renderError(w, r, h.page("", "history"), err)
		return
	}
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, page)
		return
	}
	h.renderer.renderPage(w, r, "history", HistoryPageData{
		PageData: h.page("History", "history"),
		Page:     page,
	})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
