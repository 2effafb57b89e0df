package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/kaia/internal/backend"
	"github.com/hpungsan/kaia/internal/chartfile"
	"github.com/hpungsan/kaia/internal/config"
	"github.com/hpungsan/kaia/internal/errors"
	"github.com/hpungsan/kaia/internal/feeds"
	"github.com/hpungsan/kaia/internal/history"
	"github.com/hpungsan/kaia/internal/present"
	"github.com/hpungsan/kaia/internal/session"
	"github.com/hpungsan/kaia/internal/workspace"
)

// Engine holds the components the tools drive.
type Engine struct {
	Config    *config.Config
	Client    *backend.Client
	Session   *session.Store
	Workspace *workspace.Workspace
	Feeds     *feeds.Service
	History   *history.Log
	Now       func() time.Time
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	e Engine
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(e Engine) *Handlers {
	if e.Now == nil {
		e.Now = time.Now
	}
	return &Handlers{e: e}
}

// StageRequest represents the arguments for kaia_stage.
type StageRequest struct {
	Path string `json:"path"`
}

// AnalyzeRequest represents the arguments for kaia_analyze.
type AnalyzeRequest struct {
	Path      string `json:"path,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	Strategy  string `json:"strategy,omitempty"`
	Language  string `json:"language,omitempty"`
}

// LanguageRequest represents the arguments for kaia_language and kaia_news.
type LanguageRequest struct {
	Language string `json:"language,omitempty"`
}

// HolidaysRequest represents the arguments for kaia_holidays.
type HolidaysRequest struct {
	Year int `json:"year,omitempty"`
}

// HistoryRequest represents the arguments for kaia_history.
type HistoryRequest struct {
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Source string `json:"source,omitempty"`
}

// StatusOutput is the kaia_status reply.
type StatusOutput struct {
	workspace.Snapshot
	Language string `json:"language"`
}

// AnalyzeOutput is the kaia_analyze reply.
type AnalyzeOutput struct {
	View    *present.View    `json:"view"`
	Report  string           `json:"report"`
	Profile *session.Profile `json:"profile,omitempty"`
}

// HandleStatus handles the kaia_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(StatusOutput{
		Snapshot: h.e.Workspace.Snapshot(),
		Language: h.e.Session.Language(),
	})
}

// HandleStage handles the kaia_stage tool call.
func (h *Handlers) HandleStage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[StageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := h.stage(input.Path); err != nil {
		return errorResult(err), nil
	}
	return successResult(h.e.Workspace.Snapshot())
}

func (h *Handlers) stage(path string) error {
	if err := chartfile.ValidatePath(path, h.e.Config); err != nil {
		return err
	}
	img, err := chartfile.Read(path, h.e.Config.MaxImageBytes)
	if err != nil {
		return err
	}
	return h.e.Workspace.Stage(img)
}

// HandleAnalyze handles the kaia_analyze tool call.
func (h *Handlers) HandleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AnalyzeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Path != "" {
		if err := h.stage(input.Path); err != nil {
			return errorResult(err), nil
		}
	}

	view, err := h.e.Workspace.Submit(ctx, workspace.Options{
		Timeframe: input.Timeframe,
		Strategy:  input.Strategy,
		Language:  input.Language,
	})
	if err != nil {
		return errorResult(err), nil
	}

	out := AnalyzeOutput{View: view, Report: present.Text(*view)}
	if p, ok := h.e.Session.Profile(); ok {
		out.Profile = &p
	}
	return successResult(out)
}

// HandleReset handles the kaia_reset tool call.
func (h *Handlers) HandleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.e.Workspace.Reset()
	return successResult(h.e.Workspace.Snapshot())
}

// HandleLanguage handles the kaia_language tool call.
func (h *Handlers) HandleLanguage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LanguageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if err := h.e.Session.SetLanguage(input.Language); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"language": h.e.Session.Language()})
}

// HandleNews handles the kaia_news tool call.
func (h *Handlers) HandleNews(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LanguageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	lang, err := h.e.Session.ResolveLanguage(input.Language)
	if err != nil {
		return errorResult(err), nil
	}
	news, fresh := h.e.Feeds.News(ctx, lang)
	return successResult(map[string]any{
		"language":  lang,
		"news":      news,
		"headlines": strings.Split(news, feeds.HeadlineSeparator),
		"fresh":     fresh,
	})
}

// HandleHolidays handles the kaia_holidays tool call.
func (h *Handlers) HandleHolidays(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HolidaysRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	now := h.e.Now()
	year := input.Year
	if year == 0 {
		year = now.Year()
	}
	list, fresh := h.e.Feeds.Holidays(ctx, year)
	if list == nil {
		list = []feeds.Holiday{}
	}
	out := map[string]any{
		"country":  h.e.Feeds.Country(),
		"year":     year,
		"holidays": list,
		"fresh":    fresh,
	}
	if hol, ok := feeds.IsHoliday(list, now); ok {
		out["today"] = hol
	}
	return successResult(out)
}

// HandleHistory handles the kaia_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if strings.EqualFold(input.Source, "remote") {
		token, ok := h.e.Session.Credential()
		if !ok {
			return errorResult(errors.NewNotLoggedIn()), nil
		}
		items, err := h.e.Client.History(ctx, token)
		if err != nil {
			if errors.Is(err, errors.ErrUnauthenticated) {
				_ = h.e.Session.Clear()
			}
			return errorResult(err), nil
		}
		if items == nil {
			items = []backend.RemoteAnalysis{}
		}
		return successResult(map[string]any{"items": items})
	}

	page, err := h.e.History.List(input.Limit, input.Offset)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(page)
}

// errorResult creates an MCP error result. Only the user-facing message
// leaves the process; details are kept for local errors only.
func errorResult(err error) *mcp.CallToolResult {
	kErr, ok := errors.As(err)
	if !ok {
		kErr = errors.NewInternal(err)
	}

	errorObj := map[string]any{
		"code":    kErr.Code,
		"message": errors.UserMessage(kErr),
		"status":  kErr.Status,
	}
	switch kErr.Code {
	case errors.ErrInternal, errors.ErrTransport, errors.ErrBackend:
	default:
		if kErr.Details != nil {
			errorObj["details"] = kErr.Details
		}
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
