package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var toolRegistry = map[string]toolEntry{
	"kaia_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"kaia_stage": {
		def:     stageToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStage },
	},
	"kaia_analyze": {
		def:     analyzeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAnalyze },
	},
	"kaia_reset": {
		def:     resetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleReset },
	},
	"kaia_language": {
		def:     languageToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLanguage },
	},
	"kaia_news": {
		def:     newsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNews },
	},
	"kaia_holidays": {
		def:     holidaysToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHolidays },
	},
	"kaia_history": {
		def:     historyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
}

// AllToolNames returns all tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns the unknown tool names in names.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the KAIA tools registered. Tools
// listed in cfg.DisabledTools are skipped.
func NewServer(e Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"kaia",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(e)

	disabled := make(map[string]bool)
	if e.Config != nil {
		for _, name := range e.Config.DisabledTools {
			disabled[name] = true
		}
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run serves the MCP server over stdio.
func Run(e Engine, version string) error {
	return server.ServeStdio(NewServer(e, version))
}
