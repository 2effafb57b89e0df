package mcp

import "github.com/mark3labs/mcp-go/mcp"

var statusToolDef = mcp.NewTool("kaia_status",
	mcp.WithDescription("Show the workspace state, the signed-in profile and the UI language."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var stageToolDef = mcp.NewTool("kaia_stage",
	mcp.WithDescription("Stage a chart image from disk. The file must sit directly in ~/.kaia/charts or a configured allowed path."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Path to a .png, .jpg, .jpeg, .webp or .gif chart")),
)

var analyzeToolDef = mcp.NewTool("kaia_analyze",
	mcp.WithDescription("Upload the staged chart and run an analysis. Pass path to stage and analyze in one call."),
	mcp.WithString("path", mcp.Description("Optional chart path to stage first")),
	mcp.WithString("timeframe", mcp.Description("Chart timeframe, e.g. 15m, 1h, 4h (default 15m)")),
	mcp.WithString("strategy", mcp.Description("Analysis strategy, e.g. SMC, ICT (default SMC)")),
	mcp.WithString("language", mcp.Description("Report language"), mcp.Enum("ar", "en")),
)

var resetToolDef = mcp.NewTool("kaia_reset",
	mcp.WithDescription("Clear the staged chart and the last report."),
)

var languageToolDef = mcp.NewTool("kaia_language",
	mcp.WithDescription("Switch the UI and analysis language."),
	mcp.WithString("language", mcp.Required(), mcp.Enum("ar", "en")),
)

var newsToolDef = mcp.NewTool("kaia_news",
	mcp.WithDescription("Market news ticker text for a language."),
	mcp.WithString("language", mcp.Description("Defaults to the current UI language"), mcp.Enum("ar", "en")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var holidaysToolDef = mcp.NewTool("kaia_holidays",
	mcp.WithDescription("Public market holidays for a year, with today's holiday if any."),
	mcp.WithNumber("year", mcp.Description("Defaults to the current year")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var historyToolDef = mcp.NewTool("kaia_history",
	mcp.WithDescription("Past analyses, newest first. source=remote lists the server-side history."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
	mcp.WithString("source", mcp.Enum("local", "remote")),
	mcp.WithReadOnlyHintAnnotation(true),
)
