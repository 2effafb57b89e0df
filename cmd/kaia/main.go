package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/kaia/internal/config"
	"github.com/hpungsan/kaia/internal/db"
	"github.com/hpungsan/kaia/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

var timeNow = time.Now

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"login": true, "logout": true, "register": true, "me": true,
	"analyze": true, "news": true, "holidays": true, "history": true,
	"lang": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return cliCommands[arg] || isHelpOrVersion(args)
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	switch args[1] {
	case "--help", "-h", "--version", "-v", "help":
		return true
	}
	return false
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
   _  __    _    ___    _
  | |/ /   / \  |_ _|  / \
  | ' /   / _ \  | |  / _ \
  | . \  / ___ \ | | / ___ \
  |_|\_\/_/   \_\___/_/   \_\

  Chart analysis control surface

  Usage: kaia <command> [options]
         kaia --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Help and version need no database.
	if isHelpOrVersion(os.Args) {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	cliMode := isCLIMode(os.Args)
	if !cliMode && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'kaia --help' for usage.\n")
		os.Exit(1)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".kaia")

	config.LoadDotEnv()
	config.LoadDotEnv(filepath.Join(baseDir, ".env"))

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	logCloser, err := setupLogger(cfg.LogLevel, cfg.LogFile, baseDir, os.Stderr)
	if err != nil {
		fatal("failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		slog.Warn("ignoring unknown disabled_tools entries", "tools", unknown)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	e := newEngine(database, cfg, nil)
	defer e.close()
	e.start(context.Background())

	if cliMode {
		if err := newCLIApp(e).Run(os.Args); err != nil {
			e.close()
			fatal("%v", err)
		}
		return
	}

	if err := mcp.Run(e.mcpEngine(), Version); err != nil {
		e.close()
		fatal("%v", err)
	}
}
