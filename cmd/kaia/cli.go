package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/kaia/internal/backend"
	"github.com/hpungsan/kaia/internal/chartfile"
	"github.com/hpungsan/kaia/internal/errors"
	"github.com/hpungsan/kaia/internal/feeds"
	"github.com/hpungsan/kaia/internal/present"
	"github.com/hpungsan/kaia/internal/web"
	"github.com/hpungsan/kaia/internal/workspace"
)

// newCLIApp creates the CLI application with all commands. e may be nil
// for --help and --version.
func newCLIApp(e *engine) *cli.App {
	app := &cli.App{
		Name:    "kaia",
		Usage:   "Chart analysis control surface",
		Version: Version,
		Commands: []*cli.Command{
			loginCmd(e),
			logoutCmd(e),
			registerCmd(e),
			meCmd(e),
			analyzeCmd(e),
			newsCmd(e),
			holidaysCmd(e),
			historyCmd(e),
			langCmd(e),
			serveCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func loginCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in (password from --password or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true, Usage: "Account email"},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Account password"},
		},
		Action: func(c *cli.Context) error {
			password := c.String("password")
			if password == "" && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				password = text
			}
			profile, err := e.session.Login(c.Context, c.String("email"), password)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, profile)
		},
	}
}

func logoutCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the stored session",
		Action: func(c *cli.Context) error {
			if err := e.session.Logout(); err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"logged_in": false})
		},
	}
}

func registerCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account and sign in",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true},
			&cli.StringFlag{Name: "confirm", Required: true, Usage: "Password confirmation"},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Full name"},
			&cli.StringFlag{Name: "phone"},
			&cli.StringFlag{Name: "whatsapp"},
			&cli.StringFlag{Name: "country"},
		},
		Action: func(c *cli.Context) error {
			profile, err := e.session.Register(c.Context, backend.RegisterRequest{
				Email:           c.String("email"),
				Password:        c.String("password"),
				ConfirmPassword: c.String("confirm"),
				FullName:        c.String("name"),
				Phone:           c.String("phone"),
				WhatsApp:        c.String("whatsapp"),
				Country:         c.String("country"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, profile)
		},
	}
}

func meCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "me",
		Usage: "Show the signed-in profile and credits",
		Action: func(c *cli.Context) error {
			profile, err := e.session.RefreshProfile(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, profile)
		},
	}
}

func analyzeCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Upload a chart image and print the report",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "timeframe", Aliases: []string{"t"}, Value: workspace.DefaultTimeframe},
			&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Value: workspace.DefaultStrategy},
			&cli.StringFlag{Name: "lang", Aliases: []string{"l"}, Usage: "Report language (ar|en), defaults to the UI language"},
			&cli.BoolFlag{Name: "json", Usage: "Print the view as JSON"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewNoImage())
			}
			img, err := chartfile.Read(c.Args().First(), e.cfg.MaxImageBytes)
			if err != nil {
				return outputError(err)
			}
			if err := e.workspace.Stage(img); err != nil {
				return outputError(err)
			}

			view, err := e.workspace.Submit(c.Context, workspace.Options{
				Timeframe: c.String("timeframe"),
				Strategy:  c.String("strategy"),
				Language:  c.String("lang"),
			})
			if err != nil {
				return outputError(err)
			}

			if c.Bool("json") {
				out := map[string]any{"view": view}
				if p, ok := e.session.Profile(); ok {
					out["profile"] = p
				}
				return outputJSON(c.App.Writer, out)
			}
			fmt.Fprint(c.App.Writer, present.Text(*view))
			if p, ok := e.session.Profile(); ok {
				fmt.Fprintf(c.App.Writer, "\nCredits remaining: %d\n", p.Credits)
			}
			return nil
		},
	}
}

func newsCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "news",
		Usage: "Print the market news ticker",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "lang", Aliases: []string{"l"}, Usage: "ar|en, defaults to the UI language"},
		},
		Action: func(c *cli.Context) error {
			lang, err := e.session.ResolveLanguage(c.String("lang"))
			if err != nil {
				return outputError(err)
			}
			news, fresh := e.feeds.News(c.Context, lang)
			if !fresh {
				// One-shot process: wait for the scheduled refresh and reread.
				e.feeds.Wait()
				news, _ = e.feeds.News(c.Context, lang)
			}
			for _, line := range strings.Split(news, feeds.HeadlineSeparator) {
				fmt.Fprintln(c.App.Writer, line)
			}
			return nil
		},
	}
}

func holidaysCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "holidays",
		Usage: "List public market holidays",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Defaults to the current year"},
			&cli.BoolFlag{Name: "json"},
		},
		Action: func(c *cli.Context) error {
			year := c.Int("year")
			if year == 0 {
				year = timeNow().Year()
			}
			list, fresh := e.feeds.Holidays(c.Context, year)
			if !fresh {
				e.feeds.Wait()
				list, _ = e.feeds.Holidays(c.Context, year)
			}
			if list == nil {
				list = []feeds.Holiday{}
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]any{
					"country":  e.feeds.Country(),
					"year":     year,
					"holidays": list,
				})
			}
			if hol, ok := feeds.IsHoliday(list, timeNow()); ok {
				fmt.Fprintf(c.App.Writer, "Today is a market holiday: %s\n\n", hol.Name)
			}
			for _, h := range list {
				fmt.Fprintf(c.App.Writer, "%s  %s\n", h.Date, h.Name)
			}
			return nil
		},
	}
}

func historyCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List past analyses, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.IntFlag{Name: "offset"},
			&cli.BoolFlag{Name: "remote", Usage: "List the server-side history instead"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("remote") {
				token, ok := e.session.Credential()
				if !ok {
					return outputError(errors.NewNotLoggedIn())
				}
				items, err := e.client.History(c.Context, token)
				if err != nil {
					if errors.Is(err, errors.ErrUnauthenticated) {
						_ = e.session.Clear()
					}
					return outputError(err)
				}
				return outputJSON(c.App.Writer, map[string]any{"items": items})
			}
			page, err := e.history.List(c.Int("limit"), c.Int("offset"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, page)
		},
	}
}

func langCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:      "lang",
		Usage:     "Show or switch the UI language",
		ArgsUsage: "[ar|en]",
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				if err := e.session.SetLanguage(c.Args().First()); err != nil {
					return outputError(err)
				}
			}
			fmt.Fprintln(c.App.Writer, e.session.Language())
			return nil
		},
	}
}

func serveCmd(e *engine) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the local web control surface",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1"},
			&cli.IntFlag{Name: "port", Value: 8470},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(e.webDeps(), Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return web.Run(srv)
		},
	}
}

// Helper functions

// outputJSON writes v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err for the terminal with its code and user-facing
// message.
func outputError(err error) error {
	if kErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", kErr.Code, errors.UserMessage(kErr)), 1)
	}
	return cli.Exit(errors.UserMessage(err), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
