// Package console implements the agent command line: authentication, REST
// listings, transcript export and the live watch session.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sozuri-connect/internal/chatapi"
	"sozuri-connect/internal/config"
	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/metrics"
	"sozuri-connect/internal/session"
)

// ErrNotLoggedIn is returned by commands that need a stored token.
var ErrNotLoggedIn = errors.New("not logged in, run `sozuri login` first")

// App carries what every command needs. Its fields are filled by the root
// command's PersistentPreRunE.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	cfg    *config.Config
	log    *logger.Logger
	reader *bufio.Reader

	configFile string
	verbose    bool
	apiURL     string
}

func NewApp(in io.Reader, out, errOut io.Writer) *App {
	return &App{In: in, Out: out, Err: errOut}
}

func (a *App) setup() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.configFile != "" {
		if err := cfg.ApplyFile(a.configFile); err != nil {
			return err
		}
	}
	if a.apiURL != "" {
		cfg.APIBaseURL = a.apiURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	} else if level == "info" {
		// keep command output readable
		level = "warn"
	}
	a.log = logger.New(logger.Config{Level: level, Pretty: cfg.LogPretty, Output: a.Err, Service: "console"})
	return nil
}

// openTokens opens the session store. Callers must Close it.
func (a *App) openTokens() (*session.TokenStore, error) {
	return session.Open(a.cfg.TokenStorePath(), a.log)
}

// storedToken returns the persisted token or ErrNotLoggedIn.
func (a *App) storedToken() (string, error) {
	tokens, err := a.openTokens()
	if err != nil {
		return "", err
	}
	defer tokens.Close()

	token, err := tokens.Token()
	if errors.Is(err, chatapi.ErrNoToken) {
		return "", ErrNotLoggedIn
	}
	return token, err
}

// client returns a REST client authenticated with the stored token. Expired
// tokens are refused before any request is made.
func (a *App) client() (*chatapi.Client, string, error) {
	token, err := a.storedToken()
	if err != nil {
		return nil, "", err
	}
	if _, err := session.Check(token, timeNow()); err != nil {
		if errors.Is(err, session.ErrTokenExpired) {
			return nil, "", fmt.Errorf("session expired, run `sozuri login` again: %w", err)
		}
		return nil, "", err
	}
	c, err := a.newClient(chatapi.StaticToken(token), nil)
	return c, token, err
}

func (a *App) newClient(tokens chatapi.TokenSource, m *metrics.Metrics) (*chatapi.Client, error) {
	return chatapi.New(chatapi.Options{
		BaseURL:           a.cfg.APIBaseURL,
		Tokens:            tokens,
		Timeout:           a.cfg.RequestTimeout,
		RequestsPerSecond: a.cfg.RequestsPerSecond,
		Burst:             a.cfg.RequestBurst,
		Logger:            a.log,
		Metrics:           m,
	})
}

func (a *App) lineReader() *bufio.Reader {
	if a.reader == nil {
		a.reader = bufio.NewReader(a.In)
	}
	return a.reader
}

func (a *App) prompt(label string) (string, error) {
	fmt.Fprint(a.Out, label)
	line, err := a.lineReader().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptSecret masks input on a terminal and falls back to a plain line.
func (a *App) promptSecret(label string) (string, error) {
	if f, ok := a.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.Out, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.Out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return a.prompt(label)
}

// NewRootCommand builds the command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "sozuri",
		Short:         "SOZURI Connect agent console",
		Long:          "Command line console for SOZURI Connect live chat: list and answer conversations, follow live events and export transcripts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup()
		},
	}
	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&app.configFile, "config", "c", "", "YAML config file overlay")
	root.PersistentFlags().StringVar(&app.apiURL, "api-url", "", "override the REST base URL")

	root.AddCommand(
		newLoginCmd(app),
		newLogoutCmd(app),
		newWhoamiCmd(app),
		newConversationsCmd(app),
		newMessagesCmd(app),
		newSendCmd(app),
		newAgentsCmd(app),
		newAPIKeysCmd(app),
		newWatchCmd(app),
		newExportCmd(app),
	)
	return root
}
