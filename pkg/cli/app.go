package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/loanscore/pkg/config"
	"github.com/mchmarny/loanscore/pkg/logging"
	urfave "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName = "loanscore"

	formatJSON = "json"
	formatYAML = "yaml"

	configFlagName = "config"
	debugFlagName  = "debug"
	formatFlagName = "format"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""
)

type stateKey struct{}

// appState is resolved once in Before and shared with every command.
type appState struct {
	cfg     *config.Config
	cfgPath string
	format  string
	debug   bool
}

func (s *appState) dir() string {
	return filepath.Dir(s.cfgPath)
}

func getState(ctx context.Context) (*appState, error) {
	s, ok := ctx.Value(stateKey{}).(*appState)
	if !ok || s == nil {
		return nil, errors.New("app state not initialized")
	}
	return s, nil
}

// Execute creates and runs the CLI application.
func Execute() {
	initLogging(false)

	app := newApp()
	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newApp() *urfave.Command {
	return &urfave.Command{
		Name:                  appName,
		Version:               fmt.Sprintf("%s (%s - %s)", version, commit, date),
		EnableShellCompletion: true,
		HideHelpCommand:       true,
		Usage:                 "Loan risk scoring backed by an external model process",
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:    configFlagName,
				Usage:   "Path to the config file (default: $HOME/.loanscore/config.yaml)",
				Sources: urfave.EnvVars("LOANSCORE_CONFIG"),
			},
			&urfave.BoolFlag{
				Name:  debugFlagName,
				Usage: "Prints verbose logs (optional, default: false)",
			},
			&urfave.StringFlag{
				Name:  formatFlagName,
				Usage: "Output format [json, yaml]",
				Value: formatJSON,
			},
		},
		Commands: []*urfave.Command{
			newServerCmd(),
			newPredictCmd(),
			newTokenCmd(),
			newRescoreCmd(),
			newRemoteCmd(),
		},
		Before: loadState,
	}
}

func loadState(ctx context.Context, cmd *urfave.Command) (context.Context, error) {
	debug := cmd.Bool(debugFlagName)
	if debug {
		initLogging(true)
	}

	format := strings.ToLower(cmd.String(formatFlagName))
	switch format {
	case formatJSON:
	case formatYAML, "yml":
		format = formatYAML
	default:
		return ctx, fmt.Errorf("unsupported output format: %s", format)
	}

	path := cmd.String(configFlagName)
	if path == "" {
		dir, _, err := config.GetOrCreateHomeDir(config.DirName)
		if err != nil {
			return ctx, fmt.Errorf("resolving app dir: %w", err)
		}
		path = filepath.Join(dir, config.ConfigFileName)
	}

	cfg, err := config.ReadOrCreate(path)
	if err != nil {
		return ctx, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return ctx, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	slog.Debug("config loaded", "path", path)

	return context.WithValue(ctx, stateKey{}, &appState{
		cfg:     cfg,
		cfgPath: path,
		format:  format,
		debug:   debug,
	}), nil
}

func initLogging(debug bool) {
	level := "info"
	if debug {
		level = "debug"
	}
	logging.SetDefaultCLILogger(level)
}

func encode(w io.Writer, format string, v any) error {
	if format == formatYAML {
		e := yaml.NewEncoder(w)
		defer e.Close()
		return e.Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

func output(cmd *urfave.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
