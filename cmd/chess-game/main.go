package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/park285/anygpt-chess/internal/arena"
	"github.com/park285/anygpt-chess/internal/board"
	"github.com/park285/anygpt-chess/internal/completion"
	"github.com/park285/anygpt-chess/internal/completion/uci"
	appcfg "github.com/park285/anygpt-chess/internal/config"
	"github.com/park285/anygpt-chess/internal/obslog"
	"github.com/park285/anygpt-chess/internal/rules"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdin, os.Stdout)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "chess-game:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	var (
		configPath string
		mode       string
	)
	cmd := &cobra.Command{
		Use:   "chess-game",
		Short: "Play a short chess game with moves supplied by AnyGPT",
		Long: heredoc.Doc(`
			chess-game asks a completion backend for one UCI move per turn,
			checks it against the rules and plays it, for up to game.max_turns
			turns. An unparseable or illegal reply ends the game.

			Backends (completion.mode):
			  interactive  type the moves yourself
			  remote       OpenAI-compatible chat completions endpoint
			  mock         replay completion.mock_replies
			  engine       ask a UCI engine such as stockfish

			Settings come from --config, $CHESS_CONFIG or
			$XDG_CONFIG_HOME/anygpt-chess/config.yaml, then the environment.
		`),
		Args: cobra.NoArgs,

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appcfg.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if strings.TrimSpace(mode) != "" {
				cfg.Completion.Mode = mode
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("config: %w", err)
				}
			}
			if err := obslog.Init(obslog.Options{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
				Caller: cfg.Log.Caller,
			}); err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer obslog.Sync()
			return run(cmd.Context(), cfg, in, out)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "completion backend: interactive, remote, mock or engine")
	return cmd
}

func run(ctx context.Context, cfg *appcfg.AppConfig, in io.Reader, out io.Writer) error {
	logger := obslog.L().With(zap.String("mode", cfg.Completion.Mode))
	if cfg.Source != "" {
		logger.Debug("config_loaded", zap.String("path", cfg.Source))
	}

	completer, closeFn, err := buildCompleter(ctx, cfg, in, out)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Warn("completer_close_failed", zap.Error(err))
		}
	}()

	game, err := rules.NewFromFEN(cfg.Game.StartFEN)
	if err != nil {
		return err
	}

	orch, err := arena.New(completer, arena.Config{
		MaxTurns:    cfg.Game.MaxTurns,
		MaxTokens:   cfg.Completion.MaxTokens,
		CallTimeout: callTimeout(cfg),
	}, out, logger)
	if err != nil {
		return err
	}

	res, runErr := orch.Run(ctx, game)
	if res != nil && cfg.Game.BoardImagePath != "" {
		if err := writeSnapshot(res.FinalFEN, cfg.Game.BoardImagePath); err != nil {
			logger.Warn("board_image_failed", zap.String("path", cfg.Game.BoardImagePath), zap.Error(err))
		} else {
			logger.Info("board_image_written", zap.String("path", cfg.Game.BoardImagePath))
		}
	}
	return runErr
}

// buildCompleter picks the backend once, from configuration.
func buildCompleter(ctx context.Context, cfg *appcfg.AppConfig, in io.Reader, out io.Writer) (completion.Completer, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Completion.Mode {
	case appcfg.ModeRemote:
		client := completion.NewRemoteClient(cfg.Completion.BaseURL, cfg.Completion.Model,
			completion.WithAPIKey(cfg.Completion.APIKey),
			completion.WithTimeout(cfg.Completion.Timeout),
			completion.WithRetry(cfg.Completion.Retries),
			completion.WithHeaders(cfg.Completion.Headers),
		)
		return withSpinner(client), noop, nil
	case appcfg.ModeEngine:
		engine, err := completion.NewEngineCompleter(ctx, cfg.Engine.StockfishPath, uci.Options{
			Threads:    cfg.Engine.Threads,
			HashMB:     cfg.Engine.HashMB,
			SkillLevel: cfg.Engine.SkillLevel,
			MultiPV:    cfg.Engine.MultiPV,
		}, uci.Limits{Depth: cfg.Engine.Depth, MoveTimeMillis: cfg.Engine.MoveTimeMillis})
		if err != nil {
			return nil, nil, fmt.Errorf("start engine: %w", err)
		}
		return withSpinner(engine), engine.Close, nil
	case appcfg.ModeMock:
		return completion.NewScripted(cfg.Completion.MockReplies...), noop, nil
	case appcfg.ModeInteractive:
		return completion.NewInteractive(in, out), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown completion mode %q", cfg.Completion.Mode)
	}
}

// callTimeout is the per-move deadline. A human gets
// completion.interactive_timeout, which is off by default.
func callTimeout(cfg *appcfg.AppConfig) time.Duration {
	if cfg.Completion.Mode == appcfg.ModeInteractive {
		return cfg.Completion.InteractiveTimeout
	}
	return cfg.Completion.Timeout
}

func withSpinner(c completion.Completer) completion.Completer {
	if !completion.IsTerminal(os.Stderr) {
		return c
	}
	return completion.WithSpinner(c, os.Stderr)
}

func writeSnapshot(fen, path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	data, err := board.RenderPNG(ctx, fen, board.ImageOptions{})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
