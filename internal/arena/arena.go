package arena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/anygpt-chess/internal/board"
	"github.com/park285/anygpt-chess/internal/completion"
	"github.com/park285/anygpt-chess/internal/rules"
	"go.uber.org/zap"
)

type State string

const (
	StateAwaitingMove      State = "AWAITING_MOVE"
	StateApplied           State = "APPLIED"
	StateGameOver          State = "GAME_OVER"
	StateAbortedBadMove    State = "ABORTED_BAD_MOVE"
	StateAbortedCallFailed State = "ABORTED_CALL_FAILED"
)

const (
	ReasonMalformed  = "malformed"
	ReasonIllegal    = "illegal"
	ReasonCallFailed = "call_failed"
	ReasonCancelled  = "cancelled"
	ReasonTurnLimit  = "turn_limit"
)

const (
	DefaultMaxTurns  = 10
	DefaultMaxTokens = 10
	DefaultProvider  = "anygpt"
	DefaultOperation = completion.OperationChatCompletion

	systemPrompt = "You are a chess engine. Respond only with a single UCI move (e.g., 'e2e4'). Do not include any other text, explanations, or formatting."
)

type Config struct {
	MaxTurns  int
	MaxTokens int
	Provider  string
	Operation string

	// CallTimeout bounds each completion call. Zero or less means no deadline,
	// which suits a human typing the moves.
	CallTimeout time.Duration
}

// Result summarizes a finished run. Moves holds only applied moves.
type Result struct {
	RunID    string
	Moves    []string
	FinalFEN string
	State    State
	Reason   string
	Turns    int
	Outcome  string
	Method   string
}

// Orchestrator asks a completer for moves and plays them on a rules.Game,
// writing a transcript to out.
type Orchestrator struct {
	completer completion.Completer
	cfg       Config
	out       io.Writer
	logger    *zap.Logger
}

func New(completer completion.Completer, cfg Config, out io.Writer, logger *zap.Logger) (*Orchestrator, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if strings.TrimSpace(cfg.Provider) == "" {
		cfg.Provider = DefaultProvider
	}
	if strings.TrimSpace(cfg.Operation) == "" {
		cfg.Operation = DefaultOperation
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{completer: completer, cfg: cfg, out: out, logger: logger}, nil
}

// Messages builds the prompt for one turn from a rendered board.
func Messages(boardASCII string) []completion.Message {
	return []completion.Message{
		{Role: completion.RoleSystem, Content: systemPrompt},
		{Role: completion.RoleUser, Content: fmt.Sprintf("Here is the current chess board:\n%s\nWhat is your next move?", boardASCII)},
	}
}

// Run plays up to MaxTurns moves. A bad move or a failed completion ends the
// run with the matching state and a nil error; only cancellation of ctx is
// returned as an error, together with the partial result.
func (o *Orchestrator) Run(ctx context.Context, game rules.Game) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), State: StateAwaitingMove, Moves: []string{}}
	logger := o.logger.With(zap.String("run_id", res.RunID))
	logger.Info("game_started", zap.Int("max_turns", o.cfg.MaxTurns), zap.String("fen", game.FEN()))

	fmt.Fprintln(o.out, "Starting chess game against AnyGPT.")
	fmt.Fprintln(o.out, "Initial Board:")
	fmt.Fprintln(o.out, board.ASCII(game.FEN()))

	var runErr error
	for turn := 1; turn <= o.cfg.MaxTurns; turn++ {
		if game.IsOver() {
			fmt.Fprintln(o.out, "Game Over!")
			res.State = StateGameOver
			break
		}
		if err := ctx.Err(); err != nil {
			res.Reason = ReasonCancelled
			runErr = err
			break
		}

		fmt.Fprintf(o.out, "\n--- Step %d ---\n", turn)
		res.Turns = turn
		if done, err := o.playTurn(ctx, logger, game, turn, res); done {
			runErr = err
			break
		}
	}

	if res.State == StateAwaitingMove && game.IsOver() {
		res.State = StateGameOver
	}
	if res.State == StateAwaitingMove && res.Reason == "" {
		res.Reason = ReasonTurnLimit
	}
	res.FinalFEN = game.FEN()
	res.Outcome, res.Method = game.Outcome()

	fmt.Fprintln(o.out, "\n--- Game End ---")
	fmt.Fprintln(o.out, "Moves Played:", formatMoves(res.Moves))
	fmt.Fprintln(o.out, "Final FEN:", res.FinalFEN)

	logger.Info("game_finished",
		zap.String("state", string(res.State)),
		zap.String("reason", res.Reason),
		zap.Int("turns", res.Turns),
		zap.Strings("moves", res.Moves),
		zap.String("fen", res.FinalFEN),
		zap.String("outcome", res.Outcome),
	)
	return res, runErr
}

// playTurn runs one request/validate/apply cycle. It reports whether the run
// has to stop.
func (o *Orchestrator) playTurn(ctx context.Context, logger *zap.Logger, game rules.Game, turn int, res *Result) (bool, error) {
	fen := game.FEN()
	req := completion.Request{
		Provider:  o.cfg.Provider,
		Operation: o.cfg.Operation,
		Messages:  Messages(board.ASCII(fen)),
		MaxTokens: o.cfg.MaxTokens,
		Metadata:  map[string]string{completion.MetadataFEN: fen},
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
	}
	resp, err := o.completer.Complete(callCtx, req)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			res.Reason = ReasonCancelled
			return true, ctx.Err()
		}
		logger.Error("completion_failed", zap.Int("turn", turn), zap.Error(err))
		fmt.Fprintf(o.out, "Could not get a move from AnyGPT: %v. The game cannot continue.\n", err)
		res.State = StateAbortedCallFailed
		res.Reason = ReasonCallFailed
		return true, nil
	}
	reply := resp.Text()

	mv, err := game.ParseUCI(reply)
	if err != nil {
		logger.Warn("move_malformed", zap.Int("turn", turn), zap.String("reply", reply))
		fmt.Fprintf(o.out, "Could not parse move received from AnyGPT: %s. AnyGPT must provide a move in UCI format.\n", reply)
		res.State = StateAbortedBadMove
		res.Reason = ReasonMalformed
		return true, nil
	}
	if !game.IsLegal(mv) {
		logger.Warn("move_illegal", zap.Int("turn", turn), zap.String("reply", reply), zap.String("fen", fen))
		fmt.Fprintf(o.out, "Invalid move received from AnyGPT: %s. AnyGPT must provide a legal move.\n", reply)
		res.State = StateAbortedBadMove
		res.Reason = ReasonIllegal
		return true, nil
	}
	if err := game.Apply(mv); err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			fmt.Fprintf(o.out, "Invalid move received from AnyGPT: %s. AnyGPT must provide a legal move.\n", reply)
			res.State = StateAbortedBadMove
			res.Reason = ReasonIllegal
			return true, nil
		}
		return true, fmt.Errorf("apply move %s: %w", mv.UCI(), err)
	}

	res.State = StateApplied
	res.Moves = append(res.Moves, mv.UCI())
	logger.Info("move_applied", zap.Int("turn", turn), zap.String("move", mv.UCI()), zap.String("fen", game.FEN()))

	fmt.Fprintf(o.out, "AnyGPT played: %s\n", reply)
	fmt.Fprintln(o.out, "Current Board:")
	fmt.Fprintln(o.out, board.ASCII(game.FEN()))

	if game.IsOver() {
		res.State = StateGameOver
	} else {
		res.State = StateAwaitingMove
	}
	return false, nil
}

// formatMoves renders moves as a bracketed list of quoted UCI strings.
func formatMoves(moves []string) string {
	quoted := make([]string, len(moves))
	for i, m := range moves {
		quoted[i] = "'" + m + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
