package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/park285/anygpt-chess/internal/completion/uci"
	"github.com/park285/anygpt-chess/internal/obslog"
	"go.uber.org/zap"
)

type searcher interface {
	Search(ctx context.Context, req uci.SearchRequest) (uci.SearchResponse, error)
}

// EngineCompleter answers with a UCI engine's best move for the position in
// the request metadata. The prompt text is ignored.
type EngineCompleter struct {
	engine searcher
	limits uci.Limits
	close  func() error
	logger *zap.Logger
}

// NewEngineCompleter starts binaryPath and prepares it for a new game.
func NewEngineCompleter(ctx context.Context, binaryPath string, opts uci.Options, limits uci.Limits) (*EngineCompleter, error) {
	session, err := uci.NewSession(ctx, binaryPath, opts)
	if err != nil {
		return nil, err
	}
	if err := session.NewGame(ctx); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("prepare engine: %w", err)
	}
	return &EngineCompleter{engine: session, limits: limits, close: session.Close, logger: obslog.L()}, nil
}

func (e *EngineCompleter) Complete(ctx context.Context, req Request) (*Response, error) {
	fen := strings.TrimSpace(req.Metadata[MetadataFEN])
	if fen == "" {
		return nil, errors.New("engine completion needs a position in request metadata")
	}
	res, err := e.engine.Search(ctx, uci.SearchRequest{FEN: fen, Limits: e.limits})
	if err != nil {
		return nil, fmt.Errorf("engine search: %w", err)
	}
	e.logSearch(fen, res)
	return TextResponse(res.BestMove), nil
}

// logSearch records the engine's principal lines next to the chosen move.
func (e *EngineCompleter) logSearch(fen string, res uci.SearchResponse) {
	logger := e.logger
	if logger == nil {
		logger = obslog.L()
	}
	fields := []zap.Field{
		zap.String("fen", fen),
		zap.String("bestmove", res.BestMove),
		zap.Int("lines", len(res.Candidates)),
	}
	if len(res.Candidates) > 0 {
		top := res.Candidates[0]
		fields = append(fields,
			zap.String("top_move", top.Move),
			zap.Int("eval_cp", top.EvalCP),
			zap.Strings("pv", top.Principal),
		)
	}
	for i := 1; i < len(res.Candidates); i++ {
		c := res.Candidates[i]
		fields = append(fields, zap.String(fmt.Sprintf("alt%d", i), fmt.Sprintf("%s(%d)", c.Move, c.EvalCP)))
	}
	logger.Debug("engine_search", fields...)
}

func (e *EngineCompleter) Close() error {
	if e.close == nil {
		return nil
	}
	return e.close()
}
