package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

const (
	nullMove        = "0000"
	legalPromotions = "qrbn"
)

var (
	ErrMalformedMove = errors.New("malformed uci move")
	ErrIllegalMove   = errors.New("illegal move")
)

// Move is a move decoded against a specific position.
type Move interface {
	UCI() string
}

// Game is the narrow view of a chess game the orchestrator needs.
type Game interface {
	IsOver() bool
	FEN() string
	ParseUCI(text string) (Move, error)
	IsLegal(m Move) bool
	Apply(m Move) error
	// Outcome reports the result ("1-0", "0-1", "1/2-1/2" or "*") and the
	// termination method.
	Outcome() (string, string)
}

type uciMove struct {
	text string
	mv   *nchess.Move
}

func (m uciMove) UCI() string { return m.text }

type standardGame struct {
	game *nchess.Game
}

// NewStandard returns a game at the standard initial position.
func NewStandard() Game {
	return &standardGame{game: nchess.NewGame()}
}

// NewFromFEN returns a game starting from fen.
func NewFromFEN(fen string) (Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return NewStandard(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("load fen: %w", err)
	}
	return &standardGame{game: nchess.NewGame(opt)}, nil
}

func (g *standardGame) IsOver() bool {
	return g.game.Outcome() != nchess.NoOutcome
}

func (g *standardGame) FEN() string {
	return g.game.FEN()
}

// ParseUCI checks the coordinate syntax of text and decodes it against the
// current position. Syntax is all that is checked here; use IsLegal for rules.
// The null move "0000" and pawn or king promotions are well formed but never
// legal.
func (g *standardGame) ParseUCI(text string) (Move, error) {
	raw := strings.ToLower(strings.TrimSpace(text))
	if raw == nullMove {
		return uciMove{text: raw}, nil
	}
	if !wellFormedUCI(raw) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedMove, text)
	}
	if len(raw) == 5 && !strings.ContainsRune(legalPromotions, rune(raw[4])) {
		return uciMove{text: raw}, nil
	}
	mv, err := nchess.UCINotation{}.Decode(g.game.Position(), raw)
	if err != nil {
		// Syntactically fine but not decodable here (e.g. empty origin square).
		return uciMove{text: raw}, nil
	}
	return uciMove{text: raw, mv: mv}, nil
}

func (g *standardGame) IsLegal(m Move) bool {
	um, ok := m.(uciMove)
	if !ok || um.mv == nil || g.IsOver() {
		return false
	}
	for _, candidate := range g.game.ValidMoves() {
		if strings.EqualFold(candidate.String(), um.text) {
			return true
		}
	}
	return false
}

func (g *standardGame) Apply(m Move) error {
	if !g.IsLegal(m) {
		return fmt.Errorf("%w: %s", ErrIllegalMove, m.UCI())
	}
	if err := g.game.Move(m.(uciMove).mv, nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIllegalMove, m.UCI(), err)
	}
	return nil
}

func (g *standardGame) Outcome() (string, string) {
	outcome := g.game.Outcome()
	if outcome == nchess.NoOutcome {
		return string(outcome), ""
	}
	return string(outcome), g.game.Method().String()
}

// wellFormedUCI accepts <from><to>[promotion] in lowercase coordinate notation.
func wellFormedUCI(s string) bool {
	if len(s) != 4 && len(s) != 5 {
		return false
	}
	for i := 0; i < 4; i += 2 {
		if s[i] < 'a' || s[i] > 'h' || s[i+1] < '1' || s[i+1] > '8' {
			return false
		}
	}
	if len(s) == 5 && !strings.ContainsRune("pnbrqk", rune(s[4])) {
		return false
	}
	return s[:2] != s[2:4]
}
