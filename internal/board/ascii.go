package board

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

const (
	fileHeader  = "  a b c d e f g h\n"
	borderLine  = " +-----------------+\n"
	emptySquare = ". "
	boardRanks  = 8
	boardFiles  = 8
	pieceSet    = "pnbrqkPNBRQK"
)

var ErrMalformedPlacement = errors.New("malformed piece placement")

// PlacementError reports the first structural problem found in a placement field.
// Rank is the zero-based segment index (0 is rank 8) or -1 for whole-field problems.
type PlacementError struct {
	Rank   int
	Reason string
}

func (e *PlacementError) Error() string {
	if e.Rank < 0 {
		return fmt.Sprintf("%s: %s", ErrMalformedPlacement, e.Reason)
	}
	return fmt.Sprintf("%s: rank %d: %s", ErrMalformedPlacement, boardRanks-e.Rank, e.Reason)
}

func (e *PlacementError) Unwrap() error { return ErrMalformedPlacement }

// Placement returns the piece placement field of a FEN string.
func Placement(fen string) string {
	placement, _, _ := strings.Cut(fen, " ")
	return placement
}

// ASCII renders the placement field of fen as a text diagram.
// It does not validate its input: a wrong rank count or rank width produces
// a diagram with that many lines or misaligned columns.
func ASCII(fen string) string {
	rows := strings.Split(Placement(fen), "/")

	var sb strings.Builder
	sb.WriteString(fileHeader)
	sb.WriteString(borderLine)
	for i, row := range rows {
		label := strconv.Itoa(boardRanks - i)
		sb.WriteString(label)
		sb.WriteString("| ")
		for _, ch := range row {
			if ch >= '0' && ch <= '9' {
				sb.WriteString(strings.Repeat(emptySquare, int(ch-'0')))
				continue
			}
			sb.WriteRune(ch)
			sb.WriteByte(' ')
		}
		sb.WriteString("|")
		sb.WriteString(label)
		sb.WriteString("\n")
	}
	sb.WriteString(borderLine)
	sb.WriteString(fileHeader)
	return sb.String()
}

// ASCIIStrict validates fen before rendering it.
func ASCIIStrict(fen string) (string, error) {
	if err := Validate(fen); err != nil {
		return "", err
	}
	return ASCII(fen), nil
}

// Validate checks that the placement field has 8 ranks of 8 squares each and
// only standard piece letters.
func Validate(fen string) error {
	_, err := grid(fen)
	return err
}

// grid expands a placement field into ranks of square runes, rank 8 first.
// Empty squares are 0.
func grid(fen string) ([boardRanks][boardFiles]rune, error) {
	var out [boardRanks][boardFiles]rune
	placement := Placement(strings.TrimSpace(fen))
	if placement == "" {
		return out, &PlacementError{Rank: -1, Reason: "empty placement"}
	}
	rows := strings.Split(placement, "/")
	if len(rows) != boardRanks {
		return out, &PlacementError{Rank: -1, Reason: fmt.Sprintf("expected %d ranks, got %d", boardRanks, len(rows))}
	}
	for r, row := range rows {
		file := 0
		for _, ch := range row {
			switch {
			case ch >= '1' && ch <= '8':
				file += int(ch - '0')
			case strings.ContainsRune(pieceSet, ch):
				if file < boardFiles {
					out[r][file] = ch
				}
				file++
			default:
				return out, &PlacementError{Rank: r, Reason: fmt.Sprintf("unexpected character %q", ch)}
			}
			if file > boardFiles {
				return out, &PlacementError{Rank: r, Reason: fmt.Sprintf("more than %d squares", boardFiles)}
			}
		}
		if file != boardFiles {
			return out, &PlacementError{Rank: r, Reason: fmt.Sprintf("expected %d squares, got %d", boardFiles, file)}
		}
	}
	return out, nil
}
