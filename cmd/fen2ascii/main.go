package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/park285/anygpt-chess/internal/board"
	"github.com/spf13/cobra"
)

func main() {
	cmd := newRootCmd(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fen2ascii:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		strict  bool
		pngPath string
		image   board.ImageOptions
	)
	cmd := &cobra.Command{
		Use:   "fen2ascii [FEN]",
		Short: "Print a FEN position as an ASCII board",
		Long: heredoc.Doc(`
			fen2ascii prints the piece placement of a FEN string as a text diagram,
			rank 8 at the top and files a to h from left to right.

			Quote the FEN so the shell passes it as a single argument. Without an
			argument a usage line and the initial position are printed.
		`),
		Example: heredoc.Doc(`
			$ fen2ascii "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
			$ fen2ascii --strict --png board.png "8/8/8/4k3/8/8/4K3/8 w - - 0 1"
			$ fen2ascii --png black.png --flip --square-size 64 "8/8/8/4k3/8/8/4K3/8 w - - 0 1"
		`),
		Args: cobra.MaximumNArgs(1),

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(out, "Usage: fen2ascii <FEN_string>")
				fmt.Fprintln(out, "\nExample with initial position:")
				fmt.Fprintln(out, board.ASCII(board.StartFEN))
				return nil
			}

			fen := args[0]
			diagram := board.ASCII(fen)
			if strict {
				var err error
				if diagram, err = board.ASCIIStrict(fen); err != nil {
					return err
				}
			}
			fmt.Fprintln(out, diagram)

			if pngPath != "" {
				return writePNG(cmd.Context(), fen, pngPath, image)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "reject placements that are not 8 ranks of 8 squares")
	cmd.Flags().StringVar(&pngPath, "png", "", "also write the position as a PNG image to this file")
	cmd.Flags().BoolVar(&image.Flip, "flip", false, "draw the PNG from Black's side")
	cmd.Flags().IntVar(&image.SquareSize, "square-size", 0, "PNG square size in pixels (default 48, minimum 24)")
	return cmd
}

func writePNG(ctx context.Context, fen, path string, opts board.ImageOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := board.RenderPNG(ctx, fen, opts)
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
