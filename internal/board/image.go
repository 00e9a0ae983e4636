package board

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"
	"unicode"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	defaultSquareSize = 48
	minSquareSize     = 24
	imageMargin       = 20
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	whitePieceFill  = color.RGBA{248, 248, 244, 255}
	blackPieceFill  = color.RGBA{34, 34, 38, 255}
	coordinateColor = color.RGBA{204, 210, 236, 255}
)

// ImageOptions controls RenderPNG. The zero value renders a 48px-square board
// from White's side.
type ImageOptions struct {
	SquareSize int
	Flip       bool
}

// RenderPNG draws the placement field of fen as a PNG image.
// Unlike ASCII it requires a well-formed placement.
func RenderPNG(ctx context.Context, fen string, opts ImageOptions) ([]byte, error) {
	squares, err := grid(fen)
	if err != nil {
		return nil, err
	}
	size := opts.SquareSize
	if size <= 0 {
		size = defaultSquareSize
	}
	if size < minSquareSize {
		size = minSquareSize
	}
	total := size*boardFiles + imageMargin*2

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(boardSVG(squares, size, opts.Flip)))
	if err != nil {
		return nil, fmt.Errorf("parse board svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(total), float64(total))

	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)
	scanner := rasterx.NewScannerGV(total, total, img, img.Bounds())
	raster := rasterx.NewDasher(total, total, scanner)
	icon.Draw(raster, 1.0)

	drawPieceLetters(img, squares, size, opts.Flip)
	drawCoordinates(img, size, opts.Flip)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// squareOrigin maps a grid cell (row 0 is rank 8) to its top-left pixel.
func squareOrigin(row, col, size int, flip bool) (int, int) {
	if flip {
		row = boardRanks - 1 - row
		col = boardFiles - 1 - col
	}
	return imageMargin + col*size, imageMargin + row*size
}

func boardSVG(squares [boardRanks][boardFiles]rune, size int, flip bool) string {
	total := size*boardFiles + imageMargin*2
	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, total, total, total, total)
	for row := 0; row < boardRanks; row++ {
		for col := 0; col < boardFiles; col++ {
			x, y := squareOrigin(row, col, size, flip)
			fill := lightSquare
			if (row+col)%2 == 1 {
				fill = darkSquare
			}
			fmt.Fprintf(&sb, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`, x, y, size, size, hexColor(fill))

			piece := squares[row][col]
			if piece == 0 {
				continue
			}
			fill, stroke := whitePieceFill, blackPieceFill
			if unicode.IsLower(piece) {
				fill, stroke = blackPieceFill, whitePieceFill
			}
			fmt.Fprintf(&sb, `<circle cx="%d" cy="%d" r="%d" fill="%s" stroke="%s" stroke-width="2"/>`,
				x+size/2, y+size/2, size/3, hexColor(fill), hexColor(stroke))
		}
	}
	sb.WriteString(`</svg>`)
	return sb.String()
}

func drawPieceLetters(img *image.RGBA, squares [boardRanks][boardFiles]rune, size int, flip bool) {
	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for row := 0; row < boardRanks; row++ {
		for col := 0; col < boardFiles; col++ {
			piece := squares[row][col]
			if piece == 0 {
				continue
			}
			drawer.Src = image.NewUniform(blackPieceFill)
			if unicode.IsLower(piece) {
				drawer.Src = image.NewUniform(whitePieceFill)
			}
			x, y := squareOrigin(row, col, size, flip)
			drawCentered(drawer, string(unicode.ToUpper(piece)), x+size/2, y+size/2+ascent/2)
		}
	}
}

func drawCoordinates(img *image.RGBA, size int, flip bool) {
	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13, Src: image.NewUniform(coordinateColor)}
	ascent := basicfont.Face7x13.Metrics().Ascent.Ceil()
	for i := 0; i < boardRanks; i++ {
		x, y := squareOrigin(i, 0, size, flip)
		if flip {
			x, _ = squareOrigin(i, boardFiles-1, size, flip)
		}
		drawCentered(drawer, fmt.Sprintf("%d", boardRanks-i), x-imageMargin/2, y+size/2+ascent/2)
	}
	for i := 0; i < boardFiles; i++ {
		x, y := squareOrigin(boardRanks-1, i, size, flip)
		if flip {
			_, y = squareOrigin(0, i, size, flip)
		}
		drawCentered(drawer, string(rune('a'+i)), x+size/2, y+size+imageMargin/2+ascent/2)
	}
}

func drawCentered(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
