// Package render draws a spreadsheet sheet as a PNG table, keeping the fill
// color and boldness of every cell.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"regreport/pkg/fsutil"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	CellHeight = 40
	Padding    = 15

	firstColumnMinWidth = 200
	columnMinWidth      = 120
	pixelsPerChar       = 10
)

var (
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	black = color.RGBA{A: 0xff}
)

type Cell struct {
	Text string
	Bold bool
	Fill color.RGBA
}

// Grid is a rectangular table of cells, row major.
type Grid [][]Cell

func (g Grid) columns() int {
	n := 0
	for _, row := range g {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

// ReadSheet loads the used range of sheet with its styles. When the sheet does
// not exist the first sheet is used.
func ReadSheet(path, sheet string) (Grid, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	grid := make(Grid, len(rows))
	for r, row := range rows {
		grid[r] = make([]Cell, width)
		for c := 0; c < width; c++ {
			cell := Cell{Fill: white}
			if c < len(row) {
				cell.Text = row[c]
			}

			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			styleID, err := f.GetCellStyle(sheet, name)
			if err != nil {
				return nil, err
			}
			style, err := f.GetStyle(styleID)
			if err == nil && style != nil {
				if style.Font != nil {
					cell.Bold = style.Font.Bold
				}
				if style.Fill.Type == "pattern" && len(style.Fill.Color) > 0 {
					cell.Fill = parseHexColor(style.Fill.Color[0], white)
				}
			}
			grid[r][c] = cell
		}
	}
	return grid, nil
}

// parseHexColor accepts RRGGBB or AARRGGBB with an optional leading #.
func parseHexColor(s string, fallback color.RGBA) color.RGBA {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 8 {
		s = s[2:]
	}
	if len(s) != 6 {
		return fallback
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallback
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// ColumnWidths is the pixel width of every column: wide enough for the
// longest text, never under 200 for the label column and 120 for the others.
func ColumnWidths(g Grid) []int {
	widths := make([]int, g.columns())
	for c := range widths {
		longest := 0
		for _, row := range g {
			if c < len(row) {
				if n := utf8.RuneCountInString(row[c].Text); n > longest {
					longest = n
				}
			}
		}
		min := columnMinWidth
		if c == 0 {
			min = firstColumnMinWidth
		}
		widths[c] = max(min, longest*pixelsPerChar)
	}
	return widths
}

// Render draws g as a bordered table with centered black text.
func Render(g Grid) *image.RGBA {
	widths := ColumnWidths(g)
	total := 0
	for _, w := range widths {
		total += w
	}
	img := image.NewRGBA(image.Rect(0, 0, total+Padding*2, len(g)*CellHeight+Padding*2))
	draw.Draw(img, img.Bounds(), image.NewUniform(white), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	textHeight := metrics.Height.Ceil()

	y := Padding
	for _, row := range g {
		x := Padding
		for c, w := range widths {
			cell := Cell{Fill: white}
			if c < len(row) {
				cell = row[c]
			}
			rect := image.Rect(x, y, x+w, y+CellHeight)
			draw.Draw(img, rect, image.NewUniform(cell.Fill), image.Point{}, draw.Src)
			outline(img, rect, black)

			d := &font.Drawer{Dst: img, Src: image.NewUniform(black), Face: face}
			advance := d.MeasureString(cell.Text).Ceil()
			baseline := y + (CellHeight-textHeight)/2 + ascent
			d.Dot = fixed.P(x+(w-advance)/2, baseline)
			d.DrawString(cell.Text)
			if cell.Bold {
				// the face has no bold variant, overstrike one pixel to the right
				d.Dot = fixed.P(x+(w-advance)/2+1, baseline)
				d.DrawString(cell.Text)
			}

			x += w
		}
		y += CellHeight
	}
	return img
}

func outline(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for x := r.Min.X; x <= r.Max.X && x < img.Bounds().Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		if r.Max.Y < img.Bounds().Max.Y {
			img.SetRGBA(x, r.Max.Y, c)
		}
	}
	for y := r.Min.Y; y <= r.Max.Y && y < img.Bounds().Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		if r.Max.X < img.Bounds().Max.X {
			img.SetRGBA(r.Max.X, y, c)
		}
	}
}

func WritePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// RenderFile renders sheet of the workbook at path into a PNG at out.
func RenderFile(path, sheet, out string) error {
	grid, err := ReadSheet(path, sheet)
	if err != nil {
		return fmt.Errorf("read sheet: %w", err)
	}
	if len(grid) == 0 {
		return fmt.Errorf("sheet %q of %s is empty", sheet, path)
	}
	img := Render(grid)
	return fsutil.WriteAtomic(out, 0644, func(w io.Writer) error {
		return WritePNG(w, img)
	})
}
