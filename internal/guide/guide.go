// Package guide renders the server guide as a PNG image.
package guide

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	width      = 720
	margin     = 24
	lineHeight = 18
	titleGap   = 12
)

var (
	background = color.RGBA{R: 0x2B, G: 0x2D, B: 0x31, A: 0xFF}
	titleColor = color.RGBA{R: 0x58, G: 0x65, B: 0xF2, A: 0xFF}
	textColor  = color.RGBA{R: 0xDB, G: 0xDE, B: 0xE1, A: 0xFF}

	ErrEmptyGuide = errors.New("guide has no content")
)

// Render draws title and lines onto a fixed-width canvas, wrapping long
// lines on word boundaries.
func Render(title string, lines []string) ([]byte, error) {
	face := basicfont.Face7x13
	maxChars := (width - 2*margin) / face.Advance

	var body []string
	for _, line := range lines {
		body = append(body, wrap(line, maxChars)...)
	}
	if strings.TrimSpace(title) == "" && len(body) == 0 {
		return nil, ErrEmptyGuide
	}

	height := 2*margin + lineHeight + titleGap + len(body)*lineHeight
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(titleColor), Face: face}
	y := margin + face.Ascent
	drawer.Dot = fixed.P(margin, y)
	drawer.DrawString(title)
	// underline the title
	underline := image.Rect(margin, y+4, margin+drawer.MeasureString(title).Round(), y+5)
	draw.Draw(img, underline, image.NewUniform(titleColor), image.Point{}, draw.Src)

	drawer.Src = image.NewUniform(textColor)
	y += lineHeight + titleGap
	for _, line := range body {
		drawer.Dot = fixed.P(margin, y)
		drawer.DrawString(line)
		y += lineHeight
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode guide: %w", err)
	}
	return buf.Bytes(), nil
}

func wrap(line string, maxChars int) []string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return []string{""}
	}
	var out []string
	current := ""
	for _, word := range words {
		for len([]rune(word)) > maxChars {
			if current != "" {
				out = append(out, current)
				current = ""
			}
			runes := []rune(word)
			out = append(out, string(runes[:maxChars]))
			word = string(runes[maxChars:])
		}
		switch {
		case current == "":
			current = word
		case len([]rune(current))+1+len([]rune(word)) <= maxChars:
			current += " " + word
		default:
			out = append(out, current)
			current = word
		}
	}
	if current != "" {
		out = append(out, current)
	}
	return out
}
