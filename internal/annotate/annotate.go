// Package annotate labels rendered PNG images with their file stem so the
// model can match each image to its name in the prompt.
package annotate

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 300 * time.Millisecond
)

var labelColor = color.RGBA{R: 255, A: 255}

// Corner identifies where a label is placed.
type Corner int

const (
	TopLeft Corner = iota
	TopRight
	BottomLeft
	BottomRight
)

func (c Corner) String() string {
	switch c {
	case TopLeft:
		return "top_left"
	case TopRight:
		return "top_right"
	case BottomLeft:
		return "bottom_left"
	default:
		return "bottom_right"
	}
}

// Annotator writes the file stem in red into the whitest corner of a PNG.
type Annotator struct {
	// Attempts and Delay bound the retry while the renderer may still hold the file.
	Attempts int
	Delay    time.Duration
	// LabelHeight is the label height as a fraction of the image height.
	LabelHeight float64
	Logger      *slog.Logger
}

func New(logger *slog.Logger) *Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Annotator{Attempts: DefaultAttempts, Delay: DefaultDelay, LabelHeight: 0.1, Logger: logger}
}

// Annotate labels the image at path in place.
func (a *Annotator) Annotate(ctx context.Context, path string) error {
	attempts := a.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := a.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	b := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(delay))

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := a.annotateFile(path, stem); err != nil {
			if a.Logger != nil {
				a.Logger.Debug("Annotation attempt failed", "path", path, "attempt", attempt, "error", err)
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (a *Annotator) annotateFile(path, text string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	src, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	img := image.NewRGBA(src.Bounds())
	draw.Draw(img, img.Bounds(), src, src.Bounds().Min, draw.Src)

	label := renderLabel(text, img.Bounds().Size(), a.LabelHeight)
	corner := WhitestCorner(img, label.Bounds().Size())
	dst := cornerRect(img.Bounds(), label.Bounds().Size(), corner)
	draw.Draw(img, dst, label, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	if a.Logger != nil {
		a.Logger.Debug("Annotated image", "path", path, "label", text, "corner", corner.String())
	}
	return nil
}

// renderLabel draws text with the 7x13 bitmap face and scales it by an integer
// factor so it is roughly frac of the image height without exceeding its width.
func renderLabel(text string, size image.Point, frac float64) *image.RGBA {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	h := face.Height
	small := image.NewRGBA(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	scale := 1
	if frac > 0 {
		scale = max(1, int(float64(size.Y)*frac)/h)
	}
	for scale > 1 && w*scale > size.X {
		scale--
	}
	if scale == 1 {
		return small
	}
	big := image.NewRGBA(image.Rect(0, 0, w*scale, h*scale))
	draw.NearestNeighbor.Scale(big, big.Bounds(), small, small.Bounds(), draw.Src, nil)
	return big
}

// WhitestCorner returns the corner whose label-sized region holds the most
// pure white pixels. Ties go to the bottom-right corner.
func WhitestCorner(img image.Image, label image.Point) Corner {
	var counts [4]int
	for c := TopLeft; c <= BottomRight; c++ {
		counts[c] = countWhite(img, cornerRect(img.Bounds(), label, c))
	}
	best, bestCount, unique := BottomRight, -1, false
	for c := TopLeft; c <= BottomRight; c++ {
		switch {
		case counts[c] > bestCount:
			best, bestCount, unique = c, counts[c], true
		case counts[c] == bestCount:
			unique = false
		}
	}
	if !unique {
		return BottomRight
	}
	return best
}

func cornerRect(b image.Rectangle, label image.Point, c Corner) image.Rectangle {
	var pt image.Point
	switch c {
	case TopLeft:
		pt = b.Min
	case TopRight:
		pt = image.Pt(b.Max.X-label.X, b.Min.Y)
	case BottomLeft:
		pt = image.Pt(b.Min.X, b.Max.Y-label.Y)
	default:
		pt = image.Pt(b.Max.X-label.X, b.Max.Y-label.Y)
	}
	return image.Rectangle{Min: pt, Max: pt.Add(label)}.Intersect(b)
}

func countWhite(img image.Image, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			if cr == 0xffff && cg == 0xffff && cb == 0xffff {
				n++
			}
		}
	}
	return n
}
