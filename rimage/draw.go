// Package rimage decodes, resizes and writes frames, and draws detections on them.
package rimage

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/zmeventnotification/zmdetect/detection"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// DrawLabel writes text on a filled background whose top left corner is p.
func DrawLabel(dc *gg.Context, text string, p image.Point, fg, bg color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	w, h := dc.MeasureString(text)
	const pad = 2
	dc.SetColor(bg)
	dc.DrawRectangle(float64(p.X), float64(p.Y), w+2*pad, h+2*pad)
	dc.Fill()
	dc.SetColor(fg)
	dc.DrawStringAnchored(text, float64(p.X)+pad, float64(p.Y)+pad, 0, 1)
}

// DrawRectangleEmpty draws the given rectangle into the context. The positions of the
// rectangle are used to place it within the context.
func DrawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)

	dc.DrawLine(float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Min.Y))
	dc.SetLineWidth(width)
	dc.Stroke()

	dc.DrawLine(float64(r.Min.X), float64(r.Min.Y), float64(r.Min.X), float64(r.Max.Y))
	dc.SetLineWidth(width)
	dc.Stroke()

	dc.DrawLine(float64(r.Max.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y))
	dc.SetLineWidth(width)
	dc.Stroke()

	dc.DrawLine(float64(r.Min.X), float64(r.Max.Y), float64(r.Max.X), float64(r.Max.Y))
	dc.SetLineWidth(width)
	dc.Stroke()
}

// DrawPolygon draws the outline of a closed polygon.
func DrawPolygon(dc *gg.Context, points []image.Point, c color.Color, width float64) {
	if len(points) < 2 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.MoveTo(float64(points[0].X), float64(points[0].Y))
	for _, p := range points[1:] {
		dc.LineTo(float64(p.X), float64(p.Y))
	}
	dc.ClosePath()
	dc.Stroke()
}

// OverlayOptions controls how detections are drawn.
type OverlayOptions struct {
	// ShowPercent appends the confidence to each label.
	ShowPercent bool
	// PolyColor and PolyThickness are used for zone polygons.
	PolyColor     color.Color
	PolyThickness float64
}

// Overlay returns a copy of img with the zones, boxes and labels of r drawn on it.
func Overlay(img image.Image, r *detection.Result, opts OverlayOptions) image.Image {
	dc := gg.NewContextForImage(img)
	polyColor := opts.PolyColor
	if polyColor == nil {
		polyColor = White
	}
	thickness := opts.PolyThickness
	if thickness <= 0 {
		thickness = 2
	}
	for _, p := range r.Polygons {
		DrawPolygon(dc, p.Points, polyColor, thickness)
	}

	fontSize := math.Max(12, float64(img.Bounds().Dx())/64)
	for i, d := range r.Detections() {
		c := LabelColor(d.Label)
		DrawRectangleEmpty(dc, d.Box.Rect(), c, 2)
		text := d.Label
		if opts.ShowPercent && i < len(r.Confidences) {
			text = fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100)
		}
		DrawLabel(dc, text, image.Pt(d.Box[0], d.Box[1]), Black, c, fontSize)
	}
	return dc.Image()
}

// DrawErrorBoxes returns a copy of img with the rejected boxes outlined in red.
func DrawErrorBoxes(img image.Image, boxes []detection.Box) image.Image {
	dc := gg.NewContextForImage(img)
	for _, b := range boxes {
		DrawRectangleEmpty(dc, b.Rect(), Red, 1)
	}
	return dc.Image()
}
