package rimage

import (
	"image"
	"image/color"
	"testing"

	"github.com/fogleman/gg"
	"go.viam.com/test"

	"github.com/zmeventnotification/zmdetect/detection"
)

func sameColor(a, b color.Color) bool {
	r1, g1, b1, _ := a.RGBA()
	r2, g2, b2, _ := b.RGBA()
	return r1>>8 == r2>>8 && g1>>8 == g2>>8 && b1>>8 == b2>>8
}

func blank(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, Black)
		}
	}
	return img
}

func TestDrawRectangleEmpty(t *testing.T) {
	dc := gg.NewContextForImage(blank(50, 50))
	DrawRectangleEmpty(dc, image.Rect(10, 10, 40, 40), Red, 2)
	out := dc.Image()
	test.That(t, sameColor(out.At(25, 10), Red), test.ShouldBeTrue)
	test.That(t, sameColor(out.At(10, 25), Red), test.ShouldBeTrue)
	test.That(t, sameColor(out.At(25, 25), Black), test.ShouldBeTrue)
}

func TestDrawPolygon(t *testing.T) {
	dc := gg.NewContextForImage(blank(50, 50))
	DrawPolygon(dc, []image.Point{{5, 5}, {45, 5}, {45, 45}}, Green, 2)
	out := dc.Image()
	test.That(t, sameColor(out.At(25, 5), Green), test.ShouldBeTrue)
	test.That(t, sameColor(out.At(45, 25), Green), test.ShouldBeTrue)
	test.That(t, sameColor(out.At(5, 45), Black), test.ShouldBeTrue)

	// too few points is a no-op
	DrawPolygon(dc, []image.Point{{1, 1}}, Green, 2)
}

func TestOverlay(t *testing.T) {
	img := blank(200, 100)
	r := detection.NewResult("alarm", []detection.Detection{
		{Label: "person", Box: detection.Box{100, 40, 180, 90}, Confidence: 0.9},
	})
	r.Polygons = []detection.Polygon{{Name: "all", Points: []image.Point{{2, 2}, {197, 2}, {197, 97}, {2, 97}}}}

	out := Overlay(img, r, OverlayOptions{ShowPercent: true, PolyColor: Yellow, PolyThickness: 2})
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())
	test.That(t, sameColor(out.At(100, 2), Yellow), test.ShouldBeTrue)
	test.That(t, sameColor(out.At(179, 90), LabelColor("person")), test.ShouldBeTrue)
	// the source frame is left untouched
	test.That(t, sameColor(img.At(100, 2), Black), test.ShouldBeTrue)

	// a 1px line straddles two pixel rows, so only check it turned red
	withErrors := DrawErrorBoxes(out, []detection.Box{{10, 10, 50, 50}})
	r8, g8, b8, _ := withErrors.At(30, 10).RGBA()
	test.That(t, r8>>8, test.ShouldBeGreaterThan, 100)
	test.That(t, g8>>8, test.ShouldBeLessThan, 10)
	test.That(t, b8>>8, test.ShouldBeLessThan, 10)
}

func TestLabelColor(t *testing.T) {
	test.That(t, LabelColor("car"), test.ShouldResemble, LabelColor("car"))
}

func TestParseColor(t *testing.T) {
	for _, in := range []string{"(255,0,128)", "255, 0, 128", "[255,0,128]", "#ff0080"} {
		c, err := ParseColor(in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, c, test.ShouldResemble, color.NRGBA{R: 255, G: 0, B: 128, A: 255})
	}
	for _, in := range []string{"(1,2)", "#fff", "(a,b,c)", "#gg0000", "(300,0,0)", "(0,-1,0)", "256,0,0"} {
		_, err := ParseColor(in)
		test.That(t, err, test.ShouldNotBeNil)
	}
}
