package rimage

import (
	"image/color"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Some colors used when drawing detections.
var (
	Red    = color.NRGBA{R: 255, A: 255}
	Green  = color.NRGBA{G: 255, A: 255}
	Blue   = color.NRGBA{B: 255, A: 255}
	White  = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	Black  = color.NRGBA{A: 255}
	Yellow = color.NRGBA{R: 255, G: 255, A: 255}
)

// labelPalette holds the box colors. A label always gets the same color.
var labelPalette = []color.NRGBA{
	{R: 0, G: 200, B: 0, A: 255},
	{R: 230, G: 25, B: 75, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 70, G: 240, B: 240, A: 255},
	{R: 240, G: 50, B: 230, A: 255},
	{R: 210, G: 245, B: 60, A: 255},
}

// LabelColor returns the color boxes of label are drawn with.
func LabelColor(label string) color.Color {
	var h uint32
	for _, c := range label {
		h = h*31 + uint32(c)
	}
	return labelPalette[h%uint32(len(labelPalette))]
}

// ParseColor parses a color written as "(r,g,b)", "r,g,b" or "#rrggbb".
func ParseColor(s string) (color.Color, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		if len(s) != 7 {
			return nil, errors.Errorf("invalid hex color %q", s)
		}
		var rgb [3]uint8
		for i := range rgb {
			v, err := colorChannel("0x" + s[1+2*i:3+2*i])
			if err != nil {
				return nil, errors.Wrapf(err, "invalid hex color %q", s)
			}
			rgb[i] = v
		}
		return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}, nil
	}
	parts := strings.Split(strings.Trim(s, "()[] "), ",")
	if len(parts) != 3 {
		return nil, errors.Errorf("invalid color %q, expected (r,g,b)", s)
	}
	var rgb [3]uint8
	for i, p := range parts {
		v, err := colorChannel(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid color %q", s)
		}
		rgb[i] = v
	}
	return color.NRGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}, nil
}

func colorChannel(s string) (uint8, error) {
	v, err := cast.ToIntE(s)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 255 {
		return 0, errors.Errorf("channel %d out of range 0-255", v)
	}
	return uint8(v), nil
}
