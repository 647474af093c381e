// Package tint holds the per-pixel color math shared by the static and
// animated recolor paths.
package tint

import (
	"image"
	"image/color"
	"math"
)

// Modulation shifts hue in degrees and scales saturation and brightness in
// HSV space. The zero value is not the identity; use NewModulation.
type Modulation struct {
	hue      float64
	satScale float64
	valScale float64
}

// NewModulation builds a modulation from a hue shift in degrees and
// saturation and brightness percentages.
func NewModulation(hue, saturation, brightness int) Modulation {
	return Modulation{
		hue:      float64(hue),
		satScale: 1 + float64(saturation)/100,
		valScale: 1 + float64(brightness)/100,
	}
}

// IsIdentity reports whether m leaves every color unchanged.
func (m Modulation) IsIdentity() bool {
	return math.Mod(m.hue, 360) == 0 && m.satScale == 1 && m.valScale == 1
}

// Apply transforms the color channels of c and leaves alpha untouched.
func (m Modulation) Apply(c color.NRGBA) color.NRGBA {
	r, g, b := m.ApplyFloat(float64(c.R)/0xff, float64(c.G)/0xff, float64(c.B)/0xff)
	return color.NRGBA{R: toByte(r), G: toByte(g), B: toByte(b), A: c.A}
}

// ApplyFloat transforms channels in [0,1].
func (m Modulation) ApplyFloat(r, g, b float64) (float64, float64, float64) {
	h, s, v := rgbToHSV(r, g, b)
	h = math.Mod(h+m.hue+360, 360)
	if h < 0 {
		h += 360
	}
	s = clamp01(s * m.satScale)
	v = clamp01(v * m.valScale)
	return hsvToRGB(h, s, v)
}

func rgbToHSV(r, g, b float64) (h, s, v float64) {
	hi := math.Max(r, math.Max(g, b))
	lo := math.Min(r, math.Min(g, b))
	d := hi - lo
	v = hi
	if hi > 0 {
		s = d / hi
	}
	if d == 0 {
		return 0, s, v
	}
	switch hi {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	return h * 60, s, v
}

func hsvToRGB(h, s, v float64) (r, g, b float64) {
	c := v * s
	hh := h / 60
	x := c * (1 - math.Abs(math.Mod(hh, 2)-1))
	switch {
	case hh < 1:
		r, g, b = c, x, 0
	case hh < 2:
		r, g, b = x, c, 0
	case hh < 3:
		r, g, b = 0, c, x
	case hh < 4:
		r, g, b = 0, x, c
	case hh < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	m := v - c
	return r + m, g + m, b + m
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func toByte(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 0xff))
}

// Apply recolors img in place: the modulation first, then the overlay.
func Apply(img *image.NRGBA, m Modulation, o Overlay) {
	identity := m.IsIdentity()
	if identity && !o.Active() {
		return
	}
	b := img.Rect
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := img.PixOffset(b.Min.X, y)
		end := i + b.Dx()*4
		for ; i < end; i += 4 {
			px := color.NRGBA{R: img.Pix[i], G: img.Pix[i+1], B: img.Pix[i+2], A: img.Pix[i+3]}
			if !identity {
				px = m.Apply(px)
			}
			px = o.Apply(px)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = px.R, px.G, px.B
		}
	}
}
