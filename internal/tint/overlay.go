package tint

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidHex = errors.New("tint: invalid hex color")

var white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// ParseHex parses "#rrggbb" or "rrggbb".
func ParseHex(s string) (color.RGBA, error) {
	digits := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(digits) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	v, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Overlay blends a flat color over visible pixels at a fixed opacity.
type Overlay struct {
	color  color.RGBA
	alpha  float64
	active bool
}

// NewOverlay returns an inactive overlay when hex is empty or opacity is not
// positive. An unparseable color becomes white.
func NewOverlay(hex string, opacity int) Overlay {
	if strings.TrimSpace(hex) == "" || opacity <= 0 {
		return Overlay{}
	}
	c, err := ParseHex(hex)
	if err != nil {
		c = white
	}
	return Overlay{color: c, alpha: float64(min(opacity, 100)) / 100, active: true}
}

// Active reports whether the overlay changes any pixel.
func (o Overlay) Active() bool { return o.active }

// Apply mixes the overlay into c. Fully transparent pixels and alpha are left
// alone.
func (o Overlay) Apply(c color.NRGBA) color.NRGBA {
	if !o.active || c.A == 0 {
		return c
	}
	c.R = mix(c.R, o.color.R, o.alpha)
	c.G = mix(c.G, o.color.G, o.alpha)
	c.B = mix(c.B, o.color.B, o.alpha)
	return c
}

// Solid returns a raster of the overlay color with the opacity in its alpha
// channel, for backends that composite layers.
func (o Overlay) Solid(r image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(r)
	if !o.active {
		return img
	}
	px := []uint8{o.color.R, o.color.G, o.color.B, uint8(math.Round(o.alpha * 0xff))}
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], px)
	}
	return img
}

// CompositeAtop draws src onto dst with the source-atop operator on straight
// alpha: color becomes src*srcA + dst*(1-srcA) and dst alpha is kept.
func CompositeAtop(dst *image.NRGBA, src image.Image) {
	r := dst.Rect.Intersect(src.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			i := dst.PixOffset(x, y)
			if dst.Pix[i+3] == 0 {
				continue
			}
			s := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			if s.A == 0 {
				continue
			}
			sa := float64(s.A) / 0xff
			dst.Pix[i] = mix(dst.Pix[i], s.R, sa)
			dst.Pix[i+1] = mix(dst.Pix[i+1], s.G, sa)
			dst.Pix[i+2] = mix(dst.Pix[i+2], s.B, sa)
		}
	}
}

func mix(dst, src uint8, alpha float64) uint8 {
	return uint8(math.Round(float64(dst)*(1-alpha) + float64(src)*alpha))
}
